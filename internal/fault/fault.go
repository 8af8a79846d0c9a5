// Package fault carries the error taxonomy shared by the store drivers, the
// Telegram adapter and the reconciliation core.
//
// Boundaries decode whatever their backend returns into an *Error exactly once;
// the core only inspects Kind and Code.
package fault

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// KindInfrastructure means the backend is unreachable or misbehaving.
	// It always propagates and aborts the current pipeline.
	KindInfrastructure Kind = iota
	// KindConflict means a conditional write lost its race.
	KindConflict
	// KindClientRejected means the backend understood the request but refused it
	// for this recipient/state. Benign for the core.
	KindClientRejected
)

func (k Kind) String() string {
	switch k {
	case KindInfrastructure:
		return "infrastructure"
	case KindConflict:
		return "conflict"
	case KindClientRejected:
		return "client_rejected"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Rejection codes.
const (
	CodeAlreadyMember    = "already_member"
	CodeUnknownRecipient = "unknown_recipient"
	CodeBlocked          = "blocked"
	CodeInvalidState     = "invalid_state"
	CodeNotModified      = "not_modified"
)

type Error struct {
	Kind Kind
	Code string // only for KindClientRejected
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Code != "" {
		msg += "(" + e.Code + ")"
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Infra wraps err as an infrastructure failure. Nil stays nil, and errors that
// are already classified keep their kind.
func Infra(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return &Error{Kind: KindInfrastructure, Op: op, Err: err}
}

func Rejected(op, code string, err error) error {
	return &Error{Kind: KindClientRejected, Code: code, Op: op, Err: err}
}

func Conflict(op string) error {
	return &Error{Kind: KindConflict, Op: op}
}

// KindOf classifies err. Unclassified errors (including context cancellation)
// count as infrastructure.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInfrastructure
}

// RejectionCode returns the rejection code if err is a client rejection.
func RejectionCode(err error) (string, bool) {
	var fe *Error
	if errors.As(err, &fe) && fe.Kind == KindClientRejected {
		return fe.Code, true
	}
	return "", false
}

// IsRejected reports whether err is a client rejection. With codes given, the
// rejection must carry one of them.
func IsRejected(err error, codes ...string) bool {
	code, ok := RejectionCode(err)
	if !ok {
		return false
	}
	if len(codes) == 0 {
		return true
	}
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

func IsConflict(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == KindConflict
}
