package adapter

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"aocbot/internal/fault"
)

// telebot returns registered errors as *tele.Error and unknown ones as
// "telegram: <description> (<code>)".
var unknownErrRe = regexp.MustCompile(`^telegram: (.*) \((\d{3})\)$`)

// classify decodes a telebot error into a fault value. It is the only place
// that looks at Telegram error text.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	code, desc, ok := describe(err)
	if !ok {
		return fault.Infra(op, err)
	}
	d := strings.ToLower(desc)
	switch {
	case code == 400 && containsAny(d, "message is not modified"):
		return fault.Rejected(op, fault.CodeNotModified, err)
	case code == 400 && containsAny(d, "user_already_participant", "already a participant", "already pinned"):
		return fault.Rejected(op, fault.CodeAlreadyMember, err)
	case code == 400 && containsAny(d, "user not found", "participant_id_invalid", "member not found", "chat not found", "peer_id_invalid", "user_id_invalid"):
		return fault.Rejected(op, fault.CodeUnknownRecipient, err)
	case code == 403:
		return fault.Rejected(op, fault.CodeBlocked, err)
	case code == 400:
		return fault.Rejected(op, fault.CodeInvalidState, err)
	default:
		// 401, 409, 429, 5xx and anything unexpected.
		return fault.Infra(op, err)
	}
}

func describe(err error) (int, string, bool) {
	var te *tele.Error
	if errors.As(err, &te) && te.Code != 0 {
		return te.Code, te.Description, true
	}
	m := unknownErrRe.FindStringSubmatch(strings.TrimSpace(err.Error()))
	if m == nil {
		return 0, "", false
	}
	code, convErr := strconv.Atoi(m[2])
	if convErr != nil {
		return 0, "", false
	}
	return code, m[1], true
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
