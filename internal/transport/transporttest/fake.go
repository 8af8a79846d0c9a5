// Package transporttest provides an in-memory transport.Channel for tests.
package transporttest

import (
	"context"
	"fmt"
	"sync"

	"aocbot/internal/fault"
	kit "aocbot/internal/transport"
)

type Sent struct {
	To   kit.ChatTarget
	Text string
	Ref  kit.MessageRef
}

type Edited struct {
	Ref  kit.MessageRef
	Text string
}

type InviteReq struct {
	ChatID      int64
	Constraints kit.InviteConstraints
}

// Fake records every call. Like the real adapter, a call on a done context
// fails with the context error. Error hooks, when set, are consulted before
// the call is recorded; a non-nil error fails the call without recording it.
type Fake struct {
	mu sync.Mutex

	Sent    []Sent
	Edited  []Edited
	Pinned  []kit.MessageRef
	Invites []InviteReq
	Probes  int

	// Members maps chat -> recipient -> status. Unknown recipients yield
	// ClientRejected(unknown_recipient) unless KnownRecipients contains them.
	Members         map[int64]map[int64]kit.MemberStatus
	KnownRecipients map[int64]bool

	SendErr       func(to kit.ChatTarget) error
	EditErr       func(ref kit.MessageRef) error
	PinErr        func(ref kit.MessageRef) error
	InviteErr     func(chatID int64) error
	MembershipErr func(chatID, recipientID int64) error

	// OnMembership runs outside the fake's lock before every probe and may
	// block to order concurrent callers.
	OnMembership func(ctx context.Context, chatID, recipientID int64)

	nextID int
}

var _ kit.Channel = (*Fake)(nil)

func New() *Fake {
	return &Fake{Members: map[int64]map[int64]kit.MemberStatus{}, KnownRecipients: map[int64]bool{}}
}

// Know marks recipients as reachable but not in any chat.
func (f *Fake) Know(ids ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.KnownRecipients[id] = true
	}
}

func (f *Fake) SetMember(chatID, recipientID int64, st kit.MemberStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Members[chatID] == nil {
		f.Members[chatID] = map[int64]kit.MemberStatus{}
	}
	f.Members[chatID][recipientID] = st
	f.KnownRecipients[recipientID] = true
}

func (f *Fake) Send(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		if err := f.SendErr(to); err != nil {
			return kit.MessageRef{}, err
		}
	}
	f.nextID++
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: f.nextID}
	f.Sent = append(f.Sent, Sent{To: to, Text: text, Ref: ref})
	return ref, nil
}

func (f *Fake) Edit(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EditErr != nil {
		if err := f.EditErr(ref); err != nil {
			return err
		}
	}
	f.Edited = append(f.Edited, Edited{Ref: ref, Text: text})
	return nil
}

func (f *Fake) Pin(ctx context.Context, ref kit.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PinErr != nil {
		if err := f.PinErr(ref); err != nil {
			return err
		}
	}
	f.Pinned = append(f.Pinned, ref)
	return nil
}

func (f *Fake) CreateInviteLink(ctx context.Context, chatID int64, c kit.InviteConstraints) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.InviteErr != nil {
		if err := f.InviteErr(chatID); err != nil {
			return "", err
		}
	}
	f.Invites = append(f.Invites, InviteReq{ChatID: chatID, Constraints: c})
	return fmt.Sprintf("https://t.me/+invite%d_%d", -chatID, len(f.Invites)), nil
}

func (f *Fake) Membership(ctx context.Context, chatID, recipientID int64) (kit.MemberStatus, error) {
	if f.OnMembership != nil {
		f.OnMembership(ctx, chatID, recipientID)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Probes++
	if f.MembershipErr != nil {
		if err := f.MembershipErr(chatID, recipientID); err != nil {
			return "", err
		}
	}
	if st, ok := f.Members[chatID][recipientID]; ok {
		return st, nil
	}
	if f.KnownRecipients[recipientID] {
		return kit.StatusLeft, nil
	}
	return "", fault.Rejected("fake.membership", fault.CodeUnknownRecipient, nil)
}

// Calls returns the number of side-effecting calls (send, edit, pin, invite).
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Sent) + len(f.Edited) + len(f.Pinned) + len(f.Invites)
}

// SentTo returns the texts sent to chat.
func (f *Fake) SentTo(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.Sent {
		if s.To.ChatID == chatID {
			out = append(out, s.Text)
		}
	}
	return out
}
