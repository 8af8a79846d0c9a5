package transport

import (
	"context"
	"time"
)

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsPrivate    bool
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Silent         bool
}

// InviteConstraints bound a freshly created invite link.
type InviteConstraints struct {
	Name        string
	MemberLimit int           // 0 means unlimited
	ExpireIn    time.Duration // 0 means never
}

type MemberStatus string

const (
	StatusCreator       MemberStatus = "creator"
	StatusAdministrator MemberStatus = "administrator"
	StatusMember        MemberStatus = "member"
	StatusRestricted    MemberStatus = "restricted"
	StatusLeft          MemberStatus = "left"
	StatusKicked        MemberStatus = "kicked"
)

// IsMember reports whether the status means the recipient is in the chat.
// Adapters report restricted users who left the chat as StatusLeft.
func (s MemberStatus) IsMember() bool {
	switch s {
	case StatusCreator, StatusAdministrator, StatusMember, StatusRestricted:
		return true
	default:
		return false
	}
}

// Channel is the outbound side of the chat platform.
//
// Errors are fault values: ClientRejected for requests the platform refuses for
// this recipient/state, Infrastructure for everything else. Membership of a
// recipient the platform does not know yields ClientRejected(unknown_recipient).
type Channel interface {
	Send(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	Edit(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	Pin(ctx context.Context, ref MessageRef) error
	CreateInviteLink(ctx context.Context, chatID int64, c InviteConstraints) (string, error)
	Membership(ctx context.Context, chatID, recipientID int64) (MemberStatus, error)
}

// Adapter is a Channel that also delivers inbound updates.
type Adapter interface {
	Channel
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}
