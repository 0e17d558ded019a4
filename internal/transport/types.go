// Package transport is the chat-platform port: inbound command updates and
// outbound plain-text messages addressed to a chat (and forum topic).
package transport

import "context"

// Update carries one inbound chat message. Non-message updates are dropped
// by the adapter.
type Update struct {
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic; 0 outside topics
	FromID       int64
	FromUsername string
	Text         string
}

// Target is the chat the message arrived in, where replies go.
func (m *Message) Target() ChatTarget { return ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID} }

// ChatTarget addresses a chat or a topic inside it. Monitor subjects are
// keyed by it.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

func (t ChatTarget) IsZero() bool { return t.ChatID == 0 }

// MessageRef identifies a sent message.
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

// Notification is one queued outbound message. Priority ranges 0..10;
// monitor notices use 7.
type Notification struct {
	Channel  string
	Priority int
	Target   ChatTarget
	Text     string
	Options  *SendOptions
}

type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

type Adapter interface {
	Sender
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

// BotCommand is one entry of the platform command menu.
type BotCommand struct {
	Command     string
	Description string
}
