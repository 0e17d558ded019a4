package notifier

import (
	"context"
	"errors"
	"fmt"

	"watchbot/internal/storage"
	kit "watchbot/internal/transport"
)

// Directory looks up where a subject's notifications go.
type Directory interface {
	GetSubject(ctx context.Context, key string) (storage.Subject, bool, error)
}

// SubjectNotifier addresses notifications by subject key. When the queue is
// disabled it sends through the adapter directly.
type SubjectNotifier struct {
	Service  *Service
	Adapter  kit.Sender
	Subjects Directory
	Priority int
}

func (n *SubjectNotifier) Notify(ctx context.Context, key, text string) error {
	subj, ok, err := n.Subjects.GetSubject(ctx, key)
	if err != nil {
		return fmt.Errorf("lookup subject %q: %w", key, err)
	}
	if !ok || subj.ChatID == 0 {
		return fmt.Errorf("subject %q has no chat", key)
	}
	msg := kit.Notification{
		Channel:  "telegram",
		Priority: n.Priority,
		Target:   kit.ChatTarget{ChatID: subj.ChatID, ThreadID: subj.ThreadID},
		Text:     text,
		Options:  &kit.SendOptions{DisablePreview: true},
	}
	if n.Service != nil {
		err := n.Service.Notify(ctx, msg)
		if !errors.Is(err, ErrDisabled) && !errors.Is(err, ErrStopped) {
			return err
		}
	}
	if n.Adapter == nil {
		return ErrDisabled
	}
	_, err = n.Adapter.SendText(ctx, msg.Target, prefixForPriority(msg.Priority)+msg.Text, msg.Options)
	return err
}
