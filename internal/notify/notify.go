// Package notify delivers notifications raised by triggered actions to
// outside systems.
package notify

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
)

type Notification struct {
	Title   string         `json:"title"`
	Message string         `json:"message"`
	JobID   string         `json:"job_id,omitempty"`
	Time    time.Time      `json:"time"`
	Data    map[string]any `json:"data,omitempty"`
}

type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// Multi sends to every notifier. One failing does not stop the others, the
// errors are returned together.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, n Notification) error {
	var result *multierror.Error
	for _, nt := range m {
		if err := nt.Send(ctx, n); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Send(context.Context, Notification) error { return nil }
