// Package notifier pushes engine events to chat channels.
package notifier

import "context"

// TextNotifier sends one rendered message.
type TextNotifier interface {
	SendText(ctx context.Context, text string) error
}
