package notifier

import (
	"context"
	"time"

	"autotrader/internal/engine"
	"autotrader/internal/logger"
)

const relayBuffer = 64

// Relay is an engine observer that renders events and sends them from its
// own goroutine, so a slow chat API never stalls the engine.
type Relay struct {
	sender TextNotifier
	kinds  map[engine.EventKind]bool
	queue  chan engine.Event
	log    *logger.Logger
}

// NewRelay forwards the given event kinds, or every kind when none are
// listed.
func NewRelay(sender TextNotifier, kinds ...engine.EventKind) *Relay {
	r := &Relay{
		sender: sender,
		queue:  make(chan engine.Event, relayBuffer),
		log:    logger.With("notifier"),
	}
	if len(kinds) > 0 {
		r.kinds = make(map[engine.EventKind]bool, len(kinds))
		for _, k := range kinds {
			r.kinds[k] = true
		}
	}
	return r
}

func (r *Relay) OnEvent(ev engine.Event) {
	if r.kinds != nil && !r.kinds[ev.Kind] {
		return
	}
	select {
	case r.queue <- ev:
	default:
		r.log.Warnf("notification queue full, dropped %s", ev.Kind)
	}
}

// Run sends queued notifications until ctx ends.
func (r *Relay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-r.queue:
			text := Render(ev).Text()
			sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if err := r.sender.SendText(sendCtx, text); err != nil {
				r.log.Warnf("send %s notification: %v", ev.Kind, err)
			}
			cancel()
		}
	}
}
