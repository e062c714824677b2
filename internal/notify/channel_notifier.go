package notify

import (
	"github.com/pulsecoach/pulse-coach-app/internal/events"
)

// ChannelNotifier fans alerts out to channel listeners, typically the
// terminal UI. Delivery is non-blocking: a stalled consumer drops alerts
// instead of stalling the tick loop.
type ChannelNotifier struct {
	event *events.ChannelEvent[Event]
}

func NewChannelNotifier() *ChannelNotifier {
	return &ChannelNotifier{event: events.NewChannelEvent[Event](false)}
}

func (n *ChannelNotifier) Notify(ev Event) error {
	n.event.Notify(ev)
	return nil
}

// Listen registers ch for future alerts and returns a deregistration
// function.
func (n *ChannelNotifier) Listen(ch chan<- Event) func() {
	return n.event.Listen(ch)
}
