package sessions

import "context"

// Publisher sends a JSON message with string attributes.
type Publisher interface {
	Publish(ctx context.Context, v any, attributes map[string]string) error
}

// QueueNotifier forwards completion events to a message queue.
type QueueNotifier struct {
	pub Publisher
}

func NewQueueNotifier(pub Publisher) *QueueNotifier {
	return &QueueNotifier{pub: pub}
}

func (n *QueueNotifier) SessionCompleted(ctx context.Context, ev CompletedEvent) error {
	return n.pub.Publish(ctx, ev, map[string]string{
		"event":      "session.completed",
		"user_name":  ev.UserName,
		"session_id": ev.SessionID,
	})
}
