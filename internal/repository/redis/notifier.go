package redis

import (
	"context"
	"encoding/json"

	"cadbridge/internal/domain/entity"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const eventsChannel = "jobs.events"

// Notifier carries committed job events from the reconciler to whichever
// gateway instance holds the subscriber's connection. Pub/sub gives
// at-most-once delivery with no replay, which matches the notification
// contract: a reconnecting client re-fetches current state explicitly.
type Notifier struct {
	Client *redis.Client
}

func NewNotifier(client *redis.Client) *Notifier {
	return &Notifier{Client: client}
}

func (n *Notifier) PublishJobEvent(ctx context.Context, ev entity.JobEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return n.Client.Publish(ctx, eventsChannel, data).Err()
}

// SubscribeJobEvents returns a channel of decoded job events. The channel
// closes when ctx is done.
func (n *Notifier) SubscribeJobEvents(ctx context.Context, lg *logrus.Logger) <-chan entity.JobEvent {
	sub := n.Client.Subscribe(ctx, eventsChannel)
	out := make(chan entity.JobEvent, 64)

	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev entity.JobEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					lg.WithError(err).Warn("malformed job event dropped")
					continue
				}
				select {
				case out <- ev:
				default:
					lg.WithField("job_id", ev.JobID).Warn("event subscriber backlogged, event dropped")
				}
			}
		}
	}()

	return out
}
