package writebuffer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// FlushNotifier publishes a message per flushed batch so other processes
// sharing the same backend (a second engine instance, a cache warmer)
// can react to writes without polling. Optional: the embedded
// single-process deployment has no reason to run one.
type FlushNotifier struct {
	client  *redis.Client
	channel string
}

type FlushEvent struct {
	Branch string   `json:"branch"`
	IDs    []string `json:"ids"`
}

func NewFlushNotifier(redisURL, channel string) (*FlushNotifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("writebuffer: invalid redis url: %w", err)
	}
	if channel == "" {
		channel = "synapsedb:flush"
	}
	return &FlushNotifier{client: redis.NewClient(opts), channel: channel}, nil
}

// Notify publishes a FlushEvent for the given branch and ids. Errors are
// returned for the caller to log; a failed notification never undoes an
// already-committed flush.
func (n *FlushNotifier) Notify(ctx context.Context, branch string, ids []string) error {
	data, err := json.Marshal(FlushEvent{Branch: branch, IDs: ids})
	if err != nil {
		return err
	}
	if err := n.client.Publish(ctx, n.channel, data).Err(); err != nil {
		return fmt.Errorf("writebuffer: publishing flush event: %w", err)
	}
	return nil
}

// Subscribe returns a channel of FlushEvents from other processes. The
// returned channel is closed when ctx is cancelled.
func (n *FlushNotifier) Subscribe(ctx context.Context) <-chan FlushEvent {
	sub := n.client.Subscribe(ctx, n.channel)
	out := make(chan FlushEvent)
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
				var ev FlushEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (n *FlushNotifier) Close() error { return n.client.Close() }
