package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/tableserve-backend/internal/orders"
	"github.com/angelmondragon/tableserve-backend/pkg/logger"
)

type broker interface {
	ChannelName(room string) string
	Publish(ctx context.Context, channel string, payload any) (int64, error)
	Subscribe(ctx context.Context, channels ...string) (*goredis.PubSub, error)
}

// RedisNotifier publishes over Redis pub/sub so every API instance can serve
// the stream for a room.
type RedisNotifier struct {
	broker broker
	logg   *logger.Logger
}

func NewRedisNotifier(b broker, logg *logger.Logger) (*RedisNotifier, error) {
	if b == nil {
		return nil, fmt.Errorf("redis broker required")
	}
	return &RedisNotifier{broker: b, logg: logg}, nil
}

func (n *RedisNotifier) Publish(ctx context.Context, event, room string, payload []orders.OrderView) error {
	if payload == nil {
		payload = []orders.OrderView{}
	}
	body, err := json.Marshal(Message{Event: event, Room: room, Orders: payload, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode realtime message: %w", err)
	}
	if _, err := n.broker.Publish(ctx, n.broker.ChannelName(room), body); err != nil {
		return fmt.Errorf("publish realtime message: %w", err)
	}
	return nil
}

func (n *RedisNotifier) Subscribe(ctx context.Context, rooms ...string) (<-chan Message, func(), error) {
	channels := make([]string, 0, len(rooms))
	for _, room := range rooms {
		channels = append(channels, n.broker.ChannelName(room))
	}
	ps, err := n.broker.Subscribe(ctx, channels...)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe realtime rooms: %w", err)
	}

	out := make(chan Message, clientBuffer)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}

	go func() {
		defer close(out)
		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case <-done:
				return
			case raw, ok := <-in:
				if !ok {
					return
				}
				msg, err := DecodeMessage([]byte(raw.Payload))
				if err != nil {
					if n.logg != nil {
						n.logg.Warn(n.logg.WithField(ctx, "channel", raw.Channel), "dropping malformed realtime message")
					}
					continue
				}
				select {
				case out <- msg:
				default:
				}
			}
		}
	}()
	return out, cancel, nil
}

// DecodeMessage parses a pub/sub payload.
func DecodeMessage(body []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, fmt.Errorf("decode realtime message: %w", err)
	}
	return msg, nil
}
