package progress

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Publisher fans progress snapshots out to live subscribers
type Publisher interface {
	Publish(ctx context.Context, snap Snapshot) error
	// Subscribe returns snapshots for projectID until cancel is called or
	// ctx is done
	Subscribe(ctx context.Context, projectID string) (<-chan Snapshot, func(), error)
}

// Channel returns the pub/sub channel name for a project
func Channel(projectID string) string {
	return "scenecraft:progress:" + projectID
}

// MemoryHub is an in-process Publisher
type MemoryHub struct {
	mu   sync.Mutex
	subs map[string]map[chan Snapshot]struct{}
}

// NewMemoryHub creates an empty hub
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[string]map[chan Snapshot]struct{})}
}

// Publish delivers snap to every subscriber; slow subscribers miss updates
// rather than blocking the run
func (h *MemoryHub) Publish(ctx context.Context, snap Snapshot) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[snap.ProjectID] {
		select {
		case ch <- snap:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber
func (h *MemoryHub) Subscribe(ctx context.Context, projectID string) (<-chan Snapshot, func(), error) {
	ch := make(chan Snapshot, 16)

	h.mu.Lock()
	if h.subs[projectID] == nil {
		h.subs[projectID] = make(map[chan Snapshot]struct{})
	}
	h.subs[projectID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[projectID], ch)
			if len(h.subs[projectID]) == 0 {
				delete(h.subs, projectID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel, nil
}

// RedisPublisher publishes snapshots on redis pub/sub so API servers see
// progress from runs executing in worker processes
type RedisPublisher struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPublisher creates a redis backed publisher
func NewRedisPublisher(client *redis.Client, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, logger: logger.With(zap.String("component", "progress_publisher"))}
}

// Publish sends snap on the project's channel
func (p *RedisPublisher) Publish(ctx context.Context, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, Channel(snap.ProjectID), payload).Err()
}

// Subscribe listens on the project's channel
func (p *RedisPublisher) Subscribe(ctx context.Context, projectID string) (<-chan Snapshot, func(), error) {
	pubsub := p.client.Subscribe(ctx, Channel(projectID))
	// wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, err
	}

	subCtx, stop := context.WithCancel(ctx)
	out := make(chan Snapshot, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()
		messages := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var snap Snapshot
				if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
					p.logger.Debug("Dropping malformed progress message", zap.Error(err))
					continue
				}
				select {
				case out <- snap:
				default:
				}
			}
		}
	}()
	return out, stop, nil
}
