package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/loothing/lodestone/internal/domain"
	redisstore "github.com/loothing/lodestone/internal/store/redis"
)

// Publisher abstracts the pub/sub backend for testing.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// RedisRelay publishes every notice onto the client's encounter channel
// so other server instances and dashboard subscribers see live updates.
type RedisRelay struct {
	pub Publisher
}

// NewRedisRelay creates the relay listener.
func NewRedisRelay(pub Publisher) *RedisRelay {
	return &RedisRelay{pub: pub}
}

func (r *RedisRelay) Name() string { return "redis" }

func (r *RedisRelay) Notify(ctx context.Context, notice *domain.EncounterNotice) error {
	payload, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("notify.RedisRelay.Notify: marshal: %w", err)
	}

	channel := redisstore.EncounterChannel(notice.ClientID)
	if err := r.pub.Publish(ctx, channel, payload); err != nil {
		return fmt.Errorf("notify.RedisRelay.Notify: %w", err)
	}

	return nil
}
