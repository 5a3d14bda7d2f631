package hub

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Presence tracks which users currently hold a live connection into an
// order's room. The in-memory implementation suffices for a single gateway;
// the Redis one shares the sets across instances.
type Presence interface {
	Join(ctx context.Context, orderID, userID string) error
	Leave(ctx context.Context, orderID, userID string) error
	Members(ctx context.Context, orderID string) ([]string, error)
}

type memoryPresence struct {
	mu    sync.Mutex
	rooms map[string]map[string]int
}

// NewMemoryPresence returns the default single-instance presence backend.
func NewMemoryPresence() Presence {
	return &memoryPresence{rooms: make(map[string]map[string]int)}
}

func (p *memoryPresence) Join(_ context.Context, orderID, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rooms[orderID] == nil {
		p.rooms[orderID] = make(map[string]int)
	}
	p.rooms[orderID][userID]++
	return nil
}

func (p *memoryPresence) Leave(_ context.Context, orderID, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	room := p.rooms[orderID]
	if room == nil {
		return nil
	}
	room[userID]--
	if room[userID] <= 0 {
		delete(room, userID)
	}
	if len(room) == 0 {
		delete(p.rooms, orderID)
	}
	return nil
}

func (p *memoryPresence) Members(_ context.Context, orderID string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	members := make([]string, 0, len(p.rooms[orderID]))
	for userID := range p.rooms[orderID] {
		members = append(members, userID)
	}
	return members, nil
}

type redisPresence struct {
	rdb *redis.Client
}

// NewRedisPresence keeps room membership in one Redis set per order, shared
// by every gateway instance.
func NewRedisPresence(addr string) Presence {
	return &redisPresence{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

func presenceKey(orderID string) string {
	return "order:" + orderID + ":users"
}

func (p *redisPresence) Join(ctx context.Context, orderID, userID string) error {
	return p.rdb.SAdd(ctx, presenceKey(orderID), userID).Err()
}

func (p *redisPresence) Leave(ctx context.Context, orderID, userID string) error {
	return p.rdb.SRem(ctx, presenceKey(orderID), userID).Err()
}

func (p *redisPresence) Members(ctx context.Context, orderID string) ([]string, error) {
	return p.rdb.SMembers(ctx, presenceKey(orderID)).Result()
}
