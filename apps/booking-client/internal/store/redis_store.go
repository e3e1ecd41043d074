package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/domain"
	"github.com/prohmpiriya/homeservice-client/pkg/logger"
	"github.com/prohmpiriya/homeservice-client/pkg/redis"
)

const redisOpTimeout = 3 * time.Second

// changeMessage is published on the change channel after every write
type changeMessage struct {
	Origin  string         `json:"origin"`
	Session domain.Session `json:"session"`
}

// RedisStore keeps the session under a Redis key and announces every write
// on a pub/sub channel so other contexts sharing the key stay in step.
type RedisStore struct {
	*hub
	client  *redis.Client
	key     string
	channel string
	origin  string
	log     *logger.Logger

	wmu sync.Mutex

	startOnce sync.Once
	closeOnce sync.Once
	pubsub    *goredis.PubSub
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewRedisStore loads the current session from key
func NewRedisStore(ctx context.Context, client *redis.Client, key, channel string, log *logger.Logger) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if key == "" || channel == "" {
		return nil, errors.New("redis session key and channel are required")
	}
	if log == nil {
		log = logger.Nop()
	}

	rs := &RedisStore{
		client:  client,
		key:     key,
		channel: channel,
		origin:  uuid.NewString(),
		done:    make(chan struct{}),
	}
	rs.log = log.With(zap.String("component", "redis_store"), zap.String("origin", rs.origin))

	initial, err := rs.load(ctx)
	if err != nil {
		return nil, err
	}
	rs.hub = newHub(initial)
	return rs, nil
}

// Write stores s, publishes the change and notifies listeners. The snapshot
// is replaced even when Redis is unreachable.
func (r *RedisStore) Write(s domain.Session) error {
	s = s.Normalize()

	r.wmu.Lock()
	err := r.persist(s)
	prev, seq := r.swap(s)
	r.wmu.Unlock()

	r.notify(Change{Session: s, Previous: prev, Origin: OriginLocal}, seq)
	if err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

// Update stores and publishes the result of fn if it asks for a write
func (r *RedisStore) Update(fn UpdateFunc) (bool, error) {
	r.wmu.Lock()
	prev := r.Read()
	next, ok := fn(prev)
	if !ok {
		r.wmu.Unlock()
		return false, nil
	}
	next = next.Normalize()
	err := r.persist(next)
	_, seq := r.swap(next)
	r.wmu.Unlock()

	r.notify(Change{Session: next, Previous: prev, Origin: OriginLocal}, seq)
	if err != nil {
		return true, fmt.Errorf("failed to persist session: %w", err)
	}
	return true, nil
}

// Clear resets the session to Guest
func (r *RedisStore) Clear() error {
	return r.Write(domain.GuestSession())
}

// Start subscribes to the change channel
func (r *RedisStore) Start(ctx context.Context) error {
	err := errors.New("redis store already started")
	r.startOnce.Do(func() {
		err = r.start(ctx)
	})
	return err
}

func (r *RedisStore) start(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	// Receive blocks until the subscription is confirmed
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	r.pubsub = sub

	// Catch up on writes made before the subscription existed
	if s, err := r.load(ctx); err == nil {
		r.applyExternal(s)
	}

	r.wg.Add(1)
	go r.loop(ctx, sub.Channel())
	return nil
}

func (r *RedisStore) loop(ctx context.Context, ch <-chan *goredis.Message) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.handleMessage(msg.Payload)
		}
	}
}

// handleMessage applies a change published by another context
func (r *RedisStore) handleMessage(payload string) {
	var msg changeMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		r.log.Warn("ignoring malformed session change", zap.Error(err))
		return
	}
	if msg.Origin == r.origin {
		return
	}
	r.applyExternal(msg.Session.Normalize())
}

func (r *RedisStore) applyExternal(s domain.Session) {
	r.wmu.Lock()
	prev, seq, changed := r.swapIfChanged(s)
	r.wmu.Unlock()
	if changed {
		r.log.Debug("session changed by another context", zap.String("role", s.Role.String()))
		r.notify(Change{Session: s, Previous: prev, Origin: OriginExternal}, seq)
	}
}

// Close unsubscribes
func (r *RedisStore) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		if r.pubsub != nil {
			err = r.pubsub.Close()
		}
		r.wg.Wait()
	})
	return err
}

func (r *RedisStore) load(ctx context.Context) (domain.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	raw, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return domain.GuestSession(), nil
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("failed to load session from redis: %w", err)
	}

	var s domain.Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		r.log.Warn("ignoring undecodable session in redis", zap.Error(err))
		return domain.GuestSession(), nil
	}
	return s.Normalize(), nil
}

func (r *RedisStore) persist(s domain.Session) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	msg, err := json.Marshal(changeMessage{Origin: r.origin, Session: s})
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	if s.IsGuest() {
		pipe.Del(ctx, r.key)
	} else {
		data, err := json.Marshal(s)
		if err != nil {
			return err
		}
		pipe.Set(ctx, r.key, data, 0)
	}
	pipe.Publish(ctx, r.channel, msg)
	_, err = pipe.Exec(ctx)
	return err
}
