package store

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/domain"
	"github.com/prohmpiriya/homeservice-client/pkg/logger"
	"github.com/prohmpiriya/homeservice-client/pkg/redis"
)

func newOfflineRedisStore(initial domain.Session) *RedisStore {
	return &RedisStore{
		hub:    newHub(initial),
		origin: "self",
		log:    logger.Nop(),
		done:   make(chan struct{}),
	}
}

func publish(t *testing.T, origin string, s domain.Session) string {
	t.Helper()
	data, err := json.Marshal(changeMessage{Origin: origin, Session: s})
	require.NoError(t, err)
	return string(data)
}

func TestRedisStore_HandleMessage(t *testing.T) {
	rs := newOfflineRedisStore(customerSession("a1"))

	var got []Change
	rs.Subscribe(func(c Change) { got = append(got, c) })

	rs.handleMessage(publish(t, "self", domain.GuestSession()))
	assert.Empty(t, got, "own messages are ignored")

	rs.handleMessage("garbage")
	assert.Empty(t, got)

	rs.handleMessage(publish(t, "other", customerSession("a1")))
	assert.Empty(t, got, "same content is not a change")

	rs.handleMessage(publish(t, "other", domain.Session{Role: domain.RoleCustomer}))
	require.Len(t, got, 1)
	assert.Equal(t, OriginExternal, got[0].Origin)
	assert.Equal(t, domain.GuestSession(), rs.Read())
}

func TestNewRedisStore_Validation(t *testing.T) {
	_, err := NewRedisStore(context.Background(), nil, "k", "c", nil)
	assert.Error(t, err)
}

func TestRedisStore_CrossContext_Integration(t *testing.T) {
	host := os.Getenv("TEST_REDIS_HOST")
	if host == "" {
		t.Skip("Skipping integration test. Set TEST_REDIS_HOST to run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := redis.DefaultConfig()
	cfg.Host = host
	cfg.MaxRetries = 0
	client, err := redis.NewClient(ctx, cfg)
	require.NoError(t, err)
	defer client.Close()

	key := "test:session:" + uuid.NewString()
	channel := key + ":changed"
	defer client.Del(context.Background(), key)

	tabA, err := NewRedisStore(ctx, client, key, channel, nil)
	require.NoError(t, err)
	require.NoError(t, tabA.Start(ctx))
	defer tabA.Close()

	tabB, err := NewRedisStore(ctx, client, key, channel, nil)
	require.NoError(t, err)

	changes := make(chan Change, 8)
	tabA.Subscribe(func(c Change) { changes <- c })

	require.NoError(t, tabB.Write(customerSession("a1")))
	c := waitForChange(t, changes)
	assert.Equal(t, OriginExternal, c.Origin)
	assert.Equal(t, customerSession("a1"), tabA.Read())

	reopened, err := NewRedisStore(ctx, client, key, channel, nil)
	require.NoError(t, err)
	assert.Equal(t, customerSession("a1"), reopened.Read())

	require.NoError(t, tabB.Clear())
	c = waitForChange(t, changes)
	assert.Equal(t, domain.RoleGuest, c.Session.Role)
}
