package redis

import (
	"context"
	"os"
	"testing"
	"time"
)

// getTestConfig returns config for testing
func getTestConfig() *Config {
	cfg := DefaultConfig()

	if host := os.Getenv("TEST_REDIS_HOST"); host != "" {
		cfg.Host = host
	}
	if password := os.Getenv("TEST_REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}
	cfg.MaxRetries = 0

	return cfg
}

func skipWithoutRedis(t *testing.T) {
	t.Helper()
	if os.Getenv("TEST_REDIS_HOST") == "" {
		t.Skip("Skipping integration test. Set TEST_REDIS_HOST to run")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Host != "localhost" {
		t.Errorf("Expected host 'localhost', got '%s'", cfg.Host)
	}
	if cfg.Port != 6379 {
		t.Errorf("Expected port 6379, got %d", cfg.Port)
	}
	if cfg.PoolSize != 10 {
		t.Errorf("Expected pool size 10, got %d", cfg.PoolSize)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("Expected max retries 3, got %d", cfg.MaxRetries)
	}
}

func TestConfig_Addr(t *testing.T) {
	cfg := &Config{
		Host: "redis.example.com",
		Port: 6380,
	}

	expected := "redis.example.com:6380"
	if cfg.Addr() != expected {
		t.Errorf("Expected addr '%s', got '%s'", expected, cfg.Addr())
	}
}

func TestNewClient_InvalidConfig(t *testing.T) {
	cfg := &Config{
		Host:          "invalid-host-that-does-not-exist",
		Port:          9999,
		MaxRetries:    0,
		RetryInterval: 100 * time.Millisecond,
		DialTimeout:   500 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewClient(ctx, cfg)
	if err == nil {
		t.Error("Expected error for invalid config, got nil")
	}
}

func TestNewClient_ContextCancelledDuringRetry(t *testing.T) {
	cfg := &Config{
		Host:          "invalid-host-that-does-not-exist",
		Port:          9999,
		MaxRetries:    5,
		RetryInterval: time.Minute,
		DialTimeout:   100 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewClient(ctx, cfg)
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if time.Since(start) > 10*time.Second {
		t.Error("NewClient should stop retrying once the context is done")
	}
}

// Integration tests - require Redis to be running

func TestClient_HealthCheck_Integration(t *testing.T) {
	skipWithoutRedis(t)

	ctx := context.Background()
	client, err := NewClient(ctx, getTestConfig())
	if err != nil {
		t.Fatalf("Failed to connect to redis: %v", err)
	}
	defer client.Close()

	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
	if client.Client() == nil {
		t.Error("Expected Client() to return non-nil")
	}
}

func TestClient_BasicOperations_Integration(t *testing.T) {
	skipWithoutRedis(t)

	ctx := context.Background()
	client, err := NewClient(ctx, getTestConfig())
	if err != nil {
		t.Fatalf("Failed to connect to redis: %v", err)
	}
	defer client.Close()

	testKey := "test:session:" + time.Now().Format("20060102150405.000")

	if err := client.Set(ctx, testKey, "test_value", time.Minute).Err(); err != nil {
		t.Errorf("Set failed: %v", err)
	}

	val, err := client.Get(ctx, testKey).Result()
	if err != nil {
		t.Errorf("Get failed: %v", err)
	}
	if val != "test_value" {
		t.Errorf("Expected 'test_value', got '%s'", val)
	}

	if err := client.Del(ctx, testKey).Err(); err != nil {
		t.Errorf("Del failed: %v", err)
	}

	if _, err := client.Get(ctx, testKey).Result(); err != Nil {
		t.Errorf("Expected Nil after delete, got %v", err)
	}
}

func TestClient_PublishSubscribe_Integration(t *testing.T) {
	skipWithoutRedis(t)

	ctx := context.Background()
	client, err := NewClient(ctx, getTestConfig())
	if err != nil {
		t.Fatalf("Failed to connect to redis: %v", err)
	}
	defer client.Close()

	channel := "test:channel:" + time.Now().Format("20060102150405.000")
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("Subscribe confirmation failed: %v", err)
	}

	if err := client.Publish(ctx, channel, "hello").Err(); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		if msg.Payload != "hello" {
			t.Errorf("Expected payload 'hello', got '%s'", msg.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Error("Timed out waiting for published message")
	}
}
