package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPostgreSQLDefaults(t *testing.T) {
	config := PostgreSQLDefaults()
	if config.MaxAttempts != 10 {
		t.Errorf("Expected MaxAttempts=10, got %d", config.MaxAttempts)
	}
	if config.BaseDelay != 100*time.Millisecond {
		t.Errorf("Expected BaseDelay=100ms, got %v", config.BaseDelay)
	}
	if config.MaxDelay != 30*time.Second {
		t.Errorf("Expected MaxDelay=30s, got %v", config.MaxDelay)
	}
	if config.JitterPercent != 10 {
		t.Errorf("Expected JitterPercent=10, got %d", config.JitterPercent)
	}
}

func TestEtcdDefaults(t *testing.T) {
	config := EtcdDefaults()
	if config.MaxAttempts != 15 {
		t.Errorf("Expected MaxAttempts=15, got %d", config.MaxAttempts)
	}
	if config.BaseDelay != 200*time.Millisecond {
		t.Errorf("Expected BaseDelay=200ms, got %v", config.BaseDelay)
	}
	if config.MaxDelay != 1*time.Minute {
		t.Errorf("Expected MaxDelay=1m, got %v", config.MaxDelay)
	}
	if config.JitterPercent != 15 {
		t.Errorf("Expected JitterPercent=15, got %d", config.JitterPercent)
	}
}

func TestSourceDefaults(t *testing.T) {
	config := SourceDefaults()
	if config.MaxAttempts != 5 {
		t.Errorf("Expected MaxAttempts=5, got %d", config.MaxAttempts)
	}
	if config.BaseDelay != 500*time.Millisecond {
		t.Errorf("Expected BaseDelay=500ms, got %v", config.BaseDelay)
	}
	if config.MaxDelay != 10*time.Second {
		t.Errorf("Expected MaxDelay=10s, got %v", config.MaxDelay)
	}
}

func TestWithOperation_Success(t *testing.T) {
	config := &Config{
		MaxAttempts:   3,
		BaseDelay:     1 * time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		JitterPercent: 10,
	}

	callCount := 0
	operation := func() error {
		callCount++
		return nil
	}

	ctx := context.Background()
	err := WithOperation(ctx, config, operation, "test-operation")

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected operation to be called once, got %d", callCount)
	}
}

func TestWithOperation_ExceedsMaxAttempts(t *testing.T) {
	config := &Config{
		MaxAttempts:   3,
		BaseDelay:     1 * time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		JitterPercent: 10,
	}

	callCount := 0
	operation := func() error {
		callCount++
		return errors.New("persistent failure")
	}

	ctx := context.Background()
	err := WithOperation(ctx, config, operation, "test-operation")

	if err == nil {
		t.Error("Expected an error, got nil")
	}
	// go-retry does MaxAttempts + 1 total attempts (initial + retries)
	if callCount != 4 {
		t.Errorf("Expected operation to be called 4 times (initial + 3 retries), got %d", callCount)
	}
}

func TestWithOperation_RecoversAfterFailures(t *testing.T) {
	config := &Config{
		MaxAttempts:   5,
		BaseDelay:     1 * time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		JitterPercent: 0,
	}

	callCount := 0
	err := WithOperation(context.Background(), config, func() error {
		callCount++
		if callCount < 3 {
			return errors.New("source not ready")
		}
		return nil
	}, "source probe")

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls, got %d", callCount)
	}
}

func TestWithOperation_ContextCanceled(t *testing.T) {
	config := &Config{
		MaxAttempts:   100,
		BaseDelay:     50 * time.Millisecond,
		MaxDelay:      50 * time.Millisecond,
		JitterPercent: 0,
	}

	ctx, cancel := context.WithCancel(context.Background())
	callCount := 0
	err := WithOperation(ctx, config, func() error {
		callCount++
		cancel()
		return errors.New("down")
	}, "postgres connect")

	if err == nil {
		t.Error("Expected an error after cancellation, got nil")
	}
	if callCount != 1 {
		t.Errorf("Expected a single call before cancellation, got %d", callCount)
	}
}

func TestCreateBackoff(t *testing.T) {
	config := &Config{
		MaxAttempts:   5,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		JitterPercent: 20,
	}

	backoff := config.CreateBackoff()
	if backoff == nil {
		t.Error("Expected backoff to be created, got nil")
	}
}

func TestCreateBackoff_WithoutJitter(t *testing.T) {
	config := &Config{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    time.Second,
	}

	backoff := config.CreateBackoff()
	delay, stop := backoff.Next()
	if stop {
		t.Fatal("Expected a first retry, got stop")
	}
	if delay != 10*time.Millisecond {
		t.Errorf("Expected unjittered delay of 10ms, got %v", delay)
	}
}
