package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastReconnectConfig(maxAttempts int) *ReconnectConfig {
	return &ReconnectConfig{
		MaxAttempts: maxAttempts,
		Backoff:     5 * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  50 * time.Millisecond,
	}
}

func TestReconnect_Success(t *testing.T) {
	attempts := 0
	err := Reconnect(context.Background(), func() error {
		attempts++
		if attempts < 2 {
			return errors.New("device busy")
		}
		return nil
	}, fastReconnectConfig(5))

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestReconnect_Exhausted(t *testing.T) {
	attempts := 0
	err := Reconnect(context.Background(), func() error {
		attempts++
		return errors.New("device gone")
	}, fastReconnectConfig(3))

	if err == nil {
		t.Error("Expected error after exhausting attempts")
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestReconnect_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Reconnect(ctx, func() error {
		return errors.New("device gone")
	}, fastReconnectConfig(5))

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestReconnect_CancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	config := &ReconnectConfig{
		MaxAttempts: 5,
		Backoff:     time.Second,
		Multiplier:  2.0,
		MaxBackoff:  time.Second,
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Reconnect(ctx, func() error {
		return errors.New("device gone")
	}, config)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Expected cancellation to interrupt backoff, took %v", elapsed)
	}
}
