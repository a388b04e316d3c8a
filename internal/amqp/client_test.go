package amqp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},  // capped at 30s
		{10, 30 * time.Second}, // capped at 30s
		{40, 30 * time.Second}, // shift overflow still capped
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			result := exponentialBackoff(tt.attempt)
			if result != tt.expected {
				t.Errorf("exponentialBackoff(%d) = %v, want %v", tt.attempt, result, tt.expected)
			}
		})
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection refused", errors.New("connection refused"), true},
		{"connection closed", errors.New("connection closed"), true},
		{"EOF", errors.New("unexpected EOF"), true},
		{"broken pipe", errors.New("broken pipe"), true},
		{"closed network connection", errors.New("use of closed network connection"), true},
		{"delivery channel closed", errors.New("message channel closed"), true},
		{"amqp channel not open", errors.New("Exception (504) Reason: \"channel/connection is not open\""), true},
		{"validation error", errors.New("invalid input"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isConnectionError(tt.err); got != tt.expected {
				t.Errorf("isConnectionError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestReconnect_StopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := &Client{}
	if err := c.Reconnect(ctx, "amqp://localhost:5672"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Reconnect = %v, want context.Canceled", err)
	}
}

func TestLedgerEventMessageFromJSON_Malformed(t *testing.T) {
	if _, err := LedgerEventMessageFromJSON([]byte("{not json")); err == nil {
		t.Fatal("expected error for malformed payload")
	}

	msg, err := LedgerEventMessageFromJSON([]byte(`{"tenant":"acme","entry_id":"e-1","kind":"entry.created"}`))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Tenant != "acme" || msg.Kind != "entry.created" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}
