// Package testutil provides testing utilities for airsync
package testutil

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// invocationBudget bounds a test invocation, well above any timeout tests configure
const invocationBudget = 30 * time.Second

// TestLogger creates a test logger that writes to the test output.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// ObservedLogger writes to the test output and records entries at or above level.
func ObservedLogger(t *testing.T, level zapcore.Level) (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return zap.New(zapcore.NewTee(zaptest.NewLogger(t).Core(), core)), logs
}

// TestContext returns the context a test invocation runs under.
// The caller must call the returned cancel function to avoid leaks.
func TestContext(_ *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), invocationBudget)
}

// WaitForEvents waits until the platform received n terminal events and returns them.
func WaitForEvents(t *testing.T, m *MockPlatform, n int, timeout time.Duration) []EmittedEvent {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		events := m.Events()
		if len(events) >= n {
			return events
		}
		if time.Now().After(deadline) {
			t.Fatalf("platform received %d events within %v, want %d", len(events), timeout, n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
