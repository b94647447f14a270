package routine

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/restkit/restkit/logger"
)

func TestRunner_Go(t *testing.T) {
	runner := New(logger.Nop())

	var executed atomic.Bool
	runner.Go(func() {
		executed.Store(true)
	})

	runner.Wait()

	if !executed.Load() {
		t.Error("expected function to be executed")
	}
}

func TestRunner_Go_WithPanic(t *testing.T) {
	runner := New(logger.Nop())

	var beforePanic, afterPanic atomic.Bool
	runner.Go(func() {
		beforePanic.Store(true)
		panic("test panic")
	})

	// Start another goroutine to verify runner still works after panic
	runner.Go(func() {
		afterPanic.Store(true)
	})

	runner.Wait()

	if !beforePanic.Load() {
		t.Error("expected code before panic to execute")
	}
	if !afterPanic.Load() {
		t.Error("expected goroutine after panic to execute")
	}
}

func TestRunner_GoNamedWithContext(t *testing.T) {
	runner := New(logger.Nop())

	type ctxKey struct{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "value")
	var receivedValue atomic.Value

	runner.GoNamedWithContext(ctx, "ctx-test", func(ctx context.Context) {
		receivedValue.Store(ctx.Value(ctxKey{}).(string))
	})

	runner.Wait()

	if got := receivedValue.Load(); got != "value" {
		t.Errorf("expected context value to be passed through, got %v", got)
	}
}

func TestGoNamed_PanicDoesNotPropagate(t *testing.T) {
	done := make(chan struct{})
	GoNamed(logger.Nop(), "panicking", func() {
		defer close(done)
		panic("boom")
	})
	<-done
	// reaching here means the panic was recovered inside the goroutine
}
