package acfetch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCombineContextsZeroInputs(t *testing.T) {
	ctx, stop := CombineContexts()
	defer stop()

	select {
	case <-ctx.Done():
		t.Error("zero-input combined context fired")
	default:
	}
}

func TestCombineContextsSingleInputUnchanged(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	combined, stop := CombineContexts(parent)
	defer stop()

	if combined != parent {
		t.Error("single-input combine wrapped the parent instead of returning it")
	}
}

func TestCombineContextsFiresOnAnyParent(t *testing.T) {
	a, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	b, cancelB := context.WithCancel(context.Background())

	combined, stop := CombineContexts(a, b)
	defer stop()

	cancelB()
	select {
	case <-combined.Done():
	case <-time.After(time.Second):
		t.Fatal("combined context did not fire after parent cancel")
	}
}

func TestCombineContextsAlreadyFiredParent(t *testing.T) {
	fired, cancel := context.WithCancel(context.Background())
	cancel()

	combined, stop := CombineContexts(context.Background(), fired)
	defer stop()

	select {
	case <-combined.Done():
	case <-time.After(time.Second):
		t.Fatal("combined context did not observe a pre-fired parent")
	}
}

func TestContextWithTimeoutCause(t *testing.T) {
	ctx, stop := ContextWithTimeout(context.Background(), 10*time.Millisecond)
	defer stop()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("timeout context did not fire")
	}

	err := cancellationCause(ctx)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("cause = %v, want ErrTimeout", err)
	}
	var te *TimeoutError
	if errors.As(err, &te) && te.After != 10*time.Millisecond {
		t.Errorf("TimeoutError.After = %v, want 10ms", te.After)
	}
}

func TestContextWithTimeoutNonPositiveReturnsParent(t *testing.T) {
	parent := context.Background()
	ctx, stop := ContextWithTimeout(parent, 0)
	defer stop()
	if ctx != parent {
		t.Error("zero timeout wrapped the parent")
	}
}

func TestCancellationCauseDistinguishesCallerAbort(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cancellationCause(ctx)
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("cause = %v, want ErrCancelled", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("caller abort classified as timeout")
	}
}

func TestCombineContextsParentValuesVisible(t *testing.T) {
	type ctxKey string
	a := context.WithValue(context.Background(), ctxKey("tenant"), "acme")
	b := context.WithValue(context.Background(), ctxKey("region"), "eu")

	combined, stop := CombineContexts(a, b)
	defer stop()

	if got := combined.Value(ctxKey("tenant")); got != "acme" {
		t.Errorf("tenant = %v, want acme", got)
	}
	if got := combined.Value(ctxKey("region")); got != "eu" {
		t.Errorf("region = %v, want eu", got)
	}
	if got := combined.Value(ctxKey("absent")); got != nil {
		t.Errorf("absent key = %v, want nil", got)
	}
}

func TestCombineContextsEarliestDeadline(t *testing.T) {
	near := time.Now().Add(50 * time.Millisecond)
	a, cancelA := context.WithDeadline(context.Background(), time.Now().Add(time.Hour))
	defer cancelA()
	b, cancelB := context.WithDeadline(context.Background(), near)
	defer cancelB()

	combined, stop := CombineContexts(a, b)
	defer stop()

	d, ok := combined.Deadline()
	if !ok {
		t.Fatal("combined context reported no deadline")
	}
	if !d.Equal(near) {
		t.Errorf("deadline = %v, want earliest parent deadline %v", d, near)
	}
}

func TestCombineContextsStopIsIdempotent(t *testing.T) {
	combined, stop := CombineContexts(context.Background(), context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stop()
		}()
	}
	wg.Wait()
	stop()

	select {
	case <-combined.Done():
	case <-time.After(time.Second):
		t.Fatal("stop did not release the combined context")
	}
}
