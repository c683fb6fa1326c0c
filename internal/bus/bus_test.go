package bus

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wabridge/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestDispatcher_HandlesEveryEvent(t *testing.T) {
	d := New(10, testLogger())

	var mu sync.Mutex
	var got []string
	var wg sync.WaitGroup
	wg.Add(3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx, func(_ context.Context, evt domain.InboundEvent) {
			mu.Lock()
			got = append(got, evt.Body)
			mu.Unlock()
			wg.Done()
		})
		close(done)
	}()

	for _, body := range []string{"a", "b", "c"} {
		require.True(t, d.Publish(domain.InboundEvent{Sender: "1@c.us", Body: body}))
	}
	wg.Wait()
	cancel()
	<-done

	assert.ElementsMatch(t, []string{"a", "b", "c"}, got)
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	d := New(1, testLogger())

	assert.True(t, d.Publish(domain.InboundEvent{Body: "first"}))
	assert.False(t, d.Publish(domain.InboundEvent{Body: "second"}), "full buffer must drop, not block")
}

func TestDispatcher_PublishAfterClose(t *testing.T) {
	d := New(4, testLogger())
	d.Close()
	d.Close()

	assert.False(t, d.Publish(domain.InboundEvent{Body: "late"}))
}

func TestDispatcher_SlowHandlerDoesNotBlockOthers(t *testing.T) {
	d := New(10, testLogger())

	release := make(chan struct{})
	fast := make(chan struct{}, 1)
	var started atomic.Int32

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx, func(_ context.Context, evt domain.InboundEvent) {
			started.Add(1)
			if evt.Body == "slow" {
				<-release
				return
			}
			fast <- struct{}{}
		})
		close(done)
	}()

	d.Publish(domain.InboundEvent{Body: "slow"})
	d.Publish(domain.InboundEvent{Body: "fast"})

	select {
	case <-fast:
	case <-time.After(2 * time.Second):
		t.Fatal("fast event was blocked behind slow event")
	}

	close(release)
	cancel()
	<-done
	assert.Equal(t, int32(2), started.Load())
}

func TestDispatcher_RunWaitsForInFlight(t *testing.T) {
	d := New(1, testLogger())

	var finished atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())
	entered := make(chan struct{})

	done := make(chan struct{})
	go func() {
		d.Run(ctx, func(hctx context.Context, _ domain.InboundEvent) {
			close(entered)
			time.Sleep(50 * time.Millisecond)
			assert.NoError(t, hctx.Err(), "handler context must survive shutdown")
			finished.Store(true)
		})
		close(done)
	}()

	d.Publish(domain.InboundEvent{Body: "x"})
	<-entered
	cancel()
	<-done

	assert.True(t, finished.Load())
}

func TestDispatcher_RunStopsOnClose(t *testing.T) {
	d := New(1, testLogger())
	done := make(chan struct{})
	go func() {
		d.Run(context.Background(), func(context.Context, domain.InboundEvent) {})
		close(done)
	}()
	d.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestDispatcher_ShutdownHandlesBufferedEvents(t *testing.T) {
	d := New(8, testLogger())
	for _, body := range []string{"a", "b", "c"} {
		require.True(t, d.Publish(domain.InboundEvent{Body: body}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var mu sync.Mutex
	var got []string
	d.Run(ctx, func(_ context.Context, evt domain.InboundEvent) {
		mu.Lock()
		got = append(got, evt.Body)
		mu.Unlock()
	})

	assert.ElementsMatch(t, []string{"a", "b", "c"}, got)
	assert.False(t, d.Publish(domain.InboundEvent{Body: "late"}), "publish after shutdown is dropped")
}
