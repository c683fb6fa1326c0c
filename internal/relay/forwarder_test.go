package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wabridge/internal/domain"
	"wabridge/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestForward_PostsPayload(t *testing.T) {
	var got Payload
	var header http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/webhook", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		rw.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := NewForwarder(ForwarderConfig{URL: srv.URL + "/webhook", Logger: testLogger()})
	err := f.Forward(context.Background(), domain.InboundEvent{Sender: "5511999999999@c.us", Body: "quero doar"})

	require.NoError(t, err)
	assert.Equal(t, Payload{Numero: "5511999999999@c.us", Mensagem: "quero doar"}, got)
	assert.Equal(t, "application/json", header.Get("Content-Type"))
	_, err = uuid.Parse(header.Get("X-Request-ID"))
	assert.NoError(t, err)
}

func TestForward_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewForwarder(ForwarderConfig{URL: srv.URL, Logger: testLogger()})
	err := f.Forward(context.Background(), domain.InboundEvent{Sender: "1@c.us", Body: "x"})
	assert.ErrorContains(t, err, "500")
}

func TestForward_AcceptsAny2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	f := NewForwarder(ForwarderConfig{URL: srv.URL, Logger: testLogger()})
	assert.NoError(t, f.Forward(context.Background(), domain.InboundEvent{Sender: "1@c.us", Body: "x"}))
}

func TestForward_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := NewForwarder(ForwarderConfig{URL: srv.URL, Timeout: 100 * time.Millisecond, Logger: testLogger()})

	start := time.Now()
	err := f.Forward(context.Background(), domain.InboundEvent{Sender: "1@c.us", Body: "x"})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestForward_Unreachable(t *testing.T) {
	f := NewForwarder(ForwarderConfig{URL: "http://127.0.0.1:1/webhook", Timeout: time.Second, Logger: testLogger()})
	assert.Error(t, f.Forward(context.Background(), domain.InboundEvent{Sender: "1@c.us", Body: "x"}))
}

func TestNewForwarder_DefaultTimeout(t *testing.T) {
	f := NewForwarder(ForwarderConfig{URL: "http://127.0.0.1:8000/webhook", Logger: testLogger()})
	assert.Equal(t, 5*time.Second, f.client.Timeout)
}

func TestHandle_NoRetryOnFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		rw.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	failures := metrics.RelayFailures.Value()
	f := NewForwarder(ForwarderConfig{URL: srv.URL, Logger: testLogger()})
	f.Handle(context.Background(), domain.InboundEvent{Sender: "1@c.us", Body: "x"})

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, failures+1, metrics.RelayFailures.Value())
}

func TestHandle_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	relayed := metrics.RelayedTotal.Value()
	f := NewForwarder(ForwarderConfig{URL: srv.URL, Logger: testLogger()})
	f.Handle(context.Background(), domain.InboundEvent{Sender: "1@c.us", Body: "x"})

	assert.Equal(t, relayed+1, metrics.RelayedTotal.Value())
}
