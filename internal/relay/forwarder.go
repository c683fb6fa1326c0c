package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"wabridge/internal/domain"
	"wabridge/internal/metrics"
)

const DefaultForwardTimeout = 5 * time.Second

// ForwarderConfig configures the downstream relay.
type ForwarderConfig struct {
	URL     string
	Timeout time.Duration // whole-request budget, default 5s
	Logger  *slog.Logger
}

// Forwarder posts inbound messages to the downstream service. A failed post
// is logged and the message is dropped.
type Forwarder struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

func NewForwarder(cfg ForwarderConfig) *Forwarder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultForwardTimeout
	}
	return &Forwarder{
		url:    cfg.URL,
		client: newHTTPClient(cfg.Timeout),
		logger: cfg.Logger,
	}
}

// newHTTPClient returns a pooled client whose Timeout bounds the whole call.
func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// Forward performs one POST of evt to the downstream URL. Any transport
// error, timeout or non-2xx status is returned.
func (f *Forwarder) Forward(ctx context.Context, evt domain.InboundEvent) error {
	body, err := json.Marshal(Payload{Numero: evt.Sender, Mensagem: evt.Body})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("downstream returned %d", resp.StatusCode)
	}
	return nil
}

// Handle forwards evt and logs the outcome. It never retries.
func (f *Forwarder) Handle(ctx context.Context, evt domain.InboundEvent) {
	start := time.Now()
	err := f.Forward(ctx, evt)
	metrics.RelayLatency.ObserveSince(start)

	if err != nil {
		metrics.RelayFailures.Inc()
		f.logger.Error("relay to downstream failed, message dropped",
			"from", evt.Sender, "id", evt.ID, "err", err)
		return
	}
	metrics.RelayedTotal.Inc()
	f.logger.Debug("relayed to downstream", "from", evt.Sender, "id", evt.ID,
		"duration", time.Since(start))
}
