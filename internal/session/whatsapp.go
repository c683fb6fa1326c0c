// Package session owns the single WhatsApp Web session the bridge runs on.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"

	"wabridge/internal/domain"
	"wabridge/internal/metrics"
)

// messageSender is the part of *whatsmeow.Client used to deliver text.
type messageSender interface {
	SendMessage(ctx context.Context, to types.JID, message *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error)
}

// Config configures the session adapter.
type Config struct {
	Name      string    // shown in the phone's linked devices list
	DBPath    string    // sqlite file with the paired device credentials
	QRWriter  io.Writer // pairing QR codes are drawn here; nil only logs them
	Logger    *slog.Logger
	OnMessage func(domain.InboundEvent) // receives every accepted inbound message
}

// Adapter wraps a whatsmeow client. It implements domain.Session.
type Adapter struct {
	name      string
	dbPath    string
	qrOut     io.Writer
	logger    *slog.Logger
	onMessage func(domain.InboundEvent)

	mu        sync.Mutex
	container *sqlstore.Container
	client    *whatsmeow.Client
	sender    messageSender

	ready atomic.Bool
}

var _ domain.Session = (*Adapter)(nil)

func New(cfg Config) *Adapter {
	return &Adapter{
		name:      cfg.Name,
		dbPath:    cfg.DBPath,
		qrOut:     cfg.QRWriter,
		logger:    cfg.Logger,
		onMessage: cfg.OnMessage,
	}
}

// Start initializes the session in the background. A failure is logged and
// leaves the adapter not ready; there is no retry.
func (a *Adapter) Start(ctx context.Context) {
	go func() {
		if err := a.initialize(ctx); err != nil {
			a.logger.Error("session startup failed", "session", a.name, "err", err)
		}
	}()
}

func (a *Adapter) initialize(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(a.dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create session directory: %w", err)
	}

	store.DeviceProps.Os = proto.String(a.name)

	container, err := OpenStore(ctx, a.dbPath, a.logger)
	if err != nil {
		return err
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return fmt.Errorf("load device: %w", err)
	}

	client := whatsmeow.NewClient(device, newWALogger(a.logger, "client"))
	client.AddEventHandler(a.handleEvent)

	a.mu.Lock()
	a.container = container
	a.client = client
	a.sender = client
	a.mu.Unlock()

	if client.Store.ID == nil {
		return a.pair(ctx, client)
	}

	a.logger.Info("connecting session", "session", a.name, "device", client.Store.ID.String())
	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// pair links a new device by QR code. The session becomes ready through the
// Connected event that follows a successful scan.
func (a *Adapter) pair(ctx context.Context, client *whatsmeow.Client) error {
	qrChan, err := client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("qr channel: %w", err)
	}
	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	for item := range qrChan {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			a.logger.Info("scan the QR code with WhatsApp to link this session",
				"session", a.name, "expires_in", item.Timeout)
			if a.qrOut != nil {
				qrterminal.GenerateHalfBlock(item.Code, qrterminal.L, a.qrOut)
			}
		case whatsmeow.QRChannelSuccess.Event:
			a.logger.Info("session linked", "session", a.name)
			return nil
		case whatsmeow.QRChannelEventError:
			return fmt.Errorf("pairing: %w", item.Error)
		default:
			return fmt.Errorf("pairing ended: %s", item.Event)
		}
	}
	return errors.New("pairing aborted")
}

// Ready reports whether the session can send.
func (a *Adapter) Ready() bool { return a.ready.Load() }

func (a *Adapter) setReady(v bool) {
	a.ready.Store(v)
	if v {
		metrics.SessionReady.Set(1)
	} else {
		metrics.SessionReady.Set(0)
	}
}

// SendText delivers body to the destination. It fails with
// domain.ErrSessionNotReady without touching the client while the session is
// not ready. Library errors are returned as-is.
func (a *Adapter) SendText(ctx context.Context, to domain.Address, body string) error {
	if !a.Ready() {
		return domain.ErrSessionNotReady
	}
	a.mu.Lock()
	sender := a.sender
	a.mu.Unlock()
	if sender == nil {
		return domain.ErrSessionNotReady
	}

	jid, err := toJID(to)
	if err != nil {
		return err
	}

	start := time.Now()
	_, err = sender.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(body)})
	metrics.SendLatency.ObserveSince(start)
	if err != nil {
		metrics.SendFailures.Inc()
		return err
	}
	metrics.SendsTotal.Inc()
	a.logger.Debug("message sent", "to", jid.String(), "text_len", len(body))
	return nil
}

// Stop disconnects the client and closes the device store.
func (a *Adapter) Stop() {
	a.setReady(false)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		a.client.Disconnect()
	}
	if a.container != nil {
		if err := a.container.Close(); err != nil {
			a.logger.Warn("close session store", "err", err)
		}
	}
}

func (a *Adapter) handleEvent(evt any) {
	switch v := evt.(type) {
	case *events.Message:
		a.onInbound(v)
	case *events.Connected:
		a.setReady(true)
		a.logger.Info("session ready", "session", a.name)
	case *events.Disconnected:
		a.logger.Warn("session disconnected", "session", a.name)
	case *events.LoggedOut:
		a.setReady(false)
		a.logger.Error("session logged out; restart to link again",
			"session", a.name, "reason", v.Reason.String())
	}
}

func (a *Adapter) onInbound(msg *events.Message) {
	evt := toInbound(msg)
	if reason := Classify(evt); reason != Accept {
		metrics.InboundDropped(string(reason)).Inc()
		if evt != nil {
			a.logger.Debug("inbound message ignored", "reason", reason, "from", evt.Sender)
		}
		return
	}

	evt.Body = strings.TrimSpace(evt.Body)
	metrics.InboundAccepted.Inc()
	a.logger.Info("message received", "from", evt.Sender, "id", evt.ID, "text_len", len(evt.Body))

	if a.onMessage != nil {
		a.onMessage(*evt)
	}
}
