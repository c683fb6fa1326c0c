package session

import (
	"context"
	"fmt"
	"log/slog"

	"go.mau.fi/whatsmeow/store/sqlstore"
)

// storeDSN builds a modernc.org/sqlite DSN. whatsmeow refuses to run its
// migrations without foreign keys.
func storeDSN(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// OpenStore opens (and migrates) the device store at path.
func OpenStore(ctx context.Context, path string, logger *slog.Logger) (*sqlstore.Container, error) {
	container, err := sqlstore.New(ctx, "sqlite", storeDSN(path), newWALogger(logger, "store"))
	if err != nil {
		return nil, fmt.Errorf("open session store %s: %w", path, err)
	}
	return container, nil
}

// DeviceInfo describes the paired device stored at path, if any.
type DeviceInfo struct {
	Paired   bool
	JID      string
	PushName string
	Platform string
}

// Inspect reports the paired device without connecting to the network.
func Inspect(ctx context.Context, path string, logger *slog.Logger) (DeviceInfo, error) {
	container, err := OpenStore(ctx, path, logger)
	if err != nil {
		return DeviceInfo{}, err
	}
	defer container.Close()

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("load device: %w", err)
	}
	if device.ID == nil {
		return DeviceInfo{}, nil
	}
	return DeviceInfo{
		Paired:   true,
		JID:      device.ID.String(),
		PushName: device.PushName,
		Platform: device.Platform,
	}, nil
}
