package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/lysync/internal/device"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking as goble.DeviceFactory
var DeviceFactory = newHostDevice

// Transport implements device.Transport on top of a go-ble host device.
// The host device is created on first use and shared by discovery and
// connections.
type Transport struct {
	logger *logrus.Logger

	mu  sync.Mutex
	dev ble.Device
}

// NewTransport creates a go-ble backed transport
func NewTransport(logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{logger: logger}
}

func (t *Transport) hostDevice() (ble.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev != nil {
		return t.dev, nil
	}

	dev, err := DeviceFactory()
	if err != nil {
		t.logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, NormalizeError(err)
	}
	t.dev = dev
	return dev, nil
}

// Discover scans for the given window and returns one advertisement per address,
// in first-seen order. Reaching the window deadline is the normal end of a scan.
func (t *Transport) Discover(ctx context.Context, timeout time.Duration) ([]device.Advertisement, error) {
	dev, err := t.hostDevice()
	if err != nil {
		return nil, &device.OpError{Op: device.OpDiscover, Err: err}
	}

	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu    sync.Mutex
		order []string
		seen  = make(map[string]device.Advertisement)
	)

	handler := func(adv ble.Advertisement) {
		wrapped := NewBLEAdvertisement(adv)
		addr := wrapped.Addr()

		mu.Lock()
		defer mu.Unlock()
		prev, ok := seen[addr]
		if !ok {
			order = append(order, addr)
		}
		// Keep the richest sighting: scan responses often carry the name
		// that the first advertisement lacked.
		if !ok || (prev.LocalName() == "" && wrapped.LocalName() != "") {
			seen[addr] = wrapped
		}
	}

	t.logger.WithField("timeout", timeout).Debug("Starting go-ble discovery window")
	err = dev.Scan(scanCtx, false, handler)

	mu.Lock()
	result := make([]device.Advertisement, 0, len(order))
	for _, addr := range order {
		result = append(result, seen[addr])
	}
	mu.Unlock()

	switch {
	case err == nil, errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		return result, ctx.Err()
	default:
		return result, &device.OpError{Op: device.OpDiscover, Err: NormalizeError(err)}
	}

	t.logger.WithField("device_count", len(result)).Debug("go-ble discovery window completed")
	return result, nil
}

// Connect dials the peripheral and discovers its GATT profile
func (t *Transport) Connect(ctx context.Context, address string, opts *device.ConnectOptions) (device.Connection, error) {
	if strings.TrimSpace(address) == "" {
		return nil, &device.OpError{Op: device.OpConnect, Err: fmt.Errorf("device address is empty")}
	}
	if opts == nil {
		opts = device.DefaultConnectOptions()
	}

	dev, err := t.hostDevice()
	if err != nil {
		return nil, &device.OpError{Op: device.OpConnect, Address: address, Err: err}
	}

	t.logger.WithFields(logrus.Fields{
		"address": address,
		"timeout": opts.ConnectTimeout,
	}).Info("Connecting to BLE device...")

	connCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	client, err := dev.Dial(connCtx, ble.NewAddr(address))
	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		return nil, &device.OpError{Op: device.OpConnect, Address: address, Err: NormalizeError(err)}
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			t.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return nil, &device.OpError{Op: device.OpConnect, Address: address, Err: fmt.Errorf("failed to discover profile: %w", err)}
	}

	conn := newConnection(address, client, profile, opts.IOTimeout, t.logger)

	t.logger.WithFields(logrus.Fields{
		"address":         address,
		"services":        len(profile.Services),
		"characteristics": len(conn.chars),
	}).Info("BLE device connected successfully")
	return conn, nil
}
