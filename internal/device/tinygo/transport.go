// Package tinygo implements device.Transport on tinygo.org/x/bluetooth.
//
// tinygo addresses are platform structs (a MAC on BlueZ, a UUID on
// CoreBluetooth), and a host stack only connects to peers it has sighted. The
// transport remembers every address seen while scanning and connects by
// looking the opaque key up again. An address not seen yet is resolved by a
// short discovery run.
package tinygo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/lysync/internal/address"
	"github.com/srg/lysync/internal/device"
	"tinygo.org/x/bluetooth"
)

const (
	// readBufferSize is large enough for any ATT payload at the default MTU range
	readBufferSize = 512

	// DefaultResolveWindow bounds the discovery run Connect uses to find an
	// address this process has not seen yet
	DefaultResolveWindow = 10 * time.Second

	stopRetryInterval = 20 * time.Millisecond
)

// radio is the discovery surface of *bluetooth.Adapter
type radio interface {
	Enable() error
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
}

type dialFunc func(bluetooth.Address, bluetooth.ConnectionParams) (bluetooth.Device, error)

// Transport is a tinygo bluetooth backed device.Transport
type Transport struct {
	radio  radio
	dial   dialFunc
	logger *logrus.Logger

	resolveWindow time.Duration

	enableOnce sync.Once
	enableErr  error

	mu    sync.Mutex
	known map[string]bluetooth.Address
}

// NewTransport creates a transport on the given adapter (nil = DefaultAdapter)
func NewTransport(adapter *bluetooth.Adapter, logger *logrus.Logger) *Transport {
	if adapter == nil {
		adapter = bluetooth.DefaultAdapter
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{
		radio:         adapter,
		dial:          adapter.Connect,
		logger:        logger,
		resolveWindow: DefaultResolveWindow,
		known:         make(map[string]bluetooth.Address),
	}
}

func (t *Transport) enable() error {
	t.enableOnce.Do(func() {
		if err := t.radio.Enable(); err != nil {
			t.enableErr = fmt.Errorf("failed to enable BLE adapter: %w", err)
		}
	})
	return t.enableErr
}

// advertisement adapts a tinygo scan result to device.Advertisement
type advertisement struct {
	addr string
	name string
}

func (a *advertisement) LocalName() string  { return a.name }
func (a *advertisement) Addr() string       { return a.addr }
func (a *advertisement) Services() []string { return nil }

// scan runs the adapter scan until ctx ends or onResult returns true. Every
// sighted address is remembered for Connect.
func (t *Transport) scan(ctx context.Context, onResult func(key string, result bluetooth.ScanResult) bool) error {
	found := make(chan struct{})
	var foundOnce sync.Once
	scanDone := make(chan struct{})
	watcherDone := make(chan struct{})

	go func() {
		defer close(watcherDone)
		select {
		case <-ctx.Done():
		case <-found:
		case <-scanDone:
			return
		}
		// StopScan fails until the adapter has actually started scanning
		for {
			err := t.radio.StopScan()
			if err == nil {
				return
			}
			t.logger.WithField("error", err).Debug("StopScan returned error")
			select {
			case <-scanDone:
				return
			case <-time.After(stopRetryInterval):
			}
		}
	}()

	err := t.radio.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		key := address.Normalize(result.Address.String())

		t.mu.Lock()
		t.known[key] = result.Address
		t.mu.Unlock()

		if onResult(key, result) {
			foundOnce.Do(func() { close(found) })
		}
	})
	close(scanDone)
	<-watcherDone
	return err
}

// Discover scans until the window elapses
func (t *Transport) Discover(ctx context.Context, timeout time.Duration) ([]device.Advertisement, error) {
	if err := t.enable(); err != nil {
		return nil, &device.OpError{Op: device.OpDiscover, Err: err}
	}

	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		order []string
		seen  = make(map[string]*advertisement)
	)
	err := t.scan(scanCtx, func(key string, result bluetooth.ScanResult) bool {
		if adv, ok := seen[key]; ok {
			if adv.name == "" {
				adv.name = result.LocalName()
			}
			return false
		}
		order = append(order, key)
		seen[key] = &advertisement{addr: result.Address.String(), name: result.LocalName()}
		return false
	})

	result := make([]device.Advertisement, 0, len(order))
	for _, key := range order {
		result = append(result, seen[key])
	}

	if err != nil {
		return result, &device.OpError{Op: device.OpDiscover, Err: err}
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, nil
}

func (t *Transport) lookup(key string) (bluetooth.Address, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	addr, ok := t.known[key]
	return addr, ok
}

// resolve returns the platform address for addr. Addresses not sighted yet
// are searched for in a discovery run that stops as soon as addr shows up.
func (t *Transport) resolve(ctx context.Context, addr string) (bluetooth.Address, error) {
	key := address.Normalize(addr)
	if target, ok := t.lookup(key); ok {
		return target, nil
	}

	t.logger.WithFields(logrus.Fields{
		"address": addr,
		"window":  t.resolveWindow,
	}).Info("Address not seen yet, scanning for it...")

	scanCtx, cancel := context.WithTimeout(ctx, t.resolveWindow)
	defer cancel()

	err := t.scan(scanCtx, func(seen string, _ bluetooth.ScanResult) bool {
		return seen == key
	})
	if target, ok := t.lookup(key); ok {
		return target, nil
	}
	if err != nil {
		return bluetooth.Address{}, err
	}
	if ctx.Err() != nil {
		return bluetooth.Address{}, ctx.Err()
	}
	return bluetooth.Address{}, device.ErrUnknownAddress
}

// Connect opens a connection to addr, scanning for it first when no earlier
// Discover call has seen it
func (t *Transport) Connect(ctx context.Context, addr string, opts *device.ConnectOptions) (device.Connection, error) {
	if opts == nil {
		opts = device.DefaultConnectOptions()
	}
	if err := t.enable(); err != nil {
		return nil, &device.OpError{Op: device.OpConnect, Address: addr, Err: err}
	}

	target, err := t.resolve(ctx, addr)
	if err != nil {
		return nil, &device.OpError{Op: device.OpConnect, Address: addr, Err: err}
	}

	t.logger.WithFields(logrus.Fields{
		"address": addr,
		"timeout": opts.ConnectTimeout,
	}).Info("Connecting to BLE device...")

	type dialResult struct {
		dev bluetooth.Device
		err error
	}
	resultCh := make(chan dialResult, 1)
	go func() {
		dev, err := t.dial(target, bluetooth.ConnectionParams{
			ConnectionTimeout: bluetooth.NewDuration(opts.ConnectTimeout),
		})
		resultCh <- dialResult{dev: dev, err: err}
	}()

	var dev bluetooth.Device
	select {
	case r := <-resultCh:
		if r.err != nil {
			return nil, &device.OpError{Op: device.OpConnect, Address: addr, Err: r.err}
		}
		dev = r.dev
	case <-ctx.Done():
		return nil, &device.OpError{Op: device.OpConnect, Address: addr, Err: ctx.Err()}
	}

	conn := &Connection{
		address:   addr,
		dev:       dev,
		logger:    t.logger,
		ioTimeout: opts.IOTimeout,
		chars:     make(map[string]bluetooth.DeviceCharacteristic),
	}
	t.logger.WithField("address", addr).Info("BLE device connected successfully")
	return conn, nil
}

// Connection is an open tinygo GATT link. Characteristics are discovered
// lazily, per service, on first access.
type Connection struct {
	address   string
	dev       bluetooth.Device
	logger    *logrus.Logger
	ioTimeout time.Duration

	mu     sync.Mutex
	closed bool
	chars  map[string]bluetooth.DeviceCharacteristic
}

func (c *Connection) Address() string { return c.address }

func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *Connection) characteristic(service, char string) (bluetooth.DeviceCharacteristic, error) {
	uuids, err := device.ValidateUUID(service, char)
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, err
	}
	key := uuids[0] + "/" + uuids[1]

	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.chars[key]; ok {
		return ch, nil
	}

	svcUUID, err := parseUUID(service)
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, err
	}
	charUUID, err := parseUUID(char)
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, err
	}

	services, err := c.dev.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil || len(services) == 0 {
		return bluetooth.DeviceCharacteristic{}, &device.NotFoundError{Resource: "service", UUIDs: []string{service}}
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{charUUID})
	if err != nil || len(chars) == 0 {
		return bluetooth.DeviceCharacteristic{}, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, char}}
	}

	c.chars[key] = chars[0]
	return chars[0], nil
}

func parseUUID(u string) (bluetooth.UUID, error) {
	expanded, err := device.ExpandUUID(u)
	if err != nil {
		return bluetooth.UUID{}, err
	}
	return bluetooth.ParseUUID(expanded)
}

func (c *Connection) withTimeout(ctx context.Context, fn func() ([]byte, error)) ([]byte, error) {
	timeout := c.ioTimeout
	if timeout <= 0 {
		timeout = device.DefaultConnectOptions().IOTimeout
	}

	type ioResult struct {
		data []byte
		err  error
	}
	resultCh := make(chan ioResult, 1)
	go func() {
		data, err := fn()
		resultCh <- ioResult{data: data, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-resultCh:
		return r.data, r.err
	case <-timer.C:
		return nil, fmt.Errorf("%w after %v", device.ErrTimeout, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Connection) ReadCharacteristic(ctx context.Context, service, char string) ([]byte, error) {
	ch, err := c.characteristic(service, char)
	if err != nil {
		return nil, &device.OpError{Op: device.OpRead, Address: c.address, UUID: char, Err: err}
	}

	data, err := c.withTimeout(ctx, func() ([]byte, error) {
		buf := make([]byte, readBufferSize)
		n, err := ch.Read(buf)
		if err != nil {
			return nil, err
		}
		return buf[:n], nil
	})
	if err != nil {
		return nil, &device.OpError{Op: device.OpRead, Address: c.address, UUID: char, Err: err}
	}
	return data, nil
}

func (c *Connection) WriteCharacteristic(ctx context.Context, service, char string, data []byte) error {
	ch, err := c.characteristic(service, char)
	if err != nil {
		return &device.OpError{Op: device.OpWrite, Address: c.address, UUID: char, Err: err}
	}

	_, err = c.withTimeout(ctx, func() ([]byte, error) {
		return nil, writeCharacteristic(ch, data)
	})
	if err != nil {
		return &device.OpError{Op: device.OpWrite, Address: c.address, UUID: char, Err: err}
	}
	return nil
}

func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.dev.Disconnect()
	if err != nil {
		c.logger.WithField("error", err).Warn("BLE device disconnected with errors")
	} else {
		c.logger.WithField("address", c.address).Info("BLE device disconnected successfully")
	}
	return err
}
