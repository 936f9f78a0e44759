package goble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/lysync/internal/device"
)

// DefaultIOTimeout bounds a single characteristic read or write.
const DefaultIOTimeout = 5 * time.Second

// Connection is a live go-ble GATT client with its discovered profile
type Connection struct {
	address   string
	client    ble.Client
	logger    *logrus.Logger
	ioTimeout time.Duration

	// "<service>/<char>" (normalized) -> handle
	chars map[string]*ble.Characteristic

	mu     sync.Mutex
	closed bool
}

func charKey(service, char string) string {
	return device.NormalizeUUID(service) + "/" + device.NormalizeUUID(char)
}

func newConnection(address string, client ble.Client, profile *ble.Profile, ioTimeout time.Duration, logger *logrus.Logger) *Connection {
	if ioTimeout <= 0 {
		ioTimeout = DefaultIOTimeout
	}

	c := &Connection{
		address:   address,
		client:    client,
		logger:    logger,
		ioTimeout: ioTimeout,
		chars:     make(map[string]*ble.Characteristic),
	}

	for _, svc := range profile.Services {
		for _, ch := range svc.Characteristics {
			key := charKey(svc.UUID.String(), ch.UUID.String())
			logger.WithField("char", key).Debug("Found characteristic UUID")
			c.chars[key] = ch
		}
	}
	return c
}

// Address returns the address the connection was opened with
func (c *Connection) Address() string {
	return c.address
}

// IsConnected reports whether the link is still up.
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return false
	}

	select {
	case <-c.client.Disconnected():
		return false
	default:
		return true
	}
}

func (c *Connection) lookup(service, char string) (*ble.Characteristic, error) {
	uuids, err := device.ValidateUUID(service, char)
	if err != nil {
		return nil, err
	}
	ch, ok := c.chars[uuids[0]+"/"+uuids[1]]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, char}}
	}
	return ch, nil
}

type ioResult struct {
	data []byte
	err  error
}

// withTimeout runs fn on its own goroutine so that an unresponsive peripheral
// cannot block the caller past the I/O timeout.
func (c *Connection) withTimeout(ctx context.Context, fn func() ([]byte, error)) ([]byte, error) {
	resultCh := make(chan ioResult, 1)
	go func() {
		data, err := fn()
		resultCh <- ioResult{data: data, err: err}
	}()

	timer := time.NewTimer(c.ioTimeout)
	defer timer.Stop()

	select {
	case r := <-resultCh:
		return r.data, NormalizeError(r.err)
	case <-timer.C:
		return nil, fmt.Errorf("%w after %v", device.ErrTimeout, c.ioTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReadCharacteristic reads the current value of a characteristic
func (c *Connection) ReadCharacteristic(ctx context.Context, service, char string) ([]byte, error) {
	ch, err := c.lookup(service, char)
	if err != nil {
		return nil, &device.OpError{Op: device.OpRead, Address: c.address, UUID: char, Err: err}
	}

	data, err := c.withTimeout(ctx, func() ([]byte, error) {
		return c.client.ReadCharacteristic(ch)
	})
	if err != nil {
		return nil, &device.OpError{Op: device.OpRead, Address: c.address, UUID: char, Err: err}
	}
	return data, nil
}

// WriteCharacteristic writes data with response
func (c *Connection) WriteCharacteristic(ctx context.Context, service, char string, data []byte) error {
	ch, err := c.lookup(service, char)
	if err != nil {
		return &device.OpError{Op: device.OpWrite, Address: c.address, UUID: char, Err: err}
	}

	_, err = c.withTimeout(ctx, func() ([]byte, error) {
		return nil, c.client.WriteCharacteristic(ch, data, false)
	})
	if err != nil {
		return &device.OpError{Op: device.OpWrite, Address: c.address, UUID: char, Err: err}
	}
	return nil
}

// Close cancels the connection. Safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := NormalizeError(c.client.CancelConnection())
	if err != nil {
		c.logger.WithField("error", err).Warn("BLE device disconnected with errors")
	} else {
		c.logger.WithField("address", c.address).Info("BLE device disconnected successfully")
	}
	return err
}
