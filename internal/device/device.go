package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NotFoundError represents an error when a GATT resource is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // [serviceUUID] or [serviceUUID, charUUID]
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
	BluetoothOff     ConnectionState = "bluetooth_off"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
	ErrBluetoothOff     = &ConnectionError{State: BluetoothOff, Msg: "Bluetooth is turned off - please enable Bluetooth and retry"}
)

// Operation errors
var (
	ErrTimeout        = errors.New("timeout")
	ErrUnsupported    = errors.New("unsupported")
	ErrUnknownAddress = errors.New("address was not seen during discovery")
)

// Op names the transport operation that failed.
type Op string

const (
	OpDiscover Op = "discover"
	OpConnect  Op = "connect"
	OpRead     Op = "read"
	OpWrite    Op = "write"
)

// OpError is the error returned by transports for a failed primitive.
// Discover and Connect failures are transport errors, Read and Write are
// characteristic I/O errors.
type OpError struct {
	Op      Op
	Address string
	UUID    string
	Err     error
}

func (e *OpError) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Op))
	if e.UUID != "" {
		sb.WriteString(" ")
		sb.WriteString(e.UUID)
	}
	if e.Address != "" {
		sb.WriteString(" on ")
		sb.WriteString(e.Address)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err came from discovery or connection setup.
func IsTransportError(err error) bool {
	var op *OpError
	if errors.As(err, &op) {
		return op.Op == OpDiscover || op.Op == OpConnect
	}
	return false
}

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// Advertisement is the part of a received advertisement the application consumes.
type Advertisement interface {
	LocalName() string
	Addr() string
	Services() []string
}

// Discoverer runs one blocking discovery window and returns every
// peripheral seen during it, one entry per address.
type Discoverer interface {
	Discover(ctx context.Context, timeout time.Duration) ([]Advertisement, error)
}

// Connection is an open GATT link to a single peripheral.
type Connection interface {
	Address() string
	IsConnected() bool
	ReadCharacteristic(ctx context.Context, service, char string) ([]byte, error)
	WriteCharacteristic(ctx context.Context, service, char string, data []byte) error
	Close() error
}

// Connector opens GATT connections by opaque address.
type Connector interface {
	Connect(ctx context.Context, address string, opts *ConnectOptions) (Connection, error)
}

// Transport is a BLE host stack capable of both discovery and GATT access.
type Transport interface {
	Discoverer
	Connector
}

// ConnectOptions defines BLE connection options
type ConnectOptions struct {
	ConnectTimeout time.Duration
	IOTimeout      time.Duration
}

// DefaultConnectOptions returns the timeouts used when none are given
func DefaultConnectOptions() *ConnectOptions {
	return &ConnectOptions{
		ConnectTimeout: 30 * time.Second,
		IOTimeout:      5 * time.Second,
	}
}
