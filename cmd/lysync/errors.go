package main

import (
	"errors"
	"fmt"

	"github.com/srg/lysync/internal/bridge"
	"github.com/srg/lysync/internal/device"
	"github.com/srg/lysync/internal/protocol"
	"github.com/srg/lysync/internal/registry"
)

// Command-level errors
var (
	// ErrNoTargetDevice is returned by sync when a scan finds no target-model device
	ErrNoTargetDevice = errors.New("no LYWSD02 device found")

	// ErrUpdateFailed wraps a non-successful update outcome
	ErrUpdateFailed = errors.New("device update failed")
)

// FormatUserError turns an error chain into a one-line message with a hint
// where one is useful.
func FormatUserError(err error) string {
	var verr *protocol.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Error()
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off - please enable Bluetooth and retry"
	case errors.Is(err, device.ErrUnknownAddress):
		return fmt.Sprintf("%v (the device was not seen advertising; is it in range and powered on?)", err)
	case errors.Is(err, device.ErrTimeout):
		return fmt.Sprintf("%v (is the device in range and powered on?)", err)
	case errors.Is(err, bridge.ErrBusy):
		return "another device update is in progress"
	case errors.Is(err, registry.ErrNotFound):
		return fmt.Sprintf("%v (use 'list' to see device indexes)", err)
	default:
		return err.Error()
	}
}
