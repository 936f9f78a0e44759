package goble

import (
	"fmt"
	"strings"

	"github.com/srg/lysync/internal/device"
)

// errorRule maps a lower-case message fragment to a device sentinel
type errorRule struct {
	fragment string
	target   error
}

// Order matters: "not connected" must win over the broader "disconnected".
var errorRules = []errorRule{
	// CoreBluetooth: CBManagerStatePoweredOff is 4, PoweredOn is 5
	{fragment: "invalid state: have=4", target: device.ErrBluetoothOff},
	{fragment: "bluetooth is turned off", target: device.ErrBluetoothOff},
	{fragment: "hci0: can't up device", target: device.ErrBluetoothOff},
	{fragment: "device not connected", target: device.ErrNotConnected},
	{fragment: "disconnected", target: device.ErrNotConnected},
	{fragment: "device already connected", target: device.ErrAlreadyConnected},
	{fragment: "connection is not initialized", target: device.ErrNotInitialized},
	{fragment: "connection timed out", target: device.ErrTimeout},
}

// NormalizeError wraps host stack errors with the matching device sentinel so
// callers can use errors.Is. The original message is kept. Unknown errors are
// returned unchanged.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range errorRules {
		if strings.Contains(msg, rule.fragment) {
			return fmt.Errorf("%w: %v", rule.target, err)
		}
	}
	return err
}
