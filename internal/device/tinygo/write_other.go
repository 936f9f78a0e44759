//go:build !linux && !darwin && !windows

package tinygo

import "tinygo.org/x/bluetooth"

// writeCharacteristic writes data to ch. HCI and SoftDevice backends only
// offer the command form.
func writeCharacteristic(ch bluetooth.DeviceCharacteristic, data []byte) error {
	_, err := ch.WriteWithoutResponse(data)
	return err
}
