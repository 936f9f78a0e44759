package tinygo

import "tinygo.org/x/bluetooth"

// writeCharacteristic writes data to ch. BlueZ exposes a single WriteValue
// call that reports the peer's result, which the Linux backend names
// WriteWithoutResponse.
func writeCharacteristic(ch bluetooth.DeviceCharacteristic, data []byte) error {
	_, err := ch.WriteWithoutResponse(data)
	return err
}
