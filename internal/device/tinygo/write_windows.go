package tinygo

import "tinygo.org/x/bluetooth"

// writeCharacteristic writes data to ch with response
func writeCharacteristic(ch bluetooth.DeviceCharacteristic, data []byte) error {
	_, err := ch.Write(data)
	return err
}
