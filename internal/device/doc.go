// Package device defines the transport-neutral view of a BLE host stack used
// by lysync: one-shot discovery windows, GATT connections addressed by an
// opaque identifier, and the error taxonomy shared by all backends.
//
// Backends live in subpackages:
//   - goble: github.com/go-ble/ble (CoreBluetooth on macOS, HCI on Linux)
//   - tinygo: tinygo.org/x/bluetooth (BlueZ, CoreBluetooth, WinRT)
package device
