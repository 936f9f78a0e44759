package protocol

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// GATT layout of the LYWSD02 clock
const (
	TimeServiceUUID = "ebe0ccb0-7a0a-4b0c-8a1a-6ff2997da3a6"
	TimeCharUUID    = "ebe0ccb7-7a0a-4b0c-8a1a-6ff2997da3a6"
	UnitCharUUID    = "ebe0ccbe-7a0a-4b0c-8a1a-6ff2997da3a6"
)

const (
	MinOffset = -12
	MaxOffset = 14

	// HalfHourSeconds is added to the epoch for half-hour time zones
	HalfHourSeconds = 30 * 60

	TimePayloadSize = 5
)

// Unit is the temperature unit shown by the device
type Unit byte

const (
	Celsius    Unit = 0
	Fahrenheit Unit = 1
)

// ParseUnit accepts C/F and the spelled-out names, case-insensitively
func ParseUnit(s string) (Unit, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "C", "CELSIUS":
		return Celsius, nil
	case "F", "FAHRENHEIT":
		return Fahrenheit, nil
	default:
		return 0, fmt.Errorf("unknown unit %q (expected C or F)", s)
	}
}

// Byte is the wire value of the unit
func (u Unit) Byte() byte {
	return byte(u)
}

func (u Unit) String() string {
	if u == Fahrenheit {
		return "F"
	}
	return "C"
}

// Label is the long display form, e.g. "Celsius (C)"
func (u Unit) Label() string {
	if u == Fahrenheit {
		return "Fahrenheit (F)"
	}
	return "Celsius (C)"
}

// EncodeTime builds the time characteristic payload: little-endian epoch
// seconds followed by the signed UTC offset in hours.
func EncodeTime(epoch uint32, offset int8) []byte {
	buf := make([]byte, TimePayloadSize)
	binary.LittleEndian.PutUint32(buf, epoch)
	buf[4] = byte(offset)
	return buf
}

// DecodeTime is the inverse of EncodeTime
func DecodeTime(data []byte) (epoch uint32, offset int8, err error) {
	if len(data) != TimePayloadSize {
		return 0, 0, fmt.Errorf("time payload must be %d bytes, got %d", TimePayloadSize, len(data))
	}
	return binary.LittleEndian.Uint32(data), int8(data[4]), nil
}

// DecodeUnit parses a unit characteristic value. Only 0 and 1 are valid.
func DecodeUnit(data []byte) (Unit, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("empty unit value")
	}
	switch Unit(data[0]) {
	case Celsius, Fahrenheit:
		return Unit(data[0]), nil
	default:
		return 0, fmt.Errorf("unrecognized unit value 0x%02x", data[0])
	}
}
