// Package devicefactory selects the BLE transport implementation by name.
package devicefactory

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/srg/lysync/internal/device"
	goble "github.com/srg/lysync/internal/device/go-ble"
	"github.com/srg/lysync/internal/device/tinygo"
)

// Transport names
const (
	GoBLE  = "goble"
	TinyGo = "tinygo"
)

var constructors = map[string]func(logger *logrus.Logger) device.Transport{
	GoBLE: func(logger *logrus.Logger) device.Transport {
		return goble.NewTransport(logger)
	},
	TinyGo: func(logger *logrus.Logger) device.Transport {
		return tinygo.NewTransport(nil, logger)
	},
}

// TransportFactory creates the transport used by the CLI.
// This is a variable so that it can be overridden in tests.
var TransportFactory = NewTransport

// NewTransport returns the transport registered under name
func NewTransport(name string, logger *logrus.Logger) (device.Transport, error) {
	ctor, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("unknown transport %q (available: %v)", name, Names())
	}
	if logger == nil {
		logger = logrus.New()
	}
	return ctor(logger), nil
}

// Names lists the registered transports in sorted order
func Names() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
