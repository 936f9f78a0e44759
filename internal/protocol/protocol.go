// Package protocol implements the LYWSD02 clock and unit update sequence:
// connect, write time, read unit, write unit when it differs, disconnect.
package protocol

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/lysync/internal/device"
)

// Notifier receives the human-readable progress lines of an attempt
type Notifier func(line string)

// Runner executes update attempts. It holds no per-attempt state.
type Runner struct {
	connector device.Connector
	opts      *device.ConnectOptions
	logger    *logrus.Logger
	notify    Notifier
}

// NewRunner creates a Runner. nil opts, logger and notify take defaults.
func NewRunner(connector device.Connector, opts *device.ConnectOptions, logger *logrus.Logger, notify Notifier) *Runner {
	if opts == nil {
		opts = device.DefaultConnectOptions()
	}
	if logger == nil {
		logger = logrus.New()
	}
	if notify == nil {
		notify = func(string) {}
	}
	return &Runner{connector: connector, opts: opts, logger: logger, notify: notify}
}

// Run performs one attempt to a terminal Outcome. Steps run strictly in order
// with no retries, and the connection is closed on every path that opened it.
// Run is not cancellable from outside once the connection is open; ctx only
// bounds the transport calls.
func (r *Runner) Run(ctx context.Context, req Request) (out Outcome) {
	out = Outcome{AttemptID: req.AttemptID, Address: req.Address}
	log := r.logger.WithFields(logrus.Fields{
		"attempt": req.AttemptID.String(),
		"address": req.Address,
	})

	defer func() {
		log.WithFields(logrus.Fields{
			"outcome": out.Kind,
			"error":   out.Err,
		}).Info("Update attempt finished")
	}()

	if err := req.Validate(); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			out.Reason = verr.Reason
		}
		r.notify(fmt.Sprintf("Invalid time zone. Must be between %d and +%d.", MinOffset, MaxOffset))
		out.Kind = InvalidInput
		out.Err = err
		return out
	}

	r.notify("Connecting to device...")
	conn, err := r.connector.Connect(ctx, req.Address, r.opts)
	if err != nil {
		r.notify("Failed to connect to the device.")
		out.Kind = ConnectFailed
		out.Err = err
		return out
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			log.WithField("error", cerr).Warn("Disconnect failed")
		}
	}()

	if !conn.IsConnected() {
		r.notify("Failed to connect to the device.")
		out.Kind = ConnectFailed
		out.Err = &device.OpError{Op: device.OpConnect, Address: req.Address, Err: device.ErrNotConnected}
		return out
	}
	r.notify("Connected to the device.")

	if req.HalfHour {
		r.notify("Adding 30-minute offset to the current time.")
	}

	payload := req.Payload()
	r.notify(fmt.Sprintf("Writing time data: %x", payload))
	if err := conn.WriteCharacteristic(ctx, TimeServiceUUID, TimeCharUUID, payload); err != nil {
		r.notify(fmt.Sprintf("Error during update: %v", err))
		out.Kind = TimeWriteFailed
		out.Err = err
		return out
	}
	r.notify("Time updated successfully.")

	r.notify(fmt.Sprintf("Updating temperature unit to %s.", req.Unit.Label()))
	current, err := r.readUnit(ctx, conn)
	if err != nil {
		r.notify(fmt.Sprintf("Failed to read current unit: %v", err))
		r.notify("Skipping unit update due to read failure.")
		out.Kind = UnitReadFailed
		out.UnitWriteSkipped = true
		out.Err = err
		return out
	}
	r.notify(fmt.Sprintf("Current unit: %s", current))

	// The comparison uses the value just read; a concurrent change by
	// another controller between read and write is not detected.
	if current == req.Unit {
		r.notify("Unit is already set to the selected value.")
		out.Kind = Success
		return out
	}

	if err := conn.WriteCharacteristic(ctx, TimeServiceUUID, UnitCharUUID, []byte{req.Unit.Byte()}); err != nil {
		r.notify(fmt.Sprintf("Error during update: %v", err))
		out.Kind = UnitWriteFailed
		out.Err = err
		return out
	}
	r.notify(fmt.Sprintf("Unit updated to %s.", req.Unit.Label()))

	out.Kind = Success
	out.UnitWritten = true
	return out
}

func (r *Runner) readUnit(ctx context.Context, conn device.Connection) (Unit, error) {
	data, err := conn.ReadCharacteristic(ctx, TimeServiceUUID, UnitCharUUID)
	if err != nil {
		return 0, err
	}
	u, err := DecodeUnit(data)
	if err != nil {
		return 0, &device.OpError{Op: device.OpRead, Address: conn.Address(), UUID: UnitCharUUID, Err: err}
	}
	return u, nil
}
