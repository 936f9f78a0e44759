package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/lysync/internal/bridge"
	"github.com/srg/lysync/internal/devicefactory"
	"github.com/srg/lysync/internal/registry"
	"github.com/srg/lysync/pkg/config"
)

// app is the per-command wiring of transport, registry and bridge
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	registry *registry.Registry
	bridge   *bridge.Bridge
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, logger, err := configureLogger(cmd)
	if err != nil {
		return nil, err
	}

	transport, err := devicefactory.TransportFactory(cfg.Transport, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE transport: %w", err)
	}

	reg := registry.New(cfg.Marker)
	b := bridge.New(context.WithoutCancel(cmd.Context()), transport, reg, cfg.BridgeOptions(logger))

	logger.WithFields(logrus.Fields{
		"transport": cfg.Transport,
		"marker":    cfg.Marker,
	}).Debug("lysync initialized")

	return &app{cfg: cfg, logger: logger, registry: reg, bridge: b}, nil
}

func (a *app) Close() error {
	return a.bridge.Close()
}

// await prints log lines until an event of kind arrives and returns it.
// When ctx ends, onCancel (if set) is called once and waiting continues so
// the terminal event is still observed; without onCancel await returns
// ctx.Err().
func (a *app) await(ctx context.Context, out lineWriter, kind bridge.EventKind, onCancel func()) (bridge.Event, error) {
	done := ctx.Done()
	for {
		select {
		case ev, ok := <-a.bridge.Events():
			if !ok {
				return bridge.Event{}, bridge.ErrClosed
			}
			if ev.Kind == kind {
				return ev, nil
			}
			if ev.Kind == bridge.LogLine {
				out.Println(ev.Line)
			}
		case <-done:
			if onCancel == nil {
				return bridge.Event{}, ctx.Err()
			}
			onCancel()
			done = nil
		}
	}
}
