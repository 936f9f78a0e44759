package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/lysync/internal/bridge"
	"github.com/srg/lysync/internal/protocol"
	"github.com/srg/lysync/internal/registry"
	"github.com/srg/lysync/internal/scan"
	"github.com/srg/lysync/pkg/config"
)

// syncCmd represents the sync command
var syncCmd = &cobra.Command{
	Use:   "sync [address]",
	Short: "Write the time and temperature unit to a LYWSD02",
	Long: `Connect to a LYWSD02, write the current time with the given UTC offset and
set the temperature unit if it differs from the requested one.

Without an address, a bounded scan runs first and the first LYWSD02 found
is used.`,
	Example: `  lysync sync --tz 2 --unit C
  lysync sync E7:2E:00:B1:38:96 --tz -5 --unit F --half-hour`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSync,
}

// updateFlags are shared by sync and schedule
type updateFlags struct {
	offset   int
	unit     string
	halfHour bool
}

var (
	syncFlags    updateFlags
	syncScanTime time.Duration
)

func (f *updateFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.offset, "tz", 0, "UTC offset in hours, -12..14 (default from config)")
	cmd.Flags().StringVar(&f.unit, "unit", "", "Temperature unit C or F (default from config)")
	cmd.Flags().BoolVar(&f.halfHour, "half-hour", false, "Add 30 minutes, for half-hour time zones")
}

// resolve merges flags over the configured defaults
func (f *updateFlags) resolve(cmd *cobra.Command, cfg *config.Config) (offset int, unit protocol.Unit, halfHour bool, err error) {
	offset, halfHour = cfg.Offset, cfg.HalfHour
	unitText := cfg.Unit

	if cmd.Flags().Changed("tz") {
		offset = f.offset
	}
	if cmd.Flags().Changed("half-hour") {
		halfHour = f.halfHour
	}
	if f.unit != "" {
		unitText = f.unit
	}

	unit, err = protocol.ParseUnit(unitText)
	return offset, unit, halfHour, err
}

func init() {
	syncFlags.register(syncCmd)
	syncCmd.Flags().DurationVar(&syncScanTime, "scan", 0, "Scan duration when no address is given (default from config)")
}

func runSync(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	offset, unit, halfHour, err := syncFlags.resolve(cmd, a.cfg)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := &plainWriter{w: cmd.OutOrStdout()}

	address := ""
	if len(args) == 1 {
		address = args[0]
	} else {
		address, err = findTarget(ctx, a, out)
		if err != nil {
			return err
		}
	}

	req := protocol.NewRequest(address, time.Now(), offset, unit, halfHour)
	a.logger.WithField("attempt", req.AttemptID.String()).Debug("Submitting update")

	outcome, err := runUpdate(a, out, req)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), outcome.Message())

	if !outcome.OK() {
		if outcome.Kind == protocol.InvalidInput {
			return outcome.Err
		}
		return fmt.Errorf("%w: %s", ErrUpdateFailed, outcome.Kind)
	}
	return nil
}

// findTarget runs a bounded scan and returns the first target-model address
func findTarget(ctx context.Context, a *app, out lineWriter) (string, error) {
	d := a.cfg.ScanDuration
	if syncScanTime > 0 {
		d = syncScanTime
	}
	if err := a.bridge.SubmitScan(scan.Bounded(d)); err != nil {
		return "", err
	}
	if _, err := a.await(ctx, out, bridge.ScanCompleted, a.bridge.StopScan); err != nil {
		return "", err
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	rec, err := a.registry.Get(registry.TargetModel, 0)
	if errors.Is(err, registry.ErrNotFound) {
		return "", ErrNoTargetDevice
	}
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

// runUpdate submits req and waits for its outcome. An admitted update is not
// abortable, so interrupts are ignored here.
func runUpdate(a *app, out lineWriter, req protocol.Request) (protocol.Outcome, error) {
	if err := a.bridge.SubmitUpdate(req); err != nil {
		return protocol.Outcome{}, err
	}
	ev, err := a.await(context.Background(), out, bridge.UpdateFinished, nil)
	if err != nil {
		return protocol.Outcome{}, err
	}
	return *ev.Outcome, nil
}
