package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/lysync/internal/bridge"
	"github.com/srg/lysync/internal/scan"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Scan for nearby Bluetooth Low Energy devices and list them split into
LYWSD02 devices and everything else.

A bounded scan runs for --duration. With --watch the scan repeats in short
windows until Ctrl+C.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanQuery    string
	scanWatch    bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default from config, 10s)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "", "Output format (table, json)")
	scanCmd.Flags().StringVarP(&scanQuery, "query", "q", "", "Only list devices whose name or address contains this text")
	scanCmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Scan continuously until interrupted")
}

func runScan(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	format := a.cfg.OutputFormat
	if scanFormat != "" {
		format = scanFormat
	}
	if format != "table" && format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", format)
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	mode := scan.Bounded(a.cfg.ScanDuration)
	if scanDuration > 0 {
		mode = scan.Bounded(scanDuration)
	}
	if scanWatch {
		mode = scan.Continuous()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// JSON output keeps stdout machine-readable; progress goes to stderr
	logOut := cmd.OutOrStdout()
	if format == "json" {
		logOut = cmd.ErrOrStderr()
	}
	out, stopProgress := newLineWriter(logOut, "Scanning", mode.Duration)

	if err := a.bridge.SubmitScan(mode); err != nil {
		stopProgress()
		return err
	}

	ev, err := a.await(ctx, out, bridge.ScanCompleted, a.bridge.StopScan)
	stopProgress()
	if err != nil {
		return err
	}
	if ev.Scan != nil && ev.Scan.Err != nil && ev.Scan.Discovered == 0 {
		return fmt.Errorf("scan failed: %w", ev.Scan.Err)
	}

	return renderDevices(cmd.OutOrStdout(), listDevices(a.registry, scanQuery), format)
}
