package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion prefixes numeric release versions with "v"
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

var rootCmd = &cobra.Command{
	Use:   "lysync",
	Short: "Clock and unit sync for LYWSD02 BLE thermometers",
	Long: `lysync discovers nearby Bluetooth Low Energy devices and configures
Xiaomi LYWSD02 clock/thermometers:

- Scan once or watch continuously for nearby devices
- Write the current time and UTC offset to a device
- Switch the displayed temperature unit between Celsius and Fahrenheit
- Re-sync devices on a cron schedule
- Drive everything interactively from a shell`,
	Version:       fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(scanCmd, syncCmd, scheduleCmd, shellCmd)

	global := rootCmd.PersistentFlags()
	global.String("config", "", "Config file (.yaml, .yml or .toml)")
	global.String("log-level", "", "Log level (debug, info, warn, error)")
	global.String("transport", "", "BLE transport (goble, tinygo)")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
