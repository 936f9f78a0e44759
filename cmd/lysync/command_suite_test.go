package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/lysync/internal/device"
	"github.com/srg/lysync/internal/devicefactory"
	"github.com/srg/lysync/internal/protocol"
	"github.com/srg/lysync/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// Test device addresses for consistent mock device identification
const (
	TestClockAddress = "E7:2E:00:B1:38:96"
	TestPhoneAddress = "11:22:33:44:55:66"

	commandTimeout = 5 * time.Second
)

// CommandTestSuite runs cobra commands against a mock transport.
// All cmd/lysync test suites embed it.
type CommandTestSuite struct {
	suite.Suite
	Transport *testutils.MockTransport

	restoreFactory func()
}

func (s *CommandTestSuite) SetupTest() {
	s.Transport = &testutils.MockTransport{}
	color.NoColor = true

	orig := devicefactory.TransportFactory
	devicefactory.TransportFactory = func(string, *logrus.Logger) (device.Transport, error) {
		return s.Transport, nil
	}
	s.restoreFactory = func() { devicefactory.TransportFactory = orig }

	resetFlags(rootCmd)
}

func (s *CommandTestSuite) TearDownTest() {
	s.restoreFactory()
	rootCmd.SetIn(nil)
}

// resetFlags restores every flag to its default so tests don't leak state
// through the package-level flag variables.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// setContext replaces the context of cmd and all its subcommands. Cobra only
// propagates the execute context to a subcommand whose context is still nil,
// so without this every later run would inherit the first test's context.
func setContext(cmd *cobra.Command, ctx context.Context) {
	cmd.SetContext(ctx)
	for _, c := range cmd.Commands() {
		setContext(c, ctx)
	}
}

// ExecuteCommand runs rootCmd with args and returns stdout, stderr and the error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, string, error) {
	return s.ExecuteCommandWithInput(nil, args...)
}

// ExecuteCommandWithInput is ExecuteCommand with stdin set to in.
func (s *CommandTestSuite) ExecuteCommandWithInput(in io.Reader, args ...string) (string, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	return s.ExecuteCommandContext(ctx, in, args...)
}

// ExecuteCommandContext runs rootCmd under ctx
func (s *CommandTestSuite) ExecuteCommandContext(ctx context.Context, in io.Reader, args ...string) (string, string, error) {
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	if in == nil {
		in = strings.NewReader("")
	}
	rootCmd.SetIn(in)
	rootCmd.SetArgs(args)
	setContext(rootCmd, ctx)

	err := rootCmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

// Clock builds a LYWSD02 peripheral whose unit characteristic holds unit
func (s *CommandTestSuite) Clock(unit byte) *testutils.FakePeripheral {
	return testutils.CreateMockPeripheral(TestClockAddress).
		WithService(protocol.TimeServiceUUID).
		WithCharacteristic(protocol.TimeCharUUID, make([]byte, protocol.TimePayloadSize)).
		WithCharacteristic(protocol.UnitCharUUID, []byte{unit}).
		Build()
}

// NearbyDevices is the advertisement set most tests discover
func NearbyDevices() []device.Advertisement {
	return testutils.Advertisements(
		"LYWSD02", TestClockAddress,
		"Pixel 8", TestPhoneAddress,
	)
}

func contextWithTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}

// writeConfig writes a config file into a temp dir and returns its path
func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
