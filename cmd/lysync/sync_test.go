package main

import (
	"errors"
	"testing"
	"time"

	"github.com/srg/lysync/internal/device"
	"github.com/srg/lysync/internal/protocol"
	"github.com/srg/lysync/internal/testutils"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type SyncCommandTestSuite struct {
	CommandTestSuite
}

func (s *SyncCommandTestSuite) TestSyncAddressWritesTimeAndUnit() {
	// GOAL: Verify sync with an explicit address writes the time payload and switches the unit
	//
	// TEST SCENARIO: device shows C, --unit F --tz -5 → offset byte 0xFB, unit byte 1 written, success

	clock := s.Clock(0)
	s.Transport.On("Connect", mock.Anything, TestClockAddress, mock.Anything).Return(clock, nil).Once()

	before := time.Now().Unix()
	stdout, _, err := s.ExecuteCommand("sync", TestClockAddress, "--tz", "-5", "--unit", "F")
	s.Require().NoError(err)

	s.Contains(stdout, "Connecting to device...")
	s.Contains(stdout, "Unit updated to Fahrenheit (F).")
	s.Contains(stdout, "Device updated successfully.")

	times := clock.Writes(protocol.TimeCharUUID)
	s.Require().Len(times, 1)
	epoch, offset, err := protocol.DecodeTime(times[0])
	s.Require().NoError(err)
	s.Equal(int8(-5), offset)
	s.InDelta(before, int64(epoch), 5)

	s.Equal([][]byte{{0x01}}, clock.Writes(protocol.UnitCharUUID))
	s.Equal(1, clock.CloseCalls())
}

func (s *SyncCommandTestSuite) TestSyncScansForFirstTarget() {
	// GOAL: Verify sync without an address scans and updates the first LYWSD02 found
	//
	// TEST SCENARIO: --scan 1s finds clock and phone → connects to the clock only

	clock := s.Clock(0)
	s.Transport.On("Discover", mock.Anything, time.Second).Return(NearbyDevices(), nil).Once()
	s.Transport.On("Connect", mock.Anything, TestClockAddress, mock.Anything).Return(clock, nil).Once()

	stdout, _, err := s.ExecuteCommand("sync", "--scan", "1s")
	s.Require().NoError(err)

	s.Contains(stdout, "Discovered LYWSD02 Device: LYWSD02 [E7:2E:00:B1:38:96]")
	s.Contains(stdout, "Selected device: LYWSD02 [E7:2E:00:B1:38:96]")
	s.Contains(stdout, "Unit is already set to the selected value.")
	s.Empty(clock.Writes(protocol.UnitCharUUID))
	s.Transport.AssertExpectations(s.T())
}

func (s *SyncCommandTestSuite) TestSyncNoTargetFound() {
	s.Transport.On("Discover", mock.Anything, time.Second).
		Return(NearbyDevices()[1:], nil).Once()

	_, _, err := s.ExecuteCommand("sync", "--scan", "1s")
	s.ErrorIs(err, ErrNoTargetDevice)
	s.Transport.AssertNotCalled(s.T(), "Connect", mock.Anything, mock.Anything, mock.Anything)
}

func (s *SyncCommandTestSuite) TestSyncInvalidOffsetNeverConnects() {
	// GOAL: Verify an out-of-range offset is rejected before any connection attempt
	//
	// TEST SCENARIO: --tz 15 → "Invalid time zone" line, validation error, Connect never called

	stdout, _, err := s.ExecuteCommand("sync", TestClockAddress, "--tz", "15")

	var verr *protocol.ValidationError
	s.Require().ErrorAs(err, &verr)
	s.Equal(protocol.ReasonOffsetRange, verr.Reason)
	s.Contains(stdout, "Invalid time zone. Must be between -12 and +14.")
	s.Transport.AssertNotCalled(s.T(), "Connect", mock.Anything, mock.Anything, mock.Anything)
}

func (s *SyncCommandTestSuite) TestSyncConnectFailure() {
	// GOAL: Verify a connect failure reports the outcome and fails the command
	//
	// TEST SCENARIO: Connect times out → ConnectFailed → ErrUpdateFailed

	cause := &device.OpError{Op: device.OpConnect, Address: TestClockAddress, Err: device.ErrTimeout}
	s.Transport.On("Connect", mock.Anything, TestClockAddress, mock.Anything).Return(nil, cause).Once()

	stdout, _, err := s.ExecuteCommand("sync", TestClockAddress)
	s.ErrorIs(err, ErrUpdateFailed)
	s.Contains(stdout, "Failed to connect to the device.")
}

func (s *SyncCommandTestSuite) TestSyncUnitReadFailureStillSucceeds() {
	// GOAL: Verify a failed unit read keeps the time update and exits successfully
	//
	// TEST SCENARIO: unit read errors → skip line → command returns nil, no unit write

	p := testutils.CreateMockPeripheral(TestClockAddress).
		WithService(protocol.TimeServiceUUID).
		WithCharacteristic(protocol.TimeCharUUID, make([]byte, protocol.TimePayloadSize)).
		WithCharacteristic(protocol.UnitCharUUID, []byte{0}).
		WithReadError(protocol.UnitCharUUID, errors.New("att: read not permitted")).
		Build()
	s.Transport.On("Connect", mock.Anything, TestClockAddress, mock.Anything).Return(p, nil).Once()

	stdout, _, err := s.ExecuteCommand("sync", TestClockAddress, "--unit", "F")
	s.Require().NoError(err)
	s.Contains(stdout, "Skipping unit update due to read failure.")
	s.Len(p.Writes(protocol.TimeCharUUID), 1)
	s.Empty(p.Writes(protocol.UnitCharUUID))
}

func (s *SyncCommandTestSuite) TestSyncUsesConfigDefaults() {
	// GOAL: Verify offset, unit and half-hour fall back to the config file
	//
	// TEST SCENARIO: config sets offset 9 and unit F → payload offset 9, unit F written

	path := writeConfig(s.T(), "lysync.yaml", "offset: 9\nunit: F\n")
	clock := s.Clock(0)
	s.Transport.On("Connect", mock.Anything, TestClockAddress, mock.Anything).Return(clock, nil).Once()

	_, _, err := s.ExecuteCommand("sync", TestClockAddress, "--config", path)
	s.Require().NoError(err)

	_, offset, err := protocol.DecodeTime(clock.Writes(protocol.TimeCharUUID)[0])
	s.Require().NoError(err)
	s.Equal(int8(9), offset)
	s.Equal([][]byte{{0x01}}, clock.Writes(protocol.UnitCharUUID))
}

func TestSyncCommandTestSuite(t *testing.T) {
	suite.Run(t, new(SyncCommandTestSuite))
}
