package protocol

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/lysync/internal/device"
	"github.com/srg/lysync/internal/testutils"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

const testAddress = "AA:BB:CC:DD:EE:FF"

type ProtocolTestSuite struct {
	suite.Suite
	helper    *testutils.TestHelper
	transport *testutils.MockTransport
	lines     *testutils.LineRecorder
	runner    *Runner
}

func (s *ProtocolTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.transport = &testutils.MockTransport{}
	s.lines = &testutils.LineRecorder{}
	s.runner = NewRunner(s.transport, nil, s.helper.Logger, s.lines.Notify)
}

// clock builds an LYWSD02-like peripheral holding the given unit byte
func clock(unit ...byte) *testutils.PeripheralBuilder {
	return testutils.CreateMockPeripheral(testAddress).
		WithService(TimeServiceUUID).
		WithCharacteristic(TimeCharUUID, make([]byte, TimePayloadSize)).
		WithCharacteristic(UnitCharUUID, unit)
}

func (s *ProtocolTestSuite) expectConnect(p *testutils.FakePeripheral) {
	s.transport.On("Connect", mock.Anything, testAddress, mock.Anything).Return(p, nil).Once()
}

func (s *ProtocolTestSuite) request(offset int, unit Unit) Request {
	return NewRequest(testAddress, time.Unix(1700000000, 0), offset, unit, false)
}

func (s *ProtocolTestSuite) TestUnitAlreadyCorrect() {
	// GOAL: Verify no unit write is issued when the device already shows the requested unit
	//
	// TEST SCENARIO: Device reads 0 (Celsius) → request Celsius → Success → only the time write happened
	p := clock(0).Build()
	s.expectConnect(p)

	out := s.runner.Run(context.Background(), s.request(2, Celsius))

	s.Equal(Success, out.Kind)
	s.False(out.UnitWritten)
	s.NoError(out.Err)
	s.Equal([][]byte{{0x00, 0xF1, 0x53, 0x65, 0x02}}, p.Writes(TimeCharUUID))
	s.Empty(p.Writes(UnitCharUUID))
	s.Equal(1, p.CloseCalls())

	s.Equal([]string{
		"Connecting to device...",
		"Connected to the device.",
		"Writing time data: 00f1536502",
		"Time updated successfully.",
		"Updating temperature unit to Celsius (C).",
		"Current unit: C",
		"Unit is already set to the selected value.",
	}, s.lines.Lines())
}

func (s *ProtocolTestSuite) TestUnitChanged() {
	// GOAL: Verify the unit is written after the time when it differs
	//
	// TEST SCENARIO: Device reads 0 → request Fahrenheit → ops are write time, read unit, write unit → Success
	p := clock(0).Build()
	s.expectConnect(p)

	out := s.runner.Run(context.Background(), s.request(-5, Fahrenheit))

	s.Equal(Success, out.Kind)
	s.True(out.UnitWritten)
	s.Equal([]byte{1}, p.Value(TimeServiceUUID, UnitCharUUID))

	ops := p.Ops()
	s.Require().Len(ops, 3)
	s.Equal(device.OpWrite, ops[0].Op)
	s.Equal(device.NormalizeUUID(TimeCharUUID), ops[0].Char)
	s.Equal(byte(0xFB), ops[0].Data[4])
	s.Equal(device.OpRead, ops[1].Op)
	s.Equal(device.OpWrite, ops[2].Op)
	s.Equal(device.NormalizeUUID(UnitCharUUID), ops[2].Char)
	s.Contains(s.lines.Lines(), "Unit updated to Fahrenheit (F).")
}

func (s *ProtocolTestSuite) TestInvalidOffsetTouchesNothing() {
	// GOAL: Verify out-of-range offsets are rejected before any device I/O
	//
	// TEST SCENARIO: Offsets -13 and 15 → InvalidInput("offset range") → Connect never called
	for _, offset := range []int{-13, 15} {
		out := s.runner.Run(context.Background(), s.request(offset, Celsius))
		s.Equal(InvalidInput, out.Kind)
		s.Equal(ReasonOffsetRange, out.Reason)
		s.Equal("Invalid time zone. Must be between -12 and +14.", out.Message())
	}
	s.transport.AssertNotCalled(s.T(), "Connect", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ProtocolTestSuite) TestConnectFailure() {
	// GOAL: Verify a connect error ends the attempt as ConnectFailed
	//
	// TEST SCENARIO: Connect returns an OpError → ConnectFailed with the transport error preserved
	cause := &device.OpError{Op: device.OpConnect, Address: testAddress, Err: device.ErrTimeout}
	s.transport.On("Connect", mock.Anything, testAddress, mock.Anything).Return(nil, cause).Once()

	out := s.runner.Run(context.Background(), s.request(0, Celsius))

	s.Equal(ConnectFailed, out.Kind)
	s.True(device.IsTransportError(out.Err))
	s.ErrorIs(out.Err, device.ErrTimeout)
	s.Contains(s.lines.Lines(), "Failed to connect to the device.")
}

func (s *ProtocolTestSuite) TestLivenessCheckFailure() {
	// GOAL: Verify a link that is down right after connect counts as ConnectFailed and is still released
	//
	// TEST SCENARIO: Peripheral reports not connected → ConnectFailed → no GATT ops → Close called
	p := clock(0).WithDroppedLink().Build()
	s.expectConnect(p)

	out := s.runner.Run(context.Background(), s.request(0, Celsius))

	s.Equal(ConnectFailed, out.Kind)
	s.ErrorIs(out.Err, device.ErrNotConnected)
	s.Empty(p.Ops())
	s.Equal(1, p.CloseCalls())
}

func (s *ProtocolTestSuite) TestTimeWriteFailure() {
	// GOAL: Verify a failed time write aborts before touching the unit characteristic
	//
	// TEST SCENARIO: Time write rejected → TimeWriteFailed → no unit read → Close called
	p := clock(0).WithWriteError(TimeCharUUID, errors.New("att: write not permitted")).Build()
	s.expectConnect(p)

	out := s.runner.Run(context.Background(), s.request(0, Fahrenheit))

	s.Equal(TimeWriteFailed, out.Kind)
	s.False(out.OK())
	s.Len(p.Ops(), 1)
	s.Equal(1, p.CloseCalls())
}

func (s *ProtocolTestSuite) TestUnitReadFailureKeepsTimeWrite() {
	// GOAL: Verify a failed unit read degrades to UnitReadFailed without rolling back the time
	//
	// TEST SCENARIO: Unit read errors → UnitReadFailed(skipped) → time write stands → no unit write
	p := clock(0).WithReadError(UnitCharUUID, errors.New("att: read not permitted")).Build()
	s.expectConnect(p)

	out := s.runner.Run(context.Background(), s.request(2, Fahrenheit))

	s.Equal(UnitReadFailed, out.Kind)
	s.True(out.UnitWriteSkipped)
	s.True(out.OK())
	s.Len(p.Writes(TimeCharUUID), 1)
	s.Empty(p.Writes(UnitCharUUID))
	s.Contains(s.lines.Lines(), "Skipping unit update due to read failure.")
	s.Equal(1, p.CloseCalls())
}

func (s *ProtocolTestSuite) TestUnrecognizedUnitIsReadFailure() {
	// GOAL: Verify empty and out-of-range unit values are treated as read failures
	//
	// TEST SCENARIO: Unit reads empty, then 0x07 → UnitReadFailed both times → no unit write
	for _, value := range [][]byte{{}, {0x07}} {
		p := clock(value...).Build()
		s.expectConnect(p)

		out := s.runner.Run(context.Background(), s.request(0, Celsius))
		s.Equal(UnitReadFailed, out.Kind, "value % x", value)
		s.Empty(p.Writes(UnitCharUUID))
	}
}

func (s *ProtocolTestSuite) TestUnitWriteFailure() {
	// GOAL: Verify a rejected unit write is reported after the time was committed
	//
	// TEST SCENARIO: Unit differs and write fails → UnitWriteFailed → time write stands
	p := clock(1).WithWriteError(UnitCharUUID, errors.New("att: busy")).Build()
	s.expectConnect(p)

	out := s.runner.Run(context.Background(), s.request(0, Celsius))

	s.Equal(UnitWriteFailed, out.Kind)
	s.Len(p.Writes(TimeCharUUID), 1)
	s.Equal([]byte{1}, p.Value(TimeServiceUUID, UnitCharUUID))
	s.Equal(1, p.CloseCalls())
}

func (s *ProtocolTestSuite) TestHalfHourIsAnnounced() {
	p := clock(0).Build()
	s.expectConnect(p)

	req := NewRequest(testAddress, time.Unix(1700000000, 0), 5, Celsius, true)
	out := s.runner.Run(context.Background(), req)

	s.Equal(Success, out.Kind)
	s.Equal(req.AttemptID, out.AttemptID)
	s.Contains(s.lines.Lines(), "Adding 30-minute offset to the current time.")
}

func TestProtocolTestSuite(t *testing.T) {
	suite.Run(t, new(ProtocolTestSuite))
}
