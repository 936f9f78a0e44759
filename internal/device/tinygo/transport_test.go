package tinygo

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/lysync/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"tinygo.org/x/bluetooth"
)

// testPeer returns a platform address string: CoreBluetooth identifies
// peers by UUID, every other backend by MAC
func testPeer(mac, uuid string) string {
	if runtime.GOOS == "darwin" {
		return uuid
	}
	return mac
}

var (
	clockPeer = testPeer("E7:2E:00:B1:38:96", "5B1A3C8E-0E0D-4C1B-9E45-7A1F0C2D3E4F")
	phonePeer = testPeer("11:22:33:44:55:66", "0F6D2C1B-8A47-4E39-B2C5-1D9E8F7A6B5C")
)

func peerAddress(s string) bluetooth.Address {
	var a bluetooth.Address
	a.Set(s)
	return a
}

// fakePayload overrides LocalName; other payload methods are unused
type fakePayload struct {
	bluetooth.AdvertisementPayload
	name string
}

func (p fakePayload) LocalName() string { return p.name }

func sighting(addr, name string) bluetooth.ScanResult {
	return bluetooth.ScanResult{Address: peerAddress(addr), AdvertisementPayload: fakePayload{name: name}}
}

// fakeRadio replays its sightings on every Scan, then blocks until StopScan
type fakeRadio struct {
	mu        sync.Mutex
	sightings []bluetooth.ScanResult
	enableErr error
	scanErr   error
	scans     int
	stop      chan struct{}
}

func (r *fakeRadio) Enable() error { return r.enableErr }

func (r *fakeRadio) Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error {
	r.mu.Lock()
	r.scans++
	if r.scanErr != nil {
		r.mu.Unlock()
		return r.scanErr
	}
	stop := make(chan struct{})
	r.stop = stop
	sightings := r.sightings
	r.mu.Unlock()

	for _, result := range sightings {
		callback(nil, result)
	}
	<-stop
	return nil
}

func (r *fakeRadio) StopScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop == nil {
		return errors.New("not scanning")
	}
	close(r.stop)
	r.stop = nil
	return nil
}

func (r *fakeRadio) Scans() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scans
}

var errDialed = errors.New("dialed")

type TransportTestSuite struct {
	suite.Suite
	radio     *fakeRadio
	dialed    []bluetooth.Address
	transport *Transport
}

func (s *TransportTestSuite) SetupTest() {
	s.radio = &fakeRadio{}
	s.dialed = nil

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	s.transport = NewTransport(nil, logger)
	s.transport.radio = s.radio
	// A real Device cannot be built without an adapter, so dialing stops here
	s.transport.dial = func(addr bluetooth.Address, _ bluetooth.ConnectionParams) (bluetooth.Device, error) {
		s.dialed = append(s.dialed, addr)
		return bluetooth.Device{}, errDialed
	}
	s.transport.resolveWindow = 200 * time.Millisecond
}

func (s *TransportTestSuite) TestDiscoverDedupesInSightingOrder() {
	// GOAL: Verify one discovery window reports each peer once, in first-seen order
	//
	// TEST SCENARIO: clock (nameless), phone, clock again with name → 2 advertisements, clock named

	s.radio.sightings = []bluetooth.ScanResult{
		sighting(clockPeer, ""),
		sighting(phonePeer, "Pixel 8"),
		sighting(clockPeer, "LYWSD02"),
	}

	advs, err := s.transport.Discover(context.Background(), 50*time.Millisecond)
	s.Require().NoError(err)
	s.Require().Len(advs, 2)
	s.Equal("LYWSD02", advs[0].LocalName())
	s.Equal("Pixel 8", advs[1].LocalName())
	s.Equal(peerAddress(clockPeer).String(), advs[0].Addr())
}

func (s *TransportTestSuite) TestDiscoverFailures() {
	s.radio.scanErr = errors.New("adapter busy")
	_, err := s.transport.Discover(context.Background(), 50*time.Millisecond)
	s.True(device.IsTransportError(err))
	s.ErrorContains(err, "adapter busy")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.radio.scanErr = nil
	_, err = s.transport.Discover(ctx, time.Second)
	s.ErrorIs(err, context.Canceled)
}

func (s *TransportTestSuite) TestEnableFailureIsSticky() {
	s.radio.enableErr = errors.New("no adapter")

	_, err := s.transport.Discover(context.Background(), time.Second)
	s.ErrorContains(err, "failed to enable BLE adapter")
	_, err = s.transport.Connect(context.Background(), clockPeer, nil)
	s.ErrorContains(err, "failed to enable BLE adapter")
	s.Zero(s.radio.Scans())
}

func (s *TransportTestSuite) TestConnectUsesDiscoveredAddress() {
	// GOAL: Verify an address seen during discovery is dialed without another scan
	//
	// TEST SCENARIO: Discover sees the clock → Connect (lower-case id) → dial with the sighted address, one scan total

	s.radio.sightings = []bluetooth.ScanResult{sighting(clockPeer, "LYWSD02")}
	_, err := s.transport.Discover(context.Background(), 20*time.Millisecond)
	s.Require().NoError(err)

	_, err = s.transport.Connect(context.Background(), " "+strings.ToLower(clockPeer)+" ", nil)
	s.ErrorIs(err, errDialed)
	s.Equal(1, s.radio.Scans())
	s.Equal([]bluetooth.Address{peerAddress(clockPeer)}, s.dialed)
}

func (s *TransportTestSuite) TestConnectResolvesUnseenAddress() {
	// GOAL: Verify Connect to an address no Discover has seen scans for it and stops early
	//
	// TEST SCENARIO: fresh transport, peer advertising → Connect → one resolve scan ends well before the window → dial

	s.radio.sightings = []bluetooth.ScanResult{sighting(phonePeer, "Pixel 8"), sighting(clockPeer, "LYWSD02")}
	s.transport.resolveWindow = 5 * time.Second

	start := time.Now()
	_, err := s.transport.Connect(context.Background(), clockPeer, nil)
	s.ErrorIs(err, errDialed)
	s.Less(time.Since(start), time.Second)
	s.Equal(1, s.radio.Scans())
	s.Equal([]bluetooth.Address{peerAddress(clockPeer)}, s.dialed)
}

func (s *TransportTestSuite) TestConnectUnknownAddress() {
	// GOAL: Verify an address that never advertises fails after the resolve window without dialing
	//
	// TEST SCENARIO: only the phone advertises → Connect to clock → ErrUnknownAddress, no dial

	s.radio.sightings = []bluetooth.ScanResult{sighting(phonePeer, "Pixel 8")}

	_, err := s.transport.Connect(context.Background(), clockPeer, nil)

	var opErr *device.OpError
	s.Require().ErrorAs(err, &opErr)
	s.Equal(device.OpConnect, opErr.Op)
	s.ErrorIs(err, device.ErrUnknownAddress)
	s.Empty(s.dialed)
}

func TestTransportTestSuite(t *testing.T) {
	suite.Run(t, new(TransportTestSuite))
}

func TestParseUUID(t *testing.T) {
	u, err := parseUUID("ebe0ccb7-7a0a-4b0c-8a1a-6ff2997da3a6")
	require.NoError(t, err)
	assert.Equal(t, "ebe0ccb7-7a0a-4b0c-8a1a-6ff2997da3a6", u.String())

	u, err = parseUUID("180F")
	require.NoError(t, err)
	assert.Equal(t, "0000180f-0000-1000-8000-00805f9b34fb", u.String())

	_, err = parseUUID("nope")
	assert.Error(t, err)
}

func TestAdvertisement(t *testing.T) {
	adv := &advertisement{addr: "E7:2E:00:B1:38:96", name: "LYWSD02"}

	assert.Equal(t, "LYWSD02", adv.LocalName())
	assert.Equal(t, "E7:2E:00:B1:38:96", adv.Addr())
	assert.Empty(t, adv.Services())
}

func TestNewTransportDefaults(t *testing.T) {
	tr := NewTransport(nil, nil)
	assert.NotNil(t, tr.radio)
	assert.NotNil(t, tr.dial)
	assert.NotNil(t, tr.logger)
	assert.Equal(t, DefaultResolveWindow, tr.resolveWindow)
	assert.Empty(t, tr.known)
}
