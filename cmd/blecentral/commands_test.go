package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/testutils"
	"github.com/srg/blecentral/pkg/blecentral"
)

type AdaptersCommandTestSuite struct {
	CommandTestSuite
}

func (s *AdaptersCommandTestSuite) TestJSON() {
	out, err := s.ExecuteCommand("adapters", "--format", "json")
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).Assert(out, `[
		{"id": "hci0", "address": "00:1A:7D:DA:71:13", "name": "builtin", "powered": true, "backend": "mock"}
	]`)
}

func (s *AdaptersCommandTestSuite) TestTable() {
	out, err := s.ExecuteCommand("adapters")
	s.Require().NoError(err)

	testutils.NewTextAsserter(s.T()).Assert(out,
		"ID    ADDRESS            NAME     POWERED  BACKEND\n"+
			"hci0  00:1A:7D:DA:71:13  builtin  true     mock\n")
}

func (s *AdaptersCommandTestSuite) TestUnknownAdapter() {
	_, err := s.ExecuteCommand("adapters", "--adapter", "hci9")
	s.ErrorIs(err, blecentral.ErrNotSupported)
}

func (s *AdaptersCommandTestSuite) TestFormatFromConfig() {
	cfg := s.WriteConfig("output_format: json\n")

	out, err := s.ExecuteCommand("adapters", "--config", cfg)
	s.Require().NoError(err)
	testutils.NewJSONAsserter(s.T()).Assert(out, `[{"id": "hci0", "backend": "mock"}]`)

	out, err = s.ExecuteCommand("adapters", "--config", cfg, "--format", "table")
	s.Require().NoError(err)
	s.Contains(out, "BACKEND")
}

func TestAdaptersCommand(t *testing.T) {
	suite.Run(t, new(AdaptersCommandTestSuite))
}

type ScanCommandTestSuite struct {
	CommandTestSuite
}

// GOAL: a timed scan prints every matching peripheral once, strongest first
//
// TEST SCENARIO: two advertisers (one advertising twice) → JSON list ordered by RSSI
func (s *ScanCommandTestSuite) TestJSONOutput() {
	s.AdvertiseOnScan(
		testutils.NewPropertiesBuilder().WithAddress("01:02:03:04:05:06").WithRSSI(-70).Build(),
		testutils.NewPropertiesBuilder().
			WithAddress(TestDeviceAddress).
			WithName("Sensor1").
			WithRSSI(-50).
			WithManufacturerData(0x004C, 0x02, 0x15).
			WithServices("180d").
			Build(),
		testutils.NewPropertiesBuilder().WithAddress("01:02:03:04:05:06").WithRSSI(-72).Build(),
	)

	out, err := s.ExecuteCommand("scan", "-d", "50ms", "--format", "json")
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).Assert(out, `[
		{
			"address": "AA:BB:CC:DD:EE:FF",
			"name": "Sensor1",
			"rssi": -50,
			"services": ["180d"],
			"manufacturer_data": {"0x004c": "0215"},
			"discovery_count": 1,
			"state": "disconnected"
		},
		{
			"address": "01:02:03:04:05:06",
			"rssi": -72,
			"services": [],
			"discovery_count": 2,
			"state": "disconnected"
		}
	]`)
}

// GOAL: scan filters reach the backend and the registry
func (s *ScanCommandTestSuite) TestFilters() {
	s.AdvertiseOnScan(
		testutils.NewPropertiesBuilder().WithAddress("01:02:03:04:05:06").WithServices("180f").Build(),
		testutils.NewPropertiesBuilder().WithAddress(TestDeviceAddress).WithServices("180d").Build(),
	)

	out, err := s.ExecuteCommand("scan", "-d", "50ms", "--format", "json", "--services", "180d", "--block", "01:02:03:04:05:06")
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).Assert(out, `[{"address": "AA:BB:CC:DD:EE:FF", "services": ["180d"]}]`)
	s.backend.AssertCalled(s.T(), "StartScan", mock.Anything, mock.MatchedBy(func(f blecentral.ScanFilter) bool {
		return len(f.Services) == 1 && len(f.BlockList) == 1
	}))
}

func (s *ScanCommandTestSuite) TestWatchPrintsEvents() {
	s.AdvertiseOnScan(
		testutils.NewPropertiesBuilder().WithAddress(TestDeviceAddress).WithName("Sensor1").WithRSSI(-50).Build(),
		testutils.NewPropertiesBuilder().WithAddress(TestDeviceAddress).WithRSSI(-55).Build(),
	)

	out, err := s.ExecuteCommand("scan", "-d", "50ms", "--watch")
	s.Require().NoError(err)

	s.Contains(out, `discovered   AA:BB:CC:DD:EE:FF "Sensor1"`)
	s.Contains(out, `updated      AA:BB:CC:DD:EE:FF "Sensor1" -55 dBm`)
	s.Contains(out, "NAME")
}

func (s *ScanCommandTestSuite) TestNoDevices() {
	s.AdvertiseOnScan()

	out, err := s.ExecuteCommand("scan", "-d", "20ms")
	s.Require().NoError(err)
	s.Equal("No devices discovered\n", out)
}

func (s *ScanCommandTestSuite) TestInvalidArguments() {
	_, err := s.ExecuteCommand("scan", "--format", "xml")
	s.ErrorContains(err, "invalid format")

	_, err = s.ExecuteCommand("scan", "--services", "not-a-uuid")
	s.ErrorContains(err, "invalid service UUID")

	_, err = s.ExecuteCommand("scan", "--allow", "nope")
	s.ErrorContains(err, "invalid device address")

	_, err = s.ExecuteCommand("scan", "--log-level", "loud")
	s.ErrorContains(err, "invalid log level")
}

func (s *ScanCommandTestSuite) TestScanFailure() {
	s.backend.On("StartScan", mock.Anything, mock.Anything).Return(device.PermissionDenied(errors.New("not authorized")))

	_, err := s.ExecuteCommand("scan", "-d", "20ms")
	s.ErrorIs(err, blecentral.ErrPermissionDenied)
	s.Contains(FormatUserError(err), "permission denied")
}

func TestScanCommand(t *testing.T) {
	suite.Run(t, new(ScanCommandTestSuite))
}

type ReadCommandTestSuite struct {
	CommandTestSuite
}

func (s *ReadCommandTestSuite) TestReadHex() {
	s.ConnectableDevice(func(n *testutils.MockNative) {
		n.On("Read", mock.Anything, batteryLevel).Return([]byte{0x64}, nil)
	}, batteryLevel, manufacturerName)

	out, err := s.ExecuteCommand("read", TestDeviceAddress, "2a19", "--hex")
	s.Require().NoError(err)
	s.Equal("64\n", out)
}

func (s *ReadCommandTestSuite) TestReadSeveral() {
	s.ConnectableDevice(func(n *testutils.MockNative) {
		n.On("Read", mock.Anything, batteryLevel).Return([]byte("d"), nil)
		n.On("Read", mock.Anything, manufacturerName).Return([]byte("ACME"), nil)
	}, batteryLevel, manufacturerName)

	out, err := s.ExecuteCommand("read", TestDeviceAddress, "2a19,2a29")
	s.Require().NoError(err)
	testutils.NewTextAsserter(s.T()).Assert(out, "2a19: d\n2a29: ACME\n")
}

func (s *ReadCommandTestSuite) TestUnknownCharacteristic() {
	s.ConnectableDevice(nil, batteryLevel)

	_, err := s.ExecuteCommand("read", TestDeviceAddress, "2a00")
	s.ErrorIs(err, blecentral.ErrCharacteristicNotFound)
	s.Contains(FormatUserError(err), "characteristic not available")
}

func (s *ReadCommandTestSuite) TestDeviceNeverAdvertises() {
	s.AdvertiseOnScan()
	cfg := s.WriteConfig("connect_timeout: 50ms\n")

	_, err := s.ExecuteCommand("read", TestDeviceAddress, "2a19", "--config", cfg)
	s.ErrorIs(err, blecentral.ErrDeviceNotFound)
	s.Contains(FormatUserError(err), "device not found")
}

func (s *ReadCommandTestSuite) TestConnectFailure() {
	s.backend.NativeSetup = func(_ blecentral.Address, n *testutils.MockNative) {
		n.On("Connect", mock.Anything).Return(device.Other(errors.New("le-connection-abort-by-local")))
	}
	s.AdvertiseOnScan(testutils.NewPropertiesBuilder().WithAddress(TestDeviceAddress).Build())

	_, err := s.ExecuteCommand("read", TestDeviceAddress, "2a19")
	s.ErrorContains(err, "failed to connect")
	s.ErrorIs(err, blecentral.ErrOther)
}

func (s *ReadCommandTestSuite) TestInvalidArguments() {
	_, err := s.ExecuteCommand("read", TestDeviceAddress, ",")
	s.ErrorContains(err, "no valid UUIDs")

	_, err = s.ExecuteCommand("read", TestDeviceAddress, "2a19", "--watch=soon")
	s.ErrorContains(err, "invalid watch interval")

	_, err = s.ExecuteCommand("read", "not-an-address", "2a19")
	s.ErrorContains(err, "invalid device address")
}

func TestReadCommand(t *testing.T) {
	suite.Run(t, new(ReadCommandTestSuite))
}

type WriteCommandTestSuite struct {
	CommandTestSuite
}

func (s *WriteCommandTestSuite) TestWriteHex() {
	var native *testutils.MockNative
	s.ConnectableDevice(func(n *testutils.MockNative) {
		native = n
		n.On("Write", mock.Anything, alertLevel, []byte{0x01, 0x02}, device.WithResponse).Return(nil)
	}, alertLevel)

	out, err := s.ExecuteCommand("write", TestDeviceAddress, "2a06", "01 02", "--hex")
	s.Require().NoError(err)
	s.Equal("Wrote 2 bytes to 2a06 (with-response)\n", out)
	native.AssertNumberOfCalls(s.T(), "Write", 1)
}

func (s *WriteCommandTestSuite) TestWriteWithoutResponse() {
	s.ConnectableDevice(func(n *testutils.MockNative) {
		n.On("Write", mock.Anything, alertLevel, []byte("high"), device.WithoutResponse).Return(nil)
	}, alertLevel)

	out, err := s.ExecuteCommand("write", TestDeviceAddress, "2a06", "high", "--without-response")
	s.Require().NoError(err)
	s.Equal("Wrote 4 bytes to 2a06 (without-response)\n", out)
}

func (s *WriteCommandTestSuite) TestWriteRejectedByFlags() {
	s.ConnectableDevice(nil, batteryLevel)

	_, err := s.ExecuteCommand("write", TestDeviceAddress, "2a19", "00", "--hex")
	s.ErrorIs(err, blecentral.ErrNotSupported)
}

func (s *WriteCommandTestSuite) TestInvalidData() {
	_, err := s.ExecuteCommand("write", TestDeviceAddress, "2a06", "zz", "--hex")
	s.ErrorContains(err, "invalid hex data")
}

func TestWriteCommand(t *testing.T) {
	suite.Run(t, new(WriteCommandTestSuite))
}

type SubscribeCommandTestSuite struct {
	CommandTestSuite
}

// GOAL: values pushed after subscription are printed until --count is reached
func (s *SubscribeCommandTestSuite) TestCount() {
	s.ConnectableDevice(func(n *testutils.MockNative) {
		n.On("SetNotify", mock.Anything, heartRate, true).Run(func(mock.Arguments) {
			n.Notify(device.ValueNotification{UUID: heartRate.UUID, Value: []byte{0x00, 0x48}})
			n.Notify(device.ValueNotification{UUID: heartRate.UUID, Value: []byte{0x00, 0x4a}})
		}).Return(nil)
		n.On("SetNotify", mock.Anything, heartRate, false).Return(nil)
	}, heartRate)

	out, err := s.ExecuteCommand("subscribe", TestDeviceAddress, "2a37", "--hex", "--count", "2")
	s.Require().NoError(err)
	testutils.NewTextAsserter(s.T()).Assert(out, "0048\n004A\n")
}

// GOAL: a remote drop ends the command with ErrConnectionLost
func (s *SubscribeCommandTestSuite) TestConnectionLost() {
	addr := device.MustParseAddress(TestDeviceAddress)
	s.ConnectableDevice(func(n *testutils.MockNative) {
		n.On("SetNotify", mock.Anything, heartRate, true).Run(func(mock.Arguments) {
			s.backend.DropConnection(addr)
		}).Return(nil)
	}, heartRate)

	_, err := s.ExecuteCommand("subscribe", TestDeviceAddress, "2a37")
	s.ErrorIs(err, ErrConnectionLost)
	s.Equal("connection to the device was lost", FormatUserError(err))
}

func (s *SubscribeCommandTestSuite) TestNotNotifiable() {
	s.ConnectableDevice(nil, manufacturerName)

	_, err := s.ExecuteCommand("subscribe", TestDeviceAddress, "2a29")
	s.ErrorIs(err, blecentral.ErrNotSupported)
}

func TestSubscribeCommand(t *testing.T) {
	suite.Run(t, new(SubscribeCommandTestSuite))
}

type InspectCommandTestSuite struct {
	CommandTestSuite
}

// GOAL: inspect groups characteristics by service, names SIG UUIDs and reads readable values
func (s *InspectCommandTestSuite) TestJSON() {
	s.ConnectableDevice(func(n *testutils.MockNative) {
		n.On("Read", mock.Anything, batteryLevel).Return([]byte{0x64}, nil)
		n.On("Read", mock.Anything, manufacturerName).Return(nil, device.Other(errors.New("att: read failed")))
	}, batteryLevel, heartRate, manufacturerName)

	out, err := s.ExecuteCommand("inspect", TestDeviceAddress, "--format", "json")
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).Assert(out, `{
		"address": "AA:BB:CC:DD:EE:FF",
		"name": "Sensor1",
		"services": [
			{
				"uuid": "180f",
				"name": "Battery Service",
				"characteristics": [{"uuid": "2a19", "name": "Battery Level", "flags": "read|notify", "value": "64"}]
			},
			{
				"uuid": "180a",
				"name": "Device Information",
				"characteristics": [{"uuid": "2a29", "name": "Manufacturer Name String", "flags": "read", "error": "<<PRESENCE>>"}]
			},
			{
				"uuid": "180d",
				"name": "Heart Rate",
				"characteristics": [{"uuid": "2a37", "name": "Heart Rate Measurement", "flags": "notify"}]
			}
		]
	}`)
}

func (s *InspectCommandTestSuite) TestTableWithoutReads() {
	s.ConnectableDevice(nil, batteryLevel)

	out, err := s.ExecuteCommand("inspect", TestDeviceAddress, "--read-limit", "0")
	s.Require().NoError(err)

	testutils.NewTextAsserter(s.T()).Assert(out,
		"Device AA:BB:CC:DD:EE:FF \"Sensor1\"\n"+
			"\n"+
			"Service 180f  Battery Service\n"+
			"  2a19        Battery Level  [read|notify]\n")
}

func TestInspectCommand(t *testing.T) {
	suite.Run(t, new(InspectCommandTestSuite))
}
