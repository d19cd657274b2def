package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/testutils"
	"github.com/srg/blecentral/pkg/blecentral"
)

const TestDeviceAddress = "AA:BB:CC:DD:EE:FF"

var (
	testAdapter = blecentral.AdapterInfo{
		ID:      "hci0",
		Address: device.MustParseAddress("00:1A:7D:DA:71:13"),
		Name:    "builtin",
		Powered: true,
	}

	batteryLevel = blecentral.Characteristic{
		UUID:    device.MustParseUUID("2a19"),
		Service: device.MustParseUUID("180f"),
		Flags:   device.CharRead | device.CharNotify,
	}
	manufacturerName = blecentral.Characteristic{
		UUID:    device.MustParseUUID("2a29"),
		Service: device.MustParseUUID("180a"),
		Flags:   device.CharRead,
	}
	alertLevel = blecentral.Characteristic{
		UUID:    device.MustParseUUID("2a06"),
		Service: device.MustParseUUID("1802"),
		Flags:   device.CharWrite | device.CharWriteWithoutResponse,
	}
	heartRate = blecentral.Characteristic{
		UUID:    device.MustParseUUID("2a37"),
		Service: device.MustParseUUID("180d"),
		Flags:   device.CharNotify,
	}
)

// CommandTestSuite runs commands against a mock backend injected through
// managerOptions. All cmd/blecentral test suites embed it.
type CommandTestSuite struct {
	suite.Suite
	helper  *testutils.TestHelper
	backend *testutils.MockBackend
}

func (s *CommandTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.backend = testutils.NewMockBackend()
	s.backend.On("StopScan").Return(nil).Maybe()

	managerOptions = []blecentral.Option{
		blecentral.WithAdapterLister(func(context.Context) ([]blecentral.AdapterInfo, error) {
			return []blecentral.AdapterInfo{testAdapter}, nil
		}),
		blecentral.WithBackendFactory(func(blecentral.AdapterInfo) (blecentral.Backend, error) {
			return s.backend, nil
		}),
	}
}

func (s *CommandTestSuite) TearDownTest() {
	managerOptions = nil
}

// AdvertiseOnScan makes StartScan report props synchronously.
func (s *CommandTestSuite) AdvertiseOnScan(props ...*blecentral.Properties) {
	s.backend.On("StartScan", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		for _, p := range props {
			s.backend.Advertise(p)
		}
	}).Return(nil)
}

// ConnectableDevice advertises TestDeviceAddress on scan, and lets it connect
// and expose chars. setup adds per-test expectations on the native mock.
func (s *CommandTestSuite) ConnectableDevice(setup func(n *testutils.MockNative), chars ...blecentral.Characteristic) {
	s.backend.NativeSetup = func(_ blecentral.Address, n *testutils.MockNative) {
		n.On("Connect", mock.Anything).Return(nil)
		n.On("Disconnect", mock.Anything).Return(nil).Maybe()
		n.On("DiscoverCharacteristics", mock.Anything).Return(chars, nil)
		if setup != nil {
			setup(n)
		}
	}
	s.AdvertiseOnScan(testutils.NewPropertiesBuilder().WithAddress(TestDeviceAddress).WithName("Sensor1").Build())
}

// WriteConfig stores a YAML config file and returns its path.
func (s *CommandTestSuite) WriteConfig(yaml string) string {
	path := filepath.Join(s.T().TempDir(), "blecentral.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

// ExecuteCommand runs the CLI with args, returns stdout and the error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	cmd := newRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}
