package central_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/srg/blecentral/internal/bridge"
	"github.com/srg/blecentral/internal/central"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/eventbus"
	"github.com/srg/blecentral/internal/testutils"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

var (
	heartRate = device.Characteristic{
		UUID:    device.MustParseUUID("2a37"),
		Service: device.MustParseUUID("180d"),
		Flags:   device.CharNotify,
	}
	bodyLocation = device.Characteristic{
		UUID:    device.MustParseUUID("2a38"),
		Service: device.MustParseUUID("180d"),
		Flags:   device.CharRead,
	}
	controlPoint = device.Characteristic{
		UUID:    device.MustParseUUID("2a39"),
		Service: device.MustParseUUID("180d"),
		Flags:   device.CharWrite,
	}
	opaque = device.Characteristic{
		UUID: device.MustParseUUID("fff1"),
	}
)

type PeripheralTestSuite struct {
	suite.Suite
	helper  *testutils.TestHelper
	backend *testutils.MockBackend
	manager *central.AdapterManager
	events  *eventbus.Subscription

	addr       device.Address
	native     *testutils.MockNative
	peripheral *central.Peripheral
}

func (s *PeripheralTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.backend = testutils.NewMockBackend()

	manager, err := central.NewAdapterManager(s.backend, central.Options{Logger: s.helper.Logger})
	s.Require().NoError(err)
	s.manager = manager

	s.addr = device.MustParseAddress("AA:BB:CC:DD:EE:FF")
	s.backend.Advertise(testutils.NewPropertiesBuilder().WithAddress(s.addr.String()).WithName("HRM").Build())

	p, ok := s.manager.Peripheral(s.addr)
	s.Require().True(ok)
	s.peripheral = p
	s.native = s.backend.Native(s.addr)
	s.events = s.manager.EventStream()
}

func (s *PeripheralTestSuite) TearDownTest() {
	s.Require().NoError(s.manager.Close())
}

func (s *PeripheralTestSuite) connect() {
	s.native.On("Connect", mock.Anything).Return(nil).Once()
	s.Require().NoError(s.peripheral.Connect(s.helper.Context()))
	s.Require().Equal(central.StateConnected, s.peripheral.State())
	s.Require().Equal(device.DeviceConnected, s.helper.NextEvent(s.events).Type)
}

func (s *PeripheralTestSuite) connectAndDiscover(chars ...device.Characteristic) {
	s.connect()
	s.native.On("DiscoverCharacteristics", mock.Anything).Return(chars, nil).Once()
	s.Require().NoError(s.peripheral.DiscoverCharacteristics(s.helper.Context()))
}

// GOAL: connect moves the handle to Connected and announces it once
func (s *PeripheralTestSuite) TestConnect() {
	s.Equal(central.StateDisconnected, s.peripheral.State())
	s.connect()

	connected, err := s.peripheral.IsConnected(s.helper.Context())
	s.NoError(err)
	s.True(connected)

	// second connect is a no-op
	s.NoError(s.peripheral.Connect(s.helper.Context()))
	s.native.AssertNumberOfCalls(s.T(), "Connect", 1)
	s.helper.ExpectNoEvent(s.events)
}

// GOAL: concurrent Connect calls share one native attempt
func (s *PeripheralTestSuite) TestConcurrentConnectJoins() {
	s.native.On("Connect", mock.Anything).After(50 * time.Millisecond).Return(nil).Once()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.peripheral.Connect(s.helper.Context())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		s.NoError(err)
	}
	s.native.AssertNumberOfCalls(s.T(), "Connect", 1)
	s.Equal(device.DeviceConnected, s.helper.NextEvent(s.events).Type)
	s.helper.ExpectNoEvent(s.events)
}

// GOAL: a failed connect leaves the handle disconnected and emits nothing
func (s *PeripheralTestSuite) TestConnectFailure() {
	s.native.On("Connect", mock.Anything).Return(device.PermissionDenied(errors.New("not authorized"))).Once()

	err := s.peripheral.Connect(s.helper.Context())
	s.ErrorIs(err, device.ErrPermissionDenied)
	s.Equal(central.StateDisconnected, s.peripheral.State())
	s.helper.ExpectNoEvent(s.events)
}

// GOAL: disconnecting a never connected peripheral succeeds without native calls
func (s *PeripheralTestSuite) TestDisconnectWhenNeverConnected() {
	s.NoError(s.peripheral.Disconnect(s.helper.Context()))
	s.native.AssertNotCalled(s.T(), "Disconnect", mock.Anything)
	s.helper.ExpectNoEvent(s.events)
}

// GOAL: local disconnect announces DeviceDisconnected and clears the cache
func (s *PeripheralTestSuite) TestDisconnect() {
	s.connectAndDiscover(heartRate, bodyLocation)
	s.Len(s.peripheral.Characteristics(), 2)

	s.native.On("Disconnect", mock.Anything).Return(nil).Once()
	s.NoError(s.peripheral.Disconnect(s.helper.Context()))

	s.Equal(central.StateDisconnected, s.peripheral.State())
	s.Empty(s.peripheral.Characteristics())
	s.False(s.peripheral.CharacteristicsDiscovered())
	s.Equal(device.CentralEvent{Type: device.DeviceDisconnected, Address: s.addr}, s.helper.NextEvent(s.events))

	// repeated disconnect is a no-op
	s.NoError(s.peripheral.Disconnect(s.helper.Context()))
	s.native.AssertNumberOfCalls(s.T(), "Disconnect", 1)
	s.helper.ExpectNoEvent(s.events)
}

// GOAL: a failed native disconnect keeps the connection
func (s *PeripheralTestSuite) TestDisconnectFailure() {
	s.connect()
	s.native.On("Disconnect", mock.Anything).Return(device.Other(errors.New("hci busy"))).Once()

	err := s.peripheral.Disconnect(s.helper.Context())
	s.ErrorIs(err, device.ErrOther)
	s.Equal(central.StateConnected, s.peripheral.State())
	s.helper.ExpectNoEvent(s.events)
}

// GOAL: a remote drop emits exactly one DeviceDisconnected and clears the cache
//
// TEST SCENARIO: connected + discovered → backend reports drop twice → one event, empty cache, Read fails
func (s *PeripheralTestSuite) TestRemoteDisconnect() {
	s.connectAndDiscover(heartRate, bodyLocation)

	s.backend.DropConnection(s.addr)
	s.backend.Reporter().ReportDisconnected(s.addr)

	s.Equal(device.DeviceDisconnected, s.helper.NextEvent(s.events).Type)
	s.helper.ExpectNoEvent(s.events)
	s.Empty(s.peripheral.Characteristics())

	_, err := s.peripheral.Read(s.helper.Context(), bodyLocation)
	s.ErrorIs(err, device.ErrNotConnected)

	// a new connection starts with an empty cache
	s.connect()
	_, err = s.peripheral.Read(s.helper.Context(), bodyLocation)
	s.ErrorIs(err, device.ErrCharacteristicsNotDiscovered)
}

// GOAL: operations needing a connection fail fast when disconnected
func (s *PeripheralTestSuite) TestOperationsRequireConnection() {
	ctx := s.helper.Context()

	_, err := s.peripheral.Read(ctx, bodyLocation)
	s.ErrorIs(err, device.ErrNotConnected)
	s.ErrorIs(s.peripheral.Write(ctx, controlPoint, []byte{1}, device.WithResponse), device.ErrNotConnected)
	s.ErrorIs(s.peripheral.Subscribe(ctx, heartRate), device.ErrNotConnected)
	s.ErrorIs(s.peripheral.DiscoverCharacteristics(ctx), device.ErrNotConnected)
	_, err = s.peripheral.Notifications(ctx)
	s.ErrorIs(err, device.ErrNotConnected)

	s.native.AssertNotCalled(s.T(), "Read", mock.Anything, mock.Anything)
}

// GOAL: connected but undiscovered handles report missing characteristics
func (s *PeripheralTestSuite) TestOperationsRequireDiscovery() {
	s.connect()
	_, err := s.peripheral.Read(s.helper.Context(), bodyLocation)
	s.Equal(device.ErrCharacteristicsNotDiscovered, err)
	s.ErrorIs(err, device.ErrCharacteristicNotFound)
	s.Equal(device.KindCharacteristicNotFound, device.KindOf(err))
}

// GOAL: read goes to the native layer with the cached characteristic
func (s *PeripheralTestSuite) TestRead() {
	s.connectAndDiscover(heartRate, bodyLocation)
	s.native.On("Read", mock.Anything, bodyLocation).Return([]byte{0x01}, nil).Once()

	// UUID-only lookups resolve against the cache
	data, err := s.peripheral.Read(s.helper.Context(), device.Characteristic{UUID: bodyLocation.UUID})
	s.NoError(err)
	s.Equal([]byte{0x01}, data)
}

// GOAL: flag checks reject unsupported operations before the native layer
func (s *PeripheralTestSuite) TestFlagChecks() {
	s.connectAndDiscover(heartRate, bodyLocation, controlPoint)
	ctx := s.helper.Context()

	_, err := s.peripheral.Read(ctx, heartRate)
	s.ErrorIs(err, device.ErrNotSupported)

	s.ErrorIs(s.peripheral.Write(ctx, controlPoint, []byte{1}, device.WithoutResponse), device.ErrNotSupported)
	s.ErrorIs(s.peripheral.Subscribe(ctx, bodyLocation), device.ErrNotSupported)

	s.native.On("Write", mock.Anything, controlPoint, []byte{1}, device.WithResponse).Return(nil).Once()
	s.NoError(s.peripheral.Write(ctx, controlPoint, []byte{1}, device.WithResponse))

	s.native.AssertNotCalled(s.T(), "Read", mock.Anything, mock.Anything)
}

// GOAL: characteristics with unknown flags are attempted
func (s *PeripheralTestSuite) TestUnknownFlagsPassThrough() {
	s.connectAndDiscover(opaque)
	ctx := s.helper.Context()

	s.native.On("Read", mock.Anything, opaque).Return([]byte("ok"), nil).Once()
	s.native.On("Write", mock.Anything, opaque, []byte("x"), device.WithoutResponse).Return(nil).Once()
	s.native.On("SetNotify", mock.Anything, opaque, true).Return(nil).Once()

	_, err := s.peripheral.Read(ctx, opaque)
	s.NoError(err)
	s.NoError(s.peripheral.Write(ctx, opaque, []byte("x"), device.WithoutResponse))
	s.NoError(s.peripheral.Subscribe(ctx, opaque))
}

// GOAL: unknown characteristics are reported by id
func (s *PeripheralTestSuite) TestCharacteristicNotFound() {
	s.connectAndDiscover(heartRate)

	_, err := s.peripheral.Read(s.helper.Context(), device.Characteristic{UUID: device.MustParseUUID("2a19")})
	s.ErrorIs(err, device.ErrCharacteristicNotFound)
	s.NotEqual(device.ErrCharacteristicsNotDiscovered, err)
	s.Contains(err.Error(), "2a19")
}

// GOAL: native errors reach the caller classified
func (s *PeripheralTestSuite) TestNativeErrorsAreClassified() {
	s.connectAndDiscover(bodyLocation)
	s.native.On("Read", mock.Anything, bodyLocation).Return(nil, errors.New("att: read failed")).Once()

	_, err := s.peripheral.Read(s.helper.Context(), bodyLocation)
	s.ErrorIs(err, device.ErrOther)
	s.Contains(err.Error(), "att: read failed")
}

// GOAL: notification streams deliver values and end with the connection
//
// TEST SCENARIO: subscribe → native pushes 3 values → drop → stream ends after the 3 values
func (s *PeripheralTestSuite) TestNotificationsEndOnDisconnect() {
	s.connectAndDiscover(heartRate)
	s.native.On("SetNotify", mock.Anything, heartRate, true).Return(nil).Once()

	stream, err := s.peripheral.Notifications(s.helper.Context())
	s.Require().NoError(err)
	s.Require().NoError(s.peripheral.Subscribe(s.helper.Context(), heartRate))

	for i := byte(1); i <= 3; i++ {
		s.native.Notify(device.ValueNotification{UUID: heartRate.UUID, Value: []byte{i}})
	}
	for i := byte(1); i <= 3; i++ {
		v, err := stream.Next(s.helper.Context())
		s.Require().NoError(err)
		s.Equal(heartRate.UUID, v.UUID)
		s.Equal([]byte{i}, v.Value)
	}

	s.backend.DropConnection(s.addr)
	select {
	case <-stream.Done():
	case <-time.After(testutils.DefaultTimeout):
		s.Fail("notification stream did not end")
	}
	_, err = stream.Next(s.helper.Context())
	s.Error(err)
}

// GOAL: a notifications stream ends when its context is cancelled
func (s *PeripheralTestSuite) TestNotificationsEndOnContext() {
	s.connect()
	ctx, cancel := context.WithCancel(s.helper.Context())

	stream, err := s.peripheral.Notifications(ctx)
	s.Require().NoError(err)
	cancel()

	select {
	case <-stream.Done():
	case <-time.After(testutils.DefaultTimeout):
		s.Fail("notification stream did not end")
	}
	s.Equal(central.StateConnected, s.peripheral.State())
}

// GOAL: handles outlive their connection; reconnection works on the same handle
func (s *PeripheralTestSuite) TestReconnect() {
	s.connect()
	s.native.On("Disconnect", mock.Anything).Return(nil).Once()
	s.Require().NoError(s.peripheral.Disconnect(s.helper.Context()))
	s.Equal(device.DeviceDisconnected, s.helper.NextEvent(s.events).Type)

	s.connect()
	p, _ := s.manager.Peripheral(s.addr)
	s.Same(s.peripheral, p)
	s.Equal("HRM", p.Properties().Name())
}

// blockConnect makes the next native connect hand its context to the test and
// wait for release before succeeding.
func (s *PeripheralTestSuite) blockConnect() (attempt <-chan context.Context, release chan struct{}) {
	started := make(chan context.Context, 1)
	release = make(chan struct{})
	s.native.On("Connect", mock.Anything).Run(func(args mock.Arguments) {
		started <- args.Get(0).(context.Context)
		<-release
	}).Return(nil).Once()
	return started, release
}

func (s *PeripheralTestSuite) result(ch <-chan error) error {
	s.T().Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(testutils.DefaultTimeout):
		s.FailNow("operation did not return")
		return nil
	}
}

func (s *PeripheralTestSuite) cancelled(ctx context.Context) {
	s.T().Helper()
	select {
	case <-ctx.Done():
	case <-time.After(testutils.DefaultTimeout):
		s.FailNow("connect attempt was not cancelled")
	}
}

// GOAL: disconnecting mid-connect cancels the attempt and closes the link it produced
//
// TEST SCENARIO: native connect blocked → Disconnect → connect released → link closed, no events
func (s *PeripheralTestSuite) TestDisconnectWhileConnecting() {
	attempt, release := s.blockConnect()
	s.native.On("Disconnect", mock.Anything).Return(nil).Once()

	connectErr := make(chan error, 1)
	go func() { connectErr <- s.peripheral.Connect(s.helper.Context()) }()
	attemptCtx := <-attempt
	s.Equal(central.StateConnecting, s.peripheral.State())

	disconnectErr := make(chan error, 1)
	go func() { disconnectErr <- s.peripheral.Disconnect(s.helper.Context()) }()
	s.cancelled(attemptCtx)
	close(release)

	err := s.result(connectErr)
	s.ErrorIs(err, device.ErrNotConnected)
	s.Contains(err.Error(), "disconnected while connecting")
	s.NoError(s.result(disconnectErr))

	s.Equal(central.StateDisconnected, s.peripheral.State())
	connected, err := s.peripheral.IsConnected(s.helper.Context())
	s.NoError(err)
	s.False(connected, "native link left open")
	s.native.AssertNumberOfCalls(s.T(), "Disconnect", 1)
	s.helper.ExpectNoEvent(s.events)

	// the handle is reusable
	s.connect()
}

// GOAL: a remote drop while connecting fails the connect without a disconnect event
func (s *PeripheralTestSuite) TestRemoteDropWhileConnecting() {
	attempt, release := s.blockConnect()
	s.native.On("Disconnect", mock.Anything).Return(nil).Once()

	connectErr := make(chan error, 1)
	go func() { connectErr <- s.peripheral.Connect(s.helper.Context()) }()
	attemptCtx := <-attempt

	s.backend.DropConnection(s.addr)
	s.cancelled(attemptCtx)
	close(release)

	err := s.result(connectErr)
	s.ErrorIs(err, device.ErrNotConnected)
	s.Contains(err.Error(), "connection lost while connecting")
	s.Equal(central.StateDisconnected, s.peripheral.State())
	connected, _ := s.peripheral.IsConnected(s.helper.Context())
	s.False(connected)
	s.helper.ExpectNoEvent(s.events)
}

// GOAL: a connect that completes after its only caller gave up is closed again
//
// TEST SCENARIO: Connect with a 30ms deadline → deadline passes → native connect succeeds late → torn down
func (s *PeripheralTestSuite) TestLateConnectAfterCallerTimeout() {
	attempt, release := s.blockConnect()
	s.native.On("Disconnect", mock.Anything).Return(nil).Once()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	s.ErrorIs(s.peripheral.Connect(ctx), context.DeadlineExceeded)

	s.cancelled(<-attempt)
	close(release)

	s.Eventually(func() bool {
		return s.peripheral.State() == central.StateDisconnected
	}, testutils.DefaultTimeout, 5*time.Millisecond)
	connected, _ := s.peripheral.IsConnected(s.helper.Context())
	s.False(connected)
	s.native.AssertNumberOfCalls(s.T(), "Disconnect", 1)
	s.helper.ExpectNoEvent(s.events)

	_, err := s.peripheral.Read(s.helper.Context(), bodyLocation)
	s.ErrorIs(err, device.ErrNotConnected)
}

// GOAL: a late read result after the caller timed out is dropped without disturbing the handle
func (s *PeripheralTestSuite) TestLateReadAfterCallerTimeout() {
	s.connectAndDiscover(bodyLocation)
	s.native.On("Read", mock.Anything, bodyLocation).After(80*time.Millisecond).Return([]byte{0x01}, nil).Once()
	s.native.On("Read", mock.Anything, bodyLocation).Return([]byte{0x02}, nil).Once()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.peripheral.Read(ctx, bodyLocation)
	s.ErrorIs(err, context.DeadlineExceeded)

	time.Sleep(100 * time.Millisecond)
	s.Equal(central.StateConnected, s.peripheral.State())
	data, err := s.peripheral.Read(s.helper.Context(), bodyLocation)
	s.NoError(err)
	s.Equal([]byte{0x02}, data)
}

// GOAL: a joiner keeps the attempt alive after the caller that started it gives up
func (s *PeripheralTestSuite) TestJoinerOutlivesFirstCaller() {
	attempt, release := s.blockConnect()

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() { firstErr <- s.peripheral.Connect(firstCtx) }()
	attemptCtx := <-attempt

	joinerErr := make(chan error, 1)
	go func() { joinerErr <- s.peripheral.Connect(s.helper.Context()) }()
	// let the joiner register before the first caller leaves
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	s.ErrorIs(s.result(firstErr), context.Canceled)
	s.NoError(attemptCtx.Err(), "attempt cancelled while a joiner waits")

	close(release)
	s.NoError(s.result(joinerErr))
	s.Equal(central.StateConnected, s.peripheral.State())
	s.Equal(device.DeviceConnected, s.helper.NextEvent(s.events).Type)
	s.native.AssertNumberOfCalls(s.T(), "Connect", 1)
}

// rawNative answers connect and disconnect with unclassified native errors.
type rawNative struct {
	*testutils.MockNative
	connectErr    error
	disconnectErr error
}

func (n *rawNative) Connect(context.Context) *bridge.Future[struct{}] {
	if n.connectErr != nil {
		return bridge.Failed[struct{}](n.connectErr)
	}
	return bridge.Resolved(struct{}{})
}

func (n *rawNative) Disconnect(context.Context) *bridge.Future[struct{}] {
	return bridge.Failed[struct{}](n.disconnectErr)
}

// GOAL: a panicking diagnostics sink fails the caller instead of the process
//
// TEST SCENARIO: unhandled-error hook panics → connect fails with ErrOther; disconnect fails and keeps the link
func (s *PeripheralTestSuite) TestUnhandledReportPanicFailsCaller() {
	hook := func(err error) { panic(err) }
	unhandled.Store(&hook)
	defer unhandled.Store(nil)

	addr := device.MustParseAddress("01:02:03:04:05:07")
	native := &rawNative{MockNative: testutils.NewMockNative(), connectErr: errors.New("adapter exploded")}
	p, _ := s.manager.AddPeripheral(addr, s.manager.NewPeripheral(addr, native))

	err := p.Connect(s.helper.Context())
	s.ErrorIs(err, device.ErrOther)
	s.Equal(central.StateDisconnected, p.State())

	native.connectErr = nil
	native.disconnectErr = errors.New("controller wedged")
	s.Require().NoError(p.Connect(s.helper.Context()))
	s.Equal(device.DeviceConnected, s.helper.NextEvent(s.events).Type)

	err = p.Disconnect(s.helper.Context())
	s.ErrorIs(err, device.ErrOther)
	s.Equal(central.StateConnected, p.State())
	s.helper.ExpectNoEvent(s.events)
}

func TestPeripheralTestSuite(t *testing.T) {
	suite.Run(t, new(PeripheralTestSuite))
}

func TestConnectionStateString(t *testing.T) {
	cases := map[central.ConnectionState]string{
		central.StateDisconnected:  "disconnected",
		central.StateConnecting:    "connecting",
		central.StateConnected:     "connected",
		central.StateDisconnecting: "disconnecting",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("%d: got %q want %q", state, got, want)
		}
	}
}
