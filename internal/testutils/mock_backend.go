package testutils

import (
	"context"
	"sync"

	"github.com/srg/blecentral/internal/bridge"
	"github.com/srg/blecentral/internal/central"
	"github.com/srg/blecentral/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockBackend is a central.Backend driven by the test. Scan calls go through
// testify/mock; Bind hands out one MockNative per address.
//
//	backend := testutils.NewMockBackend()
//	backend.On("StartScan", mock.Anything, mock.Anything).Return(nil)
//	manager, _ := central.NewAdapterManager(backend, central.Options{})
//	backend.Advertise(testutils.NewPropertiesBuilder().WithAddress("AA:BB:CC:DD:EE:FF").Build())
type MockBackend struct {
	mock.Mock

	mu       sync.Mutex
	reporter central.Reporter
	natives  map[device.Address]*MockNative
	binds    map[device.Address]int
	bindErr  error

	// NativeSetup, when set, configures every MockNative created by Bind.
	NativeSetup func(addr device.Address, n *MockNative)
}

// NewMockBackend returns an empty mock backend.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		natives: make(map[device.Address]*MockNative),
		binds:   make(map[device.Address]int),
	}
}

func (b *MockBackend) Name() string { return "mock" }

func (b *MockBackend) Attach(r central.Reporter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reporter = r
}

func (b *MockBackend) StartScan(ctx context.Context, filter central.ScanFilter) error {
	args := b.Called(ctx, filter)
	return args.Error(0)
}

func (b *MockBackend) StopScan() error {
	args := b.Called()
	return args.Error(0)
}

func (b *MockBackend) Bind(addr device.Address) (central.NativePeripheral, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.bindErr != nil {
		return nil, b.bindErr
	}
	b.binds[addr]++
	return b.nativeLocked(addr), nil
}

// BindCount returns how many times Bind succeeded for addr.
func (b *MockBackend) BindCount(addr device.Address) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.binds[addr]
}

func (b *MockBackend) nativeLocked(addr device.Address) *MockNative {
	if n, ok := b.natives[addr]; ok {
		return n
	}
	n := NewMockNative()
	if b.NativeSetup != nil {
		b.NativeSetup(addr, n)
	}
	b.natives[addr] = n
	return n
}

func (b *MockBackend) Close() error { return nil }

// FailBind makes every following Bind return err.
func (b *MockBackend) FailBind(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bindErr = err
}

// Native returns the mock bound to addr, creating it when needed.
func (b *MockBackend) Native(addr device.Address) *MockNative {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nativeLocked(addr)
}

// Advertise reports props as if it came from a scan callback.
func (b *MockBackend) Advertise(props *device.Properties) {
	b.Reporter().ReportProperties(props.Address, props)
}

// Lose reports addr as no longer observed.
func (b *MockBackend) Lose(addr device.Address) {
	b.Reporter().ReportProperties(addr, nil)
}

// DropConnection simulates the peripheral going away while connected.
func (b *MockBackend) DropConnection(addr device.Address) {
	b.Native(addr).Drop()
	b.Reporter().ReportDisconnected(addr)
}

// Reporter returns the attached reporter.
func (b *MockBackend) Reporter() central.Reporter {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reporter
}

// MockNative is a central.NativePeripheral whose operations are answered by
// testify/mock expectations. Each expectation runs on its own goroutine, so
// .After and .WaitUntil delay the future, not the caller. Calls are recorded
// through MethodCalled: inside the goroutine Called would see the closure name.
type MockNative struct {
	mock.Mock

	mu        sync.Mutex
	connected bool
	fanout    *bridge.Fanout[device.ValueNotification]
}

// NewMockNative returns a disconnected mock.
func NewMockNative() *MockNative {
	return &MockNative{fanout: bridge.NewFanout[device.ValueNotification](64)}
}

func (n *MockNative) IsConnected(context.Context) *bridge.Future[bool] {
	n.mu.Lock()
	defer n.mu.Unlock()
	return bridge.Resolved(n.connected)
}

func (n *MockNative) Connect(ctx context.Context) *bridge.Future[struct{}] {
	return bridge.Go(ctx, "mock-connect", func(ctx context.Context) (struct{}, error) {
		args := n.MethodCalled("Connect", ctx)
		if err := args.Error(0); err != nil {
			return struct{}{}, err
		}
		n.setConnected(true)
		return struct{}{}, nil
	})
}

func (n *MockNative) Disconnect(ctx context.Context) *bridge.Future[struct{}] {
	return bridge.Go(ctx, "mock-disconnect", func(ctx context.Context) (struct{}, error) {
		args := n.MethodCalled("Disconnect", ctx)
		if err := args.Error(0); err != nil {
			return struct{}{}, err
		}
		n.Drop()
		return struct{}{}, nil
	})
}

func (n *MockNative) DiscoverCharacteristics(ctx context.Context) *bridge.Future[[]device.Characteristic] {
	return bridge.Go(ctx, "mock-discover", func(ctx context.Context) ([]device.Characteristic, error) {
		args := n.MethodCalled("DiscoverCharacteristics", ctx)
		chars, _ := args.Get(0).([]device.Characteristic)
		return chars, args.Error(1)
	})
}

func (n *MockNative) Read(ctx context.Context, c device.Characteristic) *bridge.Future[[]byte] {
	return bridge.Go(ctx, "mock-read", func(ctx context.Context) ([]byte, error) {
		args := n.MethodCalled("Read", ctx, c)
		data, _ := args.Get(0).([]byte)
		return data, args.Error(1)
	})
}

func (n *MockNative) Write(ctx context.Context, c device.Characteristic, data []byte, wt device.WriteType) *bridge.Future[struct{}] {
	return bridge.Go(ctx, "mock-write", func(ctx context.Context) (struct{}, error) {
		args := n.MethodCalled("Write", ctx, c, data, wt)
		return struct{}{}, args.Error(0)
	})
}

func (n *MockNative) SetNotify(ctx context.Context, c device.Characteristic, enable bool) *bridge.Future[struct{}] {
	return bridge.Go(ctx, "mock-set-notify", func(ctx context.Context) (struct{}, error) {
		args := n.MethodCalled("SetNotify", ctx, c, enable)
		return struct{}{}, args.Error(0)
	})
}

func (n *MockNative) Notifications() *bridge.Stream[device.ValueNotification] {
	return n.fanout.Subscribe()
}

// Notify pushes a value to every notification stream.
func (n *MockNative) Notify(v device.ValueNotification) {
	n.fanout.Push(v)
}

// Drop marks the native side disconnected and ends its notification streams.
func (n *MockNative) Drop() {
	n.setConnected(false)
	n.fanout.CloseSubscribers()
}

func (n *MockNative) setConnected(v bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connected = v
}
