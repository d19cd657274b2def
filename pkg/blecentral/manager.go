package blecentral

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/internal/backend/goble"
	"github.com/srg/blecentral/internal/backend/tinygo"
	"github.com/srg/blecentral/internal/central"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/platform"
	"github.com/srg/blecentral/pkg/config"
)

// ErrClosed is returned by Manager methods after Close.
var ErrClosed = errors.New("manager closed")

// BackendFactory builds the native backend driving one adapter.
type BackendFactory func(info AdapterInfo) (Backend, error)

// AdapterLister enumerates local controllers.
type AdapterLister func(ctx context.Context) ([]AdapterInfo, error)

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger replaces the logger built from the configuration.
func WithLogger(logger *logrus.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithBackendFactory replaces backend selection by Config.Backend. The
// factory is called once for every enumerated adapter.
func WithBackendFactory(f BackendFactory) Option {
	return func(m *Manager) {
		m.factory = f
		m.perAdapter = true
	}
}

// WithAdapterLister replaces the platform adapter enumeration.
func WithAdapterLister(l AdapterLister) Option {
	return func(m *Manager) {
		m.lister = l
	}
}

// Manager is the entry point of the library.
type Manager struct {
	cfg        *config.Config
	logger     *logrus.Logger
	factory    BackendFactory
	perAdapter bool
	lister     AdapterLister

	mu       sync.Mutex
	adapters map[string]*Adapter
	closed   bool
}

// NewManager validates cfg, installs the process runtime if none is set, and
// returns a manager. A nil cfg selects config.DefaultConfig.
func NewManager(cfg *config.Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	m := &Manager{
		cfg:      cfg,
		adapters: make(map[string]*Adapter),
		lister:   listAdapters,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = cfg.NewLogger()
	}
	if m.factory == nil {
		m.factory = m.nativeBackend
	}

	platform.Ensure(platform.Runtime{Logger: m.logger})
	return m, nil
}

// Config returns the configuration the manager was built with.
func (m *Manager) Config() *config.Config {
	return m.cfg
}

// Adapters returns one Adapter per local controller, in enumeration order.
// Config.Adapter restricts the result to the controller with that ID or
// address. Without a custom backend factory only the first controller is
// wrapped, since the native stacks drive the system default one.
//
// Repeated calls return the same Adapter values.
func (m *Manager) Adapters(ctx context.Context) ([]*Adapter, error) {
	infos, err := m.lister(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list adapters: %w", err)
	}
	infos, err = m.selectAdapters(infos)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	out := make([]*Adapter, 0, len(infos))
	for i, info := range infos {
		if a, ok := m.adapters[info.ID]; ok {
			out = append(out, a)
			continue
		}
		a, err := m.openAdapter(info)
		if err != nil {
			if i == 0 {
				return nil, err
			}
			m.logger.WithFields(logrus.Fields{
				"adapter": info.ID,
				"error":   err,
			}).Warn("Skipping adapter")
			continue
		}
		m.adapters[info.ID] = a
		out = append(out, a)
	}
	return out, nil
}

// DefaultAdapter returns the first adapter of Adapters.
func (m *Manager) DefaultAdapter(ctx context.Context) (*Adapter, error) {
	adapters, err := m.Adapters(ctx)
	if err != nil {
		return nil, err
	}
	if len(adapters) == 0 {
		return nil, device.NotSupported("no usable Bluetooth adapter")
	}
	return adapters[0], nil
}

// Close closes every adapter handed out so far.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	adapters := make([]*Adapter, 0, len(m.adapters))
	for _, a := range m.adapters {
		adapters = append(adapters, a)
	}
	m.mu.Unlock()

	var errs []error
	for _, a := range adapters {
		if err := a.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("adapter %s: %w", a.info.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) selectAdapters(infos []AdapterInfo) ([]AdapterInfo, error) {
	if len(infos) == 0 {
		return nil, device.NotSupported("no Bluetooth adapter found")
	}
	if want := m.cfg.Adapter; want != "" {
		for _, info := range infos {
			if info.ID == want || info.Address.String() == want {
				return []AdapterInfo{info}, nil
			}
		}
		return nil, device.NotSupported(fmt.Sprintf("adapter %q not found", want))
	}
	if !m.perAdapter {
		return infos[:1], nil
	}
	return infos, nil
}

func (m *Manager) openAdapter(info AdapterInfo) (*Adapter, error) {
	backend, err := m.factory(info)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s backend for %s: %w", m.cfg.Backend, info.ID, err)
	}
	manager, err := central.NewAdapterManager(backend, central.Options{
		EventBuffer: m.cfg.EventBuffer,
		Logger:      m.logger,
	})
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"adapter": info.ID,
		"backend": backend.Name(),
	}).Debug("Adapter opened")
	return newAdapter(info, manager, m.logger), nil
}

// nativeBackend builds the backend named by Config.Backend. Both stacks open
// the system default controller, so info only labels the adapter.
func (m *Manager) nativeBackend(AdapterInfo) (Backend, error) {
	switch m.cfg.Backend {
	case goble.Name:
		b, err := goble.New(goble.Options{NotificationBuffer: m.cfg.NotificationBuffer, Logger: m.logger})
		if err != nil {
			return nil, err
		}
		return b, nil
	case tinygo.Name:
		b, err := tinygo.New(tinygo.Options{NotificationBuffer: m.cfg.NotificationBuffer, Logger: m.logger})
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, device.NotSupported(fmt.Sprintf("unknown backend %q", m.cfg.Backend))
	}
}
