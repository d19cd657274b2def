package goble

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blecentral/internal/bridge"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/groutine"
)

// peripheral is one remote device as seen through go-ble.
type peripheral struct {
	backend *Backend
	addr    device.Address
	bleAddr ble.Addr
	logger  *logrus.Logger

	mu         sync.Mutex
	client     Client
	stop       chan struct{}
	dialCancel context.CancelFunc // dial in flight
	dialGen    uint64
	handles    *orderedmap.OrderedMap[device.Characteristic, *ble.Characteristic]
	subscribed map[device.Characteristic]bool // value: subscribed as indication

	fanout *bridge.Fanout[device.ValueNotification]
}

func newPeripheral(b *Backend, addr device.Address, bleAddr ble.Addr) *peripheral {
	return &peripheral{
		backend:    b,
		addr:       addr,
		bleAddr:    bleAddr,
		logger:     b.logger,
		handles:    orderedmap.New[device.Characteristic, *ble.Characteristic](),
		subscribed: make(map[device.Characteristic]bool),
		fanout:     bridge.NewFanout[device.ValueNotification](b.buffer),
	}
}

func (p *peripheral) IsConnected(context.Context) *bridge.Future[bool] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bridge.Resolved(p.client != nil)
}

func (p *peripheral) Connect(ctx context.Context) *bridge.Future[struct{}] {
	return bridge.Go(ctx, "goble-connect", func(ctx context.Context) (struct{}, error) {
		p.mu.Lock()
		if p.client != nil {
			p.mu.Unlock()
			return struct{}{}, nil
		}
		if p.dialCancel != nil {
			p.dialCancel()
		}
		dialCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		p.dialGen++
		gen := p.dialGen
		p.dialCancel = cancel
		p.mu.Unlock()

		p.logger.WithField("address", p.bleAddr.String()).Debug("Dialing BLE device...")
		client, err := p.backend.dial(dialCtx, p.bleAddr)

		p.mu.Lock()
		current := p.dialGen == gen
		if current {
			p.dialCancel = nil
		}
		if err != nil {
			p.mu.Unlock()
			return struct{}{}, err
		}
		if !current || dialCtx.Err() != nil {
			// cancelled or superseded while the stack was still connecting
			p.mu.Unlock()
			if cerr := client.CancelConnection(); cerr != nil {
				p.logger.WithField("error", cerr).Warn("Failed to cancel late BLE connection")
			}
			p.logger.WithField("address", p.addr).Debug("Dropped BLE connection that completed after cancellation")
			return struct{}{}, context.Canceled
		}

		stop := make(chan struct{})
		p.client = client
		p.stop = stop
		p.mu.Unlock()

		groutine.Go(context.Background(), "goble-connection-monitor", func(context.Context) {
			select {
			case <-client.Disconnected():
				p.remoteDropped(client)
			case <-stop:
			}
		})
		return struct{}{}, nil
	}, classifyMessage)
}

// remoteDropped handles a disconnect reported by go-ble for client.
func (p *peripheral) remoteDropped(client Client) {
	p.mu.Lock()
	if p.client != client {
		// already replaced or torn down locally
		p.mu.Unlock()
		return
	}
	p.resetLocked()
	p.mu.Unlock()

	p.logger.WithField("address", p.addr).Warn("BLE device reported disconnection")
	p.fanout.CloseSubscribers()
	p.backend.reportDisconnected(p.addr)
}

// resetLocked forgets every connection scoped handle. Callers hold p.mu.
func (p *peripheral) resetLocked() {
	p.client = nil
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
	p.handles = orderedmap.New[device.Characteristic, *ble.Characteristic]()
	p.subscribed = make(map[device.Characteristic]bool)
}

func (p *peripheral) Disconnect(ctx context.Context) *bridge.Future[struct{}] {
	return bridge.Go(ctx, "goble-disconnect", func(context.Context) (struct{}, error) {
		p.mu.Lock()
		client := p.client
		if client == nil {
			if p.dialCancel != nil {
				p.dialCancel()
				p.dialCancel = nil
				p.dialGen++
			}
			p.mu.Unlock()
			return struct{}{}, nil
		}
		subscribed := make(map[*ble.Characteristic]bool, len(p.subscribed))
		for c, ind := range p.subscribed {
			if h, ok := p.handles.Get(c); ok {
				subscribed[h] = ind
			}
		}
		p.resetLocked()
		p.mu.Unlock()

		var failed []string
		for h, ind := range subscribed {
			if err := client.Unsubscribe(h, ind); err != nil {
				failed = append(failed, h.UUID.String()+": "+err.Error())
			}
		}
		if len(failed) > 0 {
			p.logger.WithField("errors", strings.Join(failed, "; ")).Warn("Failed to unsubscribe from some characteristics during disconnect")
		}

		p.fanout.CloseSubscribers()
		return struct{}{}, client.CancelConnection()
	}, classifyMessage)
}

func (p *peripheral) connected() (Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil, device.ErrNotConnected
	}
	return p.client, nil
}

func (p *peripheral) DiscoverCharacteristics(ctx context.Context) *bridge.Future[[]device.Characteristic] {
	return bridge.Go(ctx, "goble-discover", func(context.Context) ([]device.Characteristic, error) {
		client, err := p.connected()
		if err != nil {
			return nil, err
		}

		profile, err := client.DiscoverProfile(true)
		if err != nil {
			return nil, err
		}

		handles := orderedmap.New[device.Characteristic, *ble.Characteristic]()
		for _, svc := range profile.Services {
			svcID, err := uuidFromBLE(svc.UUID)
			if err != nil {
				p.logger.WithError(err).WithField("service_uuid", svc.UUID.String()).Warn("Skipping service with malformed UUID")
				continue
			}
			for _, ch := range svc.Characteristics {
				id, err := uuidFromBLE(ch.UUID)
				if err != nil {
					p.logger.WithError(err).WithField("char_uuid", ch.UUID.String()).Warn("Skipping characteristic with malformed UUID")
					continue
				}
				handles.Set(device.Characteristic{
					UUID:    id,
					Service: svcID,
					Flags:   flagsFromProperty(ch.Property),
				}, ch)
			}
		}

		p.mu.Lock()
		if p.client != client {
			p.mu.Unlock()
			return nil, device.NotConnected("disconnected during discovery")
		}
		p.handles = handles
		p.mu.Unlock()

		chars := make([]device.Characteristic, 0, handles.Len())
		for pair := handles.Oldest(); pair != nil; pair = pair.Next() {
			chars = append(chars, pair.Key)
		}

		p.logger.WithFields(logrus.Fields{
			"address":         p.addr,
			"services":        len(profile.Services),
			"characteristics": len(chars),
		}).Debug("Profile discovered successfully")
		return chars, nil
	}, classifyMessage)
}

// handle returns the live client and native handle for c.
func (p *peripheral) handle(c device.Characteristic) (Client, *ble.Characteristic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil, nil, device.ErrNotConnected
	}
	h, ok := p.handles.Get(c)
	if !ok {
		return nil, nil, device.CharacteristicNotFound(c.UUID)
	}
	return p.client, h, nil
}

func (p *peripheral) Read(ctx context.Context, c device.Characteristic) *bridge.Future[[]byte] {
	return bridge.Go(ctx, "goble-read", func(context.Context) ([]byte, error) {
		client, h, err := p.handle(c)
		if err != nil {
			return nil, err
		}
		data, err := client.ReadCharacteristic(h)
		if err != nil {
			return nil, err
		}
		return slices.Clone(data), nil
	}, classifyMessage)
}

func (p *peripheral) Write(ctx context.Context, c device.Characteristic, data []byte, wt device.WriteType) *bridge.Future[struct{}] {
	payload := slices.Clone(data)
	return bridge.Go(ctx, "goble-write", func(context.Context) (struct{}, error) {
		client, h, err := p.handle(c)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, client.WriteCharacteristic(h, payload, wt == device.WithoutResponse)
	}, classifyMessage)
}

func (p *peripheral) SetNotify(ctx context.Context, c device.Characteristic, enable bool) *bridge.Future[struct{}] {
	return bridge.Go(ctx, "goble-set-notify", func(context.Context) (struct{}, error) {
		client, h, err := p.handle(c)
		if err != nil {
			return struct{}{}, err
		}
		ind := !c.Flags.Has(device.CharNotify) && c.Flags.Has(device.CharIndicate)

		if !enable {
			p.mu.Lock()
			delete(p.subscribed, c)
			p.mu.Unlock()
			return struct{}{}, client.Unsubscribe(h, ind)
		}

		handler := bridge.Translate(p.fanout, func(raw []byte) (device.ValueNotification, error) {
			return device.ValueNotification{UUID: c.UUID, Value: slices.Clone(raw)}, nil
		}, p.logger)
		if err := client.Subscribe(h, ind, handler); err != nil {
			return struct{}{}, err
		}

		p.mu.Lock()
		p.subscribed[c] = ind
		p.mu.Unlock()
		return struct{}{}, nil
	}, classifyMessage)
}

func (p *peripheral) Notifications() *bridge.Stream[device.ValueNotification] {
	return p.fanout.Subscribe()
}
