package ble

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/pulsecoach/pulse-coach-app/internal/goutil"
	"github.com/pulsecoach/pulse-coach-app/internal/link"
	"github.com/pulsecoach/pulse-coach-app/internal/safemap"
)

// Config tunes the adapter. Zero values select the defaults.
type Config struct {
	// ScanStaleAfter is how long an advertiser may go unseen before it is
	// dropped from the discovered list.
	ScanStaleAfter time.Duration
	// ServiceFilter restricts scanning to advertisers of these services.
	// Defaults to the Heart Rate service alone.
	ServiceFilter []string
}

func (c Config) withDefaults() Config {
	if c.ScanStaleAfter <= 0 {
		c.ScanStaleAfter = 10 * time.Second
	}
	if c.ServiceFilter == nil {
		c.ServiceFilter = []string{link.ServiceUUIDHeartRate}
	}
	return c
}

// Verify Adapter satisfies the link contract.
var _ link.Adapter = (*Adapter)(nil)

// Adapter drives a physical Bluetooth radio. One sensor connection at a
// time: heart-rate straps are personal devices and the rest of the
// pipeline assumes a single stream.
type Adapter struct {
	logger *log.Logger
	hw     *bluetooth.Adapter
	cfg    Config

	peripherals *safemap.SafeMap[link.DeviceID, *peripheral]
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	mu         sync.Mutex
	scanning   bool
	scanCancel context.CancelFunc
	current    *peripheral
	subscribed bool
}

// NewAdapter wraps the given radio. bluetooth.DefaultAdapter is the usual
// argument. Enable must be called before anything else.
func NewAdapter(logger *log.Logger, hw *bluetooth.Adapter, cfg Config) *Adapter {
	if logger == nil {
		panic("ble.Adapter: logger cannot be nil")
	}
	if hw == nil {
		panic("ble.Adapter: bluetooth adapter cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		logger:      logger,
		hw:          hw,
		cfg:         cfg.withDefaults(),
		peripherals: safemap.New[link.DeviceID, *peripheral](),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Enable powers the radio up and installs the disconnect handler.
func (a *Adapter) Enable() error {
	a.hw.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		id := link.DeviceID(device.Address.String())
		if connected {
			a.logger.Printf("BLE: link up with %s", id)
			return
		}
		a.logger.Printf("BLE: link down with %s", id)
		if p, ok := a.peripherals.Get(id); ok {
			p.setConnection(nil)
		}
	})
	if err := a.hw.Enable(); err != nil {
		return link.Unreachable("enable", fmt.Errorf("radio enable: %w", err))
	}
	return nil
}

func (a *Adapter) StartScan() error {
	a.mu.Lock()
	if a.scanning && a.scanCancel != nil {
		// Restarting resets the scan context; the radio keeps going.
		a.scanCancel()
	}
	a.scanning = true
	scanCtx, scanCancel := context.WithCancel(a.ctx)
	a.scanCancel = scanCancel
	a.mu.Unlock()

	filter := make(map[string]struct{}, len(a.cfg.ServiceFilter))
	for _, uuid := range a.cfg.ServiceFilter {
		filter[uuid] = struct{}{}
	}

	a.wg.Add(1)
	goutil.SafeGo(a.logger, func() {
		defer a.wg.Done()
		err := a.hw.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			select {
			case <-scanCtx.Done():
				return
			default:
			}
			if len(filter) > 0 && !advertisesAny(result, filter) {
				return
			}

			id := link.DeviceID(result.Address.String())
			p, ok := a.peripherals.Get(id)
			if !ok {
				p = newPeripheral(a.logger, result.Address)
				a.peripherals.Set(id, p)
				a.logger.Printf("BLE: found %s (%s) rssi=%d", result.LocalName(), id, result.RSSI)
			}
			p.observe(result, time.Now())
		})
		if err != nil {
			a.logger.Printf("BLE: scan ended: %v", err)
		}
	})

	a.wg.Add(1)
	goutil.SafeGo(a.logger, func() {
		defer a.wg.Done()
		a.expireStale(scanCtx)
	})

	a.logger.Printf("BLE: scanning for %v", a.cfg.ServiceFilter)
	return nil
}

func advertisesAny(result bluetooth.ScanResult, filter map[string]struct{}) bool {
	for _, uuid := range result.ServiceUUIDs() {
		if _, ok := filter[uuid.String()]; ok {
			return true
		}
	}
	return false
}

// expireStale drops advertisers that have gone quiet. Connected sensors
// are exempt; they stop advertising by design.
func (a *Adapter) expireStale(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-a.cfg.ScanStaleAfter)
			for id, p := range a.peripherals.Snapshot() {
				if !p.connected() && !p.seenSince(cutoff) {
					a.peripherals.Delete(id)
					a.logger.Printf("BLE: %s not seen for %v, dropped", id, a.cfg.ScanStaleAfter)
				}
			}
		}
	}
}

func (a *Adapter) StopScan() error {
	a.mu.Lock()
	a.scanning = false
	if a.scanCancel != nil {
		a.scanCancel()
		a.scanCancel = nil
	}
	a.mu.Unlock()

	if err := a.hw.StopScan(); err != nil {
		return fmt.Errorf("ble: stop scan: %w", err)
	}
	return nil
}

func (a *Adapter) DiscoveredDevices() []link.DiscoveredDevice {
	cutoff := time.Now().Add(-a.cfg.ScanStaleAfter)
	var out []link.DiscoveredDevice
	a.peripherals.Range(func(_ link.DeviceID, p *peripheral) bool {
		if p.connected() || p.seenSince(cutoff) {
			out = append(out, p.snapshot())
		}
		return true
	})
	return out
}

func (a *Adapter) Connect(id link.DeviceID) error {
	p, ok := a.peripherals.Get(id)
	if !ok {
		return link.Unreachable("connect", fmt.Errorf("device %s was never discovered", id))
	}

	conn, err := a.hw.Connect(p.address, bluetooth.ConnectionParams{})
	if err != nil {
		return link.Unreachable("connect", fmt.Errorf("connect %s: %w", id, err))
	}
	p.setConnection(&conn)

	a.mu.Lock()
	a.current = p
	a.subscribed = false
	a.mu.Unlock()
	a.logger.Printf("BLE: connected to %s", id)
	return nil
}

func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	p := a.current
	subscribed := a.subscribed
	a.current = nil
	a.subscribed = false
	a.mu.Unlock()

	if p == nil {
		return nil
	}
	if subscribed {
		if err := p.unsubscribe(link.ServiceUUIDHeartRate, link.CharUUIDHeartRateMeasurement); err != nil {
			a.logger.Printf("BLE: %v", err)
		}
	}
	conn := p.connection()
	if conn == nil {
		return nil
	}
	if err := conn.Disconnect(); err != nil {
		return link.Unreachable("disconnect", fmt.Errorf("disconnect %s: %w", p.id(), err))
	}
	p.setConnection(nil)
	a.logger.Printf("BLE: disconnected from %s", p.id())
	return nil
}

func (a *Adapter) SubscribeMeasurements() (<-chan []byte, func(), error) {
	a.mu.Lock()
	p := a.current
	a.mu.Unlock()
	if p == nil || !p.connected() {
		return nil, nil, link.Unreachable("subscribe", fmt.Errorf("no connected device"))
	}

	out := make(chan []byte, 32)
	err := p.subscribe(link.ServiceUUIDHeartRate, link.CharUUIDHeartRateMeasurement, func(buf []byte) {
		// The stack reuses buf; hand consumers their own copy.
		payload := make([]byte, len(buf))
		copy(payload, buf)
		select {
		case out <- payload:
		default:
			// Consumer is behind; newer samples matter more than old ones.
		}
	})
	if err != nil {
		return nil, nil, err
	}

	a.mu.Lock()
	a.subscribed = true
	a.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			a.mu.Lock()
			a.subscribed = false
			a.mu.Unlock()
			if err := p.unsubscribe(link.ServiceUUIDHeartRate, link.CharUUIDHeartRateMeasurement); err != nil {
				a.logger.Printf("BLE: %v", err)
			}
		})
	}
	return out, cancel, nil
}

func (a *Adapter) ReadCharacteristic(serviceUUID, charUUID string) ([]byte, error) {
	a.mu.Lock()
	p := a.current
	a.mu.Unlock()
	if p == nil || !p.connected() {
		return nil, link.Unreachable("read", fmt.Errorf("no connected device"))
	}
	return p.read(serviceUUID, charUUID)
}

// Shutdown releases the connection, stops scanning and waits for the
// background goroutines.
func (a *Adapter) Shutdown() {
	a.logger.Printf("BLE: shutting down")
	if err := a.Disconnect(); err != nil {
		a.logger.Printf("BLE: shutdown disconnect: %v", err)
	}
	if err := a.StopScan(); err != nil {
		a.logger.Printf("BLE: shutdown: %v", err)
	}
	a.cancel()
	a.wg.Wait()
}
