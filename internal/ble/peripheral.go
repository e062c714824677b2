package ble

import (
	"fmt"
	"log"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/pulsecoach/pulse-coach-app/internal/link"
	"github.com/pulsecoach/pulse-coach-app/internal/safemap"
)

// peripheral tracks one sensor across its scan and connection lifetime.
// Service and characteristic handles are discovered once and cached:
// re-discovering a single service mid-stream interrupts notifications on
// the ones already in use, so discovery is always all-at-once.
type peripheral struct {
	logger  *log.Logger
	address bluetooth.Address

	mu       sync.RWMutex
	name     string
	rssi     int16
	lastSeen time.Time
	conn     *bluetooth.Device

	// gattMu serializes GATT operations; the stack does not tolerate
	// concurrent discovery, reads and subscription changes.
	gattMu             sync.Mutex
	services           *safemap.SafeMap[string, *bluetooth.DeviceService]
	characteristics    *safemap.SafeMap[string, *bluetooth.DeviceCharacteristic]
	charsDiscovered    *safemap.SafeMap[string, bool]
	servicesDiscovered bool
}

func newPeripheral(logger *log.Logger, address bluetooth.Address) *peripheral {
	return &peripheral{
		logger:          logger,
		address:         address,
		name:            "Unknown",
		services:        safemap.New[string, *bluetooth.DeviceService](),
		characteristics: safemap.New[string, *bluetooth.DeviceCharacteristic](),
		charsDiscovered: safemap.New[string, bool](),
	}
}

func (p *peripheral) id() link.DeviceID {
	return link.DeviceID(p.address.String())
}

func (p *peripheral) observe(result bluetooth.ScanResult, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if name := result.LocalName(); name != "" {
		p.name = name
	}
	p.rssi = result.RSSI
	p.lastSeen = at
}

func (p *peripheral) snapshot() link.DiscoveredDevice {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return link.DiscoveredDevice{
		ID:       p.id(),
		Name:     p.name,
		RSSI:     p.rssi,
		LastSeen: p.lastSeen,
	}
}

func (p *peripheral) seenSince(cutoff time.Time) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSeen.After(cutoff)
}

func (p *peripheral) setConnection(conn *bluetooth.Device) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn = conn
	if conn == nil {
		// Handles die with the connection.
		p.services = safemap.New[string, *bluetooth.DeviceService]()
		p.characteristics = safemap.New[string, *bluetooth.DeviceCharacteristic]()
		p.charsDiscovered = safemap.New[string, bool]()
		p.servicesDiscovered = false
	}
}

func (p *peripheral) connection() *bluetooth.Device {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conn
}

func (p *peripheral) connected() bool {
	return p.connection() != nil
}

// subscribe turns on notifications for the characteristic, feeding each
// payload to fn.
func (p *peripheral) subscribe(serviceUUID, charUUID string, fn func([]byte)) error {
	p.gattMu.Lock()
	defer p.gattMu.Unlock()

	char, err := p.characteristic(serviceUUID, charUUID)
	if err != nil {
		return err
	}
	if err := char.EnableNotifications(fn); err != nil {
		return link.Unsupported("subscribe", fmt.Errorf("enable notifications on %s: %w", charUUID, err))
	}
	return nil
}

// unsubscribe turns notifications off again. A nil callback disables
// them at the stack level.
func (p *peripheral) unsubscribe(serviceUUID, charUUID string) error {
	p.gattMu.Lock()
	defer p.gattMu.Unlock()

	char, err := p.characteristic(serviceUUID, charUUID)
	if err != nil {
		return err
	}
	if err := char.EnableNotifications(nil); err != nil {
		return fmt.Errorf("ble: disable notifications on %s: %w", charUUID, err)
	}
	return nil
}

func (p *peripheral) read(serviceUUID, charUUID string) ([]byte, error) {
	p.gattMu.Lock()
	defer p.gattMu.Unlock()

	char, err := p.characteristic(serviceUUID, charUUID)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 512)
	n, err := char.Read(buf)
	if err != nil {
		return nil, link.Unreachable("read", fmt.Errorf("read %s: %w", charUUID, err))
	}
	return buf[:n], nil
}

// service resolves a service handle, discovering all services on first
// use. Caller must hold gattMu.
func (p *peripheral) service(serviceUUID string) (*bluetooth.DeviceService, error) {
	conn := p.connection()
	if conn == nil {
		return nil, link.Unreachable("gatt", fmt.Errorf("%s not connected", p.id()))
	}

	if svc, ok := p.services.Get(serviceUUID); ok {
		return svc, nil
	}
	if !p.servicesDiscovered {
		p.logger.Printf("BLE: discovering services on %s", p.id())
		found, err := conn.DiscoverServices(nil)
		if err != nil {
			return nil, link.Unreachable("gatt", fmt.Errorf("discover services: %w", err))
		}
		for i := range found {
			svc := &found[i]
			p.services.Set(svc.UUID().String(), svc)
		}
		p.servicesDiscovered = true
	}

	svc, ok := p.services.Get(serviceUUID)
	if !ok {
		return nil, link.Unsupported("gatt", fmt.Errorf("service %s not present on %s", serviceUUID, p.id()))
	}
	return svc, nil
}

// characteristic resolves a characteristic handle, discovering the whole
// service's characteristics on first use. Caller must hold gattMu.
func (p *peripheral) characteristic(serviceUUID, charUUID string) (*bluetooth.DeviceCharacteristic, error) {
	key := serviceUUID + "/" + charUUID
	if char, ok := p.characteristics.Get(key); ok {
		return char, nil
	}

	if discovered, _ := p.charsDiscovered.Get(serviceUUID); !discovered {
		svc, err := p.service(serviceUUID)
		if err != nil {
			return nil, err
		}
		p.logger.Printf("BLE: discovering characteristics of %s on %s", serviceUUID, p.id())
		found, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, link.Unreachable("gatt", fmt.Errorf("discover characteristics of %s: %w", serviceUUID, err))
		}
		for i := range found {
			char := &found[i]
			p.characteristics.Set(serviceUUID+"/"+char.UUID().String(), char)
		}
		p.charsDiscovered.Set(serviceUUID, true)
	}

	char, ok := p.characteristics.Get(key)
	if !ok {
		return nil, link.Unsupported("gatt", fmt.Errorf("characteristic %s not present in %s", charUUID, serviceUUID))
	}
	return char, nil
}
