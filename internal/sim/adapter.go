package sim

import (
	"encoding/binary"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pulsecoach/pulse-coach-app/internal/goutil"
	"github.com/pulsecoach/pulse-coach-app/internal/link"
)

// Config shapes the simulated sensor.
type Config struct {
	DeviceID link.DeviceID
	Name     string
	// Interval is the notification cadence.
	Interval time.Duration
	// StartBPM seeds the simulated heart rate.
	StartBPM float64
	// BatteryPercent seeds the battery level.
	BatteryPercent uint8
}

func (c Config) withDefaults() Config {
	if c.DeviceID == "" {
		c.DeviceID = "SIM:00:01"
	}
	if c.Name == "" {
		c.Name = "Simulated HR Strap"
	}
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.StartBPM <= 0 {
		c.StartBPM = 72
	}
	if c.BatteryPercent == 0 {
		c.BatteryPercent = 90
	}
	return c
}

// Adapter is an in-process heart-rate sensor implementing link.Adapter.
// It exists for demos and tests: the executor cannot tell it apart from
// real hardware, and its heart rate, battery and data flow are all
// scriptable from the outside.
type Adapter struct {
	logger *log.Logger
	cfg    Config

	mu         sync.Mutex
	scanning   bool
	connected  bool
	subscribed bool
	bpm        float64
	battery    uint8
	muted      bool
	seq        uint64
	stopCh     chan struct{}
}

func NewAdapter(logger *log.Logger, cfg Config) *Adapter {
	if logger == nil {
		panic("sim.Adapter: logger cannot be nil")
	}
	cfg = cfg.withDefaults()
	return &Adapter{
		logger:  logger,
		cfg:     cfg,
		bpm:     cfg.StartBPM,
		battery: cfg.BatteryPercent,
	}
}

// SetBPM changes the simulated heart rate.
func (a *Adapter) SetBPM(bpm float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bpm = bpm
}

// SetBattery changes the simulated battery level.
func (a *Adapter) SetBattery(percent uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.battery = percent
}

// SetMuted stops or restores notification flow without disconnecting,
// simulating a stalled sensor.
func (a *Adapter) SetMuted(muted bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.muted = muted
}

func (a *Adapter) StartScan() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scanning = true
	a.logger.Printf("SimAdapter: scanning")
	return nil
}

func (a *Adapter) StopScan() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scanning = false
	return nil
}

func (a *Adapter) DiscoveredDevices() []link.DiscoveredDevice {
	return []link.DiscoveredDevice{{
		ID:       a.cfg.DeviceID,
		Name:     a.cfg.Name,
		RSSI:     -55,
		LastSeen: time.Now(),
	}}
}

func (a *Adapter) Connect(id link.DeviceID) error {
	if id != a.cfg.DeviceID {
		return link.Unreachable("connect", fmt.Errorf("unknown device %s", id))
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = true
	a.logger.Printf("SimAdapter: connected to %s", id)
	return nil
}

func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	a.stopStreamLocked()
	return nil
}

func (a *Adapter) SubscribeMeasurements() (<-chan []byte, func(), error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, nil, link.Unreachable("subscribe", fmt.Errorf("not connected"))
	}

	a.stopStreamLocked()
	out := make(chan []byte, 16)
	stop := make(chan struct{})
	a.stopCh = stop
	a.subscribed = true

	goutil.SafeGo(a.logger, func() {
		ticker := time.NewTicker(a.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				payload, ok := a.nextPacket()
				if !ok {
					continue
				}
				select {
				case out <- payload:
				default:
					// Consumer is behind; drop like a real stack would.
				}
			}
		}
	})

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			if a.stopCh == stop {
				a.stopStreamLocked()
			}
		})
	}
	return out, cancel, nil
}

func (a *Adapter) ReadCharacteristic(serviceUUID, charUUID string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, link.Unreachable("read", fmt.Errorf("not connected"))
	}
	if serviceUUID == link.ServiceUUIDBattery && charUUID == link.CharUUIDBatteryLevel {
		return []byte{a.battery}, nil
	}
	return nil, link.Unsupported("read", fmt.Errorf("characteristic %s not simulated", charUUID))
}

// stopStreamLocked tears the notification goroutine down. Caller must
// hold mu. Safe when no stream exists.
func (a *Adapter) stopStreamLocked() {
	if a.stopCh != nil {
		close(a.stopCh)
		a.stopCh = nil
	}
	a.subscribed = false
}

// nextPacket builds one Heart Rate Measurement payload: 8-bit BPM plus a
// single RR interval with a small deterministic wobble.
func (a *Adapter) nextPacket() ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.muted {
		return nil, false
	}

	a.seq++
	bpm := a.bpm
	if bpm < 1 {
		bpm = 1
	}
	rr := 60000.0 / bpm
	// Alternate ±6ms so RMSSD has something to measure.
	if a.seq%2 == 0 {
		rr += 6
	} else {
		rr -= 6
	}

	payload := []byte{0x10, byte(uint8(bpm))} // flags: RR intervals present
	payload = binary.LittleEndian.AppendUint16(payload, uint16(rr))
	return payload, true
}
