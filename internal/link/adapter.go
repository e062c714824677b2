package link

import (
	"errors"
	"fmt"
	"time"
)

// DeviceID identifies a discovered peripheral, typically its BLE address.
type DeviceID string

// DiscoveredDevice is one scan result.
type DiscoveredDevice struct {
	ID       DeviceID
	Name     string
	RSSI     int16
	LastSeen time.Time
}

// Adapter is the capability contract the core requires from a wireless
// stack. Production code talks to real hardware, tests and demos to a
// simulated sensor; the state machine cannot tell them apart.
//
// SubscribeMeasurements returns a channel of raw characteristic payloads
// plus a cancel function. The adapter's delivery callback only enqueues;
// it must never block on a slow consumer.
type Adapter interface {
	StartScan() error
	StopScan() error
	DiscoveredDevices() []DiscoveredDevice
	Connect(id DeviceID) error
	Disconnect() error
	SubscribeMeasurements() (<-chan []byte, func(), error)
	ReadCharacteristic(serviceUUID, charUUID string) ([]byte, error)
}

// ErrorKind distinguishes the two failure classes every Adapter operation
// must be able to report.
type ErrorKind int

const (
	// KindUnreachable means the device did not respond (out of range,
	// powered off, link dropped). Drives the retry/backoff policy.
	KindUnreachable ErrorKind = iota
	// KindUnsupported means the device or stack cannot perform the
	// operation at all. Retrying is pointless.
	KindUnsupported
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnreachable:
		return "unreachable"
	case KindUnsupported:
		return "unsupported"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// LinkError wraps an adapter failure with the operation that failed and
// its kind.
type LinkError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *LinkError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("link: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("link: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

// Unreachable builds a device-not-reachable error for op.
func Unreachable(op string, err error) *LinkError {
	return &LinkError{Op: op, Kind: KindUnreachable, Err: err}
}

// Unsupported builds an operation-unsupported error for op.
func Unsupported(op string, err error) *LinkError {
	return &LinkError{Op: op, Kind: KindUnsupported, Err: err}
}

// IsUnreachable reports whether err is a LinkError of kind unreachable.
func IsUnreachable(err error) bool {
	var lerr *LinkError
	return errors.As(err, &lerr) && lerr.Kind == KindUnreachable
}

// IsUnsupported reports whether err is a LinkError of kind unsupported.
func IsUnsupported(err error) bool {
	var lerr *LinkError
	return errors.As(err, &lerr) && lerr.Kind == KindUnsupported
}
