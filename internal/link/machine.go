package link

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// State is the connection lifecycle position.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateConnecting
	StateConnected
	StateStreaming
	// StateDisconnected is terminal: the retry budget is spent and only
	// an explicit StartScan resumes.
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateScanning:
		return "Scanning"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateStreaming:
		return "Streaming"
	case StateDisconnected:
		return "Disconnected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// EventType enumerates the inputs the machine accepts.
type EventType int

const (
	EventStartScan EventType = iota
	EventDeviceFound
	EventConnect
	EventConnected
	EventStartStream
	EventDisconnect
	EventConnectionLost
	EventLinkFailed
)

func (e EventType) String() string {
	switch e {
	case EventStartScan:
		return "StartScan"
	case EventDeviceFound:
		return "DeviceFound"
	case EventConnect:
		return "Connect"
	case EventConnected:
		return "Connected"
	case EventStartStream:
		return "StartStream"
	case EventDisconnect:
		return "Disconnect"
	case EventConnectionLost:
		return "ConnectionLost"
	case EventLinkFailed:
		return "LinkFailed"
	default:
		return fmt.Sprintf("EventType(%d)", int(e))
	}
}

// Event carries an input plus its payload where one applies.
type Event struct {
	Type     EventType
	DeviceID DeviceID
	Reason   error
}

// InvalidTransitionError signals an event that is not legal in the current
// state. It marks an integration bug: the machine never silently ignores
// input.
type InvalidTransitionError struct {
	State State
	Event EventType
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("link: invalid transition: event %s in state %s", e.Event, e.State)
}

// Snapshot is a copyable view of the machine's position.
type Snapshot struct {
	State      State
	DeviceID   DeviceID
	RetryCount int
}

// Machine drives the wireless link lifecycle:
//
//	Idle → Scanning → Connecting → Connected → Streaming
//
// A lost or failed link re-enters Scanning with an incremented retry
// counter and a backoff delay; once the retry budget is exhausted the
// machine parks in terminal Disconnected. Every teardown path releases the
// subscription and the connection idempotently so a reconnect can never
// stack duplicate notification subscriptions.
type Machine struct {
	logger  *log.Logger
	adapter Adapter
	backoff BackoffPolicy

	mu           sync.Mutex
	state        State
	deviceID     DeviceID
	retryCount   int
	measurements <-chan []byte
	cancelSub    func()
	retryTimer   *time.Timer
}

func NewMachine(logger *log.Logger, adapter Adapter, backoff BackoffPolicy) *Machine {
	if logger == nil {
		panic("link.Machine: logger cannot be nil")
	}
	if adapter == nil {
		panic("link.Machine: adapter cannot be nil")
	}
	if backoff.MaxAttempts <= 0 {
		backoff = DefaultBackoffPolicy()
	}
	return &Machine{
		logger:  logger,
		adapter: adapter,
		backoff: backoff,
		state:   StateIdle,
	}
}

// Snapshot returns the current state without side effects.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{State: m.state, DeviceID: m.deviceID, RetryCount: m.retryCount}
}

// Measurements returns the active subscription channel, nil unless
// Streaming.
func (m *Machine) Measurements() <-chan []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.measurements
}

// Handle applies one event. The returned snapshot reflects the state after
// the transition; an InvalidTransitionError leaves the state untouched.
// Adapter failures during a transition feed the retry path and are
// returned to the caller.
func (m *Machine) Handle(ev Event) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.state
	snap, err := m.apply(ev)
	if err == nil && m.state != from {
		m.logger.Printf("Link: %s -> %s on %s (retries=%d)", from, m.state, ev.Type, m.retryCount)
	}
	return snap, err
}

// apply holds the transition table. Caller must hold mu.
func (m *Machine) apply(ev Event) (Snapshot, error) {
	switch ev.Type {
	case EventStartScan:
		switch m.state {
		case StateIdle, StateDisconnected:
			m.retryCount = 0
			m.stopRetryTimer()
			if err := m.adapter.StartScan(); err != nil {
				return m.snapshotLocked(), err
			}
			m.state = StateScanning
			return m.snapshotLocked(), nil
		}

	case EventDeviceFound:
		if m.state == StateScanning {
			// Stay scanning; discovery only informs the caller's choice
			// of device.
			return m.snapshotLocked(), nil
		}

	case EventConnect:
		if m.state == StateScanning {
			if err := m.adapter.StopScan(); err != nil {
				m.logger.Printf("Link: StopScan before connect failed: %v", err)
			}
			m.deviceID = ev.DeviceID
			m.state = StateConnecting
			if err := m.adapter.Connect(ev.DeviceID); err != nil {
				return m.failLocked(err)
			}
			return m.snapshotLocked(), nil
		}

	case EventConnected:
		if m.state == StateConnecting {
			m.state = StateConnected
			return m.snapshotLocked(), nil
		}

	case EventStartStream:
		if m.state == StateConnected {
			ch, cancel, err := m.adapter.SubscribeMeasurements()
			if err != nil {
				return m.failLocked(err)
			}
			m.measurements = ch
			m.cancelSub = cancel
			m.retryCount = 0
			m.state = StateStreaming
			return m.snapshotLocked(), nil
		}

	case EventDisconnect:
		switch m.state {
		case StateScanning:
			if err := m.adapter.StopScan(); err != nil {
				m.logger.Printf("Link: StopScan failed: %v", err)
			}
			m.state = StateIdle
			return m.snapshotLocked(), nil
		case StateConnecting, StateConnected, StateStreaming:
			m.releaseLinkLocked()
			m.stopRetryTimer()
			m.state = StateIdle
			m.retryCount = 0
			return m.snapshotLocked(), nil
		}

	case EventConnectionLost:
		switch m.state {
		case StateConnecting, StateConnected, StateStreaming:
			return m.failLocked(ev.Reason)
		}

	case EventLinkFailed:
		switch m.state {
		case StateScanning, StateConnecting, StateConnected, StateStreaming:
			return m.failLocked(ev.Reason)
		}
	}

	return m.snapshotLocked(), &InvalidTransitionError{State: m.state, Event: ev.Type}
}

// failLocked runs the shared failure path: release the link, then either
// schedule the next scan under backoff or park in terminal Disconnected
// once the budget is spent. Caller must hold mu.
func (m *Machine) failLocked(cause error) (Snapshot, error) {
	m.releaseLinkLocked()
	m.retryCount++

	if m.retryCount > m.backoff.MaxAttempts {
		m.state = StateDisconnected
		m.logger.Printf("Link: retry budget exhausted after %d attempts, giving up: %v", m.backoff.MaxAttempts, cause)
		return m.snapshotLocked(), cause
	}

	delay := m.backoff.DelayFor(m.retryCount)
	m.state = StateScanning
	m.logger.Printf("Link: connection lost (%v), retry %d/%d in %s", cause, m.retryCount, m.backoff.MaxAttempts, delay)

	m.stopRetryTimer()
	m.retryTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		rescan := m.state == StateScanning
		m.mu.Unlock()
		if !rescan {
			return
		}
		if err := m.adapter.StartScan(); err != nil {
			m.logger.Printf("Link: rescan failed: %v", err)
		}
	})

	return m.snapshotLocked(), cause
}

// releaseLinkLocked tears the subscription and connection down. Safe to
// call in any state, any number of times. Caller must hold mu.
func (m *Machine) releaseLinkLocked() {
	if m.cancelSub != nil {
		m.cancelSub()
		m.cancelSub = nil
	}
	m.measurements = nil
	if err := m.adapter.Disconnect(); err != nil {
		m.logger.Printf("Link: disconnect during teardown: %v", err)
	}
}

func (m *Machine) stopRetryTimer() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

func (m *Machine) snapshotLocked() Snapshot {
	return Snapshot{State: m.state, DeviceID: m.deviceID, RetryCount: m.retryCount}
}
