package link

import (
	"errors"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockAdapter struct {
	mu          sync.Mutex
	calls       []string
	scanErr     error
	connectErr  error
	subErr      error
	cancelCount int
}

func (a *mockAdapter) record(call string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, call)
}

func (a *mockAdapter) callCount(call string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (a *mockAdapter) StartScan() error {
	a.record("StartScan")
	return a.scanErr
}

func (a *mockAdapter) StopScan() error {
	a.record("StopScan")
	return nil
}

func (a *mockAdapter) DiscoveredDevices() []DiscoveredDevice {
	return []DiscoveredDevice{{ID: "AA:BB", Name: "Strap", RSSI: -60, LastSeen: time.Now()}}
}

func (a *mockAdapter) Connect(id DeviceID) error {
	a.record("Connect")
	return a.connectErr
}

func (a *mockAdapter) Disconnect() error {
	a.record("Disconnect")
	return nil
}

func (a *mockAdapter) SubscribeMeasurements() (<-chan []byte, func(), error) {
	a.record("Subscribe")
	if a.subErr != nil {
		return nil, nil, a.subErr
	}
	ch := make(chan []byte, 8)
	cancel := func() {
		a.mu.Lock()
		a.cancelCount++
		a.mu.Unlock()
	}
	return ch, cancel, nil
}

func (a *mockAdapter) ReadCharacteristic(serviceUUID, charUUID string) ([]byte, error) {
	a.record("Read")
	return []byte{90}, nil
}

func newTestMachine(adapter Adapter) *Machine {
	logger := log.New(os.Stderr, "test: ", log.LstdFlags)
	// Instant retries keep the tests fast.
	return NewMachine(logger, adapter, BackoffPolicy{Initial: time.Millisecond, Multiplier: 2, MaxAttempts: 3})
}

func driveToStreaming(t *testing.T, m *Machine) {
	t.Helper()
	_, err := m.Handle(Event{Type: EventStartScan})
	require.NoError(t, err)
	_, err = m.Handle(Event{Type: EventConnect, DeviceID: "AA:BB"})
	require.NoError(t, err)
	_, err = m.Handle(Event{Type: EventConnected})
	require.NoError(t, err)
	snap, err := m.Handle(Event{Type: EventStartStream})
	require.NoError(t, err)
	require.Equal(t, StateStreaming, snap.State)
}

func TestMachineHappyPath(t *testing.T) {
	adapter := &mockAdapter{}
	m := newTestMachine(adapter)

	snap, err := m.Handle(Event{Type: EventStartScan})
	require.NoError(t, err)
	assert.Equal(t, StateScanning, snap.State)

	snap, err = m.Handle(Event{Type: EventDeviceFound, DeviceID: "AA:BB"})
	require.NoError(t, err)
	assert.Equal(t, StateScanning, snap.State)

	snap, err = m.Handle(Event{Type: EventConnect, DeviceID: "AA:BB"})
	require.NoError(t, err)
	assert.Equal(t, StateConnecting, snap.State)
	assert.Equal(t, DeviceID("AA:BB"), snap.DeviceID)

	snap, err = m.Handle(Event{Type: EventConnected})
	require.NoError(t, err)
	assert.Equal(t, StateConnected, snap.State)

	snap, err = m.Handle(Event{Type: EventStartStream})
	require.NoError(t, err)
	assert.Equal(t, StateStreaming, snap.State)
	assert.NotNil(t, m.Measurements())

	assert.Equal(t, 1, adapter.callCount("StartScan"))
	assert.Equal(t, 1, adapter.callCount("StopScan"))
	assert.Equal(t, 1, adapter.callCount("Subscribe"))
}

func TestMachineRejectsInvalidEvents(t *testing.T) {
	m := newTestMachine(&mockAdapter{})

	// StartStream while Idle is the canonical integration bug.
	snap, err := m.Handle(Event{Type: EventStartStream})
	var iterr *InvalidTransitionError
	require.ErrorAs(t, err, &iterr)
	assert.Equal(t, StateIdle, iterr.State)
	assert.Equal(t, EventStartStream, iterr.Event)
	assert.Equal(t, StateIdle, snap.State, "state must be untouched")

	_, err = m.Handle(Event{Type: EventConnected})
	assert.ErrorAs(t, err, &iterr)

	_, err = m.Handle(Event{Type: EventConnectionLost})
	assert.ErrorAs(t, err, &iterr)

	// Double StartScan is invalid too.
	_, err = m.Handle(Event{Type: EventStartScan})
	require.NoError(t, err)
	_, err = m.Handle(Event{Type: EventStartScan})
	assert.ErrorAs(t, err, &iterr)
}

func TestMachineConnectionLostEntersRetry(t *testing.T) {
	adapter := &mockAdapter{}
	m := newTestMachine(adapter)
	driveToStreaming(t, m)

	snap, err := m.Handle(Event{Type: EventConnectionLost, Reason: errors.New("link dropped")})
	require.Error(t, err)
	assert.Equal(t, StateScanning, snap.State)
	assert.Equal(t, 1, snap.RetryCount)
	assert.Nil(t, m.Measurements())
	assert.Equal(t, 1, adapter.cancelCount, "subscription released exactly once")

	// The backoff timer issues the rescan.
	assert.Eventually(t, func() bool {
		return adapter.callCount("StartScan") >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestMachineTerminalAfterRetryBudget(t *testing.T) {
	adapter := &mockAdapter{}
	m := newTestMachine(adapter)
	driveToStreaming(t, m)

	lost := errors.New("gone")
	snap, _ := m.Handle(Event{Type: EventConnectionLost, Reason: lost})
	require.Equal(t, StateScanning, snap.State)
	require.Equal(t, 1, snap.RetryCount)

	// Each rescan fails again until the budget is spent.
	for i := 2; i <= 3; i++ {
		snap, _ = m.Handle(Event{Type: EventLinkFailed, Reason: lost})
		require.Equal(t, StateScanning, snap.State, "retry %d", i)
		require.Equal(t, i, snap.RetryCount)
	}

	// Budget spent: the next failure is terminal.
	snap, _ = m.Handle(Event{Type: EventLinkFailed, Reason: lost})
	assert.Equal(t, StateDisconnected, snap.State)

	// Terminal state only accepts an explicit StartScan.
	var iterr *InvalidTransitionError
	_, err := m.Handle(Event{Type: EventConnectionLost})
	assert.ErrorAs(t, err, &iterr)

	snap, err = m.Handle(Event{Type: EventStartScan})
	require.NoError(t, err)
	assert.Equal(t, StateScanning, snap.State)
	assert.Equal(t, 0, snap.RetryCount, "explicit rescan resets the budget")
}

func TestMachineSuccessfulStreamResetsRetries(t *testing.T) {
	adapter := &mockAdapter{}
	m := newTestMachine(adapter)
	driveToStreaming(t, m)

	_, _ = m.Handle(Event{Type: EventConnectionLost, Reason: errors.New("blip")})
	require.Equal(t, 1, m.Snapshot().RetryCount)

	_, err := m.Handle(Event{Type: EventConnect, DeviceID: "AA:BB"})
	require.NoError(t, err)
	_, err = m.Handle(Event{Type: EventConnected})
	require.NoError(t, err)
	snap, err := m.Handle(Event{Type: EventStartStream})
	require.NoError(t, err)
	assert.Equal(t, StateStreaming, snap.State)
	assert.Equal(t, 0, snap.RetryCount)
}

func TestMachineDisconnectReleasesLink(t *testing.T) {
	adapter := &mockAdapter{}
	m := newTestMachine(adapter)
	driveToStreaming(t, m)

	snap, err := m.Handle(Event{Type: EventDisconnect})
	require.NoError(t, err)
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, 1, adapter.cancelCount)
	assert.GreaterOrEqual(t, adapter.callCount("Disconnect"), 1)
	assert.Nil(t, m.Measurements())
}

func TestMachineConnectFailureFeedsRetryPath(t *testing.T) {
	adapter := &mockAdapter{connectErr: Unreachable("connect", errors.New("no response"))}
	m := newTestMachine(adapter)

	_, err := m.Handle(Event{Type: EventStartScan})
	require.NoError(t, err)
	snap, err := m.Handle(Event{Type: EventConnect, DeviceID: "AA:BB"})
	require.Error(t, err)
	assert.True(t, IsUnreachable(err))
	assert.Equal(t, StateScanning, snap.State)
	assert.Equal(t, 1, snap.RetryCount)
}
