package sim

import (
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsecoach/pulse-coach-app/internal/hr"
	"github.com/pulsecoach/pulse-coach-app/internal/link"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr, "test: ", log.LstdFlags)
}

func newConnected(t *testing.T) *Adapter {
	t.Helper()
	a := NewAdapter(testLogger(), Config{Interval: 10 * time.Millisecond, StartBPM: 120})
	require.NoError(t, a.StartScan())
	devices := a.DiscoveredDevices()
	require.Len(t, devices, 1)
	require.NoError(t, a.Connect(devices[0].ID))
	return a
}

func TestAdapterStreamsParseablePackets(t *testing.T) {
	a := newConnected(t)
	defer a.Disconnect()

	ch, cancel, err := a.SubscribeMeasurements()
	require.NoError(t, err)
	defer cancel()

	select {
	case payload := <-ch:
		m, err := hr.ParsePacket(payload)
		require.NoError(t, err)
		assert.Equal(t, uint16(120), m.BPM)
		require.Len(t, m.RRIntervalsMS, 1)
		assert.InDelta(t, 500, int(m.RRIntervalsMS[0]), 10)
	case <-time.After(time.Second):
		t.Fatal("no packet delivered")
	}
}

func TestAdapterMutedStreamGoesSilent(t *testing.T) {
	a := newConnected(t)
	defer a.Disconnect()

	ch, cancel, err := a.SubscribeMeasurements()
	require.NoError(t, err)
	defer cancel()

	a.SetMuted(true)
	// Drain anything queued before the mute took effect.
	deadline := time.After(100 * time.Millisecond)
drain:
	for {
		select {
		case <-ch:
		case <-deadline:
			break drain
		}
	}

	select {
	case <-ch:
		t.Fatal("received packet while muted")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAdapterRejectsUnknownDevice(t *testing.T) {
	a := NewAdapter(testLogger(), Config{})
	err := a.Connect("NOT:A:DEVICE")
	assert.True(t, link.IsUnreachable(err))
}

func TestAdapterSubscribeRequiresConnection(t *testing.T) {
	a := NewAdapter(testLogger(), Config{})
	_, _, err := a.SubscribeMeasurements()
	assert.True(t, link.IsUnreachable(err))
}

func TestAdapterBatteryRead(t *testing.T) {
	a := newConnected(t)
	defer a.Disconnect()

	a.SetBattery(42)
	data, err := a.ReadCharacteristic(link.ServiceUUIDBattery, link.CharUUIDBatteryLevel)
	require.NoError(t, err)
	level, err := hr.ParseBatteryLevel(data, time.Now())
	require.NoError(t, err)
	assert.Equal(t, uint8(42), *level.Percent)

	_, err = a.ReadCharacteristic(link.ServiceUUIDHeartRate, link.CharUUIDHeartRateMeasurement)
	assert.True(t, link.IsUnsupported(err))
}

func TestAdapterCancelIsIdempotent(t *testing.T) {
	a := newConnected(t)
	defer a.Disconnect()

	_, cancel, err := a.SubscribeMeasurements()
	require.NoError(t, err)
	cancel()
	cancel() // must not panic on double release
}
