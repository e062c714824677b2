package hr

import "time"

// RawMeasurement is one decoded heart-rate notification payload. Created
// once per notification and treated as immutable afterwards.
type RawMeasurement struct {
	// BPM is the instantaneous heart rate. The wire format allows 16-bit
	// values but anything above 255 is rejected at parse time.
	BPM uint16

	// RRIntervalsMS holds the beat-to-beat intervals in milliseconds, in
	// wire order. Usually 0-3 entries per notification.
	RRIntervalsMS []uint16

	// SensorContact is nil when the sensor does not report contact
	// status.
	SensorContact *bool

	// EnergyExpended is nil unless the sensor includes the cumulative
	// energy field (kilojoules).
	EnergyExpended *uint16

	ReceivedAt time.Time
}

// FilteredMeasurement is the per-sample output of the processing pipeline.
// It crosses the core/UI boundary on every sample, so it stays small and
// copyable.
type FilteredMeasurement struct {
	RawBPM         uint16
	FilteredBPM    float64
	FilterVariance float64

	// RMSSD is nil until the RR window holds enough intervals for a
	// meaningful value.
	RMSSD *float64

	ReceivedAt time.Time
}
