package hr

import "time"

// LowBatteryThresholdPercent is the level below which a battery warning
// fires.
const LowBatteryThresholdPercent = 15

// BatteryLevel is one battery reading from the sensor's Battery Service.
type BatteryLevel struct {
	// Percent is nil when the sensor does not report battery level or it
	// has not been read yet.
	Percent  *uint8
	Charging bool
	ReadAt   time.Time
}

// IsLow reports whether the level is known and below the warning
// threshold. An unknown level is never low.
func (b BatteryLevel) IsLow() bool {
	return b.Percent != nil && *b.Percent < LowBatteryThresholdPercent
}

// ParseBatteryLevel decodes a Battery Level characteristic read (0x2A19):
// a single byte holding 0-100 percent.
func ParseBatteryLevel(data []byte, readAt time.Time) (BatteryLevel, error) {
	if len(data) < 1 {
		return BatteryLevel{}, parseErrorf("battery level payload is empty")
	}
	pct := data[0]
	if pct > 100 {
		return BatteryLevel{}, parseErrorf("battery level %d outside [0, 100]", pct)
	}
	return BatteryLevel{Percent: &pct, ReadAt: readAt}, nil
}
