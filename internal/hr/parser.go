package hr

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Heart Rate Measurement characteristic flags (first payload byte).
const (
	flagBPM16Bit              = 0x01
	flagSensorContactDetected = 0x02
	flagSensorContactSupport  = 0x04
	flagEnergyExpended        = 0x08
	flagRRIntervals           = 0x10
)

// ParseError reports a malformed heart-rate payload. The sample is dropped
// and logged; a parse failure never tears down the connection.
type ParseError struct {
	Msg string
}

func (e *ParseError) Error() string {
	return e.Msg
}

func parseErrorf(format string, args ...any) *ParseError {
	return &ParseError{Msg: fmt.Sprintf(format, args...)}
}

// ParsePacket decodes one Heart Rate Measurement notification payload
// (GATT characteristic 0x2A37). The flags byte selects 8-bit or 16-bit
// BPM encoding and announces the optional fields; every announced field
// must actually be present or the packet is rejected.
func ParsePacket(data []byte) (RawMeasurement, error) {
	if len(data) < 2 {
		return RawMeasurement{}, parseErrorf("heart rate packet too short: %d bytes", len(data))
	}

	flags := data[0]
	offset := 1

	m := RawMeasurement{ReceivedAt: time.Now()}

	if flags&flagBPM16Bit != 0 {
		if len(data) < offset+2 {
			return RawMeasurement{}, parseErrorf("buffer too short for 16-bit heart rate at offset %d", offset)
		}
		bpm := binary.LittleEndian.Uint16(data[offset:])
		if bpm > 255 {
			return RawMeasurement{}, parseErrorf("heart rate %d outside plausible range [0, 255]", bpm)
		}
		m.BPM = bpm
		offset += 2
	} else {
		m.BPM = uint16(data[offset])
		offset++
	}

	if flags&flagSensorContactSupport != 0 {
		contact := flags&flagSensorContactDetected != 0
		m.SensorContact = &contact
	}

	if flags&flagEnergyExpended != 0 {
		if len(data) < offset+2 {
			return RawMeasurement{}, parseErrorf("buffer too short for energy expended at offset %d", offset)
		}
		energy := binary.LittleEndian.Uint16(data[offset:])
		m.EnergyExpended = &energy
		offset += 2
	}

	if flags&flagRRIntervals != 0 {
		rest := len(data) - offset
		if rest < 2 || rest%2 != 0 {
			return RawMeasurement{}, parseErrorf("buffer too short for RR intervals at offset %d (%d trailing bytes)", offset, rest)
		}
		m.RRIntervalsMS = make([]uint16, 0, rest/2)
		for ; offset < len(data); offset += 2 {
			m.RRIntervalsMS = append(m.RRIntervalsMS, binary.LittleEndian.Uint16(data[offset:]))
		}
	}

	return m, nil
}
