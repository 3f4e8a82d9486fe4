package heartrate

import (
	"encoding/binary"
	"errors"

	pkgerrors "github.com/pkg/errors"
)

// Heart Rate Service and Heart Rate Measurement characteristic, as assigned by the
// Bluetooth SIG.
const (
	ServiceUUID     = "180d"
	MeasurementUUID = "2a37"
)

var ErrMalformedMeasurement = errors.New("malformed measurement")

// Flags field of the Heart Rate Measurement characteristic.
//
//	| 0x10 | 0x08 | 0x04 0x02 | 0x01 |
//	|  rr  | nrg  | scs  cnt  | fmt  |
const (
	flagValueFormatUint16   = 0b00000001
	flagContactDetected     = 0b00000010
	flagContactSupported    = 0b00000100
	flagEnergyExpended      = 0b00001000
	flagRRIntervalsIncluded = 0b00010000
)

// Decode parses one Heart Rate Measurement notification. Energy expended and RR intervals
// are ignored. The returned reading carries no timestamp; callers assign it.
func Decode(data []byte) (r Reading, err error) {
	if len(data) == 0 {
		return r, pkgerrors.Wrap(ErrMalformedMeasurement, "empty notification")
	}

	flags := data[0]

	if flags&flagValueFormatUint16 != 0 {
		if len(data) < 3 {
			return r, pkgerrors.Wrapf(ErrMalformedMeasurement,
				"16-bit value flagged but got %d bytes (%x)", len(data), data)
		}

		r.Value = binary.LittleEndian.Uint16(data[1:3])
	} else {
		if len(data) < 2 {
			return r, pkgerrors.Wrapf(ErrMalformedMeasurement,
				"8-bit value flagged but got %d bytes (%x)", len(data), data)
		}

		r.Value = uint16(data[1])
	}

	if flags&flagContactSupported != 0 {
		detected := flags&flagContactDetected != 0
		r.SensorContactDetected = &detected
	}

	return r, nil
}
