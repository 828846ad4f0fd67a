package utils

import (
	"math"

	"github.com/pkg/errors"
	"go.einride.tech/can"
)

// EncodeFrame packs physical signal values into a frame. Signals missing from values use
// their default; every value is clamped to the signal's [min, max] before scaling.
func (m *CANMap) EncodeFrame(frameName string, values map[string]float64) (can.Frame, error) {
	fd, err := m.FrameByName(frameName)
	if err != nil {
		return can.Frame{}, err
	}

	f := can.Frame{ID: fd.ID, Length: uint8(fd.DLC)}
	for _, s := range fd.Signals {
		v, ok := values[s.Name]
		if !ok {
			v = s.Default
		}
		if math.IsNaN(v) {
			return can.Frame{}, errors.Errorf("frame %s signal %s: value is NaN", fd.Name, s.Name)
		}

		raw := int64(math.Round((clamp(v, s.Min, s.Max) - s.Offset) / s.Factor))
		raw = clampRaw(raw, s.BitLength, s.Signed)

		start, length := uint8(s.StartBit), uint8(s.BitLength)
		if s.Signed {
			f.Data.SetSignedBitsLittleEndian(start, length, raw)
		} else {
			f.Data.SetUnsignedBitsLittleEndian(start, length, uint64(raw))
		}
	}
	return f, nil
}

// DecodeFrame unpacks every signal of a known frame into physical values.
func (m *CANMap) DecodeFrame(frame can.Frame) (map[string]float64, error) {
	fd, err := m.FrameByID(frame.ID)
	if err != nil {
		return nil, err
	}
	if int(frame.Length) < fd.DLC {
		return nil, errors.Errorf("frame 0x%X expects DLC %d, got %d", frame.ID, fd.DLC, frame.Length)
	}

	out := make(map[string]float64, len(fd.Signals))
	for _, s := range fd.Signals {
		start, length := uint8(s.StartBit), uint8(s.BitLength)
		var raw int64
		if s.Signed {
			raw = frame.Data.SignedBitsLittleEndian(start, length)
		} else {
			raw = int64(frame.Data.UnsignedBitsLittleEndian(start, length))
		}
		out[s.Name] = float64(raw)*s.Factor + s.Offset
	}
	return out, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampRaw(raw int64, bitLen int, signed bool) int64 {
	if bitLen <= 0 || bitLen > 63 {
		return raw
	}
	if !signed {
		max := int64((1 << bitLen) - 1)
		if raw < 0 {
			return 0
		}
		if raw > max {
			return max
		}
		return raw
	}
	min := -int64(1 << (bitLen - 1))
	max := int64((1 << (bitLen - 1)) - 1)
	if raw < min {
		return min
	}
	if raw > max {
		return max
	}
	return raw
}
