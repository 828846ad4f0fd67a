package utils

import "sort"

// SignalDef describes one little-endian signal packed into a CAN frame.
type SignalDef struct {
	Name      string
	StartBit  int
	BitLength int
	Signed    bool
	Factor    float64
	Offset    float64
	Min       float64
	Max       float64
	Default   float64
	Unit      string
	Comment   string
}

// FrameDef groups the signals sharing one CAN identifier.
// Direction is relative to this host: "tx" frames are sent to the drive, "rx" frames come back.
type FrameDef struct {
	ID        uint32
	Name      string
	DLC       int
	Direction string
	CycleMS   int
	Signals   []SignalDef
}

// Signal looks up a signal of the frame by name.
func (fd *FrameDef) Signal(name string) (SignalDef, bool) {
	for _, s := range fd.Signals {
		if s.Name == name {
			return s, true
		}
	}
	return SignalDef{}, false
}

type CANMap struct {
	ByID   map[uint32]*FrameDef
	ByName map[string]*FrameDef
}

func (m *CANMap) FrameNames() []string {
	out := make([]string, 0, len(m.ByName))
	for k := range m.ByName {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
