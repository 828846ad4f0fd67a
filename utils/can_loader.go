package utils

import (
	"encoding/csv"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var requiredColumns = []string{
	"direction", "frame_id", "frame_name", "cycle_ms", "dlc",
	"signal_name", "start_bit", "bit_length", "endianness",
	"signed", "factor", "offset", "min", "max", "default", "unit", "comment",
}

// LoadCANMap reads a signal map CSV from disk.
func LoadCANMap(csvPath string) (*CANMap, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := ParseCANMap(f)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", csvPath)
	}
	return m, nil
}

// ParseCANMap parses a signal map: one row per signal, rows of the same frame_id form a frame.
func ParseCANMap(src io.Reader) (*CANMap, error) {
	r := csv.NewReader(src)
	r.TrimLeadingSpace = true
	r.Comment = '#'

	header, err := r.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	for _, k := range requiredColumns {
		if _, ok := idx[k]; !ok {
			return nil, errors.Errorf("can map missing required column: %q", k)
		}
	}

	m := &CANMap{
		ByID:   map[uint32]*FrameDef{},
		ByName: map[string]*FrameDef{},
	}

	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		row := csvRow{rec: rec, idx: idx}
		frameID, err := parseHexOrDecUint32(row.get("frame_id"))
		if err != nil {
			return nil, errors.Wrapf(err, "line %d: invalid frame_id %q", line, row.get("frame_id"))
		}
		frameName := row.get("frame_name")
		direction := row.get("direction")
		if direction != "tx" && direction != "rx" {
			return nil, errors.Errorf("line %d: direction must be tx or rx, got %q", line, direction)
		}

		cycleMS := row.getInt("cycle_ms")
		dlc := row.getInt("dlc")

		sig := SignalDef{
			Name:      row.get("signal_name"),
			StartBit:  row.getInt("start_bit"),
			BitLength: row.getInt("bit_length"),
			Signed:    row.getBool("signed"),
			Factor:    row.getFloat("factor"),
			Offset:    row.getFloat("offset"),
			Min:       row.getFloat("min"),
			Max:       row.getFloat("max"),
			Default:   row.getFloat("default"),
			Unit:      row.get("unit"),
			Comment:   row.get("comment"),
		}
		if row.err != nil {
			return nil, errors.Wrapf(row.err, "line %d", line)
		}

		if e := row.get("endianness"); e != "" && e != "little" {
			return nil, errors.Errorf("frame %s signal %s: unsupported endianness %q (only little supported)",
				frameName, sig.Name, e)
		}
		if sig.Factor == 0 {
			return nil, errors.Errorf("frame %s signal %s: factor must be non-zero", frameName, sig.Name)
		}
		if dlc <= 0 || dlc > 8 {
			return nil, errors.Errorf("frame %s (0x%X): invalid dlc %d", frameName, frameID, dlc)
		}
		if sig.BitLength <= 0 || sig.BitLength > 64 || sig.StartBit < 0 || sig.StartBit+sig.BitLength > dlc*8 {
			return nil, errors.Errorf("frame %s signal %s: bits [%d,+%d) do not fit dlc %d",
				frameName, sig.Name, sig.StartBit, sig.BitLength, dlc)
		}

		fd, ok := m.ByID[frameID]
		if !ok {
			fd = &FrameDef{
				ID:        frameID,
				Name:      frameName,
				DLC:       dlc,
				Direction: direction,
				CycleMS:   cycleMS,
			}
			m.ByID[frameID] = fd
			m.ByName[frameName] = fd
		}

		if fd.DLC != dlc {
			return nil, errors.Errorf("frame %s (0x%X) has inconsistent DLC (%d vs %d)", frameName, frameID, fd.DLC, dlc)
		}

		fd.Signals = append(fd.Signals, sig)
	}

	for _, fd := range m.ByID {
		sort.Slice(fd.Signals, func(i, j int) bool { return fd.Signals[i].StartBit < fd.Signals[j].StartBit })
	}

	return m, nil
}

func (m *CANMap) FrameByName(name string) (*FrameDef, error) {
	fd, ok := m.ByName[name]
	if !ok {
		return nil, errors.Errorf("unknown frame %q (available: %v)", name, m.FrameNames())
	}
	return fd, nil
}

func (m *CANMap) FrameByID(id uint32) (*FrameDef, error) {
	fd, ok := m.ByID[id]
	if !ok {
		return nil, errors.Errorf("unknown frame id 0x%X", id)
	}
	return fd, nil
}

func parseHexOrDecUint32(s string) (uint32, error) {
	ss := strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(ss, "0x") || strings.HasPrefix(ss, "0X") {
		base = 16
		ss = ss[2:]
	}
	u, err := strconv.ParseUint(ss, base, 32)
	if err != nil {
		return 0, err
	}
	return uint32(u), nil
}

// csvRow keeps the first conversion error so a record can be decoded field by field.
type csvRow struct {
	rec []string
	idx map[string]int
	err error
}

func (r *csvRow) get(col string) string {
	i := r.idx[col]
	if i >= len(r.rec) {
		return ""
	}
	return strings.TrimSpace(r.rec[i])
}

func (r *csvRow) getInt(col string) int {
	v, err := strconv.Atoi(r.get(col))
	if err != nil && r.err == nil {
		r.err = errors.Wrapf(err, "column %s", col)
	}
	return v
}

func (r *csvRow) getFloat(col string) float64 {
	v, err := strconv.ParseFloat(r.get(col), 64)
	if err != nil && r.err == nil {
		r.err = errors.Wrapf(err, "column %s", col)
	}
	return v
}

func (r *csvRow) getBool(col string) bool {
	ss := strings.ToLower(r.get(col))
	return ss == "true" || ss == "1" || ss == "yes"
}
