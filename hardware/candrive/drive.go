// Package candrive talks to a motor drive node over CAN: duty commands go out as MOTOR_CMD,
// encoder state is polled with ENCODER_REQ and answered by ENCODER_STATE.
package candrive

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.einride.tech/can"

	"motor-position-tuning/hardware/encoder"
	"motor-position-tuning/utils"
)

const (
	FrameMotorCmd     = "MOTOR_CMD"
	FrameEncoderReq   = "ENCODER_REQ"
	FrameEncoderState = "ENCODER_STATE"
)

// Conn is a bidirectional CAN connection such as utils.SocketCANConn.
type Conn interface {
	WriteFrame(ctx context.Context, frame can.Frame) error
	ReadFrame(deadline time.Time) (can.Frame, error)
	Close() error
}

var requiredSignals = map[string][]string{
	FrameMotorCmd:     {"enable", "duty"},
	FrameEncoderReq:   {"seq"},
	FrameEncoderState: {"seq", "count", "edge_age_us"},
}

// Drive implements both motor.Driver and encoder.Counter for a remote drive node.
type Drive struct {
	conn    Conn
	canMap  *utils.CANMap
	clk     clock.Clock
	timeout time.Duration
	stateID uint32

	mu      sync.Mutex
	seq     uint8
	duty    float64
	enabled bool
	stale   int
}

// New checks the map carries every frame and signal the drive protocol needs.
func New(conn Conn, canMap *utils.CANMap, clk clock.Clock, replyTimeout time.Duration) (*Drive, error) {
	if conn == nil || canMap == nil {
		return nil, errors.New("candrive needs a connection and a signal map")
	}
	if replyTimeout <= 0 {
		return nil, errors.Errorf("reply timeout must be positive, got %v", replyTimeout)
	}
	for frame, signals := range requiredSignals {
		fd, err := canMap.FrameByName(frame)
		if err != nil {
			return nil, err
		}
		for _, s := range signals {
			if _, ok := fd.Signal(s); !ok {
				return nil, errors.Errorf("frame %s has no signal %q", frame, s)
			}
		}
	}
	state, _ := canMap.FrameByName(FrameEncoderState)
	return &Drive{
		conn:    conn,
		canMap:  canMap,
		clk:     clk,
		timeout: replyTimeout,
		stateID: state.ID,
	}, nil
}

// SetDuty sends the new duty with the current enable state.
func (d *Drive) SetDuty(duty float64) error {
	if duty < -1 || duty > 1 {
		return errors.Errorf("duty %v out of range [-1, 1]", duty)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.sendCommand(d.enabled, duty); err != nil {
		return err
	}
	d.duty = duty
	return nil
}

func (d *Drive) Enable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.sendCommand(true, d.duty); err != nil {
		return err
	}
	d.enabled = true
	return nil
}

// Disable always sends a zero-duty command, even if the drive is believed to be disabled.
func (d *Drive) Disable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = false
	d.duty = 0
	return d.sendCommand(false, 0)
}

func (d *Drive) sendCommand(enable bool, duty float64) error {
	en := 0.0
	if enable {
		en = 1
	}
	f, err := d.canMap.EncodeFrame(FrameMotorCmd, map[string]float64{"enable": en, "duty": duty})
	if err != nil {
		return err
	}
	return d.write(f)
}

func (d *Drive) write(f can.Frame) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.conn.WriteFrame(ctx, f); err != nil {
		return errors.Wrapf(err, "send 0x%X", f.ID)
	}
	return nil
}

// Read polls the node for its encoder state. Replies carrying an older sequence number are
// dropped, as are unrelated frames.
func (d *Drive) Read() (encoder.RawCapture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.seq++
	seq := d.seq
	req, err := d.canMap.EncodeFrame(FrameEncoderReq, map[string]float64{"seq": float64(seq)})
	if err != nil {
		return encoder.RawCapture{}, err
	}
	if err := d.write(req); err != nil {
		return encoder.RawCapture{}, err
	}

	// socket deadlines are wall-clock
	deadline := time.Now().Add(d.timeout)
	for {
		f, err := d.conn.ReadFrame(deadline)
		if err != nil {
			return encoder.RawCapture{}, errors.Wrapf(err, "waiting for %s seq %d", FrameEncoderState, seq)
		}
		if f.ID != d.stateID {
			continue
		}
		v, err := d.canMap.DecodeFrame(f)
		if err != nil {
			return encoder.RawCapture{}, err
		}
		if uint8(v["seq"]) != seq {
			d.stale++
			continue
		}
		now := d.clk.Now()
		age := time.Duration(v["edge_age_us"]) * time.Microsecond
		return encoder.RawCapture{
			Count:    int64(v["count"]),
			LastEdge: now.Add(-age),
			Now:      now,
		}, nil
	}
}

// Stale reports how many out-of-sequence ENCODER_STATE replies were dropped.
func (d *Drive) Stale() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stale
}

func (d *Drive) Close() error {
	return d.conn.Close()
}
