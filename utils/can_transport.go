package utils

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

type CANWriter interface {
	WriteFrame(ctx context.Context, frame can.Frame) error
	Close() error
}

// CANReader receives frames synchronously; a zero deadline blocks until a frame arrives.
type CANReader interface {
	ReadFrame(deadline time.Time) (can.Frame, error)
	Close() error
}

// SocketCANConn is a CANWriter and CANReader sharing one socket.
type SocketCANConn struct {
	conn net.Conn
	tx   *socketcan.Transmitter
	rx   *socketcan.Receiver
}

// DialSocketCAN opens a raw CAN socket on the given interface, e.g. "can0" or "vcan0".
func DialSocketCAN(ctx context.Context, iface string) (*SocketCANConn, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, errors.Wrap(err, "socketcan dial")
	}
	return NewSocketCANConn(conn), nil
}

// NewSocketCANConn wraps an already connected socket.
func NewSocketCANConn(conn net.Conn) *SocketCANConn {
	return &SocketCANConn{
		conn: conn,
		tx:   socketcan.NewTransmitter(conn),
		rx:   socketcan.NewReceiver(conn),
	}
}

func (c *SocketCANConn) WriteFrame(ctx context.Context, frame can.Frame) error {
	return c.tx.TransmitFrame(ctx, frame)
}

func (c *SocketCANConn) ReadFrame(deadline time.Time) (can.Frame, error) {
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return can.Frame{}, errors.Wrap(err, "set read deadline")
	}
	if c.rx.Receive() {
		if c.rx.HasErrorFrame() {
			return can.Frame{}, errors.Errorf("bus error frame: %+v", c.rx.ErrorFrame())
		}
		return c.rx.Frame(), nil
	}
	if err := c.rx.Err(); err != nil {
		// the receiver keeps its first error, so start a fresh one for the next call
		c.rx = socketcan.NewReceiver(c.conn)
		return can.Frame{}, errors.Wrap(err, "receive")
	}
	return can.Frame{}, errors.New("receive: socket closed")
}

func (c *SocketCANConn) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
