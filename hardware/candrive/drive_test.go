package candrive

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.einride.tech/can/pkg/socketcan"
	"go.viam.com/test"

	"motor-position-tuning/utils"
)

// fakeNode answers the drive protocol on the far end of a pipe.
type fakeNode struct {
	m          *utils.CANMap
	count      int64
	ageUS      float64
	staleFirst bool
	silent     bool
	cmds       chan map[string]float64
}

func (n *fakeNode) serve(conn net.Conn) {
	rx := socketcan.NewReceiver(conn)
	tx := socketcan.NewTransmitter(conn)
	for rx.Receive() {
		f := rx.Frame()
		fd, err := n.m.FrameByID(f.ID)
		if err != nil {
			continue
		}
		v, err := n.m.DecodeFrame(f)
		if err != nil {
			continue
		}
		switch fd.Name {
		case FrameMotorCmd:
			n.cmds <- v
		case FrameEncoderReq:
			if n.silent {
				continue
			}
			if n.staleFirst {
				n.reply(tx, float64(uint8(v["seq"])-1), n.count-100)
			}
			n.reply(tx, v["seq"], n.count)
		}
	}
}

func (n *fakeNode) reply(tx *socketcan.Transmitter, seq float64, count int64) {
	f, err := n.m.EncodeFrame(FrameEncoderState, map[string]float64{
		"seq":         seq,
		"count":       float64(count),
		"edge_age_us": n.ageUS,
	})
	if err != nil {
		panic(err)
	}
	_ = tx.TransmitFrame(context.Background(), f)
}

func setup(t *testing.T, node *fakeNode) (*Drive, *clock.Mock) {
	t.Helper()
	m, err := utils.LoadCANMap("../../config/can/motor_map.csv")
	test.That(t, err, test.ShouldBeNil)
	node.m = m
	node.cmds = make(chan map[string]float64, 16)

	host, remote := net.Pipe()
	go node.serve(remote)
	t.Cleanup(func() {
		host.Close()
		remote.Close()
	})

	mock := clock.NewMock()
	mock.Set(time.Unix(1000, 0))
	d, err := New(utils.NewSocketCANConn(host), m, mock, 100*time.Millisecond)
	test.That(t, err, test.ShouldBeNil)
	return d, mock
}

func nextCmd(t *testing.T, node *fakeNode) map[string]float64 {
	t.Helper()
	select {
	case v := <-node.cmds:
		return v
	case <-time.After(time.Second):
		t.Fatal("no MOTOR_CMD received")
		return nil
	}
}

func TestDriveRead(t *testing.T) {
	node := &fakeNode{count: -1234, ageUS: 1500}
	d, mock := setup(t, node)

	raw, err := d.Read()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, raw.Count, test.ShouldEqual, int64(-1234))
	test.That(t, raw.Now, test.ShouldEqual, mock.Now())
	test.That(t, raw.Now.Sub(raw.LastEdge), test.ShouldEqual, 1500*time.Microsecond)

	// sequence numbers advance per request
	raw, err = d.Read()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, raw.Count, test.ShouldEqual, int64(-1234))
	test.That(t, d.Stale(), test.ShouldEqual, 0)
}

func TestDriveReadSkipsStaleReplies(t *testing.T) {
	node := &fakeNode{count: 42, staleFirst: true}
	d, _ := setup(t, node)

	raw, err := d.Read()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, raw.Count, test.ShouldEqual, int64(42))
	test.That(t, d.Stale(), test.ShouldEqual, 1)
}

func TestDriveReadTimeout(t *testing.T) {
	node := &fakeNode{silent: true}
	d, _ := setup(t, node)

	_, err := d.Read()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, FrameEncoderState)
}

func TestDriveCommands(t *testing.T) {
	node := &fakeNode{}
	d, _ := setup(t, node)

	test.That(t, d.SetDuty(0.5), test.ShouldBeNil)
	v := nextCmd(t, node)
	test.That(t, v["enable"], test.ShouldEqual, 0.0)
	test.That(t, v["duty"], test.ShouldAlmostEqual, 0.5, 1e-9)

	test.That(t, d.Enable(), test.ShouldBeNil)
	v = nextCmd(t, node)
	test.That(t, v["enable"], test.ShouldEqual, 1.0)
	test.That(t, v["duty"], test.ShouldAlmostEqual, 0.5, 1e-9)

	test.That(t, d.SetDuty(-0.25), test.ShouldBeNil)
	v = nextCmd(t, node)
	test.That(t, v["duty"], test.ShouldAlmostEqual, -0.25, 1e-9)

	test.That(t, d.SetDuty(1.5), test.ShouldNotBeNil)

	test.That(t, d.Disable(), test.ShouldBeNil)
	v = nextCmd(t, node)
	test.That(t, v["enable"], test.ShouldEqual, 0.0)
	test.That(t, v["duty"], test.ShouldEqual, 0.0)
}

func TestNewRejectsIncompleteMap(t *testing.T) {
	m, err := utils.ParseCANMap(strings.NewReader(
		"direction,frame_id,frame_name,cycle_ms,dlc,signal_name,start_bit,bit_length,endianness,signed,factor,offset,min,max,default,unit,comment\n" +
			"tx,0x210,MOTOR_CMD,10,3,enable,0,1,little,false,1,0,0,1,0,,\n"))
	test.That(t, err, test.ShouldBeNil)
	_, err = New(utils.NewSocketCANConn(nil), m, clock.NewMock(), time.Second)
	test.That(t, err, test.ShouldNotBeNil)
}
