package gpio

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"periph.io/x/conn/v3/gpio"

	"motor-position-tuning/hardware/encoder"
)

// edgePoll bounds how long a watcher blocks before checking for Close.
const edgePoll = 100 * time.Millisecond

// State transition table, indexed by prev<<2 | next with state = A | B<<1.
//
//	prev\next  00  01  10  11
//	   00       0  -1  +1   x
//	   01      +1   0   x  -1
//	   10      -1   x   0  +1
//	   11       x  +1  -1   0
//
// x marks a skipped state (both lines changed between reads); it is counted, not applied.
var (
	transitions = [16]int64{0, -1, 1, 0, 1, 0, 0, -1, -1, 0, 0, 1, 0, 1, -1, 0}
	skipped     = [16]bool{3: true, 6: true, 9: true, 12: true}
)

// QuadratureCounter decodes A/B edges in software and counts every transition.
type QuadratureCounter struct {
	a, b gpio.PinIn
	clk  clock.Clock

	mu    sync.Mutex
	state int

	count    atomic.Int64
	lastEdge atomic.Int64 // unix nanoseconds
	skips    atomic.Uint64
	closed   atomic.Bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewQuadratureCounter looks up both encoder pins by name.
func NewQuadratureCounter(aPin, bPin string, clk clock.Clock) (*QuadratureCounter, error) {
	a, err := pinByName(aPin)
	if err != nil {
		return nil, errors.Wrap(err, "encoder a pin")
	}
	b, err := pinByName(bPin)
	if err != nil {
		return nil, errors.Wrap(err, "encoder b pin")
	}
	return NewQuadratureCounterFromPins(a, b, clk)
}

// NewQuadratureCounterFromPins configures both pins for edge detection and starts watching them.
func NewQuadratureCounterFromPins(a, b gpio.PinIn, clk clock.Clock) (*QuadratureCounter, error) {
	for _, p := range []gpio.PinIn{a, b} {
		if err := p.In(gpio.PullUp, gpio.BothEdges); err != nil {
			return nil, errors.Wrapf(err, "%s", p)
		}
	}
	q := &QuadratureCounter{a: a, b: b, clk: clk, stop: make(chan struct{})}
	q.state = q.levels()
	q.lastEdge.Store(clk.Now().UnixNano())

	q.wg.Add(2)
	go q.watch(a)
	go q.watch(b)
	return q, nil
}

func (q *QuadratureCounter) levels() int {
	s := 0
	if q.a.Read() == gpio.High {
		s |= 1
	}
	if q.b.Read() == gpio.High {
		s |= 2
	}
	return s
}

func (q *QuadratureCounter) watch(p gpio.PinIn) {
	defer q.wg.Done()
	for {
		select {
		case <-q.stop:
			return
		default:
		}
		if p.WaitForEdge(edgePoll) {
			q.update()
		}
	}
}

func (q *QuadratureCounter) update() {
	q.mu.Lock()
	defer q.mu.Unlock()

	next := q.levels()
	idx := q.state<<2 | next
	q.state = next
	if skipped[idx] {
		q.skips.Inc()
		return
	}
	if d := transitions[idx]; d != 0 {
		q.count.Add(d)
		q.lastEdge.Store(q.clk.Now().UnixNano())
	}
}

// Read implements encoder.Counter.
func (q *QuadratureCounter) Read() (encoder.RawCapture, error) {
	if q.closed.Load() {
		return encoder.RawCapture{}, errors.New("quadrature counter closed")
	}
	return encoder.RawCapture{
		Count:    q.count.Load(),
		LastEdge: time.Unix(0, q.lastEdge.Load()),
		Now:      q.clk.Now(),
	}, nil
}

// Skipped reports how many transitions jumped a state and were dropped.
func (q *QuadratureCounter) Skipped() uint64 {
	return q.skips.Load()
}

// Close stops both watchers.
func (q *QuadratureCounter) Close() error {
	if q.closed.Swap(true) {
		return nil
	}
	close(q.stop)
	q.wg.Wait()
	return nil
}
