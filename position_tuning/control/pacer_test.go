package control

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"
)

func TestPacerRejectsZeroPeriod(t *testing.T) {
	_, err := NewFixedRatePacer(clock.NewMock(), 0)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPacerSleepsRemainderOfPeriod(t *testing.T) {
	mock := clock.NewMock()
	p, err := NewFixedRatePacer(mock, 10*time.Millisecond)
	test.That(t, err, test.ShouldBeNil)

	start := mock.Now()
	p.Start()
	// 4ms of work inside the tick
	mock.Add(4 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- p.Wait(context.Background()) }()

	var waitErr error
	for finished := false; !finished; {
		time.Sleep(time.Millisecond)
		select {
		case waitErr = <-done:
			finished = true
		default:
			test.That(t, mock.Now().Sub(start), test.ShouldBeLessThan, 20*time.Millisecond)
			mock.Add(time.Millisecond)
		}
	}
	test.That(t, waitErr, test.ShouldBeNil)
	elapsed := mock.Now().Sub(start)
	test.That(t, elapsed, test.ShouldBeGreaterThanOrEqualTo, 10*time.Millisecond)
	test.That(t, elapsed, test.ShouldBeLessThan, 13*time.Millisecond)

	n, _ := p.Overruns()
	test.That(t, n, test.ShouldEqual, 0)
}

func TestPacerOverrunReanchors(t *testing.T) {
	mock := clock.NewMock()
	p, err := NewFixedRatePacer(mock, 10*time.Millisecond)
	test.That(t, err, test.ShouldBeNil)

	p.Start()
	mock.Add(25 * time.Millisecond)
	test.That(t, p.Wait(context.Background()), test.ShouldBeNil)

	n, worst := p.Overruns()
	test.That(t, n, test.ShouldEqual, 1)
	test.That(t, worst, test.ShouldEqual, 15*time.Millisecond)

	// the next deadline is one period after the overrun: 35ms, missed by 2ms
	mock.Add(12 * time.Millisecond)
	test.That(t, p.Wait(context.Background()), test.ShouldBeNil)
	n, worst = p.Overruns()
	test.That(t, n, test.ShouldEqual, 2)
	test.That(t, worst, test.ShouldEqual, 15*time.Millisecond)
}

func TestPacerCanceled(t *testing.T) {
	mock := clock.NewMock()
	p, err := NewFixedRatePacer(mock, 10*time.Millisecond)
	test.That(t, err, test.ShouldBeNil)
	p.Start()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	test.That(t, p.Wait(ctx), test.ShouldEqual, context.Canceled)
}
