package control

import (
	"testing"

	"go.viam.com/test"
)

func TestSchedulerFlipsEveryWindow(t *testing.T) {
	pid := newPID(t, PIDConfig{Kp: 1})
	s, err := NewScheduler(pid, 90, 200, 0.01, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pid.Setpoint, test.ShouldEqual, 90.0)

	var flips []int
	setpoints := map[float64]int{}
	for i := 1; i <= 1200; i++ {
		setpoints[pid.Setpoint]++
		if s.Advance() {
			flips = append(flips, i)
		}
	}
	test.That(t, flips, test.ShouldResemble, []int{200, 400, 600, 800, 1000, 1200})
	test.That(t, setpoints, test.ShouldResemble, map[float64]int{90: 600, -90: 600})
	test.That(t, pid.Setpoint, test.ShouldEqual, 90.0)
}

func TestSchedulerWindowTick(t *testing.T) {
	pid := newPID(t, PIDConfig{Kp: 1})
	s, err := NewScheduler(pid, 45, 3, 0.5, false)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, s.WindowTick(), test.ShouldEqual, 0)
	s.Advance()
	test.That(t, s.WindowTick(), test.ShouldEqual, 1)
	test.That(t, s.Elapsed(), test.ShouldEqual, 0.5)
	s.Advance()
	test.That(t, s.Advance(), test.ShouldBeTrue)
	test.That(t, s.WindowTick(), test.ShouldEqual, 0)
	test.That(t, s.Elapsed(), test.ShouldEqual, 0.0)
	test.That(t, pid.Setpoint, test.ShouldEqual, -45.0)
}

func TestSchedulerResetOnChange(t *testing.T) {
	for _, reset := range []bool{false, true} {
		pid := newPID(t, PIDConfig{Ki: 1})
		s, err := NewScheduler(pid, 90, 2, 0.01, reset)
		test.That(t, err, test.ShouldBeNil)
		pid.Calculate(0, 0)
		s.Advance()
		pid.Calculate(0, 0)
		test.That(t, s.Advance(), test.ShouldBeTrue)
		if reset {
			test.That(t, pid.GetIntegral(), test.ShouldEqual, 0.0)
		} else {
			test.That(t, pid.GetIntegral(), test.ShouldAlmostEqual, 1.8)
		}
	}
}

func TestNewSchedulerValidates(t *testing.T) {
	_, err := NewScheduler(nil, 90, 200, 0.01, false)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewScheduler(newPID(t, PIDConfig{}), 90, 0, 0.01, false)
	test.That(t, err, test.ShouldNotBeNil)
}
