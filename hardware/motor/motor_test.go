package motor

import (
	"errors"
	"math"
	"testing"

	"go.viam.com/test"

	"motor-position-tuning/hardware"
)

type fakeDriver struct {
	duties   []float64
	enabled  bool
	disables int
	dutyErr  error
}

func (d *fakeDriver) SetDuty(duty float64) error {
	if d.dutyErr != nil {
		return d.dutyErr
	}
	d.duties = append(d.duties, duty)
	return nil
}

func (d *fakeDriver) Enable() error {
	d.enabled = true
	return nil
}

func (d *fakeDriver) Disable() error {
	d.enabled = false
	d.disables++
	return nil
}

func TestNewValidates(t *testing.T) {
	_, err := New(&fakeDriver{}, Config{SpeedScale: 0})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = New(&fakeDriver{}, Config{SpeedScale: math.Inf(1)})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = New(&fakeDriver{}, Config{SpeedScale: 1, Direction: 2})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = New(nil, Config{SpeedScale: 1})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSetSpeedScalesAndClamps(t *testing.T) {
	drv := &fakeDriver{}
	m, err := New(drv, Config{SpeedScale: 5.4})
	test.That(t, err, test.ShouldBeNil)

	test.That(t, m.SetSpeed(2.7), test.ShouldBeNil)
	test.That(t, drv.duties[0], test.ShouldAlmostEqual, 0.5)
	test.That(t, m.Speed(), test.ShouldAlmostEqual, 2.7)

	test.That(t, m.SetSpeed(12.6), test.ShouldBeNil)
	test.That(t, drv.duties[1], test.ShouldEqual, 1.0)
	test.That(t, m.Speed(), test.ShouldEqual, 5.4)

	test.That(t, m.SetSpeed(-100), test.ShouldBeNil)
	test.That(t, drv.duties[2], test.ShouldEqual, -1.0)
	test.That(t, m.Speed(), test.ShouldEqual, -5.4)

	test.That(t, m.SetSpeed(math.NaN()), test.ShouldNotBeNil)
	test.That(t, len(drv.duties), test.ShouldEqual, 3)
}

func TestReversedDirection(t *testing.T) {
	drv := &fakeDriver{}
	m, err := New(drv, Config{SpeedScale: 2, Direction: hardware.ReversedDir})
	test.That(t, err, test.ShouldBeNil)

	test.That(t, m.SetSpeed(1), test.ShouldBeNil)
	test.That(t, drv.duties[0], test.ShouldAlmostEqual, -0.5)
	// the reported speed stays in the caller's frame
	test.That(t, m.Speed(), test.ShouldAlmostEqual, 1.0)
}

func TestSetSpeedErrorKeepsLastSpeed(t *testing.T) {
	drv := &fakeDriver{}
	m, err := New(drv, Config{SpeedScale: 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.SetSpeed(0.25), test.ShouldBeNil)

	boom := errors.New("bridge fault")
	drv.dutyErr = boom
	err = m.SetSpeed(0.75)
	test.That(t, errors.Is(err, boom), test.ShouldBeTrue)
	test.That(t, m.Speed(), test.ShouldEqual, 0.25)
}

func TestEnableDisable(t *testing.T) {
	drv := &fakeDriver{}
	m, err := New(drv, Config{SpeedScale: 1})
	test.That(t, err, test.ShouldBeNil)

	test.That(t, m.Enable(), test.ShouldBeNil)
	test.That(t, m.IsEnabled(), test.ShouldBeTrue)
	test.That(t, drv.enabled, test.ShouldBeTrue)

	test.That(t, m.Disable(), test.ShouldBeNil)
	test.That(t, m.Disable(), test.ShouldBeNil)
	test.That(t, m.IsEnabled(), test.ShouldBeFalse)
	test.That(t, drv.disables, test.ShouldEqual, 2)
}
