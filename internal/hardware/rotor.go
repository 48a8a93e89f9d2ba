package hardware

import (
	"fmt"
	"math"
	"sync"

	"periph.io/x/periph/conn/gpio"
)

// Rotor is a hobby servo on a PCA9685 channel that turns the dish in
// azimuth. Angles are relative to the servo center.
type Rotor struct {
	pwm PWM

	channel  int
	sweep    float64
	inverted bool

	// Offset is added to every commanded angle. Min and Max, when non-zero,
	// bound the result.
	Offset   float64
	Min, Max float64

	mx        sync.Mutex
	lastAngle float64
}

func NewRotor(pwm PWM, channel int, sweep float64, inverted bool) *Rotor {
	return &Rotor{pwm: pwm, channel: channel, sweep: sweep, inverted: inverted}
}

func clamp(v, min, max float64) float64 {
	return math.Min(math.Max(v, min), max)
}

// servoDuty converts an angle in [-sweep/2, sweep/2] to a 12-bit count:
// 2.5% .. 12.5% duty @ 50Hz = 500us-2500us.
func servoDuty(angle, sweep float64) gpio.Duty {
	duty := math.Min(0.025+(angle+(sweep/2))/sweep*.1, 0.125)
	return gpio.Duty(duty * 4096)
}

// SetAngle moves the servo and returns the clamped angle it was sent to via
// Angle.
func (r *Rotor) SetAngle(angle float64) error {
	if math.IsNaN(angle) || math.IsInf(angle, 0) {
		return fmt.Errorf("invalid rotor angle %v", angle)
	}
	r.mx.Lock()
	defer r.mx.Unlock()

	out := angle + r.Offset

	// allow setting boundaries
	if r.Max != 0 {
		out = math.Min(out, r.Max)
	}
	if r.Min != 0 {
		out = math.Max(out, r.Min)
	}

	out = clamp(out, -r.sweep/2, r.sweep/2) // clamp to +/- half the sweep angle

	hw := out
	if r.inverted {
		hw = -hw
	}
	if err := r.pwm.SetPwm(r.channel, 0, servoDuty(hw, r.sweep)); err != nil {
		return err
	}
	r.lastAngle = out - r.Offset
	return nil
}

// Angle returns the last angle the servo was moved to, without offset.
func (r *Rotor) Angle() float64 {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.lastAngle
}

func (r *Rotor) Center() error {
	return r.SetAngle(0)
}

// Sweep is the full travel of the servo in degrees.
func (r *Rotor) Sweep() float64 { return r.sweep }
