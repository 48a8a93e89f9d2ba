package hardware

import (
	"fmt"
	"sync"

	"periph.io/x/periph/conn/gpio"
)

// Direction of the elevation actuator.
type Direction int

const (
	Hold Direction = 0
	Up   Direction = 1
	Down Direction = -1
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	}
	return "hold"
}

const pwmMax gpio.Duty = 4095

// Actuator drives a DC linear actuator through an H-bridge: one PWM channel
// sets the speed, two channels select the direction.
type Actuator struct {
	pwm PWM

	speedCh, upCh, downCh int

	mx      sync.Mutex
	ceiling int
	dir     Direction
	speed   int
}

// NewActuator returns a stopped actuator. ceiling caps every requested speed.
func NewActuator(pwm PWM, speedCh, upCh, downCh, ceiling int) *Actuator {
	return &Actuator{pwm: pwm, speedCh: speedCh, upCh: upCh, downCh: downCh, ceiling: ceiling}
}

// SetCeiling changes the highest speed Drive will use.
func (a *Actuator) SetCeiling(ceiling int) {
	a.mx.Lock()
	a.ceiling = ceiling
	a.mx.Unlock()
}

// Drive moves the actuator. speed is clamped to 0..ceiling; a zero speed or
// Hold stops it.
func (a *Actuator) Drive(dir Direction, speed int) error {
	a.mx.Lock()
	defer a.mx.Unlock()

	if speed > a.ceiling {
		speed = a.ceiling
	}
	if speed < 0 {
		speed = 0
	}
	if dir == Hold || speed == 0 {
		return a.stopLocked()
	}

	// Release the opposite side before energising, never both at once.
	var on, off int
	switch dir {
	case Up:
		on, off = a.upCh, a.downCh
	case Down:
		on, off = a.downCh, a.upCh
	default:
		return fmt.Errorf("invalid direction %d", int(dir))
	}
	if err := a.pwm.SetPwm(off, 0, 0); err != nil {
		return err
	}
	if err := a.pwm.SetPwm(on, 0, pwmMax); err != nil {
		return err
	}
	if err := a.pwm.SetPwm(a.speedCh, 0, gpio.Duty(speed)); err != nil {
		return err
	}
	a.dir, a.speed = dir, speed
	return nil
}

func (a *Actuator) Stop() error {
	a.mx.Lock()
	defer a.mx.Unlock()
	return a.stopLocked()
}

func (a *Actuator) stopLocked() error {
	var firstErr error
	for _, ch := range []int{a.speedCh, a.upCh, a.downCh} {
		if err := a.pwm.SetPwm(ch, 0, 0); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.dir, a.speed = Hold, 0
	return firstErr
}

// State returns the current direction and speed.
func (a *Actuator) State() (Direction, int) {
	a.mx.Lock()
	defer a.mx.Unlock()
	return a.dir, a.speed
}
