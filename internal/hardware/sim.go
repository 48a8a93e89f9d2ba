package hardware

import (
	"sync"
	"time"

	"periph.io/x/periph/conn/gpio"
)

// SimDegreesPerSec is how fast the simulated actuator moves at full speed.
const SimDegreesPerSec = 5.0

// Sim stands in for the PWM board and the sensors. The heading follows the
// rotor servo, the elevation integrates the actuator drive over time.
type Sim struct {
	o   Options
	now func() time.Time

	mx        sync.Mutex
	duty      map[int]gpio.Duty
	heading   float64
	elevation float64
	last      time.Time
}

func NewSim(o Options, heading, elevation float64) *Sim {
	return &Sim{
		o:         o,
		now:       time.Now,
		duty:      make(map[int]gpio.Duty),
		heading:   heading,
		elevation: elevation,
		last:      time.Now(),
	}
}

// SetClock replaces time.Now, for tests.
func (s *Sim) SetClock(now func() time.Time) {
	s.mx.Lock()
	s.now = now
	s.last = now()
	s.mx.Unlock()
}

func (s *Sim) advanceLocked() {
	t := s.now()
	dt := t.Sub(s.last).Seconds()
	s.last = t
	if dt <= 0 {
		return
	}
	var dir float64
	if s.duty[s.o.UpChannel] > 0 {
		dir++
	}
	if s.duty[s.o.DownChannel] > 0 {
		dir--
	}
	speed := float64(s.duty[s.o.SpeedChannel]) / float64(pwmMax)
	s.elevation += dir * speed * SimDegreesPerSec * dt
}

func (s *Sim) SetPwm(channel int, on, off gpio.Duty) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.advanceLocked()
	s.duty[channel] = off - on
	return nil
}

// rotorAngleLocked inverts servoDuty.
func (s *Sim) rotorAngleLocked() float64 {
	d, ok := s.duty[s.o.RotorChannel]
	if !ok {
		return 0
	}
	sweep := s.o.RotorSweep
	a := (float64(d)/4096-0.025)/0.1*sweep - sweep/2
	if s.o.RotorInverted {
		a = -a
	}
	return a
}

func (s *Sim) Heading() (float64, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	h := s.heading + s.rotorAngleLocked()
	for h < 0 {
		h += 360
	}
	for h >= 360 {
		h -= 360
	}
	return h, nil
}

func (s *Sim) Elevation() (float64, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.advanceLocked()
	return s.elevation, nil
}

// Duty returns the last value written to channel.
func (s *Sim) Duty(channel int) gpio.Duty {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.duty[channel]
}
