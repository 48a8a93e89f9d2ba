// Package finder runs the control loop that points the dish at the
// satellite: it reads compass and inclinometer, compares the result with
// the target and drives the rotor and the elevation actuator.
package finder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"satfinder/internal/config"
	"satfinder/internal/hardware"
	"satfinder/internal/log"
	"satfinder/internal/pointing"
	"satfinder/internal/settings"
)

type Sensor interface {
	Heading() (float64, error)
	Elevation() (float64, error)
}

type Rotor interface {
	SetAngle(angle float64) error
	Angle() float64
}

type Actuator interface {
	Drive(dir hardware.Direction, speed int) error
	Stop() error
	SetCeiling(ceiling int)
}

type State string

const (
	StateIdle     State = "idle"
	StateTracking State = "tracking"
	StateAligned  State = "aligned"
	StateManual   State = "manual"
)

// ErrNotFinite is returned for NaN or infinite targets.
var ErrNotFinite = errors.New("value must be finite")

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// MaxNudge bounds a single timed elevation drive.
const MaxNudge = 10 * time.Second

// Values is the snapshot shown by the web client.
type Values struct {
	Level        float64 `json:"led_level"`
	State        State   `json:"state"`
	Azimuth      float64 `json:"azimut"`
	Elevation    float64 `json:"elevation"`
	SatAzimuth   float64 `json:"s_azimut"`
	SatElevation float64 `json:"s_elevation"`
	DishAzimuth  float64 `json:"d_azimut"`
	DishElev     float64 `json:"d_elevation"`
	Rotor        float64 `json:"rotor"`
}

type Finder struct {
	rec    config.Record
	store  *settings.Store
	sensor Sensor
	rotor  Rotor
	act    Actuator
	logger zerolog.Logger

	interval  time.Duration
	tolerance float64
	gain      float64
	maxStep   float64
	now       func() time.Time

	mx         sync.Mutex
	state      State
	current    pointing.Position
	manual     pointing.Position
	nudgeUntil time.Time
}

type Option func(*Finder)

// WithInterval sets the control loop period (default 100ms).
func WithInterval(d time.Duration) Option { return func(f *Finder) { f.interval = d } }

// WithTolerance sets the alignment window in degrees on each axis (default 0.5).
func WithTolerance(deg float64) Option { return func(f *Finder) { f.tolerance = deg } }

// WithMaxRotorStep bounds the rotor correction per tick in degrees (default 2).
func WithMaxRotorStep(deg float64) Option { return func(f *Finder) { f.maxStep = deg } }

func WithClock(now func() time.Time) Option { return func(f *Finder) { f.now = now } }

func New(rec config.Record, store *settings.Store, sensor Sensor, rotor Rotor, act Actuator, opts ...Option) *Finder {
	f := &Finder{
		rec:       rec,
		store:     store,
		sensor:    sensor,
		rotor:     rotor,
		act:       act,
		logger:    log.WithComponent("finder"),
		interval:  100 * time.Millisecond,
		tolerance: 0.5,
		gain:      0.5,
		maxStep:   2,
		now:       time.Now,
		state:     StateIdle,
	}
	for _, o := range opts {
		o(f)
	}
	f.manual = pointing.Target(store.Get())
	act.SetCeiling(store.Get().MotorSpeed)
	return f
}

// Run ticks the control loop until ctx is done, then stops the actuator.
func (f *Finder) Run(ctx context.Context) error {
	t := time.NewTicker(f.interval)
	defer t.Stop()

	f.logger.Info().Str("event", "finder.start").Dur("interval", f.interval).Msg("control loop started")
	for {
		select {
		case <-ctx.Done():
			if err := f.act.Stop(); err != nil {
				f.logger.Error().Err(err).Msg("stop actuator")
			}
			f.logger.Info().Str("event", "finder.stop").Msg("control loop stopped")
			return nil
		case <-t.C:
			f.tick()
		}
	}
}

func (f *Finder) tick() {
	now := f.now()

	heading, herr := f.sensor.Heading()
	elev, eerr := f.sensor.Elevation()
	if herr != nil || eerr != nil {
		sensorErrors.Inc()
		f.logger.Warn().AnErr("heading", herr).AnErr("elevation", eerr).Msg("sensor read failed")
	}

	target := pointing.Target(f.store.Get())
	speed := f.store.Get().MotorSpeed

	f.mx.Lock()
	defer f.mx.Unlock()

	if herr == nil {
		f.current.Azimuth = pointing.Heading(heading, f.rec.AzPCBCorrection)
	}
	if eerr == nil {
		f.current.Elevation = elev
	}
	observe(f.current, target, f.rotor.Angle())

	if !f.nudgeUntil.IsZero() {
		if !now.Before(f.nudgeUntil) {
			f.nudgeUntil = time.Time{}
			f.stopLocked()
		}
		return
	}

	switch f.state {
	case StateIdle:
		return
	case StateManual:
		target = f.manual
	case StateAligned:
		d := pointing.Delta(f.current, target)
		if pointing.Aligned(d, 2*f.tolerance) {
			return
		}
		f.logger.Info().Str("event", "finder.drift").Float64("az_delta", d.Azimuth).Float64("el_delta", d.Elevation).Msg("lost alignment, tracking again")
		f.state = StateTracking
	}
	if herr != nil || eerr != nil {
		f.stopLocked()
		return
	}

	d := pointing.Delta(f.current, target)
	if pointing.Aligned(d, f.tolerance) {
		f.stopLocked()
		if f.state == StateTracking {
			f.state = StateAligned
			f.logger.Info().Str("event", "finder.aligned").
				Float64("azimuth", f.current.Azimuth).
				Float64("elevation", f.current.Elevation).
				Msg("dish aligned")
		}
		return
	}

	if math.Abs(d.Azimuth) > f.tolerance {
		step := math.Max(-f.maxStep, math.Min(f.maxStep, d.Azimuth*f.gain))
		if err := f.rotor.SetAngle(f.rotor.Angle() + step); err != nil {
			f.logger.Error().Err(err).Msg("set rotor")
		}
	}

	var err error
	switch {
	case d.Elevation > f.tolerance:
		err = f.act.Drive(hardware.Up, speed)
	case d.Elevation < -f.tolerance:
		err = f.act.Drive(hardware.Down, speed)
	default:
		err = f.act.Stop()
	}
	if err != nil {
		f.logger.Error().Err(err).Msg("drive actuator")
	}
}

func (f *Finder) stopLocked() {
	if err := f.act.Stop(); err != nil {
		f.logger.Error().Err(err).Msg("stop actuator")
	}
}

func (f *Finder) setState(s State) {
	if f.state != s {
		f.logger.Info().Str("event", "finder.state").Str("from", string(f.state)).Str("to", string(s)).Msg("state changed")
	}
	f.state = s
}

// Start tracks the satellite target.
func (f *Finder) Start() {
	commands.WithLabelValues("start").Inc()
	f.mx.Lock()
	defer f.mx.Unlock()
	f.nudgeUntil = time.Time{}
	f.setState(StateTracking)
}

// Stop halts all motion.
func (f *Finder) Stop() {
	commands.WithLabelValues("stop").Inc()
	f.mx.Lock()
	defer f.mx.Unlock()
	f.nudgeUntil = time.Time{}
	f.setState(StateIdle)
	f.stopLocked()
}

// SetManualAzimuth points the dish at az instead of the satellite.
func (f *Finder) SetManualAzimuth(az float64) error {
	if !finite(az) {
		return fmt.Errorf("azimuth: %w", ErrNotFinite)
	}
	commands.WithLabelValues("manual_azimuth").Inc()
	f.mx.Lock()
	defer f.mx.Unlock()
	f.manual.Azimuth = math.Mod(math.Mod(az, 360)+360, 360)
	f.nudgeUntil = time.Time{}
	f.setState(StateManual)
	return nil
}

// SetManualElevation points the dish at el instead of the satellite.
func (f *Finder) SetManualElevation(el float64) error {
	if !finite(el) {
		return fmt.Errorf("elevation: %w", ErrNotFinite)
	}
	commands.WithLabelValues("manual_elevation").Inc()
	f.mx.Lock()
	defer f.mx.Unlock()
	f.manual.Elevation = math.Max(-90, math.Min(90, el))
	f.nudgeUntil = time.Time{}
	f.setState(StateManual)
	return nil
}

// SetRotor moves the rotor servo directly. Tracking is suspended.
func (f *Finder) SetRotor(angle float64) error {
	if !finite(angle) {
		return fmt.Errorf("rotor: %w", ErrNotFinite)
	}
	commands.WithLabelValues("rotor").Inc()
	f.mx.Lock()
	defer f.mx.Unlock()
	f.setState(StateIdle)
	return f.rotor.SetAngle(angle)
}

// StepRotor moves the rotor servo by delta degrees. Tracking is suspended.
func (f *Finder) StepRotor(delta float64) error {
	if !finite(delta) {
		return fmt.Errorf("rotor: %w", ErrNotFinite)
	}
	commands.WithLabelValues("rotor_step").Inc()
	f.mx.Lock()
	defer f.mx.Unlock()
	f.setState(StateIdle)
	return f.rotor.SetAngle(f.rotor.Angle() + delta)
}

// NudgeElevation drives the actuator for d (at most MaxNudge) at speed; the
// control loop stops it when the time is up. Tracking is suspended.
func (f *Finder) NudgeElevation(dir hardware.Direction, d time.Duration, speed int) error {
	commands.WithLabelValues("nudge_" + dir.String()).Inc()
	if d > MaxNudge {
		d = MaxNudge
	}
	f.mx.Lock()
	defer f.mx.Unlock()
	f.setState(StateIdle)
	if d <= 0 {
		f.nudgeUntil = time.Time{}
		return f.act.Stop()
	}
	if err := f.act.Drive(dir, speed); err != nil {
		return err
	}
	f.nudgeUntil = f.now().Add(d)
	return nil
}

// Settings returns the active runtime settings.
func (f *Finder) Settings() settings.Settings {
	return f.store.Get()
}

// ApplySettings persists s and makes it the active target.
func (f *Finder) ApplySettings(s settings.Settings) error {
	commands.WithLabelValues("save_settings").Inc()
	if err := f.store.Save(s); err != nil {
		return err
	}
	f.SettingsChanged(s)
	return nil
}

// SettingsChanged is called when the settings were replaced outside of
// ApplySettings, e.g. by an edit of the settings file.
func (f *Finder) SettingsChanged(s settings.Settings) {
	f.act.SetCeiling(s.MotorSpeed)
	f.mx.Lock()
	defer f.mx.Unlock()
	if f.state == StateAligned {
		f.setState(StateTracking)
	}
}

// Values returns a snapshot for display.
func (f *Finder) Values() Values {
	target := pointing.Target(f.store.Get())
	f.mx.Lock()
	defer f.mx.Unlock()
	var level float64
	if f.state == StateManual {
		level = pointing.Level(pointing.Delta(f.current, f.manual))
	} else {
		level = pointing.Level(pointing.Delta(f.current, target))
	}
	return Values{
		Level:        level,
		State:        f.state,
		Azimuth:      f.current.Azimuth,
		Elevation:    f.current.Elevation,
		SatAzimuth:   target.Azimuth,
		SatElevation: target.Elevation,
		DishAzimuth:  f.manual.Azimuth,
		DishElev:     f.manual.Elevation,
		Rotor:        f.rotor.Angle(),
	}
}

// State returns the current control state.
func (f *Finder) State() State {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.state
}
