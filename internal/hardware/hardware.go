// Package hardware talks to the dish: a PCA9685 PWM board driving the
// azimuth rotor servo and the elevation actuator, a QMC5883L compass and an
// MPU6050 inclinometer, all on one I2C bus.
package hardware

import (
	"fmt"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/experimental/devices/pca9685"
	"periph.io/x/periph/host"
)

// PWM is a 12-bit multi channel PWM output; *pca9685.Dev satisfies it.
type PWM interface {
	SetPwm(channel int, on, off gpio.Duty) error
}

// Options describe the wiring.
type Options struct {
	Bus string // I2C bus name, "" for the first one

	RotorChannel   int
	RotorSweep     float64
	RotorInverted  bool
	SpeedChannel   int
	UpChannel      int
	DownChannel    int
	MotorSpeed     int // actuator speed ceiling
	CompassOffsetX float64
	CompassOffsetY float64
}

// DefaultOptions matches the reference wiring.
func DefaultOptions() Options {
	return Options{
		RotorChannel: 0,
		RotorSweep:   180,
		SpeedChannel: 1,
		UpChannel:    2,
		DownChannel:  3,
	}
}

// Device is the opened dish hardware.
type Device struct {
	Rotor    *Rotor
	Actuator *Actuator
	Sensors  interface {
		Heading() (float64, error)
		Elevation() (float64, error)
	}

	close func() error
}

func (d *Device) Close() error {
	if d.Actuator != nil {
		_ = d.Actuator.Stop()
	}
	if d.close == nil {
		return nil
	}
	return d.close()
}

// Open initializes the host drivers and every device on the bus.
func Open(o Options) (*Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	bus, err := i2creg.Open(o.Bus)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus: %w", err)
	}
	fail := func(err error) (*Device, error) {
		bus.Close()
		return nil, err
	}

	pca, err := pca9685.NewI2C(bus, pca9685.I2CAddr)
	if err != nil {
		return fail(fmt.Errorf("pca9685: %w", err))
	}
	if err := pca.SetPwmFreq(50*physic.Hertz - (physic.Hertz / 2)); err != nil {
		return fail(fmt.Errorf("pca9685 frequency: %w", err))
	}

	compass, err := NewCompass(&i2c.Dev{Bus: bus, Addr: QMC5883LAddr})
	if err != nil {
		return fail(err)
	}
	compass.OffsetX, compass.OffsetY = o.CompassOffsetX, o.CompassOffsetY

	incl, err := NewInclinometer(&i2c.Dev{Bus: bus, Addr: MPU6050Addr})
	if err != nil {
		return fail(err)
	}

	return &Device{
		Rotor:    NewRotor(pca, o.RotorChannel, o.RotorSweep, o.RotorInverted),
		Actuator: NewActuator(pca, o.SpeedChannel, o.UpChannel, o.DownChannel, o.MotorSpeed),
		Sensors:  Sensors{Compass: compass, Inclinometer: incl},
		close:    bus.Close,
	}, nil
}

// OpenSim returns a Device backed by a simulated dish. heading is the raw
// compass heading with the rotor centered.
func OpenSim(o Options, heading, elevation float64) (*Device, *Sim) {
	sim := NewSim(o, heading, elevation)
	return &Device{
		Rotor:    NewRotor(sim, o.RotorChannel, o.RotorSweep, o.RotorInverted),
		Actuator: NewActuator(sim, o.SpeedChannel, o.UpChannel, o.DownChannel, o.MotorSpeed),
		Sensors:  sim,
	}, sim
}
