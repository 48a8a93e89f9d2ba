package hardware

import (
	"fmt"
	"math"
)

// Conn is the part of an I2C device used by the sensors; *i2c.Dev
// satisfies it.
type Conn interface {
	Tx(w, r []byte) error
}

const (
	QMC5883LAddr = 0x0D
	MPU6050Addr  = 0x68
)

// QMC5883L registers.
const (
	qmcData    = 0x00
	qmcControl = 0x09
	qmcSetRst  = 0x0B

	// continuous mode, 200Hz, 8G range, 512 oversampling
	qmcContinuous = 0x1D
)

// Compass reads the heading from a QMC5883L magnetometer mounted flat on the
// dish arm.
type Compass struct {
	c Conn

	// Hard-iron offsets, raw counts.
	OffsetX, OffsetY float64
}

func NewCompass(c Conn) (*Compass, error) {
	if err := c.Tx([]byte{qmcSetRst, 0x01}, nil); err != nil {
		return nil, fmt.Errorf("qmc5883l set/reset period: %w", err)
	}
	if err := c.Tx([]byte{qmcControl, qmcContinuous}, nil); err != nil {
		return nil, fmt.Errorf("qmc5883l control: %w", err)
	}
	return &Compass{c: c}, nil
}

// Heading returns the raw magnetic heading in [0, 360), before any mounting
// correction.
func (m *Compass) Heading() (float64, error) {
	var buf [6]byte
	if err := m.c.Tx([]byte{qmcData}, buf[:]); err != nil {
		return 0, fmt.Errorf("qmc5883l read: %w", err)
	}
	x := float64(int16(uint16(buf[1])<<8|uint16(buf[0]))) - m.OffsetX
	y := float64(int16(uint16(buf[3])<<8|uint16(buf[2]))) - m.OffsetY

	h := math.Atan2(y, x) * 180 / math.Pi
	if h < 0 {
		h += 360
	}
	return h, nil
}

// MPU6050 registers.
const (
	mpuPwrMgmt1 = 0x6B
	mpuAccelX   = 0x3B
)

// Inclinometer derives the dish elevation from the gravity vector of an
// MPU6050 whose X axis lies along the dish boresight.
type Inclinometer struct {
	c Conn
}

func NewInclinometer(c Conn) (*Inclinometer, error) {
	if err := c.Tx([]byte{mpuPwrMgmt1, 0x00}, nil); err != nil {
		return nil, fmt.Errorf("mpu6050 wake: %w", err)
	}
	return &Inclinometer{c: c}, nil
}

// Elevation returns degrees above the horizon.
func (i *Inclinometer) Elevation() (float64, error) {
	var buf [6]byte
	if err := i.c.Tx([]byte{mpuAccelX}, buf[:]); err != nil {
		return 0, fmt.Errorf("mpu6050 read: %w", err)
	}
	ax := float64(int16(uint16(buf[0])<<8 | uint16(buf[1])))
	ay := float64(int16(uint16(buf[2])<<8 | uint16(buf[3])))
	az := float64(int16(uint16(buf[4])<<8 | uint16(buf[5])))

	return math.Atan2(ax, math.Hypot(ay, az)) * 180 / math.Pi, nil
}

// Sensors combines compass and inclinometer.
type Sensors struct {
	Compass      *Compass
	Inclinometer *Inclinometer
}

func (s Sensors) Heading() (float64, error)   { return s.Compass.Heading() }
func (s Sensors) Elevation() (float64, error) { return s.Inclinometer.Elevation() }
