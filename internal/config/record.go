// Package config holds the static configuration record of the dish finder:
// network credentials, satellite position, calibration offsets, actuator
// speed and the location of the persisted runtime settings.
//
// A Record is a plain value. It is built once at startup and handed by value
// to the components that need it, so no consumer can change what another one
// reads.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"
)

// WiFiMode selects the network role of the device.
type WiFiMode int

const (
	// AccessPoint hosts a network for clients (device at 192.168.4.1).
	AccessPoint WiFiMode = 0
	// Station joins an existing network and gets its address via DHCP.
	Station WiFiMode = 1
)

// MaxMotorSpeed is the largest drive value the 12-bit PWM controller accepts.
const MaxMotorSpeed = 4095

var (
	ErrInvalidMode   = errors.New("invalid wifi mode")
	ErrInvalidRecord = errors.New("invalid configuration")
)

func (m WiFiMode) String() string {
	switch m {
	case AccessPoint:
		return "ap"
	case Station:
		return "sta"
	}
	return fmt.Sprintf("WiFiMode(%d)", int(m))
}

func (m WiFiMode) MarshalText() ([]byte, error) {
	if m != AccessPoint && m != Station {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText accepts "ap"/"sta" as well as the numeric forms "0"/"1".
func (m *WiFiMode) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "ap", "accesspoint", "access_point", "0":
		*m = AccessPoint
	case "sta", "station", "client", "1":
		*m = Station
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, string(b))
	}
	return nil
}

// Credentials is one SSID/password pair.
type Credentials struct {
	SSID     string
	Password string
}

// Record is the static configuration of the finder.
type Record struct {
	AppVersion string `yaml:"app_version"`

	// Mounting offset of the compass board relative to the dish, degrees.
	AzPCBCorrection int `yaml:"az_pcb_correction"`

	WiFiMode    WiFiMode `yaml:"wifi_mode"`
	APSSID      string   `yaml:"ap_ssid"`
	APPassword  string   `yaml:"ap_password"`
	STASSID     string   `yaml:"sta_ssid"`
	STAPassword string   `yaml:"sta_password"`

	// Position of the target satellite seen from the configured ground location.
	SatelliteAzimuth   float64 `yaml:"satellite_azimuth"`
	SatelliteElevation float64 `yaml:"satellite_elevation"`

	// Dish specific calibration.
	ElevationOffset float64 `yaml:"elevation_offset"`
	AzimuthOffset   float64 `yaml:"azimuth_offset"`

	// Lower this if the dish begins to swing.
	MotorSpeed int `yaml:"motor_speed"`

	SettingsPath string `yaml:"settings_path"`
}

// Defaults returns the build-time configuration: Astra 19.2E with the
// calibration of the reference dish.
func Defaults() Record {
	return Record{
		AppVersion:         "1.3",
		AzPCBCorrection:    90,
		WiFiMode:           AccessPoint,
		APSSID:             "satfinder",
		APPassword:         "xxxxxxxx",
		STASSID:            "My-WLAN",
		STAPassword:        "xxxxxxxx",
		SatelliteAzimuth:   173.34,
		SatelliteElevation: 29.40,
		ElevationOffset:    -18.00,
		AzimuthOffset:      -10.00,
		MotorSpeed:         700,
		SettingsPath:       "/settings.json",
	}
}

// Credentials returns the pair for the configured mode. The pair belonging to
// the other mode is never returned.
func (r Record) Credentials() Credentials {
	if r.WiFiMode == Station {
		return Credentials{SSID: r.STASSID, Password: r.STAPassword}
	}
	return Credentials{SSID: r.APSSID, Password: r.APPassword}
}

// Validate reports the first problem found in r.
func (r Record) Validate() error {
	if r.WiFiMode != AccessPoint && r.WiFiMode != Station {
		return fmt.Errorf("%w: %d", ErrInvalidMode, int(r.WiFiMode))
	}
	c := r.Credentials()
	if c.SSID == "" {
		return fmt.Errorf("%w: empty ssid for %s mode", ErrInvalidRecord, r.WiFiMode)
	}
	if len(c.SSID) > 32 {
		return fmt.Errorf("%w: ssid %q longer than 32 bytes", ErrInvalidRecord, c.SSID)
	}
	// WPA2 passphrase; an empty password means an open network.
	if c.Password != "" && (len(c.Password) < 8 || len(c.Password) > 63) {
		return fmt.Errorf("%w: %s password must be 8..63 characters", ErrInvalidRecord, r.WiFiMode)
	}
	if r.MotorSpeed < 1 || r.MotorSpeed > MaxMotorSpeed {
		return fmt.Errorf("%w: motor_speed %d out of range 1..%d", ErrInvalidRecord, r.MotorSpeed, MaxMotorSpeed)
	}
	for name, v := range map[string]float64{
		"satellite_azimuth":   r.SatelliteAzimuth,
		"satellite_elevation": r.SatelliteElevation,
		"elevation_offset":    r.ElevationOffset,
		"azimuth_offset":      r.AzimuthOffset,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not a finite number", ErrInvalidRecord, name)
		}
	}
	if r.SatelliteElevation < -90 || r.SatelliteElevation > 90 {
		return fmt.Errorf("%w: satellite_elevation %.2f out of range", ErrInvalidRecord, r.SatelliteElevation)
	}
	if r.SettingsPath == "" {
		return fmt.Errorf("%w: empty settings_path", ErrInvalidRecord)
	}
	return nil
}

// MarshalZerologObject logs the record without its passwords.
func (r Record) MarshalZerologObject(e *zerolog.Event) {
	c := r.Credentials()
	e.Str("app_version", r.AppVersion).
		Int("az_pcb_correction", r.AzPCBCorrection).
		Stringer("wifi_mode", r.WiFiMode).
		Str("ssid", c.SSID).
		Bool("password_set", c.Password != "").
		Float64("satellite_azimuth", r.SatelliteAzimuth).
		Float64("satellite_elevation", r.SatelliteElevation).
		Float64("elevation_offset", r.ElevationOffset).
		Float64("azimuth_offset", r.AzimuthOffset).
		Int("motor_speed", r.MotorSpeed).
		Str("settings_path", r.SettingsPath)
}
