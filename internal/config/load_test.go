package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "satfinder.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsOnly(t *testing.T) {
	rec, err := load("", envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), rec)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeFile(t, `
wifi_mode: sta
sta_ssid: HomeNet
sta_password: from-file
satellite_azimuth: 161.5
motor_speed: 500
`)
	rec, err := load(path, envMap(map[string]string{
		"SATFINDER_STA_PASSWORD": "from-env",
		"SATFINDER_MOTOR_SPEED":  "650",
		"SATFINDER_AP_SSID":      "",
	}))
	require.NoError(t, err)

	assert.Equal(t, Station, rec.WiFiMode)
	assert.Equal(t, Credentials{SSID: "HomeNet", Password: "from-env"}, rec.Credentials())
	assert.Equal(t, 161.5, rec.SatelliteAzimuth)
	assert.Equal(t, 650, rec.MotorSpeed)
	// Empty variables keep the lower layer.
	assert.Equal(t, "satfinder", rec.APSSID)
	// Untouched fields keep their defaults.
	assert.Equal(t, 29.40, rec.SatelliteElevation)
}

func TestLoadEmptyFile(t *testing.T) {
	rec, err := load(writeFile(t, ""), envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), rec)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := load(filepath.Join(t.TempDir(), "nope.yaml"), envMap(nil))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
	t.Run("unknown key", func(t *testing.T) {
		_, err := load(writeFile(t, "motor_sped: 10\n"), envMap(nil))
		assert.Error(t, err)
	})
	t.Run("bad mode in file", func(t *testing.T) {
		_, err := load(writeFile(t, "wifi_mode: mesh\n"), envMap(nil))
		assert.ErrorIs(t, err, ErrInvalidMode)
	})
	t.Run("bad number in env", func(t *testing.T) {
		_, err := load("", envMap(map[string]string{"SATFINDER_ELEVATION_OFFSET": "down"}))
		assert.ErrorContains(t, err, "SATFINDER_ELEVATION_OFFSET")
	})
	t.Run("validation", func(t *testing.T) {
		_, err := load("", envMap(map[string]string{"SATFINDER_MOTOR_SPEED": "9000"}))
		assert.ErrorIs(t, err, ErrInvalidRecord)
	})
}
