package config

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	rec := Defaults()

	assert.Equal(t, "1.3", rec.AppVersion)
	assert.Equal(t, 90, rec.AzPCBCorrection)
	assert.Equal(t, AccessPoint, rec.WiFiMode)
	assert.Equal(t, "satfinder", rec.APSSID)
	assert.Equal(t, "xxxxxxxx", rec.APPassword)
	assert.Equal(t, "My-WLAN", rec.STASSID)
	assert.Equal(t, "xxxxxxxx", rec.STAPassword)
	assert.Equal(t, 173.34, rec.SatelliteAzimuth)
	assert.Equal(t, 29.40, rec.SatelliteElevation)
	assert.Equal(t, -18.0, rec.ElevationOffset)
	assert.Equal(t, -10.0, rec.AzimuthOffset)
	assert.Equal(t, 700, rec.MotorSpeed)
	assert.Equal(t, "/settings.json", rec.SettingsPath)
	require.NoError(t, rec.Validate())

	// Every call yields the same value; mutating a copy changes nothing.
	cp := Defaults()
	cp.APSSID = "other"
	assert.NotEqual(t, cp, rec)
	assert.Equal(t, rec, Defaults())
}

func TestCredentials(t *testing.T) {
	rec := Defaults()
	rec.APPassword = "ap-secret"
	rec.STAPassword = "sta-secret"

	assert.Equal(t, Credentials{SSID: "satfinder", Password: "ap-secret"}, rec.Credentials())

	rec.WiFiMode = Station
	assert.Equal(t, Credentials{SSID: "My-WLAN", Password: "sta-secret"}, rec.Credentials())
}

func TestWiFiModeText(t *testing.T) {
	for in, want := range map[string]WiFiMode{
		"ap": AccessPoint, "AP": AccessPoint, "0": AccessPoint,
		"sta": Station, "station": Station, "1": Station,
	} {
		var m WiFiMode
		require.NoError(t, m.UnmarshalText([]byte(in)), in)
		assert.Equal(t, want, m, in)
	}

	var m WiFiMode
	assert.ErrorIs(t, m.UnmarshalText([]byte("mesh")), ErrInvalidMode)

	b, err := Station.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "sta", string(b))

	_, err = WiFiMode(7).MarshalText()
	assert.ErrorIs(t, err, ErrInvalidMode)
	assert.Equal(t, "WiFiMode(7)", WiFiMode(7).String())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Record)
		want   error
	}{
		{"bad mode", func(r *Record) { r.WiFiMode = 3 }, ErrInvalidMode},
		{"empty ap ssid", func(r *Record) { r.APSSID = "" }, ErrInvalidRecord},
		{"empty sta ssid in station mode", func(r *Record) { r.WiFiMode = Station; r.STASSID = "" }, ErrInvalidRecord},
		{"short ap password", func(r *Record) { r.APPassword = "short" }, ErrInvalidRecord},
		{"short sta password", func(r *Record) { r.WiFiMode = Station; r.STAPassword = "abc" }, ErrInvalidRecord},
		{"long sta password", func(r *Record) { r.WiFiMode = Station; r.STAPassword = strings.Repeat("x", 64) }, ErrInvalidRecord},
		{"zero motor speed", func(r *Record) { r.MotorSpeed = 0 }, ErrInvalidRecord},
		{"motor speed too high", func(r *Record) { r.MotorSpeed = MaxMotorSpeed + 1 }, ErrInvalidRecord},
		{"nan offset", func(r *Record) { r.AzimuthOffset = math.NaN() }, ErrInvalidRecord},
		{"elevation out of range", func(r *Record) { r.SatelliteElevation = 95 }, ErrInvalidRecord},
		{"empty settings path", func(r *Record) { r.SettingsPath = "" }, ErrInvalidRecord},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Defaults()
			tt.mutate(&rec)
			assert.ErrorIs(t, rec.Validate(), tt.want)
		})
	}

	t.Run("open access point", func(t *testing.T) {
		rec := Defaults()
		rec.APPassword = ""
		assert.NoError(t, rec.Validate())
	})
	t.Run("short ap password ignored in station mode", func(t *testing.T) {
		rec := Defaults()
		rec.WiFiMode = Station
		rec.APPassword = "abc"
		assert.NoError(t, rec.Validate())
	})
}

func TestMarshalZerologObjectMasksPasswords(t *testing.T) {
	var buf bytes.Buffer
	rec := Defaults()
	rec.APPassword = "do-not-log-me"

	l := zerolog.New(&buf)
	l.Info().Object("config", rec).Msg("")

	assert.NotContains(t, buf.String(), "do-not-log-me")

	var entry struct {
		Config map[string]any `json:"config"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "satfinder", entry.Config["ssid"])
	assert.Equal(t, true, entry.Config["password_set"])
	assert.Equal(t, "ap", entry.Config["wifi_mode"])
}
