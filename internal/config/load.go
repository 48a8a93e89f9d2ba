package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"satfinder/internal/log"
)

// EnvPrefix is prepended to the upper-cased yaml key of every field when
// reading overrides from the environment, e.g. SATFINDER_AP_PASSWORD.
const EnvPrefix = "SATFINDER_"

// Load builds a Record from the defaults, the YAML file at path (skipped when
// path is empty) and the environment, then validates it.
func Load(path string) (Record, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Record, error) {
	logger := log.WithComponent("config")
	rec := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Record{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, &rec); err != nil {
			return Record{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		logger.Debug().Str("event", "config.file").Str("path", path).Msg("loaded config file")
	}

	if err := applyEnv(&rec, lookup, logger); err != nil {
		return Record{}, err
	}

	if err := rec.Validate(); err != nil {
		return Record{}, fmt.Errorf("validate config: %w", err)
	}
	return rec, nil
}

func decodeYAML(data []byte, rec *Record) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	err := dec.Decode(rec)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func applyEnv(rec *Record, lookup func(string) (string, bool), logger zerolog.Logger) error {
	str := func(key string, dst *string) {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return
		}
		ev := logger.Debug().Str("key", EnvPrefix+key).Str("source", "environment")
		if strings.Contains(key, "PASSWORD") {
			ev = ev.Bool("sensitive", true)
		} else {
			ev = ev.Str("value", v)
		}
		ev.Msg("using environment variable")
		*dst = v
	}

	var err error
	num := func(key string, parse func(string) error) {
		if err != nil {
			return
		}
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return
		}
		if perr := parse(strings.TrimSpace(v)); perr != nil {
			err = fmt.Errorf("invalid value for %s%s: %w", EnvPrefix, key, perr)
			return
		}
		logger.Debug().Str("key", EnvPrefix+key).Str("value", v).Str("source", "environment").Msg("using environment variable")
	}
	intVar := func(key string, dst *int) {
		num(key, func(s string) error {
			i, perr := strconv.Atoi(s)
			if perr == nil {
				*dst = i
			}
			return perr
		})
	}
	floatVar := func(key string, dst *float64) {
		num(key, func(s string) error {
			f, perr := strconv.ParseFloat(s, 64)
			if perr == nil {
				*dst = f
			}
			return perr
		})
	}

	str("APP_VERSION", &rec.AppVersion)
	intVar("AZ_PCB_CORRECTION", &rec.AzPCBCorrection)
	num("WIFI_MODE", func(s string) error { return rec.WiFiMode.UnmarshalText([]byte(s)) })
	str("AP_SSID", &rec.APSSID)
	str("AP_PASSWORD", &rec.APPassword)
	str("STA_SSID", &rec.STASSID)
	str("STA_PASSWORD", &rec.STAPassword)
	floatVar("SATELLITE_AZIMUTH", &rec.SatelliteAzimuth)
	floatVar("SATELLITE_ELEVATION", &rec.SatelliteElevation)
	floatVar("ELEVATION_OFFSET", &rec.ElevationOffset)
	floatVar("AZIMUTH_OFFSET", &rec.AzimuthOffset)
	intVar("MOTOR_SPEED", &rec.MotorSpeed)
	str("SETTINGS_PATH", &rec.SettingsPath)
	return err
}
