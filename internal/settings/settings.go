// Package settings persists the runtime-adjustable part of the finder
// configuration: satellite position, calibration offsets and motor speed.
//
// The file written here overrides the static defaults from package config at
// boot. A missing file is not an error; the defaults are used until the first
// save.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"satfinder/internal/config"
	"satfinder/internal/log"
)

var ErrInvalidSettings = errors.New("invalid settings")

// Settings uses the JSON keys understood by the browser client.
type Settings struct {
	Azimuth    float64 `json:"azimut"`
	Elevation  float64 `json:"elevation"`
	AzOffset   float64 `json:"az_offset"`
	ElOffset   float64 `json:"el_offset"`
	MotorSpeed int     `json:"motor_speed"`
}

// FromRecord seeds runtime settings from the static configuration.
func FromRecord(rec config.Record) Settings {
	return Settings{
		Azimuth:    rec.SatelliteAzimuth,
		Elevation:  rec.SatelliteElevation,
		AzOffset:   rec.AzimuthOffset,
		ElOffset:   rec.ElevationOffset,
		MotorSpeed: rec.MotorSpeed,
	}
}

func (s Settings) Validate() error {
	for name, v := range map[string]float64{
		"azimut":    s.Azimuth,
		"elevation": s.Elevation,
		"az_offset": s.AzOffset,
		"el_offset": s.ElOffset,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not a finite number", ErrInvalidSettings, name)
		}
	}
	if s.Elevation < -90 || s.Elevation > 90 {
		return fmt.Errorf("%w: elevation %.2f out of range", ErrInvalidSettings, s.Elevation)
	}
	if s.MotorSpeed < 1 || s.MotorSpeed > config.MaxMotorSpeed {
		return fmt.Errorf("%w: motor_speed %d out of range 1..%d", ErrInvalidSettings, s.MotorSpeed, config.MaxMotorSpeed)
	}
	return nil
}

// Store guards the current settings and their file.
type Store struct {
	path     string
	defaults Settings
	logger   zerolog.Logger

	mx  sync.RWMutex
	cur Settings
}

func NewStore(path string, defaults Settings) *Store {
	return &Store{
		path:     path,
		defaults: defaults,
		cur:      defaults,
		logger:   log.WithComponent("settings"),
	}
}

func (s *Store) Path() string { return s.path }

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mx.RLock()
	defer s.mx.RUnlock()
	return s.cur
}

// Load reads the settings file. Fields absent from the file keep their
// default value. On error the current settings are left unchanged.
func (s *Store) Load() (Settings, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info().Str("event", "settings.defaults").Str("path", s.path).Msg("no settings file, using defaults")
		s.mx.Lock()
		s.cur = s.defaults
		s.mx.Unlock()
		return s.defaults, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}

	next := s.defaults
	if err := json.Unmarshal(data, &next); err != nil {
		return Settings{}, fmt.Errorf("parse settings %s: %w", s.path, err)
	}
	if err := next.Validate(); err != nil {
		return Settings{}, err
	}

	s.mx.Lock()
	s.cur = next
	s.mx.Unlock()
	s.logger.Info().Str("event", "settings.loaded").Str("path", s.path).Msg("settings loaded")
	return next, nil
}

// Save validates and atomically replaces the settings file.
func (s *Store) Save(next Settings) error {
	if err := next.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return err
	}

	s.mx.Lock()
	defer s.mx.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir settings dir: %w", err)
	}
	if err := renameio.WriteFile(s.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	s.cur = next
	s.logger.Info().Str("event", "settings.saved").Str("path", s.path).Msg("settings saved")
	return nil
}

// Watch reloads the file when it is changed by someone else and calls fn
// with the new settings. It blocks until ctx is done.
func (s *Store) Watch(ctx context.Context, fn func(Settings)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	// Watch the directory: renameio replaces the file, which drops a watch
	// on the file itself.
	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	const debounce = 200 * time.Millisecond
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn().Err(err).Str("event", "settings.watch_error").Msg("watcher error")
		case <-timer.C:
			prev := s.Get()
			next, err := s.Load()
			if err != nil {
				s.logger.Error().Err(err).Str("event", "settings.reload_failed").Msg("keeping previous settings")
				continue
			}
			if next != prev && fn != nil {
				fn(next)
			}
		}
	}
}
