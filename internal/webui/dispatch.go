package webui

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"satfinder/internal/finder"
	"satfinder/internal/hardware"
	"satfinder/internal/settings"
)

// Rotor steps for the up/down buttons.
const (
	RotorStep     = 5.0
	RotorFineStep = 0.5
)

var ErrUnknownAction = errors.New("unknown action")

// Controller is the part of the finder driven by clients.
type Controller interface {
	Values() finder.Values
	Settings() settings.Settings
	ApplySettings(s settings.Settings) error
	Start()
	Stop()
	SetManualAzimuth(az float64) error
	SetManualElevation(el float64) error
	SetRotor(angle float64) error
	StepRotor(delta float64) error
	NudgeElevation(dir hardware.Direction, d time.Duration, speed int) error
}

// number accepts both JSON numbers and numeric strings; the browser sends
// input values as strings. NaN and infinities are rejected.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var f float64
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("invalid number %q", s)
		}
		f = v
	} else if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*n = number(f)
	return nil
}

// Request is one client message.
type Request struct {
	Action string  `json:"action"`
	Level  *number `json:"level,omitempty"`
	Time   *number `json:"time,omitempty"`  // ms
	Speed  *number `json:"speed,omitempty"` // 0..4095

	Azimuth    *number `json:"azimut,omitempty"`
	Elevation  *number `json:"elevation,omitempty"`
	AzOffset   *number `json:"az_offset,omitempty"`
	ElOffset   *number `json:"el_offset,omitempty"`
	MotorSpeed *number `json:"motor_speed,omitempty"`
}

type valuesReply struct {
	Action string `json:"action"`
	finder.Values
}

type settingsReply struct {
	Action string `json:"action"`
	settings.Settings
}

type errorReply struct {
	Action string `json:"action"`
	Error  string `json:"error"`
}

func required(n *number, name string) (float64, error) {
	if n == nil {
		return 0, fmt.Errorf("missing %s", name)
	}
	return float64(*n), nil
}

// Dispatch executes req and returns the reply to send back. Commands
// without their own reply answer with the current values.
func Dispatch(c Controller, req Request) (any, error) {
	var err error
	switch req.Action {
	case "getvalues":
	case "getsettings":
		return settingsReply{Action: req.Action, Settings: c.Settings()}, nil
	case "savesettings":
		s := c.Settings()
		for _, f := range []struct {
			n   *number
			dst *float64
		}{
			{req.Azimuth, &s.Azimuth},
			{req.Elevation, &s.Elevation},
			{req.AzOffset, &s.AzOffset},
			{req.ElOffset, &s.ElOffset},
		} {
			if f.n != nil {
				*f.dst = float64(*f.n)
			}
		}
		if req.MotorSpeed != nil {
			s.MotorSpeed = int(*req.MotorSpeed)
		}
		if err := c.ApplySettings(s); err != nil {
			return nil, err
		}
		return settingsReply{Action: req.Action, Settings: c.Settings()}, nil
	case "start":
		c.Start()
	case "stop":
		c.Stop()
	case "slider1", "slider2", "slider3":
		var v float64
		if v, err = required(req.Level, "level"); err != nil {
			return nil, err
		}
		switch req.Action {
		case "slider1":
			err = c.SetManualAzimuth(v)
		case "slider2":
			err = c.SetManualElevation(v)
		default:
			err = c.SetRotor(v)
		}
	case "rotor_up":
		err = c.StepRotor(RotorStep)
	case "rotor_down":
		err = c.StepRotor(-RotorStep)
	case "rotor_up_step":
		err = c.StepRotor(RotorFineStep)
	case "rotor_down_step":
		err = c.StepRotor(-RotorFineStep)
	case "om_el_up", "om_el_down":
		var ms, speed float64
		if ms, err = required(req.Time, "time"); err != nil {
			return nil, err
		}
		if speed, err = required(req.Speed, "speed"); err != nil {
			return nil, err
		}
		dir := hardware.Up
		if req.Action == "om_el_down" {
			dir = hardware.Down
		}
		err = c.NudgeElevation(dir, time.Duration(ms)*time.Millisecond, int(speed))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}
	if err != nil {
		return nil, err
	}
	return valuesReply{Action: "getvalues", Values: c.Values()}, nil
}

// DispatchJSON decodes a message, runs it and encodes the reply. Failures
// are reported as an "error" action instead of an error return so that the
// connection stays usable.
func DispatchJSON(c Controller, msg []byte) []byte {
	var req Request
	var reply any
	err := json.Unmarshal(msg, &req)
	if err == nil {
		reply, err = Dispatch(c, req)
	}
	if err != nil {
		reply = errorReply{Action: "error", Error: err.Error()}
	}
	out, merr := json.Marshal(reply)
	if merr != nil {
		out, _ = json.Marshal(errorReply{Action: "error", Error: merr.Error()})
	}
	return out
}
