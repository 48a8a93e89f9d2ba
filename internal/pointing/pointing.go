// Package pointing turns raw compass and tilt readings into dish pointing
// angles and compares them against the satellite target.
package pointing

import (
	"math"

	"github.com/golang/geo/s1"

	"satfinder/internal/settings"
)

// Position is a pointing direction in degrees.
type Position struct {
	Azimuth   float64 `json:"azimuth"`
	Elevation float64 `json:"elevation"`
}

// normalize360 maps deg to [0, 360).
func normalize360(deg float64) float64 {
	a := math.Mod(deg, 360)
	if a < 0 {
		a += 360
	}
	if a >= 360 {
		a = 0
	}
	return a
}

// Heading applies the board mount correction to a raw compass heading.
func Heading(raw float64, pcbCorrection int) float64 {
	return normalize360(raw + float64(pcbCorrection))
}

// Target is where the dish has to point: the satellite position corrected
// by the dish calibration offsets.
func Target(s settings.Settings) Position {
	return Position{
		Azimuth:   normalize360(s.Azimuth + s.AzOffset),
		Elevation: s.Elevation + s.ElOffset,
	}
}

// Delta returns target minus current. The azimuth part is the shortest turn,
// in (-180, 180].
func Delta(current, target Position) Position {
	az := (s1.Angle(target.Azimuth-current.Azimuth) * s1.Degree).Normalized().Degrees()
	return Position{
		Azimuth:   az,
		Elevation: target.Elevation - current.Elevation,
	}
}

// Level maps a pointing error to 0..100, 100 being on target. Ten degrees of
// combined error or more reads as zero.
func Level(d Position) float64 {
	e := math.Hypot(d.Azimuth, d.Elevation)
	return math.Max(0, 100-10*e)
}

// Aligned reports whether both axes are within tol degrees.
func Aligned(d Position, tol float64) bool {
	return math.Abs(d.Azimuth) <= tol && math.Abs(d.Elevation) <= tol
}
