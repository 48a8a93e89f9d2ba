package finder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"satfinder/internal/pointing"
)

var (
	pointingGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "satfinder_pointing_degrees",
		Help: "Measured and target dish pointing.",
	}, []string{"axis", "kind"})

	rotorGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "satfinder_rotor_angle_degrees",
		Help: "Commanded rotor servo angle.",
	})

	levelGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "satfinder_alignment_level",
		Help: "Alignment quality, 0..100.",
	})

	sensorErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "satfinder_sensor_errors_total",
		Help: "Failed compass or inclinometer reads.",
	})

	commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "satfinder_commands_total",
		Help: "Commands received, by kind.",
	}, []string{"command"})
)

func observe(current, target pointing.Position, rotor float64) {
	pointingGauge.WithLabelValues("azimuth", "measured").Set(current.Azimuth)
	pointingGauge.WithLabelValues("elevation", "measured").Set(current.Elevation)
	pointingGauge.WithLabelValues("azimuth", "target").Set(target.Azimuth)
	pointingGauge.WithLabelValues("elevation", "target").Set(target.Elevation)
	rotorGauge.Set(rotor)
	levelGauge.Set(pointing.Level(pointing.Delta(current, target)))
}
