package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"satfinder/internal/config"
	"satfinder/internal/finder"
	"satfinder/internal/hardware"
	"satfinder/internal/log"
	"satfinder/internal/network"
	"satfinder/internal/settings"
)

type flags struct {
	configPath string
	httpAddr   string
	mqttURL    string
	sim        bool
	wifiDir    string
	wifiIface  string
	noMDNS     bool
	logLevel   string
	i2cBus     string
}

func main() {
	var f flags
	cmd := &cobra.Command{
		Use:   "satfinderd",
		Short: "Compass based satellite dish finder",
		Long: `satfinderd points a satellite dish at a known satellite using a compass,
an inclinometer, an azimuth rotor servo and an elevation actuator.

Static configuration comes from built-in defaults, an optional YAML file and
SATFINDER_* environment variables. Runtime settings are stored at the
configured settings_path and override the defaults at boot.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "Path to a YAML configuration file.")
	fl.StringVar(&f.httpAddr, "http", ":80", "HTTP server listen address.")
	fl.StringVarP(&f.mqttURL, "mqtt", "s", "", "MQTT connection url (tcp://host:1883/topic), leave host blank to use service discovery. Empty disables MQTT.")
	fl.BoolVar(&f.sim, "sim", false, "Use a simulated dish instead of the I2C hardware.")
	fl.StringVar(&f.wifiDir, "wifi-dir", "", "Write the hostapd/wpa_supplicant config for the selected WiFi mode to this directory.")
	fl.StringVar(&f.wifiIface, "wifi-iface", "wlan0", "Wireless interface named in the generated WiFi config.")
	fl.BoolVar(&f.noMDNS, "no-mdns", false, "Do not advertise the web interface over mDNS.")
	fl.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error).")
	fl.StringVar(&f.i2cBus, "i2c", "", "I2C bus name, blank for the first bus.")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cmd.ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, f flags) error {
	log.Configure(log.Config{Level: f.logLevel})
	logger := log.WithComponent("main")

	rec, err := config.Load(f.configPath)
	if err != nil {
		logger.Error().Err(err).Str("path", f.configPath).Msg("failed to load configuration")
		return err
	}
	log.Configure(log.Config{Level: f.logLevel, Version: rec.AppVersion})
	logger = log.WithComponent("main")
	logger.Info().Object("config", rec).Msg("configuration loaded")

	if f.wifiDir != "" {
		p, err := network.Render(rec, f.wifiIface)
		if err != nil {
			return fmt.Errorf("render wifi config: %w", err)
		}
		path, err := p.Write(f.wifiDir)
		if err != nil {
			return err
		}
		logger.Info().Str("event", "wifi.config").Stringer("mode", p.Mode).Str("ssid", p.SSID).Str("path", path).Msg("wifi config written")
	}

	store := settings.NewStore(rec.SettingsPath, settings.FromRecord(rec))
	if _, err := store.Load(); err != nil {
		logger.Error().Err(err).Msg("invalid settings file, using defaults")
	}

	o := hardware.DefaultOptions()
	o.Bus = f.i2cBus
	o.MotorSpeed = store.Get().MotorSpeed
	var dev *hardware.Device
	if f.sim {
		dev, _ = hardware.OpenSim(o, 0, 0)
		logger.Warn().Msg("running with a simulated dish")
	} else {
		dev, err = hardware.Open(o)
		if err != nil {
			return fmt.Errorf("open hardware: %w", err)
		}
	}
	defer dev.Close()
	if err := dev.Rotor.Center(); err != nil {
		return fmt.Errorf("center rotor: %w", err)
	}

	fd := finder.New(rec, store, dev.Sensors, dev.Rotor, dev.Actuator)

	if !f.noMDNS {
		if adv, err := advertise(f.httpAddr, rec); err != nil {
			logger.Warn().Err(err).Msg("mdns advertisement disabled")
		} else {
			defer adv.Shutdown()
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return fd.Run(ctx) })
	g.Go(func() error { return serveHTTP(ctx, f.httpAddr, fd, rec.AppVersion) })
	g.Go(func() error {
		err := store.Watch(ctx, fd.SettingsChanged)
		if err != nil {
			logger.Warn().Err(err).Msg("settings watcher disabled")
		}
		return nil
	})
	if f.mqttURL != "" {
		g.Go(func() error { return runMQTT(ctx, f.mqttURL, fd, time.Second) })
	}
	return g.Wait()
}

func advertise(httpAddr string, rec config.Record) (*network.Advertiser, error) {
	svc, err := webService(httpAddr, rec)
	if err != nil {
		return nil, err
	}
	return network.Advertise(svc)
}

// webService describes the web interface listening on httpAddr. In access
// point mode the fixed AP address is announced.
func webService(httpAddr string, rec config.Record) (*mdns.MDNSService, error) {
	_, portStr, err := net.SplitHostPort(httpAddr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid http port %q", portStr)
	}
	var ips []net.IP
	if rec.WiFiMode == config.AccessPoint {
		ips = []net.IP{net.ParseIP(network.APAddress)}
	}
	return network.NewService(network.Instance, port, ips, rec.AppVersion)
}
