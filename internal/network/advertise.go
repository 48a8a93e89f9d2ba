package network

import (
	"fmt"
	"net"

	"github.com/hashicorp/mdns"

	"satfinder/internal/log"
)

// HTTPService is the mDNS service type of the web interface.
const HTTPService = "_http._tcp"

// Instance is the mDNS instance name of the web interface in either WiFi
// mode.
const Instance = "satfinder"

// Advertiser announces the web interface until Shutdown is called.
type Advertiser struct {
	server *mdns.Server
}

// NewService describes instance on port. ips may be nil to announce the
// addresses the host name resolves to.
func NewService(instance string, port int, ips []net.IP, version string) (*mdns.MDNSService, error) {
	return mdns.NewMDNSService(instance, HTTPService, "", "", port, ips,
		[]string{"path=/", "version=" + version})
}

// Advertise starts answering mDNS queries for svc.
func Advertise(svc *mdns.MDNSService) (*Advertiser, error) {
	srv, err := mdns.NewServer(&mdns.Config{Zone: svc})
	if err != nil {
		return nil, fmt.Errorf("start mdns responder: %w", err)
	}
	l := log.WithComponent("network")
	l.Info().Str("event", "mdns.advertise").
		Str("instance", svc.Instance).
		Str("service", svc.Service).
		Int("port", svc.Port).
		Msg("advertising web interface")
	return &Advertiser{server: srv}, nil
}

func (a *Advertiser) Shutdown() error {
	return a.server.Shutdown()
}
