package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/hashicorp/mdns"
	"github.com/miekg/dns"
	"github.com/rs/zerolog"
	uuid "github.com/satori/go.uuid"

	"satfinder/internal/log"
	"satfinder/internal/webui"
)

// mdnsAddr is the IPv4 multicast group answering mDNS queries.
var mdnsAddr = &net.UDPAddr{IP: net.IPv4(224, 0, 0, 251), Port: 5353}

// queryA builds a single-question A query for host.
func queryA(host string) *dns.Msg {
	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(host), dns.TypeA)
	q.RecursionDesired = false
	return q
}

// exchangeMDNS multicasts q and returns the first response received before
// timeout.
func exchangeMDNS(q *dns.Msg, timeout time.Duration) (*dns.Msg, error) {
	data, err := q.Pack()
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	if _, err := conn.WriteToUDP(data, mdnsAddr); err != nil {
		return nil, err
	}

	buf := make([]byte, dns.MaxMsgSize)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	resp := new(dns.Msg)
	if err := resp.Unpack(buf[:n]); err != nil {
		return nil, err
	}
	return resp, nil
}

// resolveMDNS asks the local link for the A records of host.
func resolveMDNS(host string) ([]net.IP, error) {
	q := queryA(host)
	resp, err := exchangeMDNS(q, 3*time.Second)
	if err != nil {
		return nil, err
	}
	ips := answerIPs(resp, q.Question[0].Name)
	if len(ips) == 0 {
		return nil, fmt.Errorf("no mdns answer for %s", host)
	}
	return ips, nil
}

// answerIPs returns the A records of msg that belong to name.
func answerIPs(msg *dns.Msg, name string) []net.IP {
	var ips []net.IP
	for _, rr := range msg.Answer {
		if a, ok := rr.(*dns.A); ok && strings.EqualFold(a.Hdr.Name, name) {
			ips = append(ips, a.A)
		}
	}
	return ips
}

// resolveLookup turns a broker host[:port] into dialable addresses. Names
// the system resolver does not know are tried over mDNS.
func resolveLookup(hostport string) ([]string, error) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host, port = hostport, ""
	}
	if port == "" {
		port = "1883"
	}

	var ips []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ips = []net.IP{ip}
	} else if ips, err = net.LookupIP(host); err != nil {
		if ips, err = resolveMDNS(host); err != nil {
			return nil, err
		}
	}

	addrs := make([]string, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, net.JoinHostPort(ip.String(), port))
	}
	return addrs, nil
}

// discoverBrokers browses the local link for service and returns the IPv4
// addresses of every instance that answered.
func discoverBrokers(service string, timeout time.Duration, logger zerolog.Logger) ([]string, error) {
	entries := make(chan *mdns.ServiceEntry, 8)
	var (
		addrs []string
		wg    sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range entries {
			if e.AddrV4 == nil || e.AddrV4.IsUnspecified() {
				continue
			}
			logger.Info().Str("event", "mqtt.discovered").Str("host", e.Host).Stringer("addr", e.AddrV4).Msg("found MQTT server")
			addrs = append(addrs, net.JoinHostPort(e.AddrV4.String(), strconv.Itoa(e.Port)))
		}
	}()

	params := mdns.DefaultParams(service)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true
	err := mdns.Query(params)
	close(entries)
	wg.Wait()
	return addrs, err
}

type goClient struct {
	mqtt.Client
	logger zerolog.Logger
}

func goify(tok mqtt.Token) error {
	tok.Wait()
	return tok.Error()
}
func (c *goClient) Connect() error { return goify(c.Client.Connect()) }

func (c *goClient) Publish(topic string, qos int, retain bool, payload []byte) error {
	topic = strings.TrimPrefix(topic, "/")
	c.logger.Debug().Str("topic", topic).Bytes("payload", payload).Msg("publish")
	return goify(c.Client.Publish(topic, byte(qos), retain, payload))
}
func (c *goClient) Subscribe(topic string, qos int, callback mqtt.MessageHandler) error {
	topic = strings.TrimPrefix(topic, "/")
	c.logger.Debug().Str("topic", topic).Msg("subscribe")
	return goify(c.Client.Subscribe(topic, byte(qos), callback))
}

// brokerHosts resolves the broker addresses of u. A blank host means
// discovery over mDNS.
func brokerHosts(u *url.URL, logger zerolog.Logger) ([]string, error) {
	if u.Host != "" {
		hosts, err := resolveLookup(u.Host)
		if err != nil {
			return nil, fmt.Errorf("resolve lookup: %w", err)
		}
		return hosts, nil
	}
	hosts, err := discoverBrokers("_mqtt._tcp", 2*time.Second, logger)
	if err != nil {
		return nil, fmt.Errorf("mdns lookup: %w", err)
	}
	if len(hosts) == 0 {
		return nil, fmt.Errorf("mdns lookup: no MQTT server found")
	}
	return hosts, nil
}

// runMQTT connects to the broker named by connStr (scheme://host:port/topic)
// and bridges the finder: commands and settings come in, state goes out.
func runMQTT(ctx context.Context, connStr string, ctl webui.Controller, stateEvery time.Duration) error {
	logger := log.WithComponent("mqtt")

	u, err := url.Parse(connStr)
	if err != nil {
		return fmt.Errorf("invalid server url: %w", err)
	}
	topic := strings.TrimPrefix(u.Path, "/")
	if topic == "" {
		topic = "satfinder"
	}
	u.Path = ""

	logger.Info().Msg("looking up broker")
	hosts, err := brokerHosts(u, logger)
	if err != nil {
		return err
	}

	opts := mqtt.NewClientOptions()
	opts.SetClientID("satfinderd-" + uuid.NewV4().String())
	opts.SetWill(path.Join(topic, "online"), "false", 1, true)
	if u.User != nil {
		opts.SetUsername(u.User.Username())
		if p, ok := u.User.Password(); ok {
			opts.SetPassword(p)
		}
		u.User = nil
	}
	for _, u.Host = range hosts {
		logger.Info().Str("broker", u.String()).Msg("adding broker")
		opts.AddBroker(u.String())
	}
	cli := &goClient{Client: mqtt.NewClient(opts), logger: logger}
	if err := cli.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer cli.Disconnect(250)

	b := &bridge{topic: topic, ctl: ctl, pub: cli, logger: logger}
	if err := b.setOnline(true); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	b.publishSettings()

	if err := cli.Subscribe(path.Join(topic, "settings/set"), 1, b.handleSettings); err != nil {
		return fmt.Errorf("subscribe settings: %w", err)
	}
	if err := cli.Subscribe(path.Join(topic, "command"), 1, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe command: %w", err)
	}

	t := time.NewTicker(stateEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = b.setOnline(false)
			return nil
		case <-t.C:
			if err := b.publishState(); err != nil {
				logger.Warn().Err(err).Msg("publish state")
			}
		}
	}
}

type publisher interface {
	Publish(topic string, qos int, retain bool, payload []byte) error
}

// bridge maps the finder onto topics below topic:
//
//	online        "true"/"false", retained
//	settings      current settings, retained
//	settings/set  replaces the settings
//	command       a control message, answered on reply
//	state         periodic values
type bridge struct {
	topic  string
	ctl    webui.Controller
	pub    publisher
	logger zerolog.Logger
}

func (b *bridge) setOnline(online bool) error {
	return b.pub.Publish(path.Join(b.topic, "online"), 0, true, []byte(strconv.FormatBool(online)))
}

// publishSettings is called from subscription callbacks, so it publishes at
// QoS 0 to avoid waiting on the client's own router.
func (b *bridge) publishSettings() {
	data, err := json.Marshal(b.ctl.Settings())
	if err != nil {
		b.logger.Error().Err(err).Msg("encode settings")
		return
	}
	if err := b.pub.Publish(path.Join(b.topic, "settings"), 0, true, data); err != nil {
		b.logger.Error().Err(err).Msg("publish settings")
	}
}

func (b *bridge) publishState() error {
	data, err := json.Marshal(b.ctl.Values())
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	return b.pub.Publish(path.Join(b.topic, "state"), 0, false, data)
}

func (b *bridge) handleSettings(_ mqtt.Client, msg mqtt.Message) {
	msg.Ack()

	next := b.ctl.Settings()
	if err := json.Unmarshal(msg.Payload(), &next); err != nil {
		b.logger.Error().Err(err).Msg("invalid settings")
		return
	}
	if err := b.ctl.ApplySettings(next); err != nil {
		b.logger.Error().Err(err).Msg("apply settings")
		return
	}
	b.publishSettings()
	b.logger.Info().Str("event", "mqtt.settings").Msg("settings updated")
}

func (b *bridge) handleCommand(_ mqtt.Client, msg mqtt.Message) {
	msg.Ack()

	reply := webui.DispatchJSON(b.ctl, msg.Payload())
	if err := b.pub.Publish(path.Join(b.topic, "reply"), 0, false, reply); err != nil {
		b.logger.Error().Err(err).Msg("publish reply")
	}
	b.publishSettings()
}
