package main

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"satfinder/internal/config"
	"satfinder/internal/network"
)

func TestAnswerIPs(t *testing.T) {
	msg := new(dns.Msg)
	msg.Answer = []dns.RR{
		&dns.A{Hdr: dns.RR_Header{Name: "broker.local.", Rrtype: dns.TypeA}, A: net.ParseIP("192.168.1.10")},
		&dns.A{Hdr: dns.RR_Header{Name: "other.local.", Rrtype: dns.TypeA}, A: net.ParseIP("192.168.1.11")},
		&dns.AAAA{Hdr: dns.RR_Header{Name: "broker.local.", Rrtype: dns.TypeAAAA}, AAAA: net.ParseIP("fe80::1")},
		&dns.A{Hdr: dns.RR_Header{Name: "BROKER.local.", Rrtype: dns.TypeA}, A: net.ParseIP("192.168.1.12")},
	}
	got := answerIPs(msg, dns.Fqdn("broker.local"))
	require.Len(t, got, 2)
	assert.True(t, got[0].Equal(net.ParseIP("192.168.1.10")))
	assert.True(t, got[1].Equal(net.ParseIP("192.168.1.12")))
}

func TestResolveLookupLiteral(t *testing.T) {
	got, err := resolveLookup("127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1:1883"}, got)

	got, err = resolveLookup("127.0.0.1:8883")
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1:8883"}, got)
}

func TestAdvertiseRejectsBadAddr(t *testing.T) {
	_, err := advertise("no-port", config.Defaults())
	assert.Error(t, err)
	_, err = advertise(":http", config.Defaults())
	assert.Error(t, err)
}

func TestWebServiceInstance(t *testing.T) {
	rec := config.Defaults()
	rec.APSSID = "dish-ap"
	svc, err := webService(":8080", rec)
	require.NoError(t, err)
	assert.Equal(t, network.Instance, svc.Instance, "instance does not follow the AP ssid")
	assert.Equal(t, 8080, svc.Port)
	require.Len(t, svc.IPs, 1)
	assert.True(t, svc.IPs[0].Equal(net.ParseIP(network.APAddress)))
}

func TestServeHTTPShutdown(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveHTTP(ctx, addr, nil, "test") }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serveHTTP did not return")
	}
}
