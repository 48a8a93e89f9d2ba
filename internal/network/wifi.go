// Package network brings the device onto a Wi-Fi network, either as an
// access point of its own or as a client of an existing network, and
// announces the web interface over mDNS.
package network

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/google/renameio/v2"

	"satfinder/internal/config"
)

// APAddress is the address of the device in access point mode.
const APAddress = "192.168.4.1"

// Profile is a rendered network configuration file.
type Profile struct {
	Mode     config.WiFiMode
	SSID     string
	Filename string
	Contents []byte
}

var hostapdTmpl = template.Must(template.New("hostapd").Parse(`# generated by satfinderd {{.Version}}
interface={{.Iface}}
driver=nl80211
ssid={{.SSID}}
hw_mode=g
channel=6
ignore_broadcast_ssid=0
{{- if .Password}}
auth_algs=1
wpa=2
wpa_key_mgmt=WPA-PSK
rsn_pairwise=CCMP
wpa_passphrase={{.Password}}
{{- end}}
`))

var supplicantTmpl = template.Must(template.New("wpa_supplicant").Funcs(template.FuncMap{
	"hex": func(s string) string { return hex.EncodeToString([]byte(s)) },
}).Parse(`# generated by satfinderd {{.Version}}
ctrl_interface=DIR=/var/run/wpa_supplicant GROUP=netdev
update_config=1

network={
	ssid={{hex .SSID}}
{{- if .Password}}
	psk="{{.Password}}"
{{- else}}
	key_mgmt=NONE
{{- end}}
}
`))

// Render builds the configuration for the record's WiFi mode: a hostapd
// config for AccessPoint, a wpa_supplicant config for Station. Only the
// credential pair of the selected mode is used.
func Render(rec config.Record, iface string) (Profile, error) {
	if err := rec.Validate(); err != nil {
		return Profile{}, err
	}
	c := rec.Credentials()
	if strings.ContainsAny(c.SSID+c.Password, "\n\r") || strings.Contains(c.Password, `"`) {
		return Profile{}, fmt.Errorf("%w: credentials contain a line break or quote", config.ErrInvalidRecord)
	}

	data := struct {
		Version, Iface, SSID, Password string
	}{rec.AppVersion, iface, c.SSID, c.Password}

	var (
		buf  bytes.Buffer
		tmpl *template.Template
		name string
	)
	switch rec.WiFiMode {
	case config.AccessPoint:
		tmpl, name = hostapdTmpl, "hostapd.conf"
	case config.Station:
		tmpl, name = supplicantTmpl, "wpa_supplicant.conf"
	}
	if err := tmpl.Execute(&buf, data); err != nil {
		return Profile{}, fmt.Errorf("render %s: %w", name, err)
	}
	return Profile{Mode: rec.WiFiMode, SSID: c.SSID, Filename: name, Contents: buf.Bytes()}, nil
}

// Write atomically replaces dir/Filename. The file holds a passphrase and is
// only readable by its owner.
func (p Profile) Write(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, p.Filename)
	if err := renameio.WriteFile(path, p.Contents, 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
