package webui

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"satfinder/internal/config"
	"satfinder/internal/finder"
	"satfinder/internal/hardware"
	"satfinder/internal/settings"
)

type fakeController struct {
	mx    sync.Mutex
	calls []string
	s     settings.Settings
	v     finder.Values

	rotor    float64
	nudgeDir hardware.Direction
	nudgeDur time.Duration
	nudgeSpd int
}

func newFake() *fakeController {
	return &fakeController{
		s: settings.FromRecord(config.Defaults()),
		v: finder.Values{State: finder.StateIdle, Azimuth: 150, SatAzimuth: 163.34},
	}
}

func (f *fakeController) record(c string) {
	f.mx.Lock()
	f.calls = append(f.calls, c)
	f.mx.Unlock()
}

func (f *fakeController) Values() finder.Values       { return f.v }
func (f *fakeController) Settings() settings.Settings { return f.s }
func (f *fakeController) ApplySettings(s settings.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	f.record("apply")
	f.s = s
	return nil
}
func (f *fakeController) Start() { f.record("start"); f.v.State = finder.StateTracking }
func (f *fakeController) Stop() { f.record("stop"); f.v.State = finder.StateIdle }
func (f *fakeController) SetManualAzimuth(az float64) error {
	f.record("manual_az")
	f.v.DishAzimuth = az
	return nil
}
func (f *fakeController) SetManualElevation(el float64) error {
	f.record("manual_el")
	f.v.DishElev = el
	return nil
}
func (f *fakeController) SetRotor(a float64) error {
	f.record("rotor")
	f.rotor = a
	return nil
}
func (f *fakeController) StepRotor(d float64) error {
	f.record("rotor_step")
	f.rotor += d
	return nil
}
func (f *fakeController) NudgeElevation(dir hardware.Direction, d time.Duration, speed int) error {
	f.record("nudge")
	f.nudgeDir, f.nudgeDur, f.nudgeSpd = dir, d, speed
	return nil
}

func decode(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

func TestDispatchJSON(t *testing.T) {
	c := newFake()

	got := decode(t, DispatchJSON(c, []byte(`{"action":"getvalues"}`)))
	assert.Equal(t, "getvalues", got["action"])
	assert.Equal(t, 150.0, got["azimut"])
	assert.Equal(t, 163.34, got["s_azimut"])
	assert.Equal(t, "idle", got["state"])

	got = decode(t, DispatchJSON(c, []byte(`{"action":"getsettings"}`)))
	assert.Equal(t, "getsettings", got["action"])
	assert.Equal(t, 173.34, got["azimut"])
	assert.Equal(t, 700.0, got["motor_speed"])

	got = decode(t, DispatchJSON(c, []byte(`{"action":"start"}`)))
	assert.Equal(t, "tracking", got["state"])

	got = decode(t, DispatchJSON(c, []byte(`{"action":"slider1","level":"181.5"}`)))
	assert.Equal(t, 181.5, got["d_azimut"])
	got = decode(t, DispatchJSON(c, []byte(`{"action":"slider2","level":22}`)))
	assert.Equal(t, 22.0, got["d_elevation"])

	DispatchJSON(c, []byte(`{"action":"slider3","level":"-12"}`))
	assert.Equal(t, -12.0, c.rotor)
	DispatchJSON(c, []byte(`{"action":"rotor_up"}`))
	DispatchJSON(c, []byte(`{"action":"rotor_down_step"}`))
	assert.Equal(t, -12+RotorStep-RotorFineStep, c.rotor)

	DispatchJSON(c, []byte(`{"action":"om_el_down","time":"250","speed":"600"}`))
	assert.Equal(t, hardware.Down, c.nudgeDir)
	assert.Equal(t, 250*time.Millisecond, c.nudgeDur)
	assert.Equal(t, 600, c.nudgeSpd)

	got = decode(t, DispatchJSON(c, []byte(`{"action":"stop"}`)))
	assert.Equal(t, "idle", got["state"])
}

func TestDispatchSaveSettings(t *testing.T) {
	c := newFake()
	got := decode(t, DispatchJSON(c, []byte(`{"action":"savesettings","azimut":"170.5","elevation":"30","az_offset":"-9","el_offset":"-17.5","motor_speed":"650"}`)))
	assert.Equal(t, "savesettings", got["action"])
	assert.Equal(t, settings.Settings{Azimuth: 170.5, Elevation: 30, AzOffset: -9, ElOffset: -17.5, MotorSpeed: 650}, c.s)

	// Partial updates keep the other fields.
	DispatchJSON(c, []byte(`{"action":"savesettings","motor_speed":500}`))
	assert.Equal(t, 500, c.s.MotorSpeed)
	assert.Equal(t, 170.5, c.s.Azimuth)

	got = decode(t, DispatchJSON(c, []byte(`{"action":"savesettings","motor_speed":"0"}`)))
	assert.Equal(t, "error", got["action"])
	assert.Contains(t, got["error"], "motor_speed")
	assert.Equal(t, 500, c.s.MotorSpeed)
}

func TestDispatchErrors(t *testing.T) {
	c := newFake()
	for _, msg := range []string{
		`not json`,
		`{"action":"dance"}`,
		`{"action":"slider1"}`,
		`{"action":"slider1","level":"abc"}`,
		`{"action":"slider1","level":"NaN"}`,
		`{"action":"slider2","level":"-Inf"}`,
		`{"action":"slider3","level":"Infinity"}`,
		`{"action":"om_el_up","time":"inf","speed":700}`,
		`{"action":"savesettings","azimut":"nan"}`,
		`{"action":"om_el_up","time":100}`,
	} {
		got := decode(t, DispatchJSON(c, []byte(msg)))
		assert.Equal(t, "error", got["action"], msg)
		assert.NotEmpty(t, got["error"], msg)
	}
	assert.Empty(t, c.calls)
	assert.Equal(t, "getvalues", decode(t, DispatchJSON(c, []byte(`{"action":"getvalues"}`)))["action"])

	_, err := Dispatch(c, Request{Action: "dance"})
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestWebSocket(t *testing.T) {
	c := newFake()
	srv := httptest.NewServer(Handler(c, "1.3"))
	defer srv.Close()

	ws, err := websocket.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", "", srv.URL+"/")
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, websocket.Message.Send(ws, `{"action":"start"}`))
	var reply string
	require.NoError(t, websocket.Message.Receive(ws, &reply))
	got := decode(t, []byte(reply))
	assert.Equal(t, "getvalues", got["action"])
	assert.Equal(t, "tracking", got["state"])

	require.NoError(t, websocket.Message.Send(ws, `{"action":"bogus"}`))
	require.NoError(t, websocket.Message.Receive(ws, &reply))
	assert.Equal(t, "error", decode(t, []byte(reply))["action"])

	// The connection survives errors.
	require.NoError(t, websocket.Message.Send(ws, `{"action":"getsettings"}`))
	require.NoError(t, websocket.Message.Receive(ws, &reply))
	assert.Equal(t, "getsettings", decode(t, []byte(reply))["action"])
}

func TestHTTPEndpoints(t *testing.T) {
	c := newFake()
	h := Handler(c, "1.3")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Body.String(), "SatFinder <small>1.3</small>")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/values", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 150.0, decode(t, rec.Body.Bytes())["azimut"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/settings", nil))
	assert.Equal(t, 700.0, decode(t, rec.Body.Bytes())["motor_speed"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/command", strings.NewReader(`{"action":"start"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tracking", decode(t, rec.Body.Bytes())["state"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/command", strings.NewReader(`{"action":"nope"}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/command", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "go_goroutines")
}
