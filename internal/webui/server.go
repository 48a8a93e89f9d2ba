// Package webui serves the browser interface of the finder: the index page,
// a WebSocket carrying the JSON control protocol, a small JSON API and the
// Prometheus metrics.
package webui

import (
	"embed"
	"encoding/json"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/net/websocket"

	"satfinder/internal/log"
)

//go:embed index.html.tmpl
var assets embed.FS

var tmpl = template.Must(template.ParseFS(assets, "index.html.tmpl"))

// maxMessage bounds a single client message.
const maxMessage = 4 << 10

type server struct {
	c       Controller
	version string
	logger  zerolog.Logger
}

// Handler returns the HTTP handler for c.
func Handler(c Controller, version string) http.Handler {
	s := &server{c: c, version: version, logger: log.WithComponent("webui")}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", s.serveIndex)
	r.Handle("/ws", websocket.Handler(s.serveWS))
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Use(httprate.LimitByIP(120, time.Minute))
		r.Get("/values", s.serveValues)
		r.Get("/settings", s.serveSettings)
		r.Post("/command", s.serveCommand)
	})
	return r
}

func (s *server) serveIndex(w http.ResponseWriter, req *http.Request) {
	data := struct{ Version string }{s.version}
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		s.logger.Error().Err(err).Msg("render index")
	}
}

func (s *server) serveWS(ws *websocket.Conn) {
	defer ws.Close()
	ws.MaxPayloadBytes = maxMessage
	remote := ws.Request().RemoteAddr
	s.logger.Info().Str("event", "ws.connect").Str("remote", remote).Msg("client connected")

	for {
		var msg []byte
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			if err != io.EOF {
				s.logger.Debug().Err(err).Str("remote", remote).Msg("receive")
			}
			break
		}
		if err := websocket.Message.Send(ws, string(DispatchJSON(s.c, msg))); err != nil {
			s.logger.Debug().Err(err).Str("remote", remote).Msg("send")
			break
		}
	}
	s.logger.Info().Str("event", "ws.disconnect").Str("remote", remote).Msg("client disconnected")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *server) serveValues(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, s.c.Values())
}

func (s *server) serveSettings(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, s.c.Settings())
}

func (s *server) serveCommand(w http.ResponseWriter, req *http.Request) {
	var r Request
	if err := json.NewDecoder(io.LimitReader(req.Body, maxMessage)).Decode(&r); err != nil {
		writeJSON(w, http.StatusBadRequest, errorReply{Action: "error", Error: err.Error()})
		return
	}
	reply, err := Dispatch(s.c, r)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorReply{Action: "error", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, reply)
}
