package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"satfinder/internal/log"
	"satfinder/internal/webui"
)

// serveHTTP runs the web interface on addr until ctx is done.
func serveHTTP(ctx context.Context, addr string, ctl webui.Controller, version string) error {
	logger := log.WithComponent("http")
	srv := &http.Server{
		Addr:              addr,
		Handler:           webui.Handler(ctl, version),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("event", "http.listen").Str("addr", addr).Msg("serving web interface")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if lerr := <-errc; lerr != nil && !errors.Is(lerr, http.ErrServerClosed) && err == nil {
		err = lerr
	}
	return err
}
