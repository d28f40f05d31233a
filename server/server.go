/*
Package server encapsulates the status http server of the coordinator. It
shows the tracked exchanges and the event stream counters.
*/
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/findy-network/findy-exchange/agent/psm"
	"github.com/findy-network/findy-exchange/agent/subscriber"
	"github.com/findy-network/findy-exchange/agent/utils"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang/glog"
)

// Source is what the server shows. It's implemented by the coordinator.
type Source interface {
	Active() []psm.Exchange
	Exchange(corrID string) (psm.Exchange, error)
	AwaitReady(ctx context.Context, corrID string) (psm.Exchange, error)
	Archived(kind psm.Kind, limit int) ([]psm.Exchange, error)
	Stats() subscriber.Stats
}

const (
	shutdownTimeout     = 5 * time.Second
	defaultReadyTimeout = 30 * time.Second
	maxReadyTimeout     = 5 * time.Minute
)

// StartHTTPServer starts the http server. The function blocks until the
// context is done, and then shuts the server down. The open requests see the
// context done as well.
func StartHTTPServer(ctx context.Context, src Source, serverPort uint) error {
	server := New(src, serverPort)
	server.BaseContext = func(net.Listener) context.Context { return ctx }
	if glog.V(1) {
		glog.Info(utils.Settings.VersionInfo())
		glog.Infof("HTTP Server on port: %v", serverPort)
	}

	errs := make(chan error, 1)
	go func() {
		errs <- server.ListenAndServe()
	}()
	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	glog.V(1).Infoln("HTTP Server stopped")
	return nil
}

// New returns the status server which isn't started.
func New(src Source, serverPort uint) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%v", serverPort),
		Handler:           Handler(src),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Handler returns the routes of the status server.
func Handler(src Source) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		if glog.V(5) {
			glog.Info("/version requested")
		}
		_, _ = w.Write([]byte(utils.Settings.VersionInfo()))
	})
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, src.Stats())
	})
	r.Get("/exchanges", func(w http.ResponseWriter, r *http.Request) {
		listExchanges(src, w, r)
	})
	r.Get("/exchanges/{id}", func(w http.ResponseWriter, r *http.Request) {
		getExchange(src, w, r)
	})
	r.Get("/exchanges/{id}/ready", func(w http.ResponseWriter, r *http.Request) {
		awaitReady(src, w, r)
	})
	r.Get("/archive/{kind}", func(w http.ResponseWriter, r *http.Request) {
		listArchived(src, w, r)
	})
	return r
}

// listExchanges lists the tracked exchanges. They can be filtered with the
// kind and the state query parameters.
func listExchanges(src Source, w http.ResponseWriter, r *http.Request) {
	kind := psm.Unknown
	if k := r.URL.Query().Get("kind"); k != "" {
		var err error
		if kind, err = psm.ParseKind(k); err != nil {
			errorResponse(w, http.StatusBadRequest, err)
			return
		}
	}
	state := psm.State(r.URL.Query().Get("state"))

	exs := make([]psm.Exchange, 0)
	for _, ex := range src.Active() {
		if kind != psm.Unknown && ex.Kind != kind {
			continue
		}
		if state != psm.Nothing && ex.State != state {
			continue
		}
		exs = append(exs, ex)
	}
	writeJSON(w, exs)
}

func getExchange(src Source, w http.ResponseWriter, r *http.Request) {
	ex, err := src.Exchange(chi.URLParam(r, "id"))
	exchangeResponse(w, ex, err)
}

// awaitReady long-polls the terminal state of the exchange. The wait is
// limited with the timeout query parameter.
func awaitReady(src Source, w http.ResponseWriter, r *http.Request) {
	timeout := defaultReadyTimeout
	if t := r.URL.Query().Get("timeout"); t != "" {
		var err error
		if timeout, err = time.ParseDuration(t); err != nil || timeout <= 0 {
			errorResponse(w, http.StatusBadRequest, fmt.Errorf("bad timeout %q", t))
			return
		}
		if timeout > maxReadyTimeout {
			timeout = maxReadyTimeout
		}
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	ex, err := src.AwaitReady(ctx, chi.URLParam(r, "id"))
	exchangeResponse(w, ex, err)
}

func exchangeResponse(w http.ResponseWriter, ex psm.Exchange, err error) {
	switch {
	case errors.Is(err, psm.ErrNotFound):
		errorResponse(w, http.StatusNotFound, err)
	case errors.Is(err, psm.ErrExchangeTimedOut):
		errorResponse(w, http.StatusRequestTimeout, err)
	case err != nil:
		glog.Errorln("get exchange:", err)
		errorResponse(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, ex)
	}
}

// listArchived lists the retired exchanges of the kind. The max query
// parameter limits the count.
func listArchived(src Source, w http.ResponseWriter, r *http.Request) {
	kind, err := psm.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err)
		return
	}
	limit := 0
	if m := r.URL.Query().Get("max"); m != "" {
		if limit, err = strconv.Atoi(m); err != nil || limit < 0 {
			errorResponse(w, http.StatusBadRequest, fmt.Errorf("bad max %q", m))
			return
		}
	}
	exs, err := src.Archived(kind, limit)
	switch {
	case errors.Is(err, psm.ErrNotFound):
		errorResponse(w, http.StatusNotFound, err)
	case err != nil:
		glog.Errorln("list archive:", err)
		errorResponse(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, exs)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Warningln("write response:", err)
	}
}

func errorResponse(w http.ResponseWriter, code int, err error) {
	glog.V(2).Infof("Returning %d", code)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": err.Error()})
}
