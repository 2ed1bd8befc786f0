// Package diag serves runtime diagnostics over HTTP: Prometheus metrics,
// liveness and readiness probes, and a JSON view of the live instances.
package diag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/valyala/bytebufferpool"

	"github.com/go-orbit/orbit/pkg/core"
	"github.com/go-orbit/orbit/pkg/host"
)

// DefaultMaxStall is how long the loop may go without a step before the
// liveness probe fails.
const DefaultMaxStall = 10 * time.Second

// maxGoroutines fails liveness when exceeded, which usually means leaked
// callbacks.
const maxGoroutines = 10000

// Options configures the diagnostics handler.
type Options struct {
	App      string
	Runtime  *core.Runtime
	Loop     *host.Loop
	Gatherer prometheus.Gatherer
	MaxStall time.Duration
}

// RuntimeInfo is the body of /runtime.
type RuntimeInfo struct {
	App       string `json:"app"`
	Running   bool   `json:"running"`
	Steps     uint64 `json:"steps"`
	Pending   int    `json:"pending"`
	Schedules int    `json:"schedules"`
	Instances int    `json:"instances"`
	LastStep  string `json:"lastStep,omitempty"`
}

// Handler builds the diagnostics mux.
func Handler(opts Options) http.Handler {
	if opts.MaxStall <= 0 {
		opts.MaxStall = DefaultMaxStall
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(maxGoroutines))
	if opts.Loop != nil {
		health.AddLivenessCheck("loop", func() error {
			return opts.Loop.Live(opts.MaxStall)
		})
		health.AddReadinessCheck("loop", func() error {
			if !opts.Loop.Running() {
				return errors.New("loop not running")
			}
			return nil
		})
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /live", health.LiveEndpoint)
	mux.HandleFunc("GET /ready", health.ReadyEndpoint)
	mux.HandleFunc("GET /runtime", func(w http.ResponseWriter, r *http.Request) {
		info := RuntimeInfo{App: opts.App}
		if opts.Runtime != nil {
			info.Instances = opts.Runtime.Len()
		}
		if l := opts.Loop; l != nil {
			info.Running = l.Running()
			info.Steps = l.Steps()
			info.Pending = l.Pending()
			info.Schedules = l.Schedules()
			if last := l.LastStep(); !last.IsZero() {
				info.LastStep = last.UTC().Format(time.RFC3339Nano)
			}
		}
		writeJSON(w, info)
	})
	mux.HandleFunc("GET /instances", func(w http.ResponseWriter, r *http.Request) {
		if opts.Runtime == nil {
			http.Error(w, "no runtime", http.StatusServiceUnavailable)
			return
		}
		component := r.URL.Query().Get("component")
		infos := make([]core.InstanceInfo, 0, opts.Runtime.Len())
		for _, inst := range opts.Runtime.Instances() {
			if component != "" && inst.Component() != component {
				continue
			}
			infos = append(infos, inst.Info())
		}
		writeJSON(w, infos)
	})
	mux.HandleFunc("GET /instances/{id}", func(w http.ResponseWriter, r *http.Request) {
		if opts.Runtime == nil {
			http.Error(w, "no runtime", http.StatusServiceUnavailable)
			return
		}
		n, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid instance id", http.StatusBadRequest)
			return
		}
		inst, ok := opts.Runtime.Instance(core.ID(n))
		if !ok {
			http.Error(w, "unknown instance", http.StatusNotFound)
			return
		}
		writeJSON(w, inst.Info())
	})
	return mux
}

// writeJSON encodes v into a pooled buffer first so encoding errors can
// still produce a 500.
func writeJSON(w http.ResponseWriter, v any) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	enc := json.NewEncoder(buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		http.Error(w, fmt.Sprintf("json encode error: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(buf.B)
}

// Server is a running diagnostics server.
type Server struct {
	server   *http.Server
	listener net.Listener
	logger   zerolog.Logger

	mu   sync.Mutex
	done chan struct{}
}

// Start binds addr and serves h in the background. Use port 0 for an
// ephemeral port; Addr reports the bound address.
func Start(addr string, h http.Handler, logger zerolog.Logger) (*Server, error) {
	// Bind first to fail fast on port conflicts.
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("diagnostics listen: %w", err)
	}

	s := &Server{
		server:   &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second},
		listener: listener,
		logger:   logger,
		done:     make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("diagnostics server failed")
		}
	}()
	s.logger.Info().Str("addr", s.Addr()).Msg("diagnostics server listening")
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Stop gracefully shuts the server down, waiting at most two seconds.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	<-s.done
	return err
}
