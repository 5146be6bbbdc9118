// Package httpd exposes Risotto's observability surface: a JSON
// introspection view of collector state, Prometheus metrics, and
// liveness/readiness probes (spec.md §6, "the metrics registry and
// HTTP server").
package httpd

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/route-beacon/risotto/internal/collector"
	"github.com/route-beacon/risotto/internal/config"
)

// ListenerStatus reports whether the BMP TCP listener is currently
// accepting connections.
type ListenerStatus interface {
	Listening() bool
}

// SnapshotStatus reports whether the startup snapshot load has
// completed (successfully or with a recorded non-fatal failure).
type SnapshotStatus interface {
	Loaded() bool
}

// Server is Risotto's HTTP introspection server.
type Server struct {
	srv      *http.Server
	index    *collector.Index
	routers  map[string]config.RouterMeta
	listener ListenerStatus
	snapshot SnapshotStatus
	logger   *zap.Logger
}

// NewServer builds a Server bound to addr. routers attaches display
// metadata (name, location) to routers by IP address string, per
// spec.md §7's supplemented router-metadata-overlay feature.
func NewServer(addr string, index *collector.Index, routers map[string]config.RouterMeta, listener ListenerStatus, snapshot SnapshotStatus, logger *zap.Logger) *Server {
	s := &Server{
		index:    index,
		routers:  routers,
		listener: listener,
		snapshot: snapshot,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Start binds the listener and serves in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("HTTP server listening", zap.String("addr", s.srv.Addr))
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type routerView struct {
	Address     string      `json:"address"`
	Port        uint16      `json:"port"`
	Name        string      `json:"name,omitempty"`
	Location    string      `json:"location,omitempty"`
	PeerCount   int         `json:"peer_count"`
	Peers       []peerView  `json:"peers"`
}

type peerView struct {
	ASN            uint32 `json:"asn"`
	PostPolicy     bool   `json:"post_policy"`
	AdjRibOut      bool   `json:"adj_rib_out"`
	IPv6           bool   `json:"ipv6"`
	AnnouncedCount int    `json:"announced_count"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	views := s.index.Inspect()
	out := make([]routerView, 0, len(views))
	for _, rv := range views {
		meta := s.routers[rv.Key.Addr.String()]
		peers := make([]peerView, 0, len(rv.Peers))
		for _, pv := range rv.Peers {
			peers = append(peers, peerView{
				ASN:            pv.Key.ASN,
				PostPolicy:     pv.Meta.IsPostPolicy,
				AdjRibOut:      pv.Meta.IsAdjRibOut,
				IPv6:           pv.Meta.IsIPv6,
				AnnouncedCount: pv.AnnouncedCount,
			})
		}
		out = append(out, routerView{
			Address:   rv.Key.Addr.String(),
			Port:      rv.Key.Port,
			Name:      meta.Name,
			Location:  meta.Location,
			PeerCount: len(peers),
			Peers:     peers,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"routers": out})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	_, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	allOK := true

	if s.listener != nil && s.listener.Listening() {
		checks["bmp_listener"] = "ok"
	} else {
		checks["bmp_listener"] = "not_listening"
		allOK = false
	}

	if s.snapshot != nil && s.snapshot.Loaded() {
		checks["snapshot"] = "ok"
	} else {
		checks["snapshot"] = "not_loaded"
		allOK = false
	}

	status := "ready"
	httpStatus := http.StatusOK
	if !allOK {
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"checks": checks,
	})
}
