// Copyright 2025 Certen Protocol
//
// Package server exposes the sidechain node's external query surface: block
// lookups, contract table queries, and operational health/metrics.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/certen/sidechain-node/pkg/consensus"
	"github.com/certen/sidechain-node/pkg/ledger"
)

// Server is the node's HTTP query surface.
type Server struct {
	httpServer *http.Server
	logger     *log.Logger
}

// WitnessHealthReporter is satisfied by *consensus.RoundHealthMonitor;
// declared here to avoid the server package depending on the monitor's
// concrete lifecycle, only its read-only status snapshot.
type WitnessHealthReporter interface {
	GetHealthStatus() *consensus.Report
}

// Option configures optional Server behavior.
type Option func(*serverConfig)

type serverConfig struct {
	witnessHealth WitnessHealthReporter
}

// WithWitnessHealth exposes a round health monitor's status at
// /health/witness; omitted entirely on nodes that aren't witnesses.
func WithWitnessHealth(r WitnessHealthReporter) Option {
	return func(c *serverConfig) { c.witnessHealth = r }
}

// NewServer builds a Server bound to addr, serving the ledger query RPCs
// named in the external interface plus /health and /metrics.
func NewServer(addr string, l *ledger.Ledger, store *ledger.Store, chainID string, opts ...Option) *Server {
	logger := log.New(log.Writer(), "[Server] ", log.LstdFlags)
	h := NewLedgerHandlers(l, store, chainID)

	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/getBlockInfo", h.HandleGetBlockInfo)
	mux.HandleFunc("/getLatestBlockInfo", h.HandleGetLatestBlockInfo)
	mux.HandleFunc("/getContract", h.HandleGetContract)
	mux.HandleFunc("/getInclusionProof", h.HandleGetInclusionProof)
	mux.HandleFunc("/findInTable", h.HandleFindInTable)
	mux.HandleFunc("/findOneInTable", h.HandleFindOneInTable)
	mux.HandleFunc("/health", handleHealth(l))
	mux.Handle("/metrics", promhttp.Handler())
	if cfg.witnessHealth != nil {
		mux.HandleFunc("/health/witness", handleWitnessHealth(cfg.witnessHealth))
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

func handleWitnessHealth(r WitnessHealthReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(r.GetHealthStatus())
	}
}

// Start runs the HTTP server until it errors or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Printf("listening on %s", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
