// Package web streams ledger entries to HTTP clients as server-sent events.
package web

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/vadiminshakov/tokenledger/internal/domain"
)

const (
	defaultPollInterval      = 2 * time.Second
	defaultHeartbeatInterval = 15 * time.Second
	shutdownTimeout          = 5 * time.Second
)

type ledgerReader interface {
	EntriesAfter(ctx context.Context, seq uint64) ([]domain.LedgerRecord, error)
}

// Server exposes the ledger stream and a health check.
type Server struct {
	Addr              string
	Store             ledgerReader
	Logger            *zap.Logger
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
}

// NewServer creates a new web server instance.
func NewServer(addr string, store ledgerReader, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		Addr:              addr,
		Store:             store,
		Logger:            logger,
		PollInterval:      defaultPollInterval,
		HeartbeatInterval: defaultHeartbeatInterval,
	}
}

// Handler routes /ledger/stream and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ledger/stream", s.handleLedgerStream)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "ok")
	})
	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.Logger.Info("ledger stream listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWithAutoTLS runs an HTTPS server with certificates from ACME.
// A plain HTTP server on :80 answers the HTTP-01 challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if len(domains) == 0 {
		return errors.New("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	httpSrv := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	httpsSrv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         tlsConfig,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Warn("acme server shutdown", zap.Error(err))
		}
		if err := httpsSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Warn("https server shutdown", zap.Error(err))
		}
	}()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error("acme server", zap.Error(err))
		}
	}()

	s.Logger.Info("ledger stream listening with tls", zap.String("addr", s.Addr), zap.Strings("domains", domains))
	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleLedgerStream(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "ledger store not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	lastSeq, err := parseLastEventID(r.Header.Get("Last-Event-ID"), r.URL.Query().Get("after"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(s.HeartbeatInterval)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(s.PollInterval)
	defer pollTicker.Stop()

	ctx := r.Context()
	sendEntries := func() error {
		records, err := s.Store.EntriesAfter(ctx, lastSeq)
		if err != nil {
			return err
		}
		for _, record := range records {
			payload, err := json.Marshal(record.Entry)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "id: %d\n", record.Seq)
			fmt.Fprintf(w, "event: entry\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			lastSeq = record.Seq
		}
		flusher.Flush()
		return nil
	}

	if err := sendEntries(); err != nil {
		http.Error(w, "failed to load ledger entries", http.StatusInternalServerError)
		s.Logger.Error("ledger stream initial load", zap.Error(err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendEntries(); err != nil {
				s.Logger.Warn("ledger stream poll", zap.Error(err))
			}
		}
	}
}

// parseLastEventID reads the resume position from the Last-Event-ID header, falling back to the query.
func parseLastEventID(headerVal, queryVal string) (uint64, error) {
	idStr := strings.TrimSpace(headerVal)
	if idStr == "" {
		idStr = strings.TrimSpace(queryVal)
	}
	if idStr == "" {
		return 0, nil
	}

	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid last event id %q", idStr)
	}
	return id, nil
}
