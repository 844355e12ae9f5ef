package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"credledger/config"
	"credledger/ledger"
	"credledger/store"
)

// maxCheckBody bounds POST /credentials/check payloads.
const maxCheckBody = 64 << 10

type server struct {
	store  store.Store
	logger *slog.Logger
}

func newServer(st store.Store, logger *slog.Logger) *server {
	return &server{store: st, logger: logger}
}

func (s *server) routes(cfg config.ServerConfig) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /chain", s.chainHandler)
	mux.HandleFunc("GET /chain/verify", s.verifyHandler)
	mux.HandleFunc("GET /blocks", s.blockHandler)
	mux.HandleFunc("POST /credentials/check", s.checkHandler)
	return logRequests(s.logger, rateLimit(cfg.RateLimit, cfg.Burst, mux))
}

type verifyResponse struct {
	OK     bool   `json:"ok"`
	Blocks int    `json:"blocks"`
	Tail   string `json:"tail,omitempty"`
	Index  *int   `json:"index,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type checkResponse struct {
	Valid bool `json:"valid"`
}

func (s *server) chainHandler(w http.ResponseWriter, r *http.Request) {
	chain, ok := s.loadChain(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, chain)
}

func (s *server) verifyHandler(w http.ResponseWriter, r *http.Request) {
	chain, ok := s.loadChain(w)
	if !ok {
		return
	}
	resp := verifyResponse{OK: true, Blocks: chain.Len(), Tail: chain.TailHash().String()}
	if err := chain.Verify(); err != nil {
		var ie *ledger.IntegrityError
		if !errors.As(err, &ie) {
			s.logger.Error("verify chain", "err", err)
			writeError(w, http.StatusInternalServerError, "verify failed")
			return
		}
		s.logger.Warn("chain integrity failure", "index", ie.Index, "reason", ie.Reason)
		resp = verifyResponse{OK: false, Blocks: chain.Len(), Index: &ie.Index, Reason: ie.Reason}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) blockHandler(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(r.URL.Query().Get("index"))
	if err != nil || idx < 0 {
		writeError(w, http.StatusBadRequest, "invalid index")
		return
	}
	chain, ok := s.loadChain(w)
	if !ok {
		return
	}
	b, found := chain.Block(idx)
	if !found {
		writeError(w, http.StatusNotFound, "block not found")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *server) checkHandler(w http.ResponseWriter, r *http.Request) {
	var c ledger.Credential
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCheckBody))
	if err := dec.Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid credential")
		return
	}
	chain, ok := s.loadChain(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, checkResponse{Valid: chain.CheckCredential(c)})
}

// loadChain reads the current chain, writing an error response on failure.
func (s *server) loadChain(w http.ResponseWriter) (*ledger.Blockchain, bool) {
	chain, err := s.store.LoadChain()
	switch {
	case err == nil:
		return chain, true
	case errors.Is(err, store.ErrNotInitialized):
		writeError(w, http.StatusServiceUnavailable, "ledger is not initialized")
	default:
		s.logger.Error("load chain", "err", err)
		writeError(w, http.StatusInternalServerError, "cannot load chain")
	}
	return nil, false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
