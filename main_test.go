package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"credledger/config"
	"credledger/ledger"
	"credledger/store"
)

func TestHealth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	healthHandler(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want=%d", rr.Code, http.StatusOK)
	}
	want := "{\"ok\":true}\n"
	if rr.Body.String() != want {
		t.Fatalf("body=%q want=%q", rr.Body.String(), want)
	}
}

type fixture struct {
	dir     string
	handler http.Handler
	issued  ledger.Credential
	unknown ledger.Credential
}

func newFixture(t *testing.T, cfg config.ServerConfig) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewFileStore(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}

	issuer, key, err := ledger.NewIssuer("Uni")
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	from, _ := ledger.ParseDate("2024-01-01")
	subject := ledger.NewSubject("Jan", "Kowalski")
	issued := ledger.NewCredential(ledger.Attribute{Name: "degree", Value: "MSc"}, issuer, subject, ledger.ValidDuration{From: from})
	unknown := ledger.NewCredential(ledger.Attribute{Name: "degree", Value: "PhD"}, issuer, subject, ledger.ValidDuration{From: from})

	chain, err := st.LoadChain()
	if err != nil {
		t.Fatalf("load chain: %v", err)
	}
	b := ledger.NewBlock(issuer)
	if err := b.AddAssertion(ledger.Sign(issued, key, false), false); err != nil {
		t.Fatalf("add assertion: %v", err)
	}
	if err := chain.AddBlock(b, key); err != nil {
		t.Fatalf("add block: %v", err)
	}
	if err := st.SaveChain(chain); err != nil {
		t.Fatalf("save chain: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		dir:     dir,
		handler: newServer(st, logger).routes(cfg),
		issued:  issued,
		unknown: unknown,
	}
}

func defaultServerConfig() config.ServerConfig {
	return config.Default().Server
}

func (f *fixture) do(t *testing.T, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func (f *fixture) check(t *testing.T, c ledger.Credential) bool {
	t.Helper()
	payload, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal credential: %v", err)
	}
	rr := f.do(t, http.MethodPost, "/credentials/check", bytes.NewReader(payload))
	if rr.Code != http.StatusOK {
		t.Fatalf("check status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp checkResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp.Valid
}

func TestCredentialCheck(t *testing.T) {
	f := newFixture(t, defaultServerConfig())

	if !f.check(t, f.issued) {
		t.Fatalf("issued credential reported invalid")
	}
	if f.check(t, f.unknown) {
		t.Fatalf("unissued credential reported valid")
	}

	rr := f.do(t, http.MethodPost, "/credentials/check", strings.NewReader(`{"id":`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d want=%d", rr.Code, http.StatusBadRequest)
	}
}

func TestChainEndpoints(t *testing.T) {
	f := newFixture(t, defaultServerConfig())

	rr := f.do(t, http.MethodGet, "/chain", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("chain status=%d", rr.Code)
	}
	var chain ledger.Blockchain
	if err := json.NewDecoder(rr.Body).Decode(&chain); err != nil {
		t.Fatalf("decode chain: %v", err)
	}
	if chain.Len() != 1 {
		t.Fatalf("chain len=%d want=1", chain.Len())
	}

	rr = f.do(t, http.MethodGet, "/chain/verify", nil)
	var verify verifyResponse
	if err := json.NewDecoder(rr.Body).Decode(&verify); err != nil {
		t.Fatalf("decode verify: %v", err)
	}
	if !verify.OK || verify.Blocks != 1 || verify.Tail != chain.TailHash().String() {
		t.Fatalf("verify=%+v", verify)
	}

	rr = f.do(t, http.MethodGet, "/blocks?index=0", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("block status=%d", rr.Code)
	}
	var b ledger.Block
	if err := json.NewDecoder(rr.Body).Decode(&b); err != nil {
		t.Fatalf("decode block: %v", err)
	}
	if b.Hash() != chain.TailHash() {
		t.Fatalf("block hash=%s want=%s", b.Hash(), chain.TailHash())
	}
}

func TestBlockLookupErrors(t *testing.T) {
	f := newFixture(t, defaultServerConfig())

	cases := map[string]int{
		"/blocks?index=5":   http.StatusNotFound,
		"/blocks?index=-1":  http.StatusBadRequest,
		"/blocks?index=abc": http.StatusBadRequest,
		"/blocks":           http.StatusBadRequest,
	}
	for target, want := range cases {
		if rr := f.do(t, http.MethodGet, target, nil); rr.Code != want {
			t.Fatalf("%s status=%d want=%d", target, rr.Code, want)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, defaultServerConfig())
	if rr := f.do(t, http.MethodDelete, "/chain", nil); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d want=%d", rr.Code, http.StatusMethodNotAllowed)
	}
}

func TestUninitializedStore(t *testing.T) {
	st, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	h := newServer(st, slog.New(slog.NewTextHandler(io.Discard, nil))).routes(defaultServerConfig())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/chain", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d want=%d", rr.Code, http.StatusServiceUnavailable)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := defaultServerConfig()
	cfg.RateLimit = 0.001
	cfg.Burst = 2
	f := newFixture(t, cfg)

	for i := 0; i < 2; i++ {
		if rr := f.do(t, http.MethodGet, "/health", nil); rr.Code != http.StatusOK {
			t.Fatalf("request %d status=%d", i, rr.Code)
		}
	}
	if rr := f.do(t, http.MethodGet, "/health", nil); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d want=%d", rr.Code, http.StatusTooManyRequests)
	}
}

func TestChainVerifyReportsTampering(t *testing.T) {
	f := newFixture(t, defaultServerConfig())

	path := filepath.Join(f.dir, "blockchain.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read chain: %v", err)
	}
	tampered := strings.Replace(string(raw), `"name": "Uni"`, `"name": "Mallory"`, 1)
	if tampered == string(raw) {
		t.Fatalf("creator name not found in %s", path)
	}
	if err := os.WriteFile(path, []byte(tampered), 0o600); err != nil {
		t.Fatalf("write chain: %v", err)
	}

	rr := f.do(t, http.MethodGet, "/chain/verify", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var verify verifyResponse
	if err := json.NewDecoder(rr.Body).Decode(&verify); err != nil {
		t.Fatalf("decode verify: %v", err)
	}
	if verify.OK || verify.Index == nil || *verify.Index != 0 {
		t.Fatalf("verify=%+v want failure at block 0", verify)
	}
}
