package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/SimplyPrint/sign-agent/internal/apperr"
	"github.com/SimplyPrint/sign-agent/internal/core"
	"github.com/SimplyPrint/sign-agent/internal/keystore"
	"github.com/SimplyPrint/sign-agent/internal/logging"
	"github.com/SimplyPrint/sign-agent/internal/metrics"
	"github.com/SimplyPrint/sign-agent/internal/operation"
	"github.com/SimplyPrint/sign-agent/internal/registry"
	"github.com/SimplyPrint/sign-agent/internal/service"
	"github.com/SimplyPrint/sign-agent/internal/settings"
)

var fixture = filepath.Join("..", "keystore", "testdata", "signer.p12")

// testCard is the pseudo-card of the fixture keystore.
var testCard = keystore.SoftwareCard(fixture, keystore.SoftwareTerminalBase)

const (
	testOrigin    = "https://sign.example.com"
	foreignOrigin = "https://evil.example"
)

type fakeAutostart struct {
	mu        sync.Mutex
	installed bool
	err       error
}

func (f *fakeAutostart) Install() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.installed {
		return service.ErrAlreadyInstalled
	}
	f.installed = true
	return nil
}

func (f *fakeAutostart) Uninstall() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.installed {
		return service.ErrNotInstalled
	}
	f.installed = false
	return nil
}

func (f *fakeAutostart) IsInstalled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.installed
}

func (f *fakeAutostart) Status() (string, error) {
	if f.IsInstalled() {
		return "installed", nil
	}
	return "not installed", nil
}

// newTestServer builds a ready server backed by the PKCS#12 fixture and the given cards.
func newTestServer(t *testing.T, detected ...core.DetectedCard) *Server {
	t.Helper()

	settings.SetPath(filepath.Join(t.TempDir(), "settings.json"))
	t.Cleanup(func() { settings.SetPath("") })
	logging.SetCrashLogDir(t.TempDir())
	t.Cleanup(func() { logging.SetCrashLogDir("") })

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	db, err := registry.Open(context.Background(), nil, registry.Options{Metrics: m})
	if err != nil {
		t.Fatalf("registry.Open() error = %v", err)
	}
	manager := keystore.NewManager(&keystore.PKCS12Provider{
		Paths:    []string{fixture},
		Password: keystore.StaticPassword("test"),
	})
	prober, err := keystore.NewProber(manager, 10, m)
	if err != nil {
		t.Fatalf("NewProber() error = %v", err)
	}

	factory := operation.NewFactory(&operation.Deps{
		Registry:  db,
		Keystores: manager,
		Prober:    prober,
		Detect:    func() ([]core.DetectedCard, error) { return detected, nil },
	}, m)
	runner := operation.NewRunner(factory, operation.DefaultEventBuffer)
	t.Cleanup(func() { _ = runner.Close(context.Background()) })

	s := NewServer(Options{
		Addr:           "127.0.0.1:0",
		Factory:        factory,
		Runner:         runner,
		Registry:       db,
		Autostart:      &fakeAutostart{},
		Gatherer:       reg,
		AllowedOrigins: []string{testOrigin},
	})
	s.SetReady(true)
	return s
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

type resultBody struct {
	Status  operation.Status     `json:"status"`
	Payload json.RawMessage      `json:"payload"`
	Message string               `json:"message"`
	Error   *operation.ErrorInfo `json:"error"`
}

func decodeResult(t *testing.T, w *httptest.ResponseRecorder) resultBody {
	t.Helper()
	var out resultBody
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return out
}

func TestHandleVersion(t *testing.T) {
	origVersion, origBuildTime, origGitCommit := Version, BuildTime, GitCommit
	Version, BuildTime, GitCommit = "1.2.3-test", "2024-01-15T10:30:00Z", "abc1234"
	defer func() {
		Version, BuildTime, GitCommit = origVersion, origBuildTime, origGitCommit
	}()

	w := do(t, newTestServer(t).Router(), http.MethodGet, "/v1/version", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %q", ct)
	}

	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result["version"] != "1.2.3-test" || result["buildTime"] != "2024-01-15T10:30:00Z" || result["gitCommit"] != "abc1234" {
		t.Errorf("unexpected version response: %v", result)
	}
}

func TestHandleVersion_MethodNotAllowed(t *testing.T) {
	h := newTestServer(t).Router()
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			w := do(t, h, method, "/v1/version", nil)
			if w.Code != http.StatusMethodNotAllowed {
				t.Errorf("expected status %d for %s, got %d", http.StatusMethodNotAllowed, method, w.Code)
			}
		})
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s.Router(), http.MethodGet, "/v1/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	var result struct {
		Status     string   `json:"status"`
		Operations []string `json:"operations"`
		KnownCards int      `json:"knownCards"`
	}
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.Status != "ok" {
		t.Errorf("expected status 'ok', got %q", result.Status)
	}
	if len(result.Operations) != 5 {
		t.Errorf("expected 5 operations, got %v", result.Operations)
	}

	s.SetReady(false)
	w = do(t, s.Router(), http.MethodGet, "/v1/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d when not ready, got %d", http.StatusServiceUnavailable, w.Code)
	}
}

func TestCORS_Preflight(t *testing.T) {
	h := newTestServer(t).Router()

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/v1/sign", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	w := preflight(testOrigin)
	if w.Code != http.StatusOK {
		t.Errorf("expected status %d for preflight, got %d", http.StatusOK, w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != testOrigin {
		t.Errorf("expected Access-Control-Allow-Origin %q, got %q", testOrigin, got)
	}

	w = preflight(foreignOrigin)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected status %d for foreign preflight, got %d", http.StatusForbidden, w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no Access-Control-Allow-Origin, got %q", got)
	}
}

func TestOriginGuard(t *testing.T) {
	s := newTestServer(t, testCard)
	h := s.Router()
	card := testCard.TerminalIndex
	body := PerformRequest{Card: &card, Data: []byte("hello")}

	sign := func(header map[string]string) *httptest.ResponseRecorder {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		req := httptest.NewRequest(http.MethodPost, "/v1/sign", bytes.NewReader(raw))
		for k, v := range header {
			req.Header.Set(k, v)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	w := sign(map[string]string{"Origin": foreignOrigin})
	if w.Code != http.StatusForbidden {
		t.Fatalf("foreign origin: expected status %d, got %d: %s", http.StatusForbidden, w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "signature") {
		t.Errorf("foreign origin received a signature: %s", w.Body.String())
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no Access-Control-Allow-Origin, got %q", got)
	}

	w = sign(map[string]string{"Sec-Fetch-Site": "cross-site"})
	if w.Code != http.StatusForbidden {
		t.Errorf("cross-site request without origin: expected status %d, got %d", http.StatusForbidden, w.Code)
	}

	w = sign(map[string]string{"Origin": "HTTPS://Sign.Example.com/"})
	if w.Code != http.StatusOK {
		t.Errorf("allowed origin: expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got == "" {
		t.Error("expected Access-Control-Allow-Origin for the allowed origin")
	}

	w = sign(map[string]string{"Sec-Fetch-Site": "none"})
	if w.Code != http.StatusOK {
		t.Errorf("native client: expected status %d, got %d", http.StatusOK, w.Code)
	}

	if s.opts.Registry.Len() != 1 {
		t.Errorf("expected one registry entry from the allowed calls, got %d", s.opts.Registry.Len())
	}
}

func TestOriginGuard_NoOriginsConfigured(t *testing.T) {
	s := NewServer(Options{Addr: "127.0.0.1:0"})
	s.SetReady(true)

	req := httptest.NewRequest(http.MethodGet, "/v1/version", nil)
	req.Header.Set("Origin", testOrigin)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected status %d, got %d", http.StatusForbidden, w.Code)
	}

	w = do(t, s.Router(), http.MethodGet, "/v1/version", nil)
	if w.Code != http.StatusOK {
		t.Errorf("native client: expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestHandleListCards(t *testing.T) {
	w := do(t, newTestServer(t, testCard).Router(), http.MethodGet, "/v1/cards", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	res := decodeResult(t, w)
	var cards []core.DetectedCard
	if err := json.Unmarshal(res.Payload, &cards); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if len(cards) != 1 || cards[0] != testCard {
		t.Errorf("unexpected cards: %+v", cards)
	}
}

func TestHandleListCards_NoCard(t *testing.T) {
	w := do(t, newTestServer(t).Router(), http.MethodGet, "/v1/cards", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
	if res := decodeResult(t, w); res.Status != operation.StatusNoCardPresent {
		t.Errorf("expected status %q, got %q", operation.StatusNoCardPresent, res.Status)
	}
}

func TestHandleListCards_NotReady(t *testing.T) {
	s := newTestServer(t, testCard)
	s.SetReady(false)
	w := do(t, s.Router(), http.MethodGet, "/v1/cards", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
}

func TestHandleCertificate(t *testing.T) {
	s := newTestServer(t, testCard)

	w := do(t, s.Router(), http.MethodGet, fmt.Sprintf("/v1/certificate?card=%d", testCard.TerminalIndex), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	var cert operation.CertificateResult
	if err := json.Unmarshal(decodeResult(t, w).Payload, &cert); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if cert.API != core.APIPKCS12 {
		t.Errorf("expected API %q, got %q", core.APIPKCS12, cert.API)
	}
	if cert.KeyAlias != "signing" {
		t.Errorf("expected alias 'signing', got %q", cert.KeyAlias)
	}
	if !strings.HasPrefix(cert.CertificateChain, "-----BEGIN CERTIFICATE-----") {
		t.Errorf("expected a PEM chain, got %q", cert.CertificateChain)
	}
	if s.opts.Registry.Len() != 1 {
		t.Errorf("expected the card to be recorded, registry has %d entries", s.opts.Registry.Len())
	}
}

func TestHandleCertificate_BadIndex(t *testing.T) {
	h := newTestServer(t, testCard).Router()
	for _, q := range []string{"", "?card=x", "?card=-1"} {
		w := do(t, h, http.MethodGet, "/v1/certificate"+q, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%q: expected status %d, got %d", q, http.StatusBadRequest, w.Code)
		}
	}

	w := do(t, h, http.MethodGet, "/v1/certificate?card=3", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("absent card: expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestHandleSign(t *testing.T) {
	card := testCard.TerminalIndex
	w := do(t, newTestServer(t, testCard).Router(), http.MethodPost, "/v1/sign", PerformRequest{
		Card:   &card,
		Digest: "sha-256",
		Data:   []byte("hello"),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	var sig operation.SignatureResult
	if err := json.Unmarshal(decodeResult(t, w).Payload, &sig); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if sig.Digest != core.SHA256 {
		t.Errorf("expected digest SHA256, got %q", sig.Digest)
	}
	if len(sig.Signature) != 256 {
		t.Errorf("expected a 2048-bit RSA signature, got %d bytes", len(sig.Signature))
	}
}

func TestHandleSign_InvalidRequests(t *testing.T) {
	h := newTestServer(t, testCard).Router()
	card := testCard.TerminalIndex

	tests := []struct {
		name string
		body any
		code string
	}{
		{"missing card", PerformRequest{Data: []byte("x")}, "api.missing_field"},
		{"missing data", PerformRequest{Card: &card}, "api.missing_field"},
		{"bad digest", PerformRequest{Card: &card, Data: []byte("x"), Digest: "md5"}, "api.invalid_digest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/v1/sign", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
			}
			res := decodeResult(t, w)
			if res.Status != operation.StatusException || res.Error == nil || res.Error.Code != tt.code {
				t.Errorf("expected exception %q, got %+v", tt.code, res)
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/sign", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON: expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestHandleSync_DisabledInSettings(t *testing.T) {
	s := newTestServer(t, testCard)
	if err := settings.SetSyncDevices(false); err != nil {
		t.Fatal(err)
	}
	w := do(t, s.Router(), http.MethodPost, "/v1/sync", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected status %d, got %d", http.StatusForbidden, w.Code)
	}
}

func TestHandleProcessRequest_NoPlatform(t *testing.T) {
	w := do(t, newTestServer(t, testCard).Router(), http.MethodPost, "/v1/requests/abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
	res := decodeResult(t, w)
	if res.Error == nil || res.Error.Code != "operation.platform_not_configured" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestHandleAutostart(t *testing.T) {
	h := newTestServer(t).Router()

	steps := []struct {
		method  string
		success string
	}{
		{http.MethodPost, "auto-start enabled"},
		{http.MethodPost, "auto-start already enabled"},
		{http.MethodDelete, "auto-start disabled"},
		{http.MethodDelete, "auto-start already disabled"},
	}
	for _, step := range steps {
		w := do(t, h, step.method, "/v1/autostart", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected status %d, got %d", step.method, http.StatusOK, w.Code)
		}
		var result map[string]string
		if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
			t.Fatal(err)
		}
		if result["success"] != step.success {
			t.Errorf("%s: expected %q, got %q", step.method, step.success, result["success"])
		}
	}
}

func TestHandleAutostart_Unavailable(t *testing.T) {
	s := newTestServer(t)
	s.opts.Autostart = nil
	w := do(t, s.Router(), http.MethodGet, "/v1/autostart", nil)
	if w.Code != http.StatusNotImplemented {
		t.Errorf("expected status %d, got %d", http.StatusNotImplemented, w.Code)
	}
}

func TestHandleAutostart_InstallError(t *testing.T) {
	s := newTestServer(t)
	s.opts.Autostart = &fakeAutostart{err: errors.New("read-only home")}
	w := do(t, s.Router(), http.MethodPost, "/v1/autostart", nil)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
}

func TestHandleShutdown(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s.Router(), http.MethodPost, "/v1/shutdown", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d without a shutdown hook, got %d", http.StatusServiceUnavailable, w.Code)
	}

	called := make(chan struct{})
	s.SetShutdownHook(func() { close(called) })
	w = do(t, s.Router(), http.MethodPost, "/v1/shutdown", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	<-called
}

func TestHandleSettings(t *testing.T) {
	h := newTestServer(t).Router()

	w := do(t, h, http.MethodPost, "/v1/settings", map[string]bool{"syncDevices": false})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if settings.IsSyncDevicesEnabled() {
		t.Error("expected syncDevices to be disabled")
	}

	w = do(t, h, http.MethodGet, "/v1/settings", nil)
	var s settings.Settings
	if err := json.NewDecoder(w.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	if s.SyncDevices || s.CrashReporting {
		t.Errorf("unexpected settings: %+v", s)
	}
}

func TestHandleLogs(t *testing.T) {
	h := newTestServer(t).Router()
	logging.Get().Clear()
	logging.Info(logging.CatSystem, "hello from the test", nil)

	w := do(t, h, http.MethodGet, "/v1/logs?limit=10&category=system", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if !strings.Contains(w.Body.String(), "hello from the test") {
		t.Errorf("log entry missing from response: %s", w.Body.String())
	}

	w = do(t, h, http.MethodDelete, "/v1/logs", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t, testCard).Router()
	do(t, h, http.MethodGet, "/v1/cards", nil)

	w := do(t, h, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if !strings.Contains(w.Body.String(), `kind="list_cards"`) {
		t.Errorf("expected list_cards operation metric, got:\n%s", w.Body.String())
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	logging.SetCrashLogDir(t.TempDir())
	defer logging.SetCrashLogDir("")

	h := recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/cards", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result["error"] != "internal server error" {
		t.Errorf("unexpected body: %v", result)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		res  operation.Result
		want int
	}{
		{"success", operation.Success(nil), http.StatusOK},
		{"no card", operation.WithStatus(operation.StatusNoCardPresent, ""), http.StatusNotFound},
		{"no token", operation.WithStatus(operation.StatusNoToken, ""), http.StatusNotFound},
		{"cancelled", operation.WithStatus(operation.StatusUserCancelled, ""), http.StatusConflict},
		{"configuration", operation.Exception(apperr.New(apperr.KindConfiguration, "x")), http.StatusBadRequest},
		{"keystore missing", operation.Exception(apperr.New(apperr.KindKeystoreNotFound, "x")), http.StatusNotFound},
		{"unsupported", operation.Exception(apperr.New(apperr.KindUnsupportedKeystore, "x")), http.StatusNotImplemented},
		{"transport", operation.Exception(apperr.New(apperr.KindTransport, "x")), http.StatusBadGateway},
		{"token access", operation.Exception(apperr.New(apperr.KindTokenAccess, "x")), http.StatusServiceUnavailable},
		{"plain error", operation.Exception(errors.New("x")), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := httpStatus(tt.res); got != tt.want {
				t.Errorf("httpStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPerformRequest_Invocation(t *testing.T) {
	card := 1

	inv, err := PerformRequest{Kind: "sign", Card: &card, Alias: "signing", Data: []byte("x")}.Invocation("test")
	if err != nil {
		t.Fatalf("Invocation() error = %v", err)
	}
	if inv.Kind != operation.KindSign || inv.Label != "test" {
		t.Errorf("unexpected invocation: %+v", inv)
	}
	if len(inv.Params) != 4 || inv.Params[0] != 1 || inv.Params[1] != "signing" || inv.Params[2] != core.SHA256 {
		t.Errorf("unexpected params: %v", inv.Params)
	}

	inv, err = PerformRequest{Kind: "process_request", RequestID: "req-1"}.Invocation("test")
	if err != nil || len(inv.Params) != 1 || inv.Params[0] != "req-1" {
		t.Errorf("process_request: inv = %+v, err = %v", inv, err)
	}

	if _, err := (PerformRequest{}).Invocation("test"); !apperr.HasKind(err, apperr.KindConfiguration) {
		t.Errorf("missing kind: expected configuration error, got %v", err)
	}
	neg := -1
	if _, err := (PerformRequest{Kind: "get_certificate", Card: &neg}).Invocation("test"); err == nil {
		t.Error("negative card index should fail validation")
	}
}
