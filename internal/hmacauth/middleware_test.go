package hmacauth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestMiddleware_AllowsValidSignature(t *testing.T) {
	body := `[{"txType":"0001"}]`
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := Sign("secret", http.MethodPost, "/api/v1/transactions", ts, []byte(body))

	v := &Verifier{
		Secret:  "secret",
		MaxSkew: time.Minute,
		Now: func() time.Time {
			return now
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", strings.NewReader(body))
	req.Header.Set(HeaderSignature, sig)
	req.Header.Set(HeaderTimestamp, ts)
	rec := httptest.NewRecorder()

	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		seen = string(raw)
		w.WriteHeader(http.StatusOK)
	})

	v.Middleware(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if seen != body {
		t.Fatalf("handler saw body %q, want %q", seen, body)
	}
}

func TestMiddleware_RejectsInvalidSignature(t *testing.T) {
	body := `{"foo":"bar"}`
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)

	v := &Verifier{
		Secret:  "secret",
		MaxSkew: time.Minute,
		Now: func() time.Time {
			return now
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body))
	req.Header.Set(HeaderSignature, "deadbeef")
	req.Header.Set(HeaderTimestamp, ts)
	rec := httptest.NewRecorder()

	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_RejectsStaleTimestamp(t *testing.T) {
	body := `{}`
	now := time.Unix(1_700_000_000, 0)
	v := &Verifier{Secret: "secret", MaxSkew: time.Minute, Now: func() time.Time { return now }}

	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body))
	SignRequest(req, "secret", []byte(body), now.Add(-2*time.Minute))
	rec := httptest.NewRecorder()

	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), ErrStaleTimestamp.Error()) {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestMiddleware_RejectsOversizedBody(t *testing.T) {
	body := strings.Repeat("x", 64)
	now := time.Unix(1_700_000_000, 0)
	v := &Verifier{Secret: "secret", MaxSkew: time.Minute, Now: func() time.Time { return now }, MaxBodyBytes: 16}

	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body))
	SignRequest(req, "secret", []byte(body), now)
	rec := httptest.NewRecorder()

	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestMiddleware_EmptySecretDisablesCheck(t *testing.T) {
	v := &Verifier{}
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader("{}"))
	rec := httptest.NewRecorder()

	called := false
	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})).ServeHTTP(rec, req)

	if !called {
		t.Fatalf("handler was not called")
	}
}

func TestMiddleware_SignatureIsBoundToPath(t *testing.T) {
	body := `[{"txType":"0001"}]`
	now := time.Unix(1_700_000_000, 0)
	v := &Verifier{Secret: "secret", MaxSkew: time.Minute, Now: func() time.Time { return now }}

	signed := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", strings.NewReader(body))
	SignRequest(signed, "secret", []byte(body), now)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/other", strings.NewReader(body))
	req.Header.Set(HeaderSignature, signed.Header.Get(HeaderSignature))
	req.Header.Set(HeaderTimestamp, signed.Header.Get(HeaderTimestamp))
	rec := httptest.NewRecorder()

	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestSign_CoversMethodPathTimestampAndBody(t *testing.T) {
	base := Sign("secret", http.MethodPost, "/api/v1/transactions", "1700000000", []byte("{}"))
	variants := map[string]string{
		"method":    Sign("secret", http.MethodPut, "/api/v1/transactions", "1700000000", []byte("{}")),
		"path":      Sign("secret", http.MethodPost, "/api/v1/jobs", "1700000000", []byte("{}")),
		"timestamp": Sign("secret", http.MethodPost, "/api/v1/transactions", "1700000001", []byte("{}")),
		"body":      Sign("secret", http.MethodPost, "/api/v1/transactions", "1700000000", []byte("[]")),
	}
	for name, sig := range variants {
		if sig == base {
			t.Fatalf("changing the %s did not change the signature", name)
		}
	}
	if lower := Sign("secret", "post", "/api/v1/transactions", "1700000000", []byte("{}")); lower != base {
		t.Fatalf("method case should not matter")
	}
}
