// Package hmacauth guards the transaction submission endpoint. Callers sign
// the method, path, timestamp and a digest of the batch they submit, so a
// signature for one endpoint cannot be replayed against another.
package hmacauth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderSignature = "X-Request-Signature"
	HeaderTimestamp = "X-Request-Timestamp"

	defaultMaxBody = 1 << 20
)

var (
	ErrMissingSignature = errors.New("missing request signature")
	ErrMissingTimestamp = errors.New("missing request timestamp")
	ErrStaleTimestamp   = errors.New("stale request timestamp")
	ErrInvalidSignature = errors.New("invalid request signature")
	ErrBodyTooLarge     = errors.New("request body too large")
)

// Verifier checks signed requests. An empty Secret disables verification.
type Verifier struct {
	Secret  string
	MaxSkew time.Duration
	Now     func() time.Time
	// MaxBodyBytes caps the signed body; zero means 1 MiB.
	MaxBodyBytes int64
}

func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v.Secret != "" {
			if err := v.check(r); err != nil {
				http.Error(w, err.Error(), statusOf(err))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func statusOf(err error) int {
	if errors.Is(err, ErrBodyTooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusUnauthorized
}

func (v *Verifier) check(r *http.Request) error {
	sig := strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderSignature)))
	if sig == "" {
		return ErrMissingSignature
	}
	ts := r.Header.Get(HeaderTimestamp)
	signedAt, err := parseTimestamp(ts)
	if err != nil {
		return err
	}
	if !v.fresh(signedAt) {
		return ErrStaleTimestamp
	}

	body, err := v.bufferBody(r)
	if err != nil {
		return err
	}
	want := Sign(v.Secret, r.Method, r.URL.Path, ts, body)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrInvalidSignature
	}
	return nil
}

func parseTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, ErrMissingTimestamp
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, ErrMissingTimestamp
	}
	return time.Unix(secs, 0), nil
}

func (v *Verifier) fresh(signedAt time.Time) bool {
	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	skew := now.Sub(signedAt)
	if skew < 0 {
		skew = -skew
	}
	return skew <= v.MaxSkew
}

// Sign returns the lowercase hex HMAC-SHA256 of the canonical request:
// method, path, unix timestamp and hex SHA-256 of the body, one per line.
func Sign(secret, method, path, timestamp string, body []byte) string {
	digest := sha256.Sum256(body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.ToUpper(method) + "\n" + path + "\n" + timestamp + "\n"))
	mac.Write([]byte(hex.EncodeToString(digest[:])))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignRequest sets the timestamp and signature headers on req for body.
func SignRequest(req *http.Request, secret string, body []byte, now time.Time) {
	ts := strconv.FormatInt(now.Unix(), 10)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, Sign(secret, req.Method, req.URL.Path, ts, body))
}

// bufferBody reads the batch once and puts it back for the handler.
func (v *Verifier) bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	limit := v.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBody
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, ErrBodyTooLarge
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
