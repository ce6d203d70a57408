// Package remote calls the back-office API that finalized orders are synced
// to.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"dinein/backend/internal/apperror"
)

const maxBodyBytes = 4 << 20

type Config struct {
	BaseURL    string
	TerminalID string
	Secret     string
	Timeout    time.Duration
	TokenTTL   time.Duration
}

type Client struct {
	base       *url.URL
	terminalID string
	secret     []byte
	tokenTTL   time.Duration
	http       *http.Client
	now        func() time.Time
}

type CallOptions struct {
	Method string
	Body   any
	Query  url.Values
}

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote responded %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the same request may succeed later.
func (e *StatusError) Retryable() bool {
	switch {
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// IsPermanent reports whether err is a response that retrying cannot fix.
func IsPermanent(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && !statusErr.Retryable()
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("remote base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse remote base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 5 * time.Minute
	}
	return &Client{
		base:       base,
		terminalID: cfg.TerminalID,
		secret:     []byte(cfg.Secret),
		tokenTTL:   cfg.TokenTTL,
		http:       &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
	}, nil
}

func (c *Client) deviceToken() (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		Subject:   c.terminalID,
		Issuer:    "dinein-terminal",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.tokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// Call sends one request and returns the raw body of a 2xx response.
// Transport failures come back as connectivity errors and non-2xx responses
// as *StatusError.
func (c *Client) Call(ctx context.Context, path string, opts CallOptions) (json.RawMessage, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	u := c.base.JoinPath(path)
	if len(opts.Query) > 0 {
		u.RawQuery = opts.Query.Encode()
	}

	var body io.Reader
	if opts.Body != nil {
		var raw []byte
		switch v := opts.Body.(type) {
		case json.RawMessage:
			raw = v
		case []byte:
			raw = v
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("encode request: %w", err)
			}
			raw = encoded
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	token, err := c.deviceToken()
	if err != nil {
		return nil, fmt.Errorf("sign device token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Terminal-ID", c.terminalID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperror.Connectivity(err, fmt.Sprintf("%s %s", method, path))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, apperror.Connectivity(err, "read remote response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(payload), nil
}

// ParseDeviceToken verifies a token produced by a client sharing secret.
// The back office uses it; tests use it to check what the client sends.
func ParseDeviceToken(token string, secret string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid {
		return "", errors.New("invalid device token")
	}
	return claims.Subject, nil
}
