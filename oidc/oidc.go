package oidcutil

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	coreoidc "github.com/coreos/go-oidc/v3/oidc"

	"viewcheck/logger"
)

type Options struct {
	Issuer   string
	ClientID string
	// MaxAttempts bounds provider discovery retries; defaults to 8.
	MaxAttempts int
	// BaseDelay is the first backoff step, doubled per attempt and capped at 30s; defaults to 1s.
	BaseDelay time.Duration
	// CACertFile optionally replaces the root CAs used to reach the issuer.
	CACertFile string
}

// Verifier checks bearer tokens issued for the configured client.
type Verifier struct {
	v *coreoidc.IDTokenVerifier
}

// Init discovers the provider with exponential backoff and returns a verifier.
func Init(ctx context.Context, opts Options) (*Verifier, error) {
	p, err := initProviderWithBackoff(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Verifier{v: p.Verifier(&coreoidc.Config{ClientID: opts.ClientID})}, nil
}

// Verify validates signature, issuer, audience and expiry of raw.
func (v *Verifier) Verify(ctx context.Context, raw string) error {
	_, err := v.v.Verify(ctx, raw)
	return err
}

// TokenVerifier is satisfied by *Verifier.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) error
}

// AuthMiddleware enforces Bearer token auth.
func AuthMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}
			token := strings.TrimPrefix(auth, "Bearer ")
			if err := verifier.Verify(r.Context(), token); err != nil {
				logger.Error("token verification failed", err)
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func initProviderWithBackoff(ctx context.Context, opts Options) (*coreoidc.Provider, error) {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 8
	}
	base := opts.BaseDelay
	if base <= 0 {
		base = time.Second
	}

	pctx := ctx
	if opts.CACertFile != "" {
		c := &http.Client{Timeout: 10 * time.Second}
		if err := addCustomCA(c, opts.CACertFile); err != nil {
			return nil, err
		}
		pctx = coreoidc.ClientContext(ctx, c)
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var provider *coreoidc.Provider
		provider, err = coreoidc.NewProvider(pctx, opts.Issuer)
		if err == nil {
			logger.Info("oidc provider initialized", logger.FieldKV("issuer", opts.Issuer), logger.FieldKV("attempt", attempt))
			return provider, nil
		}
		// Detect common misconfiguration: using https issuer while endpoint serves plain http
		if strings.Contains(err.Error(), "server gave HTTP response to HTTPS client") {
			logger.Error("oidc issuer scheme mismatch (https expected but endpoint is http)", err,
				logger.FieldKV("issuer", opts.Issuer))
		}
		if attempt == maxAttempts {
			break
		}
		sleep := time.Duration(math.Min(float64(30*time.Second), float64(base)*math.Pow(2, float64(attempt-1))))
		logger.Error("oidc provider init failed", err, logger.FieldKV("attempt", attempt), logger.FieldKV("next_sleep", sleep.String()))
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return nil, fmt.Errorf("oidc init canceled: %w", ctx.Err())
		}
	}
	return nil, fmt.Errorf("initialize oidc provider %s after %d attempts: %w", opts.Issuer, maxAttempts, err)
}

// addCustomCA loads a PEM bundle from path into the client's transport RootCAs.
func addCustomCA(c *http.Client, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read custom CA file %s: %w", path, err)
	}
	p := x509.NewCertPool()
	if ok := p.AppendCertsFromPEM(data); !ok {
		return fmt.Errorf("no certs appended from custom CA file %s", path)
	}
	c.Transport = &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{RootCAs: p, MinVersion: tls.VersionTLS12},
	}
	logger.Info("custom CA trust added for OIDC", logger.FieldKV("path", path))
	return nil
}
