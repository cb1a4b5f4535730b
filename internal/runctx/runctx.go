// Package runctx carries the per-invocation values every backend call needs.
package runctx

import (
	"context"
	"crypto/tls"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/sekripgabut/internal/config"
	"github.com/telhawk-systems/sekripgabut/internal/logging"
)

// DefaultTimeout bounds a single HTTP exchange with the management port.
const DefaultTimeout = 180 * time.Second

// RunContext is built once by the CLI and handed to every component.
type RunContext struct {
	BaseURL    string
	Token      string
	Logger     *logging.Logger
	HTTPClient *http.Client
	RunID      string
}

// New builds a RunContext from a loaded config.
func New(cfg *config.Config, logger *logging.Logger) *RunContext {
	timeout := cfg.Splunk.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		InsecureSkipVerify: cfg.Splunk.InsecureSkipVerify, //nolint:gosec // operator opt-in for self-signed management certs
	}

	return &RunContext{
		BaseURL: strings.TrimRight(cfg.Splunk.BaseURL, "/"),
		Token:   cfg.Auth.Token,
		Logger:  logger,
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		RunID: uuid.New().String(),
	}
}

// Context attaches the run ID so log lines emitted under ctx carry it.
func (rc *RunContext) Context(ctx context.Context) context.Context {
	return logging.ContextWithRunID(ctx, rc.RunID)
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
