// Package httpclient provides a shared HTTP client factory for provider
// transports and API passthroughs.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// Options holds the connection-level knobs shared by all outbound clients.
type Options struct {
	// Timeout bounds the whole request. Zero means no client-level timeout;
	// streaming transports rely on the request context instead.
	Timeout time.Duration

	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	MaxIdleConnsPerHost   int
	IdleConnTimeout       time.Duration
}

func defaults() Options {
	return Options{
		DialTimeout:           10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
	}
}

// New creates an HTTP client with pooled connections and the given overall
// timeout. Pass zero for streaming use where the per-request context bounds
// the call.
func New(timeout time.Duration) *http.Client {
	opts := defaults()
	opts.Timeout = timeout
	return NewWithOptions(opts)
}

// NewWithOptions creates an HTTP client from explicit options.
func NewWithOptions(opts Options) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   opts.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          opts.MaxIdleConnsPerHost,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		IdleConnTimeout:       opts.IdleConnTimeout,
		TLSHandshakeTimeout:   opts.TLSHandshakeTimeout,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
	}
}
