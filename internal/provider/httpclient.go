package provider

import (
	"net/http"
	"time"
)

// NewPooledHTTPClient creates an http.Client with connection pooling and a
// tuned transport. The client timeout is a ceiling; per-call deadlines come
// from the stage context.
func NewPooledHTTPClient(poolSize int, timeout time.Duration) *http.Client {
	if poolSize <= 0 {
		poolSize = 16
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          poolSize,
			MaxIdleConnsPerHost:   poolSize,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}
