package llm

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	apperrors "github.com/ngoclaw/agentcore/pkg/errors"
)

// maxResponseBytes caps how much of a backend response is read.
const maxResponseBytes = 8 << 20

// NewHTTPClient returns the client shared by every adapter. Per-call
// deadlines come from the caller's context.
func NewHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   8,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
	return &http.Client{Transport: transport}
}

// PostJSON sends body (already encoded) to url and decodes a 2xx response
// into out. Transport failures and non-2xx statuses become upstream errors;
// undecodable bodies become malformed-response errors.
func PostJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return apperrors.NewInternalErrorWithCause("create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return apperrors.NewUpstreamErrorWithCause("HTTP request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return apperrors.NewUpstreamErrorWithCause("read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperrors.NewUpstreamError(fmt.Sprintf("POST %s", req.URL.Path), resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return apperrors.NewMalformedResponseError("decode response body", err)
	}
	return nil
}
