// ABOUTME: Registrar mints new identity tokens from the remote registration endpoint.
// ABOUTME: A POST returning HTTP 200 yields one opaque token; anything else is retryable.

package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxTokenBytes bounds how much of a registration response body is read.
const maxTokenBytes = 4096

// ErrEmptyToken indicates the endpoint returned 200 with no usable token.
var ErrEmptyToken = errors.New("registration returned an empty token")

// Registrar mints one identity token per call. Implementations must treat
// every failure as retryable; the provisioner owns the retry policy.
type Registrar interface {
	Register(ctx context.Context) (string, error)
}

// HTTPRegistrar registers identities against an HTTP endpoint. A 200
// response body, trimmed of surrounding whitespace, is the token.
type HTTPRegistrar struct {
	url    string
	client *http.Client
}

// NewHTTPRegistrar creates a registrar for the given endpoint URL.
func NewHTTPRegistrar(url string, timeout time.Duration) *HTTPRegistrar {
	return &HTTPRegistrar{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Register performs one registration attempt.
func (r *HTTPRegistrar) Register(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, nil)
	if err != nil {
		return "", fmt.Errorf("creating registration request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("registration request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("registration returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenBytes))
	if err != nil {
		return "", fmt.Errorf("reading registration response: %w", err)
	}

	token := strings.TrimSpace(string(body))
	if token == "" {
		return "", ErrEmptyToken
	}
	return token, nil
}
