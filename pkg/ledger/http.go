package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

type HTTPConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func newHTTPClient(cfg HTTPConfig) *http.Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

const idempotencyHeader = "Idempotency-Key"

// do sends req and returns the body of a 2xx response. Failures that cannot have
// reached the server (dial errors, 429) map to ErrTransient, other statuses to
// ErrRejected. For reads, timeouts and 5xx are ErrTransient too; for a broadcast
// they map to ErrUnconfirmed since the server may have acted on the request.
func do(client *http.Client, req *http.Request, broadcast bool) ([]byte, error) {
	if err := req.Context().Err(); err != nil {
		return nil, err
	}
	unknown := ErrTransient
	if broadcast {
		unknown = ErrUnconfirmed
	}

	resp, err := client.Do(req)
	if err != nil {
		ctxErr := req.Context().Err()
		switch {
		case notSent(err):
			if ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: %s %s: %v", ErrTransient, req.Method, req.URL.Path, err)
		case ctxErr != nil && !broadcast:
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s %s: %v", unknown, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", unknown, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s %s: status %d", ErrTransient, req.Method, req.URL.Path, resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s %s: status %d", unknown, req.Method, req.URL.Path, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s %s", ErrTxNotFound, req.Method, req.URL.Path)
	default:
		return nil, fmt.Errorf("%w: %s %s: status %d: %s", ErrRejected, req.Method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(body))
	}
}

// notSent reports whether err happened while connecting, before any byte of the
// request was written.
func notSent(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// postJSON posts in and decodes the reply into out. A non-empty key marks the call
// as a broadcast and is sent as the idempotency key.
func postJSON(ctx context.Context, client *http.Client, url, key string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}

	body, err := do(client, req, key != "")
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrRejected, url, err)
	}
	return nil
}
