package homebridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"panelhub/pkg/plugin"

	"go.uber.org/zap"
)

// tokenExpiryBuffer is the safety margin before the cached token's expiry.
// Refreshing this early keeps in-flight calls from racing a token that is
// about to lapse.
const tokenExpiryBuffer = 5 * time.Minute

// getToken returns a valid bearer token, logging in lazily when no token is
// cached or the cached one is within the expiry buffer. Concurrent callers
// racing on an expired token coalesce into a single login request.
func (p *Plugin) getToken(ctx context.Context) (string, error) {
	if token, ok := p.cachedToken(); ok {
		return token, nil
	}

	v, err, _ := p.loginGroup.Do("login", func() (any, error) {
		// Another caller may have refreshed while we waited on the group.
		if token, ok := p.cachedToken(); ok {
			return token, nil
		}
		return p.login(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// cachedToken returns the cached token if it is still comfortably valid.
func (p *Plugin) cachedToken() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token == "" {
		return "", false
	}
	if !p.clock.Now().Before(p.tokenExpiry.Add(-tokenExpiryBuffer)) {
		return "", false
	}
	return p.token, true
}

// login performs the credential exchange and caches the resulting token with
// an absolute expiry timestamp.
func (p *Plugin) login(ctx context.Context) (string, error) {
	p.mu.Lock()
	baseURL, username, password := p.baseURL, p.username, p.password
	p.mu.Unlock()

	body, err := json.Marshal(loginRequest{Username: username, Password: password})
	if err != nil {
		return "", fmt.Errorf("failed to encode login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		baseURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", &plugin.UpstreamError{Op: "login", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", &plugin.UpstreamError{Op: "login", Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &plugin.UpstreamError{
			Op:         "login",
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
	}

	var lr loginResponse
	if err := json.Unmarshal(respBody, &lr); err != nil {
		return "", &plugin.UpstreamError{
			Op:  "login",
			Err: fmt.Errorf("failed to parse login response: %w", err),
		}
	}

	expiry := p.clock.Now().Add(time.Duration(lr.ExpiresIn) * time.Second)

	p.mu.Lock()
	p.token = lr.AccessToken
	p.tokenExpiry = expiry
	p.mu.Unlock()

	p.logger.Debug("Authenticated with Homebridge",
		zap.Time("token_expiry", expiry))
	return lr.AccessToken, nil
}

// doAuthed issues an authenticated JSON request against the bridge and
// returns the status code and raw response body. A transport failure is
// wrapped as an UpstreamError; non-2xx statuses are the caller's concern.
func (p *Plugin) doAuthed(ctx context.Context, op, method, path string, payload any) (int, []byte, error) {
	token, err := p.getToken(ctx)
	if err != nil {
		return 0, nil, err
	}

	p.mu.Lock()
	baseURL := p.baseURL
	p.mu.Unlock()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, body)
	if err != nil {
		return 0, nil, &plugin.UpstreamError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, nil, &plugin.UpstreamError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, respBody, nil
}
