package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/congo-pay/rewards_auth/internal/apperr"
	"github.com/congo-pay/rewards_auth/internal/phone"
	"github.com/congo-pay/rewards_auth/internal/session"
)

const maxBody = 1 << 20

// HTTPClient talks to the backend's JSON API.
type HTTPClient struct {
	baseURL        string
	httpClient     *http.Client
	onUnauthorized UnauthorizedFunc
}

// NewHTTPClient builds a client for baseURL (e.g. "http://localhost:8080/api/v1").
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}}
}

// OnUnauthorized registers fn to run on every 401 answer.
func (c *HTTPClient) OnUnauthorized(fn UnauthorizedFunc) { c.onUnauthorized = fn }

type phoneBody struct {
	Phone   phone.Number `json:"phone"`
	Purpose string       `json:"purpose,omitempty"`
}

func (c *HTTPClient) SendOTP(ctx context.Context, p phone.Number) (Challenge, error) {
	var out Challenge
	err := c.do(ctx, http.MethodPost, "/otp/send", "", phoneBody{Phone: p, Purpose: PurposeRegistration}, &out)
	return out, err
}

func (c *HTTPClient) ResendOTP(ctx context.Context, p phone.Number) (Challenge, error) {
	var out Challenge
	err := c.do(ctx, http.MethodPost, "/otp/resend", "", phoneBody{Phone: p}, &out)
	return out, err
}

func (c *HTTPClient) VerifyOTP(ctx context.Context, p phone.Number, code string) (Verification, error) {
	var out Verification
	body := struct {
		Phone phone.Number `json:"phone"`
		Code  string       `json:"code"`
	}{p, code}
	err := c.do(ctx, http.MethodPost, "/otp/verify", "", body, &out)
	return out, err
}

func (c *HTTPClient) CompleteRegistration(ctx context.Context, r Registration) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "/register/complete", "", r, &out)
	return out, err
}

func (c *HTTPClient) Login(ctx context.Context, p phone.Number, password string) (Session, error) {
	var out Session
	body := struct {
		Phone    phone.Number `json:"phone"`
		Password string       `json:"password"`
	}{p, password}
	err := c.do(ctx, http.MethodPost, "/auth/login", "", body, &out)
	return out, err
}

func (c *HTTPClient) ForgotPassword(ctx context.Context, p phone.Number) (Challenge, error) {
	var out Challenge
	err := c.do(ctx, http.MethodPost, "/password/forgot", "", phoneBody{Phone: p}, &out)
	return out, err
}

func (c *HTTPClient) ResetPassword(ctx context.Context, resetToken, password string) error {
	body := struct {
		ResetToken string `json:"reset_token"`
		Password   string `json:"password"`
	}{resetToken, password}
	return c.do(ctx, http.MethodPost, "/password/reset", "", body, nil)
}

func (c *HTTPClient) Logout(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", token, struct{}{}, nil)
}

func (c *HTTPClient) Profile(ctx context.Context, token string) (session.User, error) {
	var out struct {
		User session.User `json:"user"`
	}
	err := c.do(ctx, http.MethodGet, "/me", token, nil, &out)
	return out.User, err
}

func (c *HTTPClient) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return apperr.Internal(fmt.Errorf("encode %s: %w", path, err))
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return apperr.Internal(fmt.Errorf("build %s: %w", path, err))
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := IdempotencyKeyFrom(ctx); key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return apperr.Network(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return apperr.Network(err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var envelope apperr.Body
		_ = json.Unmarshal(raw, &envelope)
		ae := apperr.FromBody(resp.StatusCode, envelope)
		if ae.Kind == apperr.KindUnauthorized && token != "" && c.onUnauthorized != nil {
			c.onUnauthorized(ctx)
		}
		return ae
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.Network(fmt.Errorf("decode %s: %w", path, err))
	}
	return nil
}
