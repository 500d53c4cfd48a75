package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/CermakM/osiris-build-observer/internal/retry"
)

// LoginPath is the Osiris login endpoint.
const LoginPath = "/auth/login"

// DefaultTimeout bounds each login attempt.
const DefaultTimeout = 60 * time.Second

// Credential identifies the cluster the observer reports for. It is captured
// once at startup and never refreshed.
type Credential struct {
	Server string `json:"server"`
	Token  string `json:"token"`
}

// Sender is the subset of retry.Client used by the authenticator.
type Sender interface {
	Send(ctx context.Context, req *retry.Request, timeout time.Duration) (*retry.Response, error)
}

// Result describes a login attempt.
type Result struct {
	StatusCode int
	Retries    int
}

// Error is returned when Osiris did not accept the login.
type Error struct {
	StatusCode int
	Status     string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("login failed: %v", e.Err)
	}
	if e.Status == "" {
		return fmt.Sprintf("login failed: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("login failed: unexpected status %s", e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

// Authenticator performs the one-time login handshake.
type Authenticator struct {
	sender  Sender
	baseURL string
	timeout time.Duration
	logger  *slog.Logger
}

// NewAuthenticator returns an Authenticator posting to baseURL + LoginPath.
func NewAuthenticator(sender Sender, baseURL string, timeout time.Duration, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Authenticator{
		sender:  sender,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		logger:  logger.With(slog.String("component", "auth")),
	}
}

// NewRequest builds the login request for cred.
func (a *Authenticator) NewRequest(cred Credential) (*retry.Request, error) {
	body, err := json.Marshal(cred)
	if err != nil {
		return nil, fmt.Errorf("marshal credential: %w", err)
	}
	return &retry.Request{
		Method: http.MethodPost,
		URL:    a.baseURL + LoginPath,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   body,
	}, nil
}

// Authenticate logs in with cred. Only 202 Accepted counts as success; every
// other outcome is returned as *Error.
func (a *Authenticator) Authenticate(ctx context.Context, cred Credential) (Result, error) {
	req, err := a.NewRequest(cred)
	if err != nil {
		return Result{}, &Error{Err: err}
	}

	a.logger.Info("logging in to osiris", slog.String("url", req.URL), slog.String("server", cred.Server))
	resp, err := a.sender.Send(ctx, req, a.timeout)
	if err != nil {
		var tf *retry.TransportFailure
		if errors.As(err, &tf) {
			return Result{StatusCode: tf.LastStatus, Retries: tf.Retries}, &Error{StatusCode: tf.LastStatus, Err: err}
		}
		return Result{}, &Error{Err: err}
	}

	result := Result{StatusCode: resp.StatusCode, Retries: resp.Retries}
	if resp.StatusCode != http.StatusAccepted {
		return result, &Error{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	a.logger.Info("login accepted", slog.Int("retries", resp.Retries))
	return result, nil
}
