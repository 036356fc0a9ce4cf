package rgs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var errRequestTimeout = errors.New("rgs request timed out")

// ClientConfig holds the session identity and transport settings
type ClientConfig struct {
	BaseURL   string
	SessionID string
	Language  string
	Currency  string
	Timeout   time.Duration
}

// DefaultConfig returns a client configuration with the protocol defaults
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		Language: DefaultLanguage,
		Timeout:  DefaultTimeout,
	}
}

// Client is an RGS wallet API client. One Client carries one player
// session; the session fields can be rotated while the client is in use.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	clock      quartz.Clock
	logger     zerolog.Logger

	mu        sync.RWMutex
	sessionID string
	language  string
	currency  string
}

// Option configures optional Client collaborators
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithClock sets the clock driving request timeouts
func WithClock(clock quartz.Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// WithLogger sets the request logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new RGS client
func NewClient(config *ClientConfig, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		timeout:    config.Timeout,
		httpClient: &http.Client{},
		clock:      quartz.NewReal(),
		logger:     zerolog.Nop(),
		sessionID:  config.SessionID,
		language:   config.Language,
		currency:   config.Currency,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.language == "" {
		c.language = DefaultLanguage
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UpdateSessionID rotates the session token used by subsequent calls
func (c *Client) UpdateSessionID(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
}

// UpdateLanguage changes the default authentication language
func (c *Client) UpdateLanguage(language string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.language = language
}

// UpdateCurrency changes the currency sent with bets
func (c *Client) UpdateCurrency(currency string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currency = currency
}

// SessionID returns the current session token
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Language returns the current default language
func (c *Client) Language() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.language
}

// Currency returns the currency sent with bets, empty when unset
func (c *Client) Currency() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currency
}

// Authenticate opens the session. An empty language falls back to the
// client's current language.
func (c *Client) Authenticate(ctx context.Context, language string) (*AuthenticateResponse, error) {
	if language == "" {
		language = c.Language()
	}
	req := &AuthenticateRequest{
		SessionID: c.SessionID(),
		Language:  language,
	}

	resp, err := doRequest[AuthenticateResponse](ctx, c, PathAuthenticate, req)
	if err != nil {
		return nil, err
	}
	if resp.Balance == nil {
		return nil, malformed("balance")
	}
	if resp.Config == nil {
		return nil, malformed("config")
	}
	return resp, nil
}

// Play places a bet of amount API units. An empty mode means DefaultMode.
func (c *Client) Play(ctx context.Context, amount int64, mode string) (*PlayResponse, error) {
	if mode == "" {
		mode = DefaultMode
	}
	req := &PlayRequest{
		SessionID: c.SessionID(),
		Amount:    amount,
		Mode:      mode,
		Currency:  c.Currency(),
	}

	resp, err := doRequest[PlayResponse](ctx, c, PathPlay, req)
	if err != nil {
		return nil, err
	}
	if resp.Balance == nil {
		return nil, malformed("balance")
	}
	if resp.Round == nil {
		return nil, malformed("round")
	}
	return resp, nil
}

// GetBalance retrieves the player's current balance
func (c *Client) GetBalance(ctx context.Context) (*BalanceResponse, error) {
	req := &BalanceRequest{SessionID: c.SessionID()}

	resp, err := doRequest[BalanceResponse](ctx, c, PathBalance, req)
	if err != nil {
		return nil, err
	}
	if resp.Balance == nil {
		return nil, malformed("balance")
	}
	return resp, nil
}

// EndRound collects the payout of the active round
func (c *Client) EndRound(ctx context.Context) (*EndRoundResponse, error) {
	req := &EndRoundRequest{SessionID: c.SessionID()}

	resp, err := doRequest[EndRoundResponse](ctx, c, PathEndRound, req)
	if err != nil {
		return nil, err
	}
	if resp.Balance == nil {
		return nil, malformed("balance")
	}
	return resp, nil
}

// SendEvent records a client-side progress event for the active bet
func (c *Client) SendEvent(ctx context.Context, event string) (*EventResponse, error) {
	req := &EventRequest{
		SessionID: c.SessionID(),
		Event:     event,
	}
	return doRequest[EventResponse](ctx, c, PathEvent, req)
}

// doRequest performs one POST and normalizes every failure into *Error
func doRequest[T any](ctx context.Context, c *Client, endpoint string, reqBody any) (result *T, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = newError(ErrCodeUnknown, "An unknown error occurred", fmt.Errorf("panic: %v", r))
		}
	}()

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, newError(ErrCodeUnknown, fmt.Sprintf("failed to marshal request: %v", err), err)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	timer := c.clock.AfterFunc(c.timeout, func() { cancel(errRequestTimeout) }, "rgs", endpoint)
	defer timer.Stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, newError(ErrCodeUnknown, fmt.Sprintf("failed to create request: %v", err), err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	start := c.clock.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		rgsErr := classify(ctx, err)
		c.logger.Debug().Str("endpoint", endpoint).Str("request_id", requestID).
			Str("code", rgsErr.Code).Err(err).Msg("rgs request failed")
		return nil, rgsErr
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(ctx, err)
	}

	c.logger.Debug().Str("endpoint", endpoint).Str("request_id", requestID).
		Int("status", resp.StatusCode).Dur("latency", c.clock.Since(start)).Msg("rgs request")

	// A declared error wins over the HTTP status
	var envelope ErrorResponse
	if json.Unmarshal(respBody, &envelope) == nil && envelope.Error != nil {
		envelope.Error.declared = true
		return nil, envelope.Error
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newError(ErrCodeNetwork,
			fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)), nil)
	}

	var out T
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, newError(ErrCodeNetwork, fmt.Sprintf("failed to parse response: %v", err), err)
	}
	return &out, nil
}

func classify(ctx context.Context, err error) *Error {
	if errors.Is(context.Cause(ctx), errRequestTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return newError(ErrCodeTimeout, "Request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(ErrCodeTimeout, "Request timed out", err)
	}
	return newError(ErrCodeNetwork, err.Error(), err)
}

func malformed(field string) *Error {
	return newError(ErrCodeUnknown, fmt.Sprintf("malformed response: missing %s", field), nil)
}
