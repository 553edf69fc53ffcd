// the picket package is the only place that talks to the Picket hosted API.
// Wallet login, signature verification and token ownership checks all happen on the Picket side; this package
// sends the requests, retries transient failures and keeps the resulting session state for the browser session.
package picket

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/information-sharing-networks/incremental-auth/internal/authz"
)

const DefaultChain = "ethereum"

// Client handles communication with the Picket API
type Client struct {
	baseURL         string
	apiKey          string
	httpClient      *http.Client
	maxRetries      uint64
	initialInterval time.Duration
}

type Option func(*Client)

// WithHTTPClient replaces the default http client (10s timeout)
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRetry sets how many times a transient failure is retried and the first backoff interval
func WithRetry(maxRetries int, initialInterval time.Duration) Option {
	return func(c *Client) {
		if maxRetries < 0 {
			maxRetries = 0
		}
		c.maxRetries = uint64(maxRetries)
		c.initialInterval = initialInterval
	}
}

func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		maxRetries:      3,
		initialInterval: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NonceRequest asks Picket for the message the wallet must sign
type NonceRequest struct {
	WalletAddress string `json:"walletAddress"`
	Chain         string `json:"chain"`
}

type NonceResponse struct {
	Nonce     string `json:"nonce"`
	Statement string `json:"statement,omitempty"`
	Format    string `json:"format,omitempty"`
}

// AuthRequest exchanges a signed nonce for an access token
type AuthRequest struct {
	WalletAddress string `json:"walletAddress"`
	Signature     string `json:"signature"`
	Chain         string `json:"chain"`
}

// User is the user record returned by Picket
type User struct {
	WalletAddress  string            `json:"walletAddress"`
	DisplayAddress string            `json:"displayAddress"`
	Chain          string            `json:"chain"`
	TokenBalances  map[string]string `json:"tokenBalances,omitempty"`
}

// AuthState is the Picket session kept for one browser session
type AuthState struct {
	AccessToken string     `json:"accessToken"`
	User        authz.User `json:"user"`
}

type authResponse struct {
	AccessToken string `json:"accessToken"`
	User        User   `json:"user"`
}

type authzRequest struct {
	AccessToken  string             `json:"accessToken"`
	Requirements authz.Requirements `json:"requirements"`
}

// AuthzResult is returned by a successful ownership check
type AuthzResult struct {
	AccessToken string
	User        User
}

// Nonce requests a nonce for the wallet to sign
func (c *Client) Nonce(ctx context.Context, nonceReq NonceRequest) (*NonceResponse, error) {
	if nonceReq.Chain == "" {
		nonceReq.Chain = DefaultChain
	}

	var res NonceResponse
	if err := c.post(ctx, "/auth/nonce", nonceReq, &res); err != nil {
		return nil, err
	}
	if res.Nonce == "" {
		return nil, NewClientInternalError(errors.New("empty nonce"), "decoding nonce response")
	}
	return &res, nil
}

// Auth verifies the signed nonce and returns a new session
func (c *Client) Auth(ctx context.Context, authReq AuthRequest) (*AuthState, error) {
	if authReq.Chain == "" {
		authReq.Chain = DefaultChain
	}

	var res authResponse
	if err := c.post(ctx, "/auth", authReq, &res); err != nil {
		return nil, err
	}
	if res.AccessToken == "" {
		return nil, NewClientInternalError(errors.New("empty access token"), "decoding auth response")
	}

	user := authz.User{
		WalletAddress:  res.User.WalletAddress,
		DisplayAddress: res.User.DisplayAddress,
		Chain:          res.User.Chain,
	}
	if user.WalletAddress == "" {
		user.WalletAddress = authReq.WalletAddress
	}
	if user.DisplayAddress == "" {
		user.DisplayAddress = user.WalletAddress
	}

	return &AuthState{AccessToken: res.AccessToken, User: user}, nil
}

// Authz checks token ownership for the session identified by accessToken.
//
// A 403 from Picket means the wallet does not meet the requirements and is reported as (nil, false, nil).
// A 401 means the access token is no longer accepted and is reported as ErrSessionEnded.
func (c *Client) Authz(ctx context.Context, accessToken string, req authz.Requirements) (*AuthzResult, bool, error) {
	var res authResponse
	err := c.post(ctx, "/auth/authz", authzRequest{AccessToken: accessToken, Requirements: req}, &res)
	switch StatusCode(err) {
	case http.StatusForbidden:
		return nil, false, nil
	case http.StatusUnauthorized:
		return nil, false, fmt.Errorf("%w: %v", ErrSessionEnded, err)
	}
	if err != nil {
		return nil, false, err
	}
	return &AuthzResult{AccessToken: res.AccessToken, User: res.User}, true, nil
}

// post sends a JSON request, retrying connection errors, 429 and 5xx responses with exponential backoff
func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return NewClientInternalError(err, "marshaling request for "+path)
	}

	if c.maxRetries == 0 {
		return c.do(ctx, path, payload, out)
	}

	operation := func() error {
		err := c.do(ctx, path, payload, out)
		if err == nil {
			return nil
		}
		var ce *ClientError
		if errors.As(err, &ce) && ce.Temporary() && ctx.Err() == nil {
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.MaxElapsedTime = 0

	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx))
}

func (c *Client) do(ctx context.Context, path string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return NewClientInternalError(err, "creating request for "+path)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(c.apiKey+":")))

	res, err := c.httpClient.Do(req)
	if err != nil {
		return NewClientConnectionError(err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return NewClientAPIError(res)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return NewClientInternalError(err, "decoding response from "+path)
	}
	return nil
}
