package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-compta-client/auth"
	"github.com/jrsteele09/go-compta-client/internal/config"
	"github.com/jrsteele09/go-compta-client/internal/logging"
	"github.com/jrsteele09/go-compta-client/internal/metrics"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	requestIDHeader = "X-Request-ID"
	maxErrorBody    = 1 << 20
)

// CredentialProvider supplies the bearer token for each call. It is read on
// every request so a switch or logout is honoured immediately.
type CredentialProvider interface {
	AgentCredential() auth.Credential
	AdminCredential() auth.Credential
}

// Timeouts bounds each class of operation.
type Timeouts struct {
	Default  time.Duration
	Upload   time.Duration
	Analysis time.Duration // extract, classify and generate-entries
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Default:  60 * time.Second,
		Upload:   120 * time.Second,
		Analysis: 300 * time.Second,
	}
}

// Client calls the accounting backend on behalf of the current session.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	creds      CredentialProvider
	timeouts   Timeouts
}

var _ auth.Backend = (*Client)(nil)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithTimeouts(t Timeouts) Option {
	return func(c *Client) {
		c.timeouts = t
	}
}

// WithTimeoutConfig takes the operation timeouts from configuration.
func WithTimeoutConfig(cfg config.TimeoutConfig) Option {
	return func(c *Client) {
		c.timeouts = Timeouts{
			Default:  cfg.GetDefaultTimeout(),
			Upload:   cfg.GetUploadTimeout(),
			Analysis: cfg.GetAnalysisTimeout(),
		}
	}
}

func New(baseURL string, creds CredentialProvider, options ...Option) (*Client, error) {
	if creds == nil {
		return nil, errors.New("[remote.New] credential provider is required")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "[remote.New] invalid base url %q", baseURL)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("[remote.New] base url %q must be absolute", baseURL)
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{},
		creds:      creds,
		timeouts:   DefaultTimeouts(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

type request struct {
	op          string
	method      string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
	timeout     time.Duration
	credential  auth.Credential
}

func (c *Client) jsonRequest(op, method, path string, in any) (*request, error) {
	r := &request{op: op, method: method, path: path}
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, errors.Wrapf(err, "[remote.%s] encode request", op)
		}
		r.body = bytes.NewReader(b)
		r.contentType = "application/json"
	}
	return r, nil
}

// agent prepares a request carrying the agent credential.
func (c *Client) agent(r *request) *request {
	r.credential = c.creds.AgentCredential()
	return r
}

// do sends the request and decodes a 2xx JSON body into out, if non-nil.
func (c *Client) do(ctx context.Context, r *request, out any) error {
	timeout := r.timeout
	if timeout <= 0 {
		timeout = c.timeouts.Default
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + r.path
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), r.body)
	if err != nil {
		return errors.Wrapf(err, "[remote.%s] build request", r.op)
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	req.Header.Set("Accept", "application/json")
	requestID := uuid.NewString()
	req.Header.Set(requestIDHeader, requestID)
	if r.credential.Present() {
		(&oauth2.Token{AccessToken: r.credential.Token, TokenType: "Bearer"}).SetAuthHeader(req)
	}

	class := r.credential.Class
	if class == "" {
		class = auth.CredentialNone
	}
	logger := log.With().
		Str("operation", r.op).
		Str("request_id", requestID).
		Str("credential", string(class)).
		Str("token", logging.Fingerprint(r.credential.Token)).
		Logger()

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	metrics.RemoteCallDuration.WithLabelValues(r.op).Observe(elapsed.Seconds())
	if err != nil {
		rerr := transport(r.op, err)
		metrics.RemoteCalls.WithLabelValues(r.op, string(class), string(KindTransport)).Inc()
		logger.Warn().Err(rerr.Err).Str("code", rerr.Code).Dur("duration", elapsed).Msg("remote call failed")
		return rerr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		rerr := rejected(r.op, resp.StatusCode, body)
		metrics.RemoteCalls.WithLabelValues(r.op, string(class), string(KindRejected)).Inc()
		logger.Info().Int("status", resp.StatusCode).Str("detail", rerr.Message).Dur("duration", elapsed).Msg("remote call rejected")
		return rerr
	}

	metrics.RemoteCalls.WithLabelValues(r.op, string(class), "ok").Inc()
	logger.Debug().Int("status", resp.StatusCode).Dur("duration", elapsed).Msg("remote call")

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return transport(r.op, ctx.Err())
		}
		return badResponse(r.op, resp.StatusCode, err)
	}
	return nil
}
