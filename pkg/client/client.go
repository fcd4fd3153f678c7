package client

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Client talks to a taskconsole server.
type Client struct {
	baseURL string
	client  *http.Client
	// stream has no overall timeout; streams stay open.
	stream *http.Client
	logger *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	CACert   string       // CA certificate file for https servers
	Insecure bool         // Skip TLS verification
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8000",
		Timeout: 10 * time.Second,
	}
}

func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.Insecure || config.CACert != "" {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout, Transport: transport},
		stream:  &http.Client{Transport: transport},
	}
}

// IsReachable checks if the server is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	if _, err := c.call(ctx, "/test", nil); err != nil {
		c.logger.Debug("Server unreachable", "error", err)
		return false
	}
	return true
}

// ProcessID returns the live process bound to phone, creating one when
// there is none. An empty phone always creates a new process.
func (c *Client) ProcessID(ctx context.Context, phone string) (string, error) {
	q := url.Values{}
	if phone != "" {
		q.Set("phone", phone)
	}
	env, err := c.call(ctx, "/get_process_id", q)
	if err != nil {
		return "", err
	}
	if env.ProcessID == "" {
		return "", errors.New("server returned no process id")
	}
	return env.ProcessID, nil
}

// Output returns the whole retained output of a process as HTML fragments.
func (c *Client) Output(ctx context.Context, id string) (string, error) {
	env, err := c.call(ctx, "/get_process_output", url.Values{"process_id": {id}})
	if err != nil {
		return "", err
	}
	return env.Output, nil
}

func (c *Client) State(ctx context.Context, id string) (State, error) {
	var st State
	err := c.get(ctx, "/get_process_state", url.Values{"process_id": {id}}, &st)
	return st, err
}

// Heartbeat keeps a process from being reaped.
func (c *Client) Heartbeat(ctx context.Context, id string) error {
	_, err := c.call(ctx, "/update_process_refresh_time", url.Values{"process_id": {id}})
	return err
}

// Send answers the pending prompt of a process. It reports false when the
// process was not waiting for input.
func (c *Client) Send(ctx context.Context, id, value string) (bool, error) {
	env, err := c.call(ctx, "/send_value", url.Values{"process_id": {id}, "value": {value}})
	if err != nil {
		return false, err
	}
	return env.Accepted, nil
}

// Stream reads the server-sent output stream of a process and calls fn for
// every message until ctx is done, the server ends the stream or fn
// returns an error. A stream ended by the server returns nil.
func (c *Client) Stream(ctx context.Context, id string, fn func(Update) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/comm_stream", url.Values{"process_id": {id}}), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return c.handleErrorResponse(resp)
	}
	c.logger.Debug("Stream opened", "process_id", id)

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if data.Len() == 0 {
				continue
			}
			var u Update
			if err := json.Unmarshal([]byte(data.String()), &u); err != nil {
				return fmt.Errorf("decode stream message: %w", err)
			}
			data.Reset()
			if err := fn(u); err != nil {
				return err
			}
			continue
		}
		if v, ok := strings.CutPrefix(line, "data:"); ok {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(v, " "))
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return ctx.Err()
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (c *Client) call(ctx context.Context, path string, q url.Values) (envelope, error) {
	var env envelope
	err := c.get(ctx, path, q, &env)
	return env, err
}

// get performs a GET request and decodes a success envelope into out.
func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, q), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return c.handleErrorResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var env envelope
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &env) == nil && env.Message != "" {
		msg = env.Message
	}
	c.logger.Debug("Request failed", "status", resp.StatusCode, "message", msg)
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: msg}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", ErrNotFound, apiErr)
	}
	return apiErr
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}
	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}
	if config.CACert != "" {
		if err := loadCACert(tlsConfig, config.CACert); err != nil {
			return nil, fmt.Errorf("failed to load CA certificate: %w", err)
		}
	}
	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}
	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}
	tlsConfig.RootCAs = caCertPool
	return nil
}
