package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Default client settings.
const (
	DefaultTimeout = 30 * time.Second

	defaultBreakerMaxFailures uint32        = 5
	defaultBreakerTimeout     time.Duration = 30 * time.Second
	defaultBreakerInterval    time.Duration = 60 * time.Second
)

// BreakerConfig configures fail-fast behaviour after repeated server
// failures. Requests are never retried.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit
	// opens. 0 uses the default.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before a probe request.
	Timeout time.Duration
	// Interval is the cyclic period of the closed state for clearing
	// failure counts.
	Interval time.Duration
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	Breaker    BreakerConfig
	HTTPClient *http.Client // overrides Timeout when set
	Logger     *slog.Logger
}

// FilePart is a file sent in a multipart form.
type FilePart struct {
	Filename    string
	ContentType string
	Data        []byte
}

// LEDMode describes one LED program offered by the backend.
type LEDMode struct {
	Wavelength   int      `json:"wavelength"`
	Benefits     []string `json:"benefits"`
	TargetIssues []string `json:"target_issues"`
}

// DeviceConfig is the backend's description of the LED mask.
type DeviceConfig struct {
	DeviceName      string   `json:"device_name"`
	ServiceUUID     string   `json:"ble_service_uuid"`
	SupportedModes  []string `json:"supported_modes"`
	PWMRange        []int    `json:"pwm_range"`
	FirmwareVersion string   `json:"firmware_version"`
}

// response is a completed HTTP exchange.
type response struct {
	status int
	body   []byte
}

// Client talks to the analysis backend.
type Client struct {
	endpoints Endpoints
	http      *http.Client
	breaker   *gobreaker.CircuitBreaker[*response]
	log       *slog.Logger
}

// NewClient creates a backend client.
func NewClient(opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	maxFailures := opts.Breaker.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	timeout := opts.Breaker.Timeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}
	interval := opts.Breaker.Interval
	if interval == 0 {
		interval = defaultBreakerInterval
	}

	cb := gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:        "api",
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("[API] circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// Client errors are the caller's fault, not a sign the server is down.
		IsSuccessful: func(err error) bool {
			var reqErr *RequestError
			if errors.As(err, &reqErr) {
				return reqErr.Status < 500
			}
			return err == nil
		},
	})

	return &Client{
		endpoints: NewEndpoints(opts.BaseURL),
		http:      httpClient,
		breaker:   cb,
		log:       log,
	}
}

// Endpoints returns the URL builder for the configured base URL.
func (c *Client) Endpoints() Endpoints {
	return c.endpoints
}

// BreakerState returns the circuit breaker state for diagnostics.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// AnalyzeFace uploads a face photo and returns the analysis document.
func (c *Client) AnalyzeFace(ctx context.Context, file FilePart, userID string) (map[string]any, error) {
	body, contentType, err := faceForm(file, userID)
	if err != nil {
		return nil, fmt.Errorf("api: build form: %w", err)
	}

	target := c.endpoints.AnalysisFace()
	resp, err := c.do(ctx, http.MethodPost, target, contentType, body)
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := decodeJSON(target, resp.body, &result); err != nil {
		c.log.Error("[API] analysis response unreadable", "error", err)
		return nil, err
	}
	c.log.Info("[API] analysis complete", "user_id", userID, "fields", len(result))
	return result, nil
}

// DeviceModes fetches the LED mode catalog.
func (c *Client) DeviceModes(ctx context.Context) (map[string]LEDMode, error) {
	target := c.endpoints.DeviceModes()
	resp, err := c.do(ctx, http.MethodGet, target, "", nil)
	if err != nil {
		return nil, err
	}
	var modes map[string]LEDMode
	if err := decodeJSON(target, resp.body, &modes); err != nil {
		return nil, err
	}
	return modes, nil
}

// DeviceConfig fetches the backend's LED mask description.
func (c *Client) DeviceConfig(ctx context.Context) (*DeviceConfig, error) {
	target := c.endpoints.DeviceConfig()
	resp, err := c.do(ctx, http.MethodGet, target, "", nil)
	if err != nil {
		return nil, err
	}
	var cfg DeviceConfig
	if err := decodeJSON(target, resp.body, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Ping checks that the backend answers.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.DeviceModes(ctx); err != nil {
		c.log.Error("[API] server unreachable", "base_url", c.endpoints.Base, "error", err)
		return err
	}
	c.log.Info("[API] server reachable", "base_url", c.endpoints.Base)
	return nil
}

// do performs one request through the breaker. Non-2xx responses become
// *RequestError.
func (c *Client) do(ctx context.Context, method, target, contentType string, body []byte) (*response, error) {
	resp, err := c.breaker.Execute(func() (*response, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return nil, fmt.Errorf("api: create request: %w", err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Accept", "application/json")

		httpResp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("api: %s %s: %w", method, target, err)
		}
		defer httpResp.Body.Close()

		data, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return nil, fmt.Errorf("api: read response: %w", err)
		}
		if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
			return nil, &RequestError{
				Method: method,
				URL:    target,
				Status: httpResp.StatusCode,
				Body:   strings.TrimSpace(string(data)),
			}
		}
		return &response{status: httpResp.StatusCode, body: data}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("api: %s %s: circuit open: %w", method, target, err)
		}
		c.log.Error("[API] request failed", "method", method, "url", target, "error", err)
		return nil, err
	}
	return resp, nil
}

func decodeJSON(target string, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &ParseError{URL: target, Err: err}
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// faceForm builds the analysis upload body: a "file" part carrying the
// image with its own content type, and a "user_id" field.
func faceForm(file FilePart, userID string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(file.Filename)))
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("user_id", userID); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
