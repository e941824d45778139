package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, breaker BreakerConfig) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Options{BaseURL: srv.URL + "/", Timeout: 5 * time.Second, Breaker: breaker})
}

func TestEndpoints(t *testing.T) {
	e := NewEndpoints("http://192.168.0.10:5001/")
	assert.Equal(t, "http://192.168.0.10:5001/api/v1/analysis/face", e.AnalysisFace())
	assert.Equal(t, "http://192.168.0.10:5001/api/v1/history", e.SaveHistory())
	assert.Equal(t, "http://192.168.0.10:5001/api/v1/history/user%201", e.History("user 1"))
	assert.Equal(t, "http://192.168.0.10:5001/api/v1/stats/u1", e.Stats("u1"))
	assert.Equal(t, "http://192.168.0.10:5001/api/v1/user/profile", e.SaveProfile())
	assert.Equal(t, "http://192.168.0.10:5001/api/v1/user/profile/u1", e.Profile("u1"))
	assert.Equal(t, "http://192.168.0.10:5001/api/v1/users", e.Users())
	assert.Equal(t, "http://192.168.0.10:5001/api/v1/user/u1", e.User("u1"))
	assert.Equal(t, "http://192.168.0.10:5001/api/v1/device/config", e.DeviceConfig())
	assert.Equal(t, "http://192.168.0.10:5001/api/v1/device/modes", e.DeviceModes())
}

func TestAnalyzeFaceSendsMultipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/analysis/face", r.URL.Path)

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "user-42", r.FormValue("user_id"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "photo.jpg", hdr.Filename)
		assert.Equal(t, "image/jpeg", hdr.Header.Get("Content-Type"))
		data, _ := io.ReadAll(f)
		assert.Equal(t, []byte{0xff, 0xd8, 0xff}, data)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"skin_type":"dry","score":81}`))
	}, BreakerConfig{})

	result, err := c.AnalyzeFace(context.Background(), FilePart{
		Filename:    "photo.jpg",
		ContentType: "image/jpeg",
		Data:        []byte{0xff, 0xd8, 0xff},
	}, "user-42")
	require.NoError(t, err)
	assert.Equal(t, "dry", result["skin_type"])
	assert.Equal(t, float64(81), result["score"])
}

func TestAnalyzeFaceServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "server error", http.StatusInternalServerError)
	}, BreakerConfig{})

	_, err := c.AnalyzeFace(context.Background(), FilePart{Filename: "photo.jpg", Data: []byte("x")}, "u")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "server error")

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusInternalServerError, reqErr.Status)
	assert.Equal(t, "server error", reqErr.Body)
}

func TestAnalyzeFaceBadJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>oops</html>"))
	}, BreakerConfig{})

	_, err := c.AnalyzeFace(context.Background(), FilePart{Filename: "photo.jpg", Data: []byte("x")}, "u")
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestAnalyzeFaceNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := NewClient(Options{BaseURL: base, Timeout: time.Second})
	_, err := c.AnalyzeFace(context.Background(), FilePart{Filename: "photo.jpg", Data: []byte("x")}, "u")
	require.Error(t, err)
	var reqErr *RequestError
	assert.False(t, errors.As(err, &reqErr), "transport failure should not look like an HTTP status error")
}

func TestDeviceModes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/device/modes", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"red":  {"wavelength": 630, "benefits": ["wrinkles"], "target_issues": ["wrinkle", "elasticity"]},
			"blue": {"wavelength": 415, "benefits": ["acne"], "target_issues": ["acne"]}
		}`))
	}, BreakerConfig{})

	modes, err := c.DeviceModes(context.Background())
	require.NoError(t, err)
	require.Len(t, modes, 2)
	assert.Equal(t, 630, modes["red"].Wavelength)
	assert.Equal(t, []string{"acne"}, modes["blue"].TargetIssues)
}

func TestDeviceConfig(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"device_name":"MySkin_LED_Mask","ble_service_uuid":"0000ffe0-0000-1000-8000-00805f9b34fb","supported_modes":["red","blue","gold"],"pwm_range":[0,255],"firmware_version":"1.0.0"}`))
	}, BreakerConfig{})

	cfg, err := c.DeviceConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "MySkin_LED_Mask", cfg.DeviceName)
	assert.Equal(t, []string{"red", "blue", "gold"}, cfg.SupportedModes)
	assert.Equal(t, []int{0, 255}, cfg.PWMRange)
}

func TestPing(t *testing.T) {
	up := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}, BreakerConfig{})
	assert.NoError(t, up.Ping(context.Background()))

	down := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, BreakerConfig{})
	assert.Error(t, down.Ping(context.Background()))
}

func TestBreakerOpensAfterServerFailures(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, BreakerConfig{MaxFailures: 2, Timeout: time.Minute})

	for i := 0; i < 2; i++ {
		_, err := c.DeviceModes(context.Background())
		var reqErr *RequestError
		require.ErrorAs(t, err, &reqErr)
	}
	assert.Equal(t, gobreaker.StateOpen, c.BreakerState())

	_, err := c.DeviceModes(context.Background())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), calls.Load(), "open circuit must not reach the server")
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"No file"}`, http.StatusBadRequest)
	}, BreakerConfig{MaxFailures: 1})

	for i := 0; i < 3; i++ {
		_, err := c.AnalyzeFace(context.Background(), FilePart{Filename: "photo.jpg"}, "u")
		var reqErr *RequestError
		require.ErrorAs(t, err, &reqErr)
		assert.Equal(t, http.StatusBadRequest, reqErr.Status)
	}
	assert.Equal(t, gobreaker.StateClosed, c.BreakerState())
}
