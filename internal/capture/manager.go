// Package capture takes face photos with the host camera or picks them
// from the gallery, and uploads them to the analysis backend.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/glowlink/internal/api"
	"github.com/chaz8081/glowlink/internal/ready"
)

// Upload form values.
const (
	UploadFilename = "photo.jpg"
	DefaultUserID  = "default_user"
)

// Uploader sends a photo to the analysis backend.
type Uploader interface {
	AnalyzeFace(ctx context.Context, file api.FilePart, userID string) (map[string]any, error)
}

// Manager runs capture and upload.
type Manager struct {
	source    Source
	uploader  Uploader
	opts      Options
	readyWait time.Duration
	gate      *ready.Gate
	log       *slog.Logger
}

// Config wires a Manager. Zero Options fields fall back to DefaultOptions.
type Config struct {
	Options   Options
	ReadyWait time.Duration // how long operations wait for the source; 0 fails fast
	Logger    *slog.Logger
}

// NewManager creates a capture manager.
func NewManager(source Source, uploader Uploader, cfg Config) *Manager {
	def := DefaultOptions()
	opts := cfg.Options
	if opts.Quality == 0 {
		opts.Quality = def.Quality
	}
	if opts.Width == 0 {
		opts.Width = def.Width
	}
	if opts.Height == 0 {
		opts.Height = def.Height
	}
	if opts.Encoding == "" {
		opts.Encoding = def.Encoding
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		source:    source,
		uploader:  uploader,
		opts:      opts,
		readyWait: cfg.ReadyWait,
		gate:      ready.NewGate("camera", log),
		log:       log,
	}
}

// Init polls the source until it is available, then opens the readiness
// gate. It blocks until that happens or ctx is cancelled.
func (m *Manager) Init(ctx context.Context) error {
	return ready.Poll(ctx, m.gate, ready.DefaultInterval, m.source.Available)
}

// Ready reports whether the source has become available.
func (m *Manager) Ready() bool {
	return m.gate.Ready()
}

// TakePicture captures a photo with the camera and returns it as a data URL.
func (m *Manager) TakePicture(ctx context.Context) (string, error) {
	return m.acquire(ctx, KindCamera)
}

// SelectFromGallery picks a photo from the gallery and returns it as a data URL.
func (m *Manager) SelectFromGallery(ctx context.Context) (string, error) {
	return m.acquire(ctx, KindGallery)
}

func (m *Manager) acquire(ctx context.Context, kind Kind) (string, error) {
	if err := m.gate.Require(ctx, m.readyWait); err != nil {
		m.log.Error("[CAPTURE] source not ready", "op", kind.String())
		return "", fmt.Errorf("capture: %s: %w", kind, err)
	}

	start := time.Now()
	raw, err := m.source.Capture(ctx, kind, m.opts)
	if err != nil {
		m.log.Error("[CAPTURE] source failed", "op", kind.String(), "error", err)
		return "", &OpError{Op: kind.String(), Err: err}
	}

	payload := NormalizePayload(raw, m.opts.MIME())
	m.log.Info("[CAPTURE] picture ready", "op", kind.String(), "bytes", len(payload),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return payload, nil
}

// Upload decodes a data URL and submits it for analysis on behalf of
// userID (DefaultUserID when empty). It returns the backend's analysis.
func (m *Manager) Upload(ctx context.Context, payload string, userID string) (map[string]any, error) {
	img, err := Decode(payload)
	if err != nil {
		m.log.Error("[CAPTURE] upload failed", "stage", "decode", "error", err)
		return nil, err
	}
	if userID == "" {
		userID = DefaultUserID
	}

	result, err := m.uploader.AnalyzeFace(ctx, api.FilePart{
		Filename:    UploadFilename,
		ContentType: img.MIME,
		Data:        img.Data,
	}, userID)
	if err != nil {
		m.log.Error("[CAPTURE] upload failed", "stage", "analysis", "error", err)
		return nil, fmt.Errorf("capture: upload: %w", err)
	}
	m.log.Info("[CAPTURE] upload complete", "user_id", userID, "bytes", len(img.Data))
	return result, nil
}
