package capture

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// Kind selects where a picture comes from.
type Kind int

const (
	KindCamera Kind = iota
	KindGallery
)

func (k Kind) String() string {
	if k == KindGallery {
		return "gallery"
	}
	return "capture"
}

// Options is the fixed processing applied to every picture.
type Options struct {
	Quality            int // JPEG quality, 1-100
	Width              int // target bounding box
	Height             int
	Encoding           string // "jpeg" or "png"
	CorrectOrientation bool   // apply EXIF orientation
}

// DefaultOptions returns quality 80, 1024x1024, JPEG, orientation corrected.
func DefaultOptions() Options {
	return Options{
		Quality:            80,
		Width:              1024,
		Height:             1024,
		Encoding:           "jpeg",
		CorrectOrientation: true,
	}
}

// MIME returns the content type produced by the encoding.
func (o Options) MIME() string {
	if o.Encoding == "png" {
		return "image/png"
	}
	return "image/jpeg"
}

// Source is the native capture capability. Capture returns base64 image
// data, with or without a data: prefix.
type Source interface {
	// Available reports nil once the source can take pictures.
	Available() error
	Capture(ctx context.Context, kind Kind, opts Options) (string, error)
}

// OutputPlaceholder is replaced by the output file path in CameraCommand.
const OutputPlaceholder = "{output}"

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true,
}

// HostSource captures with an external camera tool (imagesnap, fswebcam,
// libcamera-still...) and picks gallery images from the file system.
type HostSource struct {
	// CameraCommand is the capture command line; OutputPlaceholder marks
	// where the image file is written.
	CameraCommand []string
	// GalleryPath, when set, is the image returned by gallery selection.
	GalleryPath string
	// GalleryDir is searched for the newest image when GalleryPath is empty.
	GalleryDir string
}

// Available reports whether the camera tool is installed or a gallery is
// configured and present.
func (s *HostSource) Available() error {
	var errs []error
	if len(s.CameraCommand) > 0 {
		_, err := exec.LookPath(s.CameraCommand[0])
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("camera command: %w", err))
	}
	if s.GalleryPath != "" {
		_, err := os.Stat(s.GalleryPath)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("gallery path: %w", err))
	}
	if s.GalleryDir != "" {
		info, err := os.Stat(s.GalleryDir)
		if err == nil && info.IsDir() {
			return nil
		}
		if err == nil {
			err = fmt.Errorf("%s is not a directory", s.GalleryDir)
		}
		errs = append(errs, fmt.Errorf("gallery dir: %w", err))
	}
	if len(errs) == 0 {
		return errors.New("no camera command or gallery configured")
	}
	return errors.Join(errs...)
}

// Capture takes or selects a picture and returns it processed and base64
// encoded without a data: prefix.
func (s *HostSource) Capture(ctx context.Context, kind Kind, opts Options) (string, error) {
	var path string
	switch kind {
	case KindGallery:
		p, err := s.galleryImage()
		if err != nil {
			return "", err
		}
		path = p
	default:
		tmp, err := s.shoot(ctx)
		if err != nil {
			return "", err
		}
		defer os.Remove(tmp)
		path = tmp
	}

	data, err := Process(path, opts)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// shoot runs the camera command into a temp file and returns its path.
func (s *HostSource) shoot(ctx context.Context) (string, error) {
	if len(s.CameraCommand) == 0 {
		return "", errors.New("no camera command configured")
	}

	f, err := os.CreateTemp("", "glowlink-capture-*.jpg")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	out := f.Name()
	f.Close()

	args := make([]string, len(s.CameraCommand))
	for i, a := range s.CameraCommand {
		args[i] = strings.ReplaceAll(a, OutputPlaceholder, out)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // command comes from user config
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(out)
		return "", fmt.Errorf("%s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}

	if info, err := os.Stat(out); err != nil || info.Size() == 0 {
		os.Remove(out)
		return "", fmt.Errorf("%s produced no image", args[0])
	}
	return out, nil
}

// galleryImage returns the configured image, or the newest image in the
// gallery directory.
func (s *HostSource) galleryImage() (string, error) {
	if s.GalleryPath != "" {
		return s.GalleryPath, nil
	}
	if s.GalleryDir == "" {
		return "", errors.New("no gallery configured")
	}

	entries, err := os.ReadDir(s.GalleryDir)
	if err != nil {
		return "", fmt.Errorf("reading gallery: %w", err)
	}

	var newest string
	var newestMod int64
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); newest == "" || mod > newestMod {
			newest, newestMod = e.Name(), mod
		}
	}
	if newest == "" {
		return "", fmt.Errorf("no images in %s", s.GalleryDir)
	}
	return filepath.Join(s.GalleryDir, newest), nil
}

// Process loads an image, optionally applies its EXIF orientation, scales
// it down to fit the target box and re-encodes it.
func Process(path string, opts Options) ([]byte, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(opts.CorrectOrientation))
	if err != nil {
		return nil, fmt.Errorf("opening image: %w", err)
	}

	if opts.Width > 0 && opts.Height > 0 {
		b := img.Bounds()
		if b.Dx() > opts.Width || b.Dy() > opts.Height {
			img = imaging.Fit(img, opts.Width, opts.Height, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	format := imaging.JPEG
	if opts.Encoding == "png" {
		format = imaging.PNG
	}
	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultOptions().Quality
	}
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encoding image: %w", err)
	}
	return buf.Bytes(), nil
}
