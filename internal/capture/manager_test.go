package capture

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/glowlink/internal/api"
)

type fakeSource struct {
	mu        sync.Mutex
	available error
	payload   string
	err       error
	kinds     []Kind
	opts      Options
}

func (s *fakeSource) Available() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

func (s *fakeSource) Capture(_ context.Context, kind Kind, opts Options) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kinds = append(s.kinds, kind)
	s.opts = opts
	return s.payload, s.err
}

type fakeUploader struct {
	file   api.FilePart
	userID string
	result map[string]any
	err    error
	calls  int
}

func (u *fakeUploader) AnalyzeFace(_ context.Context, file api.FilePart, userID string) (map[string]any, error) {
	u.calls++
	u.file, u.userID = file, userID
	return u.result, u.err
}

func readyCaptureManager(t *testing.T, src Source, up Uploader) *Manager {
	t.Helper()
	m := NewManager(src, up, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Init(ctx))
	return m
}

func TestAcquireFailsBeforeReady(t *testing.T) {
	src := &fakeSource{available: errors.New("no camera"), payload: "AAAA"}
	m := NewManager(src, &fakeUploader{}, Config{})

	_, err := m.TakePicture(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = m.SelectFromGallery(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Empty(t, src.kinds, "source must not be called before ready")
}

func TestInitWaitsForSource(t *testing.T) {
	src := &fakeSource{available: errors.New("plugin loading"), payload: "AAAA"}
	m := NewManager(src, &fakeUploader{}, Config{ReadyWait: 2 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Init(ctx)
	go func() {
		time.Sleep(150 * time.Millisecond)
		src.mu.Lock()
		src.available = nil
		src.mu.Unlock()
	}()

	payload, err := m.TakePicture(ctx)
	require.NoError(t, err)
	assert.Equal(t, "data:image/jpeg;base64,AAAA", payload)
	assert.True(t, m.Ready())
}

func TestTakePictureAddsPrefixToBarePayload(t *testing.T) {
	src := &fakeSource{payload: "/9j/AAAA"}
	m := readyCaptureManager(t, src, &fakeUploader{})

	payload, err := m.TakePicture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "data:image/jpeg;base64,/9j/AAAA", payload)
	assert.Equal(t, []Kind{KindCamera}, src.kinds)
	assert.Equal(t, DefaultOptions(), src.opts)
}

func TestSelectFromGalleryKeepsPrefixedPayload(t *testing.T) {
	src := &fakeSource{payload: "data:image/png;base64,iVBO"}
	m := readyCaptureManager(t, src, &fakeUploader{})

	payload, err := m.SelectFromGallery(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,iVBO", payload)
	assert.Equal(t, []Kind{KindGallery}, src.kinds)
}

func TestAcquireWrapsSourceError(t *testing.T) {
	cause := errors.New("camera cancelled")
	m := readyCaptureManager(t, &fakeSource{err: cause}, &fakeUploader{})

	_, err := m.TakePicture(context.Background())
	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "capture", opErr.Op)
	assert.ErrorIs(t, err, cause)

	_, err = m.SelectFromGallery(context.Background())
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "gallery", opErr.Op)
}

func TestUploadSendsDecodedImage(t *testing.T) {
	up := &fakeUploader{result: map[string]any{"skin_type": "oily"}}
	m := NewManager(&fakeSource{}, up, Config{})

	result, err := m.Upload(context.Background(), "data:image/jpeg;base64,AAAA==", "")
	require.NoError(t, err)
	assert.Equal(t, "oily", result["skin_type"])
	assert.Equal(t, DefaultUserID, up.userID)
	assert.Equal(t, "photo.jpg", up.file.Filename)
	assert.Equal(t, "image/jpeg", up.file.ContentType)
	assert.Equal(t, []byte{0, 0, 0}, up.file.Data)
}

func TestUploadRejectsMalformedPayload(t *testing.T) {
	up := &fakeUploader{}
	m := NewManager(&fakeSource{}, up, Config{})

	_, err := m.Upload(context.Background(), "data:image/jpeg;base64", "u1")
	var decErr *PayloadDecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Zero(t, up.calls, "nothing should be sent for a malformed payload")
}

func TestUploadServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "server error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := api.NewClient(api.Options{BaseURL: srv.URL})
	m := NewManager(&fakeSource{}, client, Config{})

	_, err := m.Upload(context.Background(), "data:image/jpeg;base64,AAAA==", "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "server error")

	var reqErr *api.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, 500, reqErr.Status)
}

func TestUploadEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "alice", r.FormValue("user_id"))
		_, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "photo.jpg", hdr.Filename)
		_, _ = w.Write([]byte(`{"recommended_mode":"red"}`))
	}))
	defer srv.Close()

	src := &fakeSource{payload: strings.Repeat("A", 8)}
	m := readyCaptureManager(t, src, api.NewClient(api.Options{BaseURL: srv.URL}))

	payload, err := m.TakePicture(context.Background())
	require.NoError(t, err)
	result, err := m.Upload(context.Background(), payload, "alice")
	require.NoError(t, err)
	assert.Equal(t, "red", result["recommended_mode"])
}
