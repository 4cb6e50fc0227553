package render

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bobarin/storyreel/internal/models"
	"github.com/bobarin/storyreel/internal/retry"
	"github.com/bobarin/storyreel/internal/services"
	"github.com/bobarin/storyreel/internal/storage"
)

const validSRT = "1\n00:00:00,000 --> 00:00:03,000\nOnce upon a time\n\n2\n00:00:03,000 --> 00:00:09,000\nthe end\n"

const validVTT = "WEBVTT\n\n00:00.000 --> 00:03.000\nOnce upon a time\n\n00:03.000 --> 00:09.000\nthe end\n"

// memStore is an in-memory JobStore with the same conditional-update rules
// as the Postgres store.
type memStore struct {
	mu          sync.Mutex
	jobs        map[uuid.UUID]*models.Job
	progress    []int
	progressErr error
	renewals    []time.Time
}

func newMemStore() *memStore {
	return &memStore{jobs: map[uuid.UUID]*models.Job{}}
}

func (m *memStore) put(job *models.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *job
	m.jobs[job.ID] = &c
}

func (m *memStore) get(id uuid.UUID) *models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *m.jobs[id]
	return &c
}

func (m *memStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrJobNotFound, id)
	}
	c := *job
	return &c, nil
}

func (m *memStore) CorrectJobStatus(_ context.Context, id uuid.UUID, from, to models.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := m.jobs[id]
	if job == nil || job.Status != from {
		return models.ErrRenderConflict
	}
	job.Status = to
	return nil
}

func (m *memStore) StartRender(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.jobs[job.ID]
	if stored == nil || stored.Status != models.JobStatusAssetsGenerated {
		return models.ErrRenderConflict
	}
	c := *job
	m.jobs[job.ID] = &c
	return nil
}

func (m *memStore) UpdateRenderProgress(_ context.Context, id uuid.UUID, percent int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = append(m.progress, percent)
	if m.progressErr != nil {
		return m.progressErr
	}
	if job := m.jobs[id]; job != nil && job.Status == models.JobStatusRendering && percent > job.ProgressPercent {
		job.ProgressPercent = percent
	}
	return nil
}

func (m *memStore) RenewRenderLease(_ context.Context, id uuid.UUID, owner string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := m.jobs[id]
	if job == nil || job.Status != models.JobStatusRendering || job.RenderLeaseOwner == nil || *job.RenderLeaseOwner != owner {
		return models.ErrRenderConflict
	}
	job.RenderLeaseExpiresAt = &expiresAt
	m.renewals = append(m.renewals, expiresAt)
	return nil
}

func (m *memStore) renewCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.renewals)
}

// takeLease hands the lease of id to owner, as a second attempt would after
// expiry.
func (m *memStore) takeLease(id uuid.UUID, owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id].RenderLeaseOwner = &owner
}

func (m *memStore) SaveRenderOutcome(_ context.Context, job *models.Job, leaseOwner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.jobs[job.ID]
	if stored == nil || stored.Status != models.JobStatusRendering {
		return models.ErrRenderConflict
	}
	var owner string
	if stored.RenderLeaseOwner != nil {
		owner = *stored.RenderLeaseOwner
	}
	if owner != leaseOwner {
		return models.ErrRenderConflict
	}
	c := *job
	if stored.ProgressPercent > c.ProgressPercent {
		c.ProgressPercent = stored.ProgressPercent
	}
	m.jobs[job.ID] = &c
	return nil
}

// fakeRunner stands in for ffmpeg and ffprobe. ffmpeg calls write their last
// argument as output; ffprobe answers from durations keyed by base name.
type fakeRunner struct {
	mu        sync.Mutex
	durations map[string]string
	failWhen  func(args []string) error
	convertTo string
	empty     map[string]bool
	calls     [][]string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		durations: map[string]string{"audio.mp3": "9.000000", "final.mp4": "9.021000"},
		convertTo: validSRT,
	}
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string{name}, args...))
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, &services.ProcessError{Binary: name, Args: args, Err: err}
	}

	last := args[len(args)-1]
	if name == "ffprobe" {
		d, ok := r.durations[filepath.Base(last)]
		if !ok {
			return []byte("N/A"), nil
		}
		return []byte(d + "\n"), nil
	}

	if r.failWhen != nil {
		if err := r.failWhen(args); err != nil {
			return []byte("ffmpeg diagnostic output"), &services.ProcessError{
				Binary: name,
				Args:   args,
				Output: "ffmpeg diagnostic output",
				Err:    err,
			}
		}
	}

	content := "media"
	if containsArg(args, "srt") {
		content = r.convertTo
	}
	if r.empty[filepath.Base(last)] {
		content = ""
	}
	if err := os.WriteFile(last, []byte(content), 0o644); err != nil {
		return nil, err
	}
	return nil, nil
}

// ffmpegCalls returns ffmpeg invocations whose args contain marker.
func (r *fakeRunner) ffmpegCalls(marker string) [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [][]string
	for _, c := range r.calls {
		if c[0] == "ffmpeg" && strings.Contains(strings.Join(c, " "), marker) {
			out = append(out, c)
		}
	}
	return out
}

func containsArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func argAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

type fakeUploader struct {
	mu    sync.Mutex
	keys  []string
	err   error
	local []string
}

func (u *fakeUploader) UploadFile(_ context.Context, key, localPath, _ string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return "", u.err
	}
	u.keys = append(u.keys, key)
	u.local = append(u.local, localPath)
	return "https://cdn.example.com/" + key, nil
}

// assetServer serves job assets and counts requests per path.
type assetServer struct {
	*httptest.Server
	mu     sync.Mutex
	hits   map[string]int
	status map[string]int
}

func newAssetServer(t *testing.T) *assetServer {
	s := &assetServer{hits: map[string]int{}, status: map[string]int{}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		code := s.status[r.URL.Path]
		s.mu.Unlock()

		if code != 0 {
			w.WriteHeader(code)
			return
		}
		switch {
		case strings.HasSuffix(r.URL.Path, ".vtt"):
			w.Write([]byte(validVTT))
		case strings.HasSuffix(r.URL.Path, ".srt"):
			w.Write([]byte(validSRT))
		default:
			w.Write([]byte("bytes of " + r.URL.Path))
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *assetServer) fail(path string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[path] = code
}

func (s *assetServer) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

type harness struct {
	store    *memStore
	runner   *fakeRunner
	uploader *fakeUploader
	assets   *assetServer
	scratch  string
	logRoot  string
	recorder *FailureRecorder
	orch     *Orchestrator
	svc      *Service
}

func newHarness(t *testing.T, tweak func(*Options)) *harness {
	t.Helper()

	h := &harness{
		store:    newMemStore(),
		runner:   newFakeRunner(),
		uploader: &fakeUploader{},
		assets:   newAssetServer(t),
		scratch:  t.TempDir(),
		logRoot:  t.TempDir(),
	}

	opts := Options{
		ScratchRoot:        h.scratch,
		Width:              1080,
		Height:             1920,
		FPS:                30,
		MinSecondsPerImage: DefaultMinSecondsPerImage,
		MotionEnabled:      false,
		MotionMaxZoom:      1.15,
	}
	if tweak != nil {
		tweak(&opts)
	}

	fetcher := storage.NewFetcher(storage.FetcherOptions{
		Policy: retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond},
	}, nil)
	enc := services.NewFFmpegService("ffmpeg", "ffprobe", h.runner, nil)

	h.recorder = NewFailureRecorder(h.logRoot, nil)
	h.orch = NewOrchestrator(h.store, h.store, enc, NewMaterializer(fetcher, 2, nil), h.recorder, opts, nil)
	h.svc = NewService(h.store, h.orch, h.uploader, h.recorder, ServiceOptions{Owner: "test-worker", LeaseTTL: time.Minute}, nil)
	return h
}

// addJob stores an eligible job whose assets are served by the harness.
func (h *harness) addJob(images ...string) *models.Job {
	job := &models.Job{
		ID:          uuid.New(),
		Status:      models.JobStatusAssetsGenerated,
		AudioURL:    strPtr(h.assets.URL + "/voice.mp3"),
		CaptionsURL: strPtr(h.assets.URL + "/captions.vtt"),
	}
	for _, img := range images {
		job.ImageURLs = append(job.ImageURLs, h.assets.URL+"/"+img)
	}
	h.store.put(job)
	return job
}

func (h *harness) workspace(job *models.Job) string {
	return filepath.Join(h.scratch, job.ID.String())
}

func strPtr(s string) *string { return &s }

func requireNoDir(t *testing.T, path string) {
	t.Helper()
	_, err := os.Stat(path)
	require.True(t, errors.Is(err, os.ErrNotExist), "%s should not exist", path)
}
