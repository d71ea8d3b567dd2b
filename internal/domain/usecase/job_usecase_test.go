package usecase

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"cadbridge/internal/domain/entity"
)

type fakeStorage struct {
	mu      sync.Mutex
	uploads map[string][]byte
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{uploads: make(map[string][]byte)}
}

func (f *fakeStorage) Upload(_ context.Context, key string, file []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads[key] = file
	return nil
}

func (f *fakeStorage) GetPresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://models.test/" + key, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []json.RawMessage
}

func (f *fakePublisher) Publish(_ context.Context, body json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, body)
	return nil
}

func newJobUseCaseRig() (*JobUseCase, *rig, *fakeStorage, *fakePublisher) {
	r := newRig()
	storage := newFakeStorage()
	publisher := &fakePublisher{}
	u := NewJobUseCase(r.repo, storage, publisher, r.cache, r.rec, 3, testLogger())
	return u, r, storage, publisher
}

func TestCreateJob(t *testing.T) {
	u, r, storage, publisher := newJobUseCaseRig()

	job, err := u.CreateJob(context.Background(), CreateJobInput{
		FileName:  "tower.ifc",
		FileBytes: []byte("ifc-bytes"),
		Formats:   []string{"svf2", "obj"},
		UserID:    "user-1",
		SessionID: "sess-1",
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	if job.State != entity.StatePending || job.MaxRetries != 3 {
		t.Fatalf("unexpected job %s max_retries=%d", job.State, job.MaxRetries)
	}

	stored := mustGet(t, r.repo, job.JobID)
	if stored.RequestedFormats != "svf2,obj" {
		t.Fatalf("formats not recorded: %q", stored.RequestedFormats)
	}

	wantKey := "models/" + job.JobID + "/tower.ifc"
	if _, ok := storage.uploads[wantKey]; !ok {
		t.Fatalf("artifact not uploaded under %s", wantKey)
	}

	if len(publisher.published) != 1 {
		t.Fatalf("expected 1 queued submission request, got %d", len(publisher.published))
	}
	var msg entity.TranslationRequestedMessage
	if err := json.Unmarshal(publisher.published[0], &msg); err != nil || msg.JobID != job.JobID {
		t.Fatalf("unexpected queued message %s (%v)", publisher.published[0], err)
	}

	snap, err := r.cache.GetSnapshot(context.Background(), job.JobID)
	if err != nil || snap == nil || snap.State != entity.StatePending {
		t.Fatalf("status cache not seeded: %+v %v", snap, err)
	}
}

func TestGetJobSucceededView(t *testing.T) {
	u, r, _, _ := newJobUseCaseRig()
	seedJob(t, r.repo, entity.StateInProgress, func(j *entity.TranslationJob) {
		j.ExternalReference = "urn-9"
	})
	if err := r.rec.Apply(context.Background(), entity.TranslationSignal{
		ExternalReference: "urn-9",
		Type:              entity.SignalSucceeded,
	}); err != nil {
		t.Fatalf("success: %v", err)
	}

	view, err := u.GetJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if view.State != entity.StateSucceeded || view.Progress != 100 {
		t.Fatalf("unexpected snapshot %s/%d", view.State, view.Progress)
	}
	// derivatives are fetched from the external service by reference; the
	// presigned URL points at the stored source artifact
	if view.DerivativeReference != "urn-9" {
		t.Fatalf("derivative reference missing: %q", view.DerivativeReference)
	}
	if !strings.Contains(view.SourceURL, "models/job-1/") {
		t.Fatalf("source url missing: %q", view.SourceURL)
	}
}

func TestGetJobActiveServedFromCache(t *testing.T) {
	u, r, _, _ := newJobUseCaseRig()
	seedJob(t, r.repo, entity.StateInProgress, func(j *entity.TranslationJob) { j.Progress = 40 })
	if err := r.cache.SetSnapshot(context.Background(), "job-1", entity.Snapshot{
		JobID:    "job-1",
		State:    entity.StateInProgress,
		Progress: 40,
	}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	view, err := u.GetJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if view.State != entity.StateInProgress || view.Progress != 40 {
		t.Fatalf("unexpected view %s/%d", view.State, view.Progress)
	}
	if view.SourceURL != "" || view.DerivativeReference != "" {
		t.Fatalf("active job must not expose download fields: %+v", view)
	}
}

func TestGetJobUnknown(t *testing.T) {
	u, _, _, _ := newJobUseCaseRig()
	if _, err := u.GetJob(context.Background(), "no-such-job"); err == nil {
		t.Fatal("expected error for unknown job")
	}
}
