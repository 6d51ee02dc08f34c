package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	"voicenotes/internal/store"
	"voicenotes/internal/summarize"
)

type fakeRecognizer struct {
	mu      sync.Mutex
	calls   int
	text    string
	err     error
	release chan struct{} // when set, Transcribe blocks until closed
}

func (f *fakeRecognizer) Transcribe(ctx context.Context, audio []byte) (string, error) {
	f.mu.Lock()
	f.calls++
	release := f.release
	f.mu.Unlock()

	if release != nil {
		<-release
	}
	return f.text, f.err
}

func (f *fakeRecognizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSummarizer struct {
	mu      sync.Mutex
	calls   int
	ann     store.Annotation
	err     error
	release chan struct{}
}

func (f *fakeSummarizer) Summarize(ctx context.Context, text string) (store.Annotation, error) {
	f.mu.Lock()
	f.calls++
	release := f.release
	f.mu.Unlock()

	if release != nil {
		<-release
	}
	return f.ann, f.err
}

func (f *fakeSummarizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestPipeline(t *testing.T, cfg Config) (*Pipeline, *store.AnnotationCache, *store.BlobStore) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })

	blobs, err := store.OpenBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open blob store: %v", err)
	}

	cache := store.NewAnnotationCache(client, "test:")
	cfg.Blobs = blobs
	cfg.Cache = cache
	return New(cfg), cache, blobs
}

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", msg)
}

func TestDuplicateStartSuppressed(t *testing.T) {
	rec := &fakeRecognizer{text: "hello world", release: make(chan struct{})}
	sum := &fakeSummarizer{ann: store.Annotation{Title: "Greet", Summary: "Greeting"}}
	p, cache, _ := newTestPipeline(t, Config{Recognizer: rec, Summarizer: sum})

	if !p.Start("f1", []byte("audio")) {
		t.Fatal("First start should begin a run")
	}
	if p.Start("f1", []byte("audio")) {
		t.Error("Second start while active should be a no-op")
	}

	close(rec.release)
	p.Wait()

	if rec.callCount() != 1 {
		t.Errorf("Expected exactly one transcription invocation, got %d", rec.callCount())
	}
	if got := cache.GetTranscript("f1"); got != "hello world" {
		t.Errorf("GetTranscript = %q", got)
	}
}

func TestTranscriptVisibleBeforeAnnotation(t *testing.T) {
	rec := &fakeRecognizer{text: "hello world"}
	sum := &fakeSummarizer{
		ann:     store.Annotation{Title: "Greet", Summary: "Greeting"},
		release: make(chan struct{}),
	}
	p, cache, _ := newTestPipeline(t, Config{Recognizer: rec, Summarizer: sum})

	p.Start("f1", []byte("audio"))

	waitFor(t, "transcript write", func() bool {
		return cache.GetTranscript("f1") == "hello world"
	})

	// Transcript is readable while summarization is still pending.
	if got := cache.GetTitle("f1"); got != store.PlaceholderTitle {
		t.Errorf("Title should still be the placeholder, got %q", got)
	}
	if got := cache.GetSummary("f1"); got != store.PlaceholderSummary {
		t.Errorf("Summary should still be the placeholder, got %q", got)
	}

	close(sum.release)
	p.Wait()

	if got := cache.GetTitle("f1"); got != "Greet" {
		t.Errorf("GetTitle = %q", got)
	}
	if got := cache.GetSummary("f1"); got != "Greeting" {
		t.Errorf("GetSummary = %q", got)
	}
	if state, _ := p.State("f1"); state != StateDone {
		t.Errorf("State = %s, want done", state)
	}
}

func TestTranscriptionFailure(t *testing.T) {
	rec := &fakeRecognizer{err: errors.New("engine crashed")}
	sum := &fakeSummarizer{}
	p, cache, _ := newTestPipeline(t, Config{Recognizer: rec, Summarizer: sum})

	p.Start("f1", []byte("audio"))
	p.Wait()

	if state, _ := p.State("f1"); state != StateTranscriptFailed {
		t.Errorf("State = %s, want transcript_failed", state)
	}
	if got := cache.GetTranscript("f1"); got != store.PlaceholderTranscript {
		t.Errorf("Transcript should stay absent, got %q", got)
	}
	if sum.callCount() != 0 {
		t.Error("Summarization must not run after transcription failure")
	}
}

func TestSummarizationFailureWritesFixedAnnotation(t *testing.T) {
	rec := &fakeRecognizer{text: "hello"}
	sum := &fakeSummarizer{err: fmt.Errorf("got text/html: %w", summarize.ErrUnexpectedContentType)}
	p, cache, _ := newTestPipeline(t, Config{Recognizer: rec, Summarizer: sum})

	p.Start("f1", []byte("audio"))
	p.Wait()

	if state, _ := p.State("f1"); state != StateSummaryFailed {
		t.Errorf("State = %s, want summary_failed", state)
	}
	if got := cache.GetTitle("f1"); got != summarize.FailedAnnotation.Title {
		t.Errorf("Title = %q, want the fixed failure title", got)
	}
	if got := cache.GetSummary("f1"); got != summarize.FailedAnnotation.Summary {
		t.Errorf("Summary = %q, want the fixed failure summary", got)
	}
	// The transcript stays visible even though summarization failed.
	if got := cache.GetTranscript("f1"); got != "hello" {
		t.Errorf("Transcript = %q", got)
	}
}

func TestCascadingDeleteDropsLateResults(t *testing.T) {
	rec := &fakeRecognizer{text: "late text", release: make(chan struct{})}
	sum := &fakeSummarizer{}
	p, cache, blobs := newTestPipeline(t, Config{Recognizer: rec, Summarizer: sum})

	id, err := p.Ingest([]byte("audio"), "doomed.wav")
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if err := p.Delete(context.Background(), id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	// Let the in-flight transcription complete after the delete.
	close(rec.release)
	p.Wait()

	if got := cache.GetTranscript(id); got != store.PlaceholderTranscript {
		t.Errorf("Late transcript was re-inserted: %q", got)
	}
	if got := cache.GetTitle(id); got != store.PlaceholderTitle {
		t.Errorf("Late annotation was re-inserted: %q", got)
	}
	if _, err := blobs.Read(id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Blob should be gone, got %v", err)
	}
	if _, tracked := p.State(id); tracked {
		t.Error("Run state should be discarded after cancellation")
	}
	if sum.callCount() != 0 {
		t.Error("Summarization must not run for a deleted recording")
	}
}

func TestDeleteUnknownRecording(t *testing.T) {
	p, _, _ := newTestPipeline(t, Config{Recognizer: &fakeRecognizer{}, Summarizer: &fakeSummarizer{}})

	if err := p.Delete(context.Background(), "missing.wav"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestEmptyTranscriptStillSummarized(t *testing.T) {
	rec := &fakeRecognizer{text: ""}
	sum := &fakeSummarizer{ann: store.Annotation{Title: "quiet", Summary: "quiet note"}}
	p, cache, _ := newTestPipeline(t, Config{Recognizer: rec, Summarizer: sum})

	p.Start("f1", []byte("audio"))
	p.Wait()

	if sum.callCount() != 1 {
		t.Errorf("Expected summarization for empty transcript, got %d calls", sum.callCount())
	}
	if !cache.HasTranscript("f1") {
		t.Error("Empty transcript should still be recorded as a completed result")
	}
	if got := cache.GetTranscript("f1"); got != "" {
		t.Errorf("Transcript = %q, want empty", got)
	}
}

func TestSkipEmptyTranscripts(t *testing.T) {
	rec := &fakeRecognizer{text: ""}
	sum := &fakeSummarizer{}
	p, _, _ := newTestPipeline(t, Config{Recognizer: rec, Summarizer: sum, SkipEmptyTranscripts: true})

	p.Start("f1", []byte("audio"))
	p.Wait()

	if sum.callCount() != 0 {
		t.Error("Summarization should be skipped for empty transcripts")
	}
	if state, _ := p.State("f1"); state != StateDone {
		t.Errorf("State = %s, want done", state)
	}
}

func TestResumeReingestsUntranscribed(t *testing.T) {
	rec := &fakeRecognizer{text: "recovered"}
	sum := &fakeSummarizer{ann: store.Annotation{Title: "recov", Summary: "recovered"}}
	p, cache, blobs := newTestPipeline(t, Config{Recognizer: rec, Summarizer: sum})

	done, err := blobs.Save([]byte("a"), "done.wav")
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := cache.PutTranscript(context.Background(), done, "already there"); err != nil {
		t.Fatalf("PutTranscript failed: %v", err)
	}
	pending, err := blobs.Save([]byte("b"), "pending.wav")
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	p.Resume()
	p.Wait()

	if rec.callCount() != 1 {
		t.Errorf("Expected one re-ingestion, got %d", rec.callCount())
	}
	if got := cache.GetTranscript(pending); got != "recovered" {
		t.Errorf("Transcript for pending blob = %q", got)
	}
	if got := cache.GetTranscript(done); got != "already there" {
		t.Errorf("Transcript for done blob = %q", got)
	}
}

func TestEndToEnd(t *testing.T) {
	completions := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"content":"Greeting"}}]}`)
	}))
	defer completions.Close()

	rec := &fakeRecognizer{text: "hello world"}
	client := summarize.NewClient(completions.URL, "key", "gpt-4")
	p, cache, _ := newTestPipeline(t, Config{Recognizer: rec, Summarizer: client})

	id, err := p.Ingest([]byte("audio"), "f1.wav")
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	p.Wait()

	if got := cache.GetTranscript(id); got != "hello world" {
		t.Errorf("GetTranscript = %q", got)
	}
	if got := cache.GetTitle(id); got != "Greet" {
		t.Errorf("GetTitle = %q", got)
	}
	if got := cache.GetSummary(id); got != "Greeting" {
		t.Errorf("GetSummary = %q", got)
	}
}
