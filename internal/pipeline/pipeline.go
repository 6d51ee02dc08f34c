package pipeline

import (
	"context"
	"log"
	"sync"

	"voicenotes/internal/metrics"
	"voicenotes/internal/store"
	"voicenotes/internal/summarize"
	"voicenotes/internal/transcriber"
)

// State is the position of a recording's run inside the pipeline.
type State string

const (
	StateTranscribing     State = "transcribing"
	StateSummarizing      State = "summarizing"
	StateDone             State = "done"
	StateTranscriptFailed State = "transcript_failed"
	StateSummaryFailed    State = "summary_failed"
)

// Terminal reports whether a run in this state has finished its attempt.
func (s State) Terminal() bool {
	switch s {
	case StateDone, StateTranscriptFailed, StateSummaryFailed:
		return true
	default:
		return false
	}
}

// Summarizer produces a title/summary annotation for a transcript.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (store.Annotation, error)
}

// Config wires the pipeline's collaborators.
type Config struct {
	Blobs      *store.BlobStore
	Cache      *store.AnnotationCache
	Recognizer transcriber.Recognizer
	Summarizer Summarizer

	// SkipEmptyTranscripts suppresses the summarization call when the final
	// transcript is empty. Off by default: an empty transcript is still a
	// completed recognition and is summarized like any other.
	SkipEmptyTranscripts bool
}

type run struct {
	state     State
	cancelled bool
}

// Pipeline drives recordings through transcription and summarization and
// owns all mutations of the annotation cache. At most one run is active per
// FileID; runs for different FileIDs proceed independently.
type Pipeline struct {
	blobs      *store.BlobStore
	cache      *store.AnnotationCache
	recognizer transcriber.Recognizer
	summarizer Summarizer
	skipEmpty  bool

	mu   sync.Mutex
	runs map[string]*run
	wg   sync.WaitGroup
}

func New(cfg Config) *Pipeline {
	return &Pipeline{
		blobs:      cfg.Blobs,
		cache:      cfg.Cache,
		recognizer: cfg.Recognizer,
		summarizer: cfg.Summarizer,
		skipEmpty:  cfg.SkipEmptyTranscripts,
		runs:       make(map[string]*run),
	}
}

// Ingest handles a new-recording event: persist the blob, then start its
// run. This is the entry point for both the local recorder and
// companion-device arrivals.
func (p *Pipeline) Ingest(data []byte, suggestedName string) (string, error) {
	id, err := p.blobs.Save(data, suggestedName)
	if err != nil {
		return "", err
	}
	p.Start(id, data)
	return id, nil
}

// Start begins a run for a FileID. A duplicate call while a run is active is
// a no-op, so duplicate delivery events cannot race each other into the
// recognition engine or the cache. Returns whether a run was started.
func (p *Pipeline) Start(id string, audio []byte) bool {
	p.mu.Lock()
	if r, ok := p.runs[id]; ok && !r.state.Terminal() {
		p.mu.Unlock()
		log.Printf("Run already active for %s, ignoring duplicate start", id)
		return false
	}

	r := &run{state: StateTranscribing}
	p.runs[id] = r
	p.wg.Add(1)
	p.mu.Unlock()

	go p.process(id, audio, r)
	return true
}

// Resume starts runs for blobs that have no stored transcript, typically
// recordings that arrived while the process was down.
func (p *Pipeline) Resume() {
	for _, id := range p.blobs.List() {
		if p.cache.HasTranscript(id) {
			continue
		}
		data, err := p.blobs.Read(id)
		if err != nil {
			log.Printf("Cannot read %s for re-ingestion: %v", id, err)
			continue
		}
		p.Start(id, data)
	}
}

// process runs both stages for one recording. Stage failures are absorbed
// here: they end this run's attempt and never affect other FileIDs.
func (p *Pipeline) process(id string, audio []byte, r *run) {
	defer p.wg.Done()

	ctx := context.Background()
	fm := metrics.NewFileMetrics(id, len(audio))

	text, err := p.recognizer.Transcribe(ctx, audio)

	// Cache writes happen under the pipeline mutex so a concurrent Delete
	// cannot slip between the cancellation check and the write.
	p.mu.Lock()
	if r.cancelled {
		delete(p.runs, id)
		p.mu.Unlock()
		log.Printf("Dropping transcription result for deleted recording %s", id)
		return
	}
	if err != nil {
		r.state = StateTranscriptFailed
		p.mu.Unlock()
		log.Printf("Transcription failed for %s: %v", id, err)
		return
	}
	if err := p.cache.PutTranscript(ctx, id, text); err != nil {
		r.state = StateTranscriptFailed
		p.mu.Unlock()
		log.Printf("Storing transcript for %s failed: %v", id, err)
		return
	}
	fm.MarkTranscribed(text)
	if text == "" && p.skipEmpty {
		r.state = StateDone
		p.mu.Unlock()
		log.Printf("Empty transcript for %s, skipping summarization", id)
		return
	}
	r.state = StateSummarizing
	p.mu.Unlock()

	ann, err := p.summarizer.Summarize(ctx, text)

	p.mu.Lock()
	defer p.mu.Unlock()
	if r.cancelled {
		delete(p.runs, id)
		log.Printf("Dropping summarization result for deleted recording %s", id)
		return
	}
	if err != nil {
		// Leave a visible marker instead of the "generating..." placeholders.
		if putErr := p.cache.PutAnnotation(ctx, id, summarize.FailedAnnotation); putErr != nil {
			log.Printf("Storing failure annotation for %s failed: %v", id, putErr)
		}
		r.state = StateSummaryFailed
		log.Printf("Summarization failed for %s: %v", id, err)
		return
	}
	if err := p.cache.PutAnnotation(ctx, id, ann); err != nil {
		r.state = StateSummaryFailed
		log.Printf("Storing annotation for %s failed: %v", id, err)
		return
	}
	r.state = StateDone

	fm.Finalize()
	log.Printf("Pipeline completed for %s\n%s", id, fm.Summary())
}

// Delete removes a recording and all annotation state derived from it. Any
// in-flight run for the FileID is cancelled: stage results arriving after
// this call are discarded instead of re-inserted into the cache.
func (p *Pipeline) Delete(ctx context.Context, id string) error {
	p.mu.Lock()
	if r, ok := p.runs[id]; ok && !r.state.Terminal() {
		r.cancelled = true
	} else {
		delete(p.runs, id)
	}
	p.mu.Unlock()

	if err := p.blobs.Delete(id); err != nil {
		return err
	}
	return p.cache.Remove(ctx, id)
}

// State returns the run state for a FileID, if a run is tracked.
func (p *Pipeline) State(id string) (State, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.runs[id]
	if !ok {
		return "", false
	}
	return r.state, true
}

// Wait blocks until all in-flight runs have reached a terminal state.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}
