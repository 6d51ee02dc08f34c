package metrics

import (
	"fmt"
	"sync"
	"time"
)

// FileMetrics collects timings for one recording's trip through the
// ingestion pipeline.
type FileMetrics struct {
	FileID           string
	AudioBytes       int
	TranscriptLength int
	StartTime        time.Time
	TranscribedAt    time.Time
	EndTime          time.Time
	mu               sync.Mutex
}

func NewFileMetrics(fileID string, audioBytes int) *FileMetrics {
	return &FileMetrics{
		FileID:     fileID,
		AudioBytes: audioBytes,
		StartTime:  time.Now(),
	}
}

func (m *FileMetrics) MarkTranscribed(transcript string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TranscribedAt = time.Now()
	m.TranscriptLength = len(transcript)
}

func (m *FileMetrics) Finalize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EndTime = time.Now()
}

func (m *FileMetrics) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var transcribeTime, summarizeTime time.Duration
	if !m.TranscribedAt.IsZero() {
		transcribeTime = m.TranscribedAt.Sub(m.StartTime)
		if !m.EndTime.IsZero() {
			summarizeTime = m.EndTime.Sub(m.TranscribedAt)
		}
	}

	return fmt.Sprintf(
		"File: %s\n"+
			"Audio Bytes: %d\n"+
			"Transcript Length: %d chars\n"+
			"Transcription Time: %v\n"+
			"Summarization Time: %v\n"+
			"Total: %v\n",
		m.FileID,
		m.AudioBytes,
		m.TranscriptLength,
		transcribeTime,
		summarizeTime,
		m.EndTime.Sub(m.StartTime),
	)
}
