package playback

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/CyCoreSystems/audiosocket"

	"voicenotes/internal/store"
)

// ErrPlayback is returned when a recording cannot be loaded or decoded.
var ErrPlayback = errors.New("playback failed")

// Chunks cover 20ms of audio each, the slin frame duration.
const chunksPerSecond = 50

// current is the state of one playback attempt. Each Play creates a fresh
// instance so a superseded stream cannot touch the new file's progress.
type current struct {
	id          string
	pcm         []byte
	bytesPerSec int
	sent        int
	playing     bool
	stopped     bool
	stop        chan struct{}
}

// Session plays back one recording at a time, streaming slin frames to a
// sink at real-time pacing. Starting a new file implicitly stops and
// discards the previous one.
type Session struct {
	blobs *store.BlobStore
	sink  io.Writer

	mu  sync.Mutex
	cur *current
}

func NewSession(blobs *store.BlobStore, sink io.Writer) *Session {
	return &Session{blobs: blobs, sink: sink}
}

// Play loads the blob for a FileID and begins streaming it, stopping any
// file currently playing first.
func (s *Session) Play(id string) error {
	data, err := s.blobs.Read(id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPlayback, err)
	}

	pcm, bytesPerSec, err := parseWAV(data)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPlayback, id, err)
	}

	st := &current{
		id:          id,
		pcm:         pcm,
		bytesPerSec: bytesPerSec,
		playing:     true,
		stop:        make(chan struct{}),
	}

	s.mu.Lock()
	s.stopCurrentLocked()
	s.cur = st
	s.mu.Unlock()

	go s.stream(st)
	return nil
}

// Stop halts playback. Safe to call when nothing is playing.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCurrentLocked()
}

func (s *Session) stopCurrentLocked() {
	if s.cur == nil || s.cur.stopped {
		return
	}
	s.cur.stopped = true
	s.cur.playing = false
	close(s.cur.stop)
}

// Position returns elapsed and total playback time for the loaded file.
// Total is zero before any file is loaded; elapsed restarts at zero with
// each Play.
func (s *Session) Position() (time.Duration, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur == nil {
		return 0, 0
	}
	bps := time.Duration(s.cur.bytesPerSec)
	elapsed := time.Duration(s.cur.sent) * time.Second / bps
	total := time.Duration(len(s.cur.pcm)) * time.Second / bps
	return elapsed, total
}

// Playing reports whether a file is currently being streamed, and which.
func (s *Session) Playing() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur == nil {
		return "", false
	}
	return s.cur.id, s.cur.playing
}

// stream sends 20ms slin frames at real-time pace until the file ends or the
// session is stopped.
func (s *Session) stream(st *current) {
	chunkSize := st.bytesPerSec / chunksPerSecond

	ticker := time.NewTicker(time.Second / chunksPerSecond)
	defer ticker.Stop()

	for off := 0; off < len(st.pcm); off += chunkSize {
		select {
		case <-st.stop:
			return
		default:
		}

		end := off + chunkSize
		if end > len(st.pcm) {
			end = len(st.pcm)
		}
		if _, err := s.sink.Write(audiosocket.SlinMessage(st.pcm[off:end])); err != nil {
			log.Printf("Playback write failed for %s: %v", st.id, err)
			break
		}

		s.mu.Lock()
		st.sent = end
		s.mu.Unlock()

		select {
		case <-st.stop:
			return
		case <-ticker.C:
		}
	}

	s.mu.Lock()
	st.playing = false
	st.stopped = true
	s.mu.Unlock()
}

// parseWAV validates the RIFF container and returns the PCM payload and its
// byte rate.
func parseWAV(data []byte) ([]byte, int, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, errors.New("not a valid WAV file")
	}

	var pcm []byte
	byteRate := 0
	haveData := false

	// Walk the RIFF chunks for fmt and data.
	off := 12
	for off+8 <= len(data) {
		chunkID := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			return nil, 0, errors.New("truncated WAV chunk")
		}

		switch chunkID {
		case "fmt ":
			if size < 16 {
				return nil, 0, errors.New("short fmt chunk")
			}
			byteRate = int(binary.LittleEndian.Uint32(data[body+8 : body+12]))
		case "data":
			pcm = data[body : body+size]
			haveData = true
		}

		// Chunks are word-aligned.
		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	if byteRate == 0 || !haveData {
		return nil, 0, errors.New("missing fmt or data chunk")
	}
	// The byte rate must cover at least one byte per 20ms frame, or the
	// stream could never advance.
	if byteRate < chunksPerSecond {
		return nil, 0, fmt.Errorf("byte rate %d too low to stream", byteRate)
	}
	return pcm, byteRate, nil
}
