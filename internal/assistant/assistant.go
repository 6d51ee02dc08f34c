package assistant

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Completer is the shared text-generation endpoint contract.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Exchange is one recorded prompt/response pair.
type Exchange struct {
	Prompt   string
	Response string
}

// Assistant answers free-form prompts through the completion endpoint and
// keeps each answer as a named note: a follow-up request condenses the
// response into a one-sentence name for the note file.
type Assistant struct {
	client   Completer
	notesDir string

	mu      sync.Mutex
	history []Exchange
}

func New(client Completer, notesDir string) *Assistant {
	return &Assistant{client: client, notesDir: notesDir}
}

// Ask sends a prompt and returns the generated response. The exchange is
// appended to the history; persisting the response as a note is best-effort.
func (a *Assistant) Ask(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("prompt must not be empty")
	}

	response, err := a.client.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("assistant request: %w", err)
	}

	a.mu.Lock()
	a.history = append(a.history, Exchange{Prompt: prompt, Response: response})
	a.mu.Unlock()

	a.saveNote(ctx, response)
	return response, nil
}

// Summarize asks for a condensed version of the given text.
func (a *Assistant) Summarize(ctx context.Context, text string) (string, error) {
	return a.Ask(ctx, "Summarize: "+text)
}

// History returns a snapshot of all exchanges so far.
func (a *Assistant) History() []Exchange {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Exchange, len(a.history))
	copy(out, a.history)
	return out
}

// saveNote names the response via a one-sentence summary request and writes
// it under the notes directory. Failures are logged, not propagated: losing
// a note must not fail the exchange.
func (a *Assistant) saveNote(ctx context.Context, response string) {
	if a.notesDir == "" {
		return
	}

	name, err := a.client.Complete(ctx, "Condense the following text into one sentence: "+response)
	if err != nil {
		log.Printf("Note naming failed: %v", err)
		return
	}

	name = strings.TrimSpace(strings.ReplaceAll(name, "/", "_"))
	if name == "" {
		log.Printf("Empty note name, skipping save")
		return
	}

	if err := os.MkdirAll(a.notesDir, 0755); err != nil {
		log.Printf("Cannot create notes directory: %v", err)
		return
	}

	path := filepath.Join(a.notesDir, name+".txt")
	if err := os.WriteFile(path, []byte(response), 0644); err != nil {
		log.Printf("Cannot save note %s: %v", path, err)
		return
	}
	log.Printf("Saved note: %s", path)
}
