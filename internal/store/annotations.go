package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	redis "github.com/redis/go-redis/v9"
)

// Placeholder values returned by cache reads while the pipeline has not yet
// produced (or failed to produce) the real value.
const (
	PlaceholderTranscript = "no transcript available"
	PlaceholderTitle      = "generating title..."
	PlaceholderSummary    = "generating summary..."
)

// Annotation is the title/summary pair derived from a transcript.
type Annotation struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// AnnotationCache maps FileIDs to transcripts and annotations. Writes go to
// Redis before they are visible in memory, so a value returned by a reader is
// always durable. Reads never touch Redis after Load and never block.
type AnnotationCache struct {
	redis       *redis.Client
	redisPrefix string

	mu          sync.RWMutex
	transcripts map[string]string
	annotations map[string]Annotation
}

// NewAnnotationCache attaches a Redis client. Keys are namespaced with prefix
// so several instances can share one Redis.
func NewAnnotationCache(client *redis.Client, prefix string) *AnnotationCache {
	return &AnnotationCache{
		redis:       client,
		redisPrefix: prefix,
		transcripts: make(map[string]string),
		annotations: make(map[string]Annotation),
	}
}

func (c *AnnotationCache) transcriptsKey() string { return c.redisPrefix + "transcripts" }
func (c *AnnotationCache) annotationsKey() string { return c.redisPrefix + "annotations" }

// Load reconstructs both maps from Redis. Must complete before reader queries
// are served.
func (c *AnnotationCache) Load(ctx context.Context) error {
	transcripts, err := c.redis.HGetAll(ctx, c.transcriptsKey()).Result()
	if err != nil {
		return fmt.Errorf("load transcripts: %w", err)
	}

	raw, err := c.redis.HGetAll(ctx, c.annotationsKey()).Result()
	if err != nil {
		return fmt.Errorf("load annotations: %w", err)
	}

	annotations := make(map[string]Annotation, len(raw))
	for id, value := range raw {
		var ann Annotation
		if err := json.Unmarshal([]byte(value), &ann); err != nil {
			return fmt.Errorf("decode annotation for %s: %w", id, err)
		}
		annotations[id] = ann
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcripts = transcripts
	c.annotations = annotations
	return nil
}

// PutTranscript durably stores the transcript for a FileID. Later writes
// overwrite.
func (c *AnnotationCache) PutTranscript(ctx context.Context, id, text string) error {
	if err := c.redis.HSet(ctx, c.transcriptsKey(), id, text).Err(); err != nil {
		return fmt.Errorf("redis HSET %s %s: %w", c.transcriptsKey(), id, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcripts[id] = text
	return nil
}

// PutAnnotation durably stores the title/summary pair for a FileID.
func (c *AnnotationCache) PutAnnotation(ctx context.Context, id string, ann Annotation) error {
	encoded, err := json.Marshal(ann)
	if err != nil {
		return fmt.Errorf("encode annotation for %s: %w", id, err)
	}
	if err := c.redis.HSet(ctx, c.annotationsKey(), id, string(encoded)).Err(); err != nil {
		return fmt.Errorf("redis HSET %s %s: %w", c.annotationsKey(), id, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.annotations[id] = ann
	return nil
}

// GetTranscript returns the transcript for a FileID, or the transcript
// placeholder when none has been produced yet.
func (c *AnnotationCache) GetTranscript(id string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if text, ok := c.transcripts[id]; ok {
		return text
	}
	return PlaceholderTranscript
}

// HasTranscript reports whether a real transcript is stored for a FileID.
func (c *AnnotationCache) HasTranscript(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.transcripts[id]
	return ok
}

// GetTitle returns the derived title for a FileID, or its placeholder.
func (c *AnnotationCache) GetTitle(id string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if ann, ok := c.annotations[id]; ok {
		return ann.Title
	}
	return PlaceholderTitle
}

// GetSummary returns the derived summary for a FileID, or its placeholder.
func (c *AnnotationCache) GetSummary(id string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if ann, ok := c.annotations[id]; ok {
		return ann.Summary
	}
	return PlaceholderSummary
}

// Remove purges transcript and annotation state for a FileID. Used by the
// cascading delete path.
func (c *AnnotationCache) Remove(ctx context.Context, id string) error {
	if err := c.redis.HDel(ctx, c.transcriptsKey(), id).Err(); err != nil {
		return fmt.Errorf("redis HDEL %s %s: %w", c.transcriptsKey(), id, err)
	}
	if err := c.redis.HDel(ctx, c.annotationsKey(), id).Err(); err != nil {
		return fmt.Errorf("redis HDEL %s %s: %w", c.annotationsKey(), id, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.transcripts, id)
	delete(c.annotations, id)
	return nil
}
