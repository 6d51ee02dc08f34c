package transcriber

import (
	"context"
	"errors"
)

// ErrUnauthorized means the recognition engine has not granted access for the
// configured token. Callers must not invoke Transcribe until authorization
// succeeds.
var ErrUnauthorized = errors.New("speech recognition not authorized")

// ErrRecognition wraps engine-side failures during recognition.
var ErrRecognition = errors.New("recognition failed")

// Recognizer turns a complete audio recording into its final transcript.
// Implementations must ignore intermediate results and return only the final
// text. An empty transcript is a valid success.
type Recognizer interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}
