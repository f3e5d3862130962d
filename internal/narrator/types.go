package narrator

import (
	"context"
	"errors"

	"github.com/bowerhall/meshtale/internal/story"
)

// Backend produces raw model output for one beat request.
type Backend interface {
	Complete(ctx context.Context, system, user string) (string, error)
	Provider() string
}

// Config selects and parameterizes one backend.
type Config struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
}

// SourceOffline marks beats synthesized without a backend.
const SourceOffline = "offline"

// Result is a generated beat plus the backend that produced it.
type Result struct {
	Beat   story.Beat
	Source string
}

// Failure classes the dispatcher reports. Callers match with
// errors.Is; the concrete error carries provider detail.
var (
	ErrTimeout     = errors.New("generation timed out")
	ErrUnreachable = errors.New("generation backend unreachable")
	ErrMalformed   = errors.New("generation output malformed")
)

// FailureReason maps a dispatcher error to a stable label for logs
// and metrics.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrMalformed):
		return "malformed_output"
	default:
		return "backend_unreachable"
	}
}
