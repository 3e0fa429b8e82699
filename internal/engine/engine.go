// Package engine wraps the native encoding toolchain behind per-run workspaces.
//
// An Engine instance is shared by every run of a process. Each run opens its own Workspace, a
// directory namespaced by run ID, so leftovers of one run are never read as outputs of another.
// Commands are serialized per engine: only one encode executes at a time.
package engine

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"ladder/internal/media"
)

var (
	ErrEngineUnavailable = errors.New("encoding engine unavailable")
	ErrNotFound          = errors.New("output not found")
)

// ProgressFunc receives the work fraction completed by a command, in [0,1].
type ProgressFunc func(fraction float64)

type Engine interface {
	Initialize(ctx context.Context) error
	Open(runID string) (Workspace, error)
}

type Workspace interface {
	Ingest(ctx context.Context, source media.Source) (string, error)
	Run(ctx context.Context, argv []string, onProgress ProgressFunc) error
	ReadOutput(name string) ([]byte, error)
	ListOutputs(pattern string) ([]string, error)
	Close() error
}

type IngestError struct {
	Source string
	Err    error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("unable to ingest '%s': %v", e.Source, e.Err)
}

func (e *IngestError) Unwrap() error {
	return e.Err
}

type EncodeError struct {
	ExitReason string
}

func (e *EncodeError) Error() string {
	return "encode failed: " + e.ExitReason
}
