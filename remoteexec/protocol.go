// Package remoteexec runs compiler executables on a remote worker.
//
// The caller uploads the executable and every file it needs as
// content-addressed blobs, then ships a request naming the blobs and the
// verb to run. The worker materializes the files into an isolated work
// directory, executes the binary exactly as it would run locally and
// returns the captured output. Transport and sandbox failures are
// reported as ErrRemoteExecution; a non-zero compiler exit is an ordinary
// compilation failure surfaced by the stub.
package remoteexec

import (
	"errors"

	"github.com/birdayz/assetforge/cas"
)

// ErrRemoteExecution marks transport and sandbox failures, as opposed to
// failures of the compiler itself.
var ErrRemoteExecution = errors.New("remote execution failed")

// FileSpec names one file to materialize into the worker's work directory.
type FileSpec struct {
	// Path is relative to the work directory. Absolute paths and paths
	// escaping the work directory are rejected.
	Path string `json:"path"`

	Content cas.Identifier `json:"content"`
}

// ExecRequest asks a worker to run one compiler verb.
type ExecRequest struct {
	// Executable is the content identifier of the compiler binary.
	Executable cas.Identifier `json:"executable"`

	// Args are passed to the executable verbatim.
	Args []string `json:"args"`

	// Files are materialized into the work directory before execution.
	Files []FileSpec `json:"files"`
}

// ExecResponse carries the executed process's outcome. A non-zero
// ExitCode is a compiler failure, not a worker failure.
type ExecResponse struct {
	ExitCode int    `json:"exit_code"`
	Stdout   []byte `json:"stdout"`
	Stderr   string `json:"stderr"`
}
