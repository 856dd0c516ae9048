package remoteexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/birdayz/assetforge/cas"
)

// Worker executes compiler binaries in isolated work directories. Blobs
// are fetched from the shared content store, never from the request body.
type Worker struct {
	store cas.Reader
	log   *slog.Logger
}

func NewWorker(store cas.Reader, log *slog.Logger) *Worker {
	return &Worker{store: store, log: log}
}

// Execute materializes the request's files, runs the executable and
// captures its output. The work directory is removed afterwards. A
// non-zero exit code is returned in the response; only sandbox-level
// failures produce an error.
func (w *Worker) Execute(ctx context.Context, req ExecRequest) (ExecResponse, error) {
	workdir, err := os.MkdirTemp("", "remoteexec-*")
	if err != nil {
		return ExecResponse{}, fmt.Errorf("%w: failed to create work dir: %v", ErrRemoteExecution, err)
	}
	defer os.RemoveAll(workdir)

	binPath, err := w.materialize(ctx, workdir, "compiler", req.Executable, 0o755)
	if err != nil {
		return ExecResponse{}, err
	}
	for _, f := range req.Files {
		if _, err := w.materialize(ctx, workdir, f.Path, f.Content, 0o644); err != nil {
			return ExecResponse{}, err
		}
	}

	cmd := exec.CommandContext(ctx, binPath, req.Args...)
	cmd.Dir = workdir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	w.log.Debug("executing compiler", "executable", req.Executable.String(), "args", req.Args)

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return ExecResponse{}, fmt.Errorf("%w: failed to spawn compiler: %v", ErrRemoteExecution, err)
		}
	}

	return ExecResponse{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.Bytes(),
		Stderr:   strings.TrimSpace(stderr.String()),
	}, nil
}

// materialize writes one blob into the work directory, rejecting paths
// that would land outside it.
func (w *Worker) materialize(ctx context.Context, workdir, relPath string, id cas.Identifier, perm os.FileMode) (string, error) {
	if !filepath.IsLocal(relPath) {
		return "", fmt.Errorf("%w: path %q escapes work dir", ErrRemoteExecution, relPath)
	}

	data, err := w.store.Read(ctx, id)
	if err != nil {
		return "", fmt.Errorf("%w: failed to fetch %s: %v", ErrRemoteExecution, relPath, err)
	}

	dst := filepath.Join(workdir, relPath)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRemoteExecution, err)
	}
	if err := os.WriteFile(dst, data, perm); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRemoteExecution, err)
	}
	return dst, nil
}
