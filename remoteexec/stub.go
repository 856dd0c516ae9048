package remoteexec

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/birdayz/assetforge/cas"
	"github.com/birdayz/assetforge/compiler"
	"github.com/birdayz/assetforge/pathid"
)

// Stub drives a compiler executable on a remote worker through the same
// process contract a local binary stub uses. The executable and the
// compile's loose source files are uploaded to the shared content store
// and materialized on the worker side.
type Stub struct {
	client  *Client
	store   cas.Writer
	binPath string

	mu         sync.Mutex
	executable cas.Identifier
	uploaded   bool
}

func NewStub(client *Client, store cas.Writer, binPath string) *Stub {
	return &Stub{client: client, store: store, binPath: binPath}
}

// ensureUploaded pushes the executable to the content store once per stub.
func (s *Stub) ensureUploaded(ctx context.Context) (cas.Identifier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.uploaded {
		return s.executable, nil
	}

	data, err := os.ReadFile(s.binPath)
	if err != nil {
		return cas.Identifier{}, fmt.Errorf("%w: failed to read %s: %v", ErrRemoteExecution, s.binPath, err)
	}
	id, err := s.store.Write(ctx, data)
	if err != nil {
		return cas.Identifier{}, fmt.Errorf("%w: failed to upload %s: %v", ErrRemoteExecution, s.binPath, err)
	}

	s.executable = id
	s.uploaded = true
	return id, nil
}

// uploadDir pushes every file under dir to the content store and returns
// the (relative path, identifier) pairs the worker will materialize.
func (s *Stub) uploadDir(ctx context.Context, dir string) ([]FileSpec, error) {
	if dir == "" {
		return nil, nil
	}

	var files []FileSpec
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		id, err := s.store.Write(ctx, data)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, FileSpec{Path: filepath.ToSlash(rel), Content: id})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to upload %s: %v", ErrRemoteExecution, dir, err)
	}
	return files, nil
}

// run executes one verb remotely and returns the compiler's stdout. A
// non-zero exit maps to a compilation failure, exactly as a local run
// would report it.
func (s *Stub) run(ctx context.Context, args []string, files []FileSpec) ([]byte, error) {
	executable, err := s.ensureUploaded(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Execute(ctx, ExecRequest{
		Executable: executable,
		Args:       args,
		Files:      files,
	})
	if err != nil {
		return nil, err
	}
	if resp.ExitCode != 0 {
		return nil, fmt.Errorf("%w: %s exited with %d: %s",
			compiler.ErrCompilation, filepath.Base(s.binPath), resp.ExitCode, resp.Stderr)
	}
	return resp.Stdout, nil
}

func (s *Stub) Info(ctx context.Context) ([]compiler.Info, error) {
	out, err := s.run(ctx, []string{"info"}, nil)
	if err != nil {
		return nil, err
	}
	var infos []compiler.Info
	if err := json.Unmarshal(out, &infos); err != nil {
		return nil, fmt.Errorf("%w: info payload: %v", compiler.ErrMalformedOutput, err)
	}
	return infos, nil
}

func (s *Stub) CompilerHash(ctx context.Context, transform pathid.Transform, env compiler.Env) (compiler.Hash, error) {
	out, err := s.run(ctx, []string{"hash",
		"-transform", transform.String(),
		"-target", string(env.Target),
		"-platform", string(env.Platform),
		"-locale", string(env.Locale),
	}, nil)
	if err != nil {
		return 0, err
	}
	var payload compiler.HashCmdOutput
	if err := json.Unmarshal(out, &payload); err != nil {
		return 0, fmt.Errorf("%w: hash payload: %v", compiler.ErrMalformedOutput, err)
	}
	return payload.CompilerHash, nil
}

func (s *Stub) Compile(ctx context.Context, params compiler.CompileParams) (compiler.Output, error) {
	files, err := s.uploadDir(ctx, params.ResourceDir)
	if err != nil {
		return compiler.Output{}, err
	}

	deps := make([]string, 0, len(params.Dependencies))
	for _, d := range params.Dependencies {
		deps = append(deps, d.String())
	}
	derived, err := json.Marshal(params.DerivedDeps)
	if err != nil {
		return compiler.Output{}, fmt.Errorf("failed to encode derived deps: %w", err)
	}

	// The compiler runs with the worker's work directory as cwd, so the
	// materialized source files sit under ".".
	out, err := s.run(ctx, []string{"compile", params.Target.String(),
		"-deps", strings.Join(deps, ","),
		"-derived", string(derived),
		"-cas", params.StoreAddress,
		"-resources", ".",
		"-target", string(params.Env.Target),
		"-platform", string(params.Env.Platform),
		"-locale", string(params.Env.Locale),
	}, files)
	if err != nil {
		return compiler.Output{}, err
	}

	var payload compiler.Output
	if err := json.Unmarshal(out, &payload); err != nil {
		return compiler.Output{}, fmt.Errorf("%w: compile payload: %v", compiler.ErrMalformedOutput, err)
	}
	return payload, nil
}
