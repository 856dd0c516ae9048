package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/birdayz/assetforge/cas"
	"github.com/birdayz/assetforge/cas/s3"
	"github.com/birdayz/assetforge/pathid"
)

// External compiler process contract.
//
// A compiler executable supports three verbs:
//
//	compiler info
//	compiler hash -transform from-to -target t -platform p -locale l
//	compiler compile <path-id> -deps a,b -derived json -cas addr -resources dir -target t -platform p -locale l
//
// Each verb prints a JSON payload on stdout. Exit code 0 signals success;
// non-zero signals failure with diagnostic text on stderr.

// CompilerPrefix names compiler executables discoverable by FromDir.
const CompilerPrefix = "compiler-"

// HashCmdOutput is the JSON payload of the hash verb.
type HashCmdOutput struct {
	CompilerHash Hash `json:"compiler_hash"`
}

// listCompilers enumerates compiler executables in dir.
func listCompilers(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list compiler dir %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), CompilerPrefix) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return paths, nil
}

// binaryStub drives an external compiler executable through the process
// contract.
type binaryStub struct {
	binPath string
}

// NewBinaryStub wraps a compiler executable in the uniform Stub contract.
func NewBinaryStub(binPath string) Stub {
	return &binaryStub{binPath: binPath}
}

func (s *binaryStub) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, s.binPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: %s exited with %d: %s",
				ErrCompilation, filepath.Base(s.binPath), exitErr.ExitCode(),
				strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("%w: failed to spawn %s: %v", ErrCompilation, s.binPath, err)
	}
	return stdout.Bytes(), nil
}

func (s *binaryStub) Info(ctx context.Context) ([]Info, error) {
	out, err := s.run(ctx, "info")
	if err != nil {
		return nil, err
	}
	var infos []Info
	if err := json.Unmarshal(out, &infos); err != nil {
		return nil, fmt.Errorf("%w: info payload: %v", ErrMalformedOutput, err)
	}
	return infos, nil
}

func (s *binaryStub) CompilerHash(ctx context.Context, transform pathid.Transform, env Env) (Hash, error) {
	out, err := s.run(ctx, "hash",
		"-transform", transform.String(),
		"-target", string(env.Target),
		"-platform", string(env.Platform),
		"-locale", string(env.Locale),
	)
	if err != nil {
		return 0, err
	}
	var payload HashCmdOutput
	if err := json.Unmarshal(out, &payload); err != nil {
		return 0, fmt.Errorf("%w: hash payload: %v", ErrMalformedOutput, err)
	}
	return payload.CompilerHash, nil
}

func (s *binaryStub) Compile(ctx context.Context, params CompileParams) (Output, error) {
	deps := make([]string, 0, len(params.Dependencies))
	for _, d := range params.Dependencies {
		deps = append(deps, d.String())
	}
	derived, err := json.Marshal(params.DerivedDeps)
	if err != nil {
		return Output{}, fmt.Errorf("failed to encode derived deps: %w", err)
	}

	out, err := s.run(ctx, "compile", params.Target.String(),
		"-deps", strings.Join(deps, ","),
		"-derived", string(derived),
		"-cas", params.StoreAddress,
		"-resources", params.ResourceDir,
		"-target", string(params.Env.Target),
		"-platform", string(params.Env.Platform),
		"-locale", string(params.Env.Locale),
	)
	if err != nil {
		return Output{}, err
	}

	var payload Output
	if err := json.Unmarshal(out, &payload); err != nil {
		return Output{}, fmt.Errorf("%w: compile payload: %v", ErrMalformedOutput, err)
	}
	return payload, nil
}

// openStore resolves the -cas address into a content store. It accepts the
// same address forms the orchestrator does, including s3, and applies the
// same inline-content threshold so identifiers written by a compiler process
// match the ones the orchestrator computes.
func openStore(ctx context.Context, address string) (cas.Provider, error) {
	var (
		p   cas.Provider
		err error
	)
	if strings.HasPrefix(address, "s3://") {
		p, err = s3.Open(ctx, address)
	} else {
		p, err = cas.Open(ctx, address)
	}
	if err != nil {
		return nil, err
	}
	return cas.WithSmallContent(p, cas.SmallContentThreshold), nil
}

// parseCompileArgs decodes the compile verb's flags back into CompileParams.
// The content store is opened from the -cas address.
func parseCompileArgs(ctx context.Context, target string, flags map[string]string) (CompileParams, error) {
	targetPath, err := pathid.Parse(target)
	if err != nil {
		return CompileParams{}, err
	}

	params := CompileParams{
		Target:       targetPath,
		StoreAddress: flags["cas"],
		ResourceDir:  flags["resources"],
		Env: Env{
			Target:   Target(flags["target"]),
			Platform: Platform(flags["platform"]),
			Locale:   Locale(flags["locale"]),
		},
	}

	if deps := flags["deps"]; deps != "" {
		for _, s := range strings.Split(deps, ",") {
			dep, err := pathid.Parse(s)
			if err != nil {
				return CompileParams{}, err
			}
			params.Dependencies = append(params.Dependencies, dep)
		}
	}
	if derived := flags["derived"]; derived != "" {
		if err := json.Unmarshal([]byte(derived), &params.DerivedDeps); err != nil {
			return CompileParams{}, fmt.Errorf("%w: derived deps: %v", ErrMalformedOutput, err)
		}
	}

	if params.StoreAddress != "" {
		store, err := openStore(ctx, params.StoreAddress)
		if err != nil {
			return CompileParams{}, err
		}
		params.Store = store
	}
	if params.ResourceDir != "" {
		params.Sources = NewDirSources(params.ResourceDir)
	}
	return params, nil
}

// Main implements the process contract for a set of in-process descriptors,
// turning them into a standalone compiler executable:
//
//	func main() { os.Exit(compiler.Main(os.Args[1:], &texDescriptor)) }
//
// It returns the process exit code and prints diagnostics to stderr.
func Main(args []string, descriptors ...*Descriptor) int {
	ctx := context.Background()

	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: compiler <info|hash|compile> ...")
		return 2
	}
	verb, rest := args[0], args[1:]

	emit := func(v any) int {
		enc := json.NewEncoder(os.Stdout)
		if err := enc.Encode(v); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	}

	switch verb {
	case "info":
		infos := make([]Info, 0, len(descriptors))
		for _, d := range descriptors {
			infos = append(infos, d.Info())
		}
		return emit(infos)

	case "hash":
		flags := parseFlags(rest)
		transform, err := pathid.ParseTransform(flags["transform"])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		env := Env{
			Target:   Target(flags["target"]),
			Platform: Platform(flags["platform"]),
			Locale:   Locale(flags["locale"]),
		}
		for _, d := range descriptors {
			if d.Transform == transform {
				return emit(HashCmdOutput{CompilerHash: d.Hash(env)})
			}
		}
		fmt.Fprintf(os.Stderr, "no compiler for transform %s\n", transform)
		return 1

	case "compile":
		if len(rest) == 0 {
			fmt.Fprintln(os.Stderr, "compile: missing path id")
			return 2
		}
		params, err := parseCompileArgs(ctx, rest[0], parseFlags(rest[1:]))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		transform, ok := params.Target.LastTransform()
		if !ok {
			fmt.Fprintf(os.Stderr, "%s is a source path\n", params.Target)
			return 1
		}
		for _, d := range descriptors {
			if d.Transform != transform {
				continue
			}
			out, err := NewLocalStub(d).Compile(ctx, params)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return 1
			}
			return emit(out)
		}
		fmt.Fprintf(os.Stderr, "no compiler for transform %s\n", transform)
		return 1

	default:
		fmt.Fprintf(os.Stderr, "unknown verb %q\n", verb)
		return 2
	}
}

// parseFlags reads "-key value" pairs without pulling in a CLI framework;
// argument parsing beyond the process contract lives with callers.
func parseFlags(args []string) map[string]string {
	flags := map[string]string{}
	for i := 0; i+1 < len(args); i += 2 {
		key := strings.TrimPrefix(args[i], "-")
		flags[key] = args[i+1]
	}
	return flags
}
