package unit

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/seantiz/flux/internal/isolate"
)

// Layout of a unit directory.
const (
	MainDir      = "main"
	LibDir       = "lib"
	MetadataFile = "flux_config.yml"
)

// BuildOptions tunes the context built for a unit.
type BuildOptions struct {
	// Name labels the context in logs. Defaults to the directory name.
	Name        string
	EvalTimeout time.Duration
	Logger      *slog.Logger
}

// Build constructs the isolated context of the unit rooted at dir. Library
// artifacts are evaluated before main artifacts; the unit root is the
// context's only resource root.
func Build(dir string, opts BuildOptions) (*isolate.Context, error) {
	main := filepath.Join(dir, MainDir)
	entries, err := os.ReadDir(main)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(entries) == 0) {
		return nil, fmt.Errorf("%w: %s has no main artifacts", ErrNotFound, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", main, err)
	}

	info, err := os.Stat(filepath.Join(dir, MetadataFile))
	if err != nil || !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s has no %s", ErrNotFound, dir, MetadataFile)
	}

	libs, err := collectArtifacts(filepath.Join(dir, LibDir), true)
	if err != nil {
		return nil, err
	}
	mains, err := collectArtifacts(main, false)
	if err != nil {
		return nil, err
	}

	name := opts.Name
	if name == "" {
		name = filepath.Base(dir)
	}
	ctx, err := isolate.New(isolate.Options{
		Name:          name,
		Artifacts:     append(libs, mains...),
		ResourceRoots: []string{dir},
		EvalTimeout:   opts.EvalTimeout,
		Logger:        opts.Logger,
	})
	if errors.Is(err, isolate.ErrEvaluation) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArtifact, err)
	}
	if err != nil {
		return nil, fmt.Errorf("build context for %s: %w", dir, err)
	}
	return ctx, nil
}

// collectArtifacts returns every regular file under dir in lexical path
// order. A missing dir yields no artifacts.
func collectArtifacts(dir string, lib bool) ([]isolate.Artifact, error) {
	var out []isolate.Artifact
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.Type().IsRegular() {
			out = append(out, isolate.Artifact{Path: path, Lib: lib})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect artifacts in %s: %w", dir, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
