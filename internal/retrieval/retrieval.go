// Package retrieval defines the code-retrieval collaborator contract.
// The production retriever (source-host API client) is injected by the
// caller; this package ships a local-directory implementation used by
// tests and development.
package retrieval

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// File is one retrieved source file.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Result is the retrieval output: the flattened source text used for
// signal extraction and the individual files attached to the job.
type Result struct {
	Flattened string
	Files     []File
}

// Retriever fetches the source of a repository reference. Any progress
// a retriever emits is its own logging concern; the audit pipeline only
// consumes the final Result or error.
type Retriever interface {
	Fetch(ctx context.Context, repoRef string) (Result, error)
}

// Source file extensions considered by the directory retriever.
var sourceExtensions = map[string]bool{
	".sol":   true,
	".vy":    true,
	".yul":   true,
	".rs":    true,
	".move":  true,
	".cairo": true,
}

const maxFileBytes = 256 * 1024

// DirRetriever reads a local checkout. The repo reference is resolved
// as a path relative to Root.
type DirRetriever struct {
	Root string
}

// Fetch walks the checkout under the reference, flattening every
// recognized contract source file. An empty result is an error: a
// repository without any contract source cannot be audited.
func (d DirRetriever) Fetch(ctx context.Context, repoRef string) (Result, error) {
	dir := filepath.Join(d.Root, filepath.Clean("/"+repoRef))
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return Result{}, fmt.Errorf("repository %q not found under %s", repoRef, d.Root)
	}

	var res Result
	var sb strings.Builder
	err = filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if entry.IsDir() {
			if strings.HasPrefix(entry.Name(), ".") && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if !sourceExtensions[filepath.Ext(entry.Name())] {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn().Err(err).Str("file", path).Msg("Skipping unreadable source file")
			return nil
		}
		if len(data) > maxFileBytes {
			data = data[:maxFileBytes]
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = entry.Name()
		}
		res.Files = append(res.Files, File{Path: filepath.ToSlash(rel), Content: string(data)})
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("walk repository %q: %w", repoRef, err)
	}
	if len(res.Files) == 0 {
		return Result{}, fmt.Errorf("repository %q contains no contract source files", repoRef)
	}

	sort.Slice(res.Files, func(i, j int) bool { return res.Files[i].Path < res.Files[j].Path })
	for _, f := range res.Files {
		sb.WriteString("// File: " + f.Path + "\n")
		sb.WriteString(f.Content)
		sb.WriteString("\n\n")
	}
	res.Flattened = sb.String()
	return res, nil
}
