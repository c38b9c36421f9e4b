package source

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// ExtractTarGz unpacks a gzipped tarball into dir. Entries whose names
// would escape dir are rejected; symlinks and special files are skipped.
func ExtractTarGz(r io.Reader, dir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}
		name := filepath.FromSlash(hdr.Name)
		if !filepath.IsLocal(name) {
			return fmt.Errorf("unsafe path in archive: %q", hdr.Name)
		}
		target := filepath.Join(dir, name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create parent for %s: %w", hdr.Name, err)
			}
			f, err := os.Create(target)
			if err != nil {
				return fmt.Errorf("create %s: %w", hdr.Name, err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return fmt.Errorf("write %s: %w", hdr.Name, err)
			}
			f.Close()
		}
	}
}

var documentClassPattern = regexp.MustCompile(`(?m)^\s*\\documentclass`)

// MainTexFile locates the root .tex file of an extracted source tree: the
// first file in path order carrying a \documentclass declaration, falling
// back to the first .tex file when none declares one.
func MainTexFile(dir string) (string, error) {
	var texFiles []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".tex") {
			texFiles = append(texFiles, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scan source tree: %w", err)
	}
	sort.Strings(texFiles)
	for _, p := range texFiles {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		if documentClassPattern.Match(data) {
			return p, nil
		}
	}
	if len(texFiles) > 0 {
		return texFiles[0], nil
	}
	return "", fmt.Errorf("no .tex file under %s", dir)
}

var (
	texInputPattern   = regexp.MustCompile(`\\(?:input|include)\{([^}]+)\}`)
	texCommentPattern = regexp.MustCompile(`(?m)(^|[^\\])%.*$`)
)

// InlineTexFiles reads the main file and recursively substitutes \input
// and \include commands with the referenced file contents, resolved
// against the main file's directory. Comments are stripped; references
// that cannot be read are left in place. Each file is inlined at most
// once, so reference cycles terminate.
func InlineTexFiles(mainPath string) (string, error) {
	seen := make(map[string]bool)
	return inlineTex(mainPath, filepath.Dir(mainPath), seen)
}

func inlineTex(path, baseDir string, seen map[string]bool) (string, error) {
	if seen[path] {
		return "", nil
	}
	seen[path] = true

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read tex file: %w", err)
	}
	text := texCommentPattern.ReplaceAllString(string(data), "$1")
	return texInputPattern.ReplaceAllStringFunc(text, func(m string) string {
		ref := texInputPattern.FindStringSubmatch(m)[1]
		if filepath.Ext(ref) == "" {
			ref += ".tex"
		}
		sub, err := inlineTex(filepath.Join(baseDir, filepath.FromSlash(ref)), baseDir, seen)
		if err != nil {
			return m
		}
		return sub
	}), nil
}
