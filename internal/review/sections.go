package review

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/floegence/wakeloop/internal/textutil"
)

const (
	DefaultMaxFileChars  = 300_000
	DefaultMaxTotalChars = 4_000_000
	minClippedChars      = 2000
)

var binaryExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {}, ".bmp": {}, ".ico": {}, ".pdf": {},
	".zip": {}, ".tar": {}, ".gz": {}, ".bz2": {}, ".xz": {}, ".7z": {}, ".rar": {},
	".mp3": {}, ".mp4": {}, ".mov": {}, ".avi": {}, ".wav": {}, ".ogg": {}, ".opus": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".otf": {},
	".class": {}, ".so": {}, ".dylib": {}, ".bin": {}, ".exe": {}, ".sqlite": {}, ".db": {},
}

// RepoSkipDirs and DriveSkipDirs are the default ignorable directory names.
var (
	RepoSkipDirs  = []string{"__pycache__", ".git", ".pytest_cache", ".mypy_cache", "node_modules", ".venv"}
	DriveSkipDirs = []string{"archive", "locks", "downloads", "screenshots"}
)

// Root is one directory to collect, labelled with Prefix.
type Root struct {
	Dir      string
	Prefix   string
	SkipDirs []string
}

// Section is one collected file.
type Section struct {
	Label   string
	Content string
}

type CollectStats struct {
	Files     int `json:"files"`
	Chars     int `json:"chars"`
	Truncated int `json:"truncated"`
	Dropped   int `json:"dropped"`
}

type CollectOptions struct {
	// MaxFileChars caps each file. If <= 0, DefaultMaxFileChars.
	MaxFileChars int
	// MaxTotalChars caps the whole collection. If <= 0, DefaultMaxTotalChars.
	MaxTotalChars int
}

// CollectSections walks roots in order and returns text files as labelled sections.
//
// Directories and files are visited in sorted order. Symlinks, binary extensions and blank files
// are skipped. A file over the per-file cap is clipped. Once the total cap is reached, further
// files are counted as dropped.
func CollectSections(opts CollectOptions, roots ...Root) ([]Section, CollectStats, error) {
	maxFile := opts.MaxFileChars
	if maxFile <= 0 {
		maxFile = DefaultMaxFileChars
	}
	maxTotal := opts.MaxTotalChars
	if maxTotal <= 0 {
		maxTotal = DefaultMaxTotalChars
	}

	var (
		sections []Section
		stats    CollectStats
	)
	for _, root := range roots {
		dir := strings.TrimSpace(root.Dir)
		if dir == "" {
			continue
		}
		info, err := os.Stat(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, stats, fmt.Errorf("stat %s: %w", dir, err)
		}
		if !info.IsDir() {
			return nil, stats, fmt.Errorf("%s is not a directory", dir)
		}

		skip := make(map[string]struct{}, len(root.SkipDirs))
		for _, d := range root.SkipDirs {
			skip[d] = struct{}{}
		}
		prefix := strings.Trim(strings.TrimSpace(root.Prefix), "/")

		// WalkDir visits entries in lexical order.
		err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				if d != nil && d.IsDir() && p != dir {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				if _, ok := skip[d.Name()]; ok && p != dir {
					return fs.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			if _, ok := binaryExtensions[strings.ToLower(filepath.Ext(d.Name()))]; ok {
				return nil
			}

			b, err := os.ReadFile(p)
			if err != nil {
				return nil
			}
			content := strings.ToValidUTF8(string(b), "�")
			if strings.TrimSpace(content) == "" {
				return nil
			}
			rel, err := filepath.Rel(dir, p)
			if err != nil {
				return nil
			}

			n := utf8.RuneCountInString(content)
			if n > maxFile {
				content = textutil.ClipText(content, maxFile)
				n = utf8.RuneCountInString(content)
				stats.Truncated++
			}
			if stats.Chars >= maxTotal {
				stats.Dropped++
				return nil
			}
			if stats.Chars+n > maxTotal {
				content = textutil.ClipText(content, max(minClippedChars, maxTotal-stats.Chars))
				n = utf8.RuneCountInString(content)
				stats.Truncated++
			}

			label := filepath.ToSlash(rel)
			if prefix != "" {
				label = path.Join(prefix, label)
			}
			sections = append(sections, Section{Label: label, Content: content})
			stats.Chars += n
			return nil
		})
		if err != nil {
			return nil, stats, fmt.Errorf("walk %s: %w", dir, err)
		}
	}
	stats.Files = len(sections)
	return sections, stats, nil
}
