package review

import (
	"fmt"
	"strings"

	"github.com/floegence/wakeloop/internal/textutil"
)

const (
	DefaultChunkTokenCap = 70_000
	MinChunkTokenCap     = 20_000
	MaxChunkTokenCap     = 120_000

	// EmptyPlaceholder is the single chunk returned when nothing was collected.
	EmptyPlaceholder = "(No reviewable content found.)"
)

// Chunk is a group of rendered sections that fits the token cap, unless it holds one
// oversized section alone.
type Chunk struct {
	Text   string
	Labels []string
	Tokens int
}

// ClampChunkCap bounds a requested cap to [MinChunkTokenCap, MaxChunkTokenCap].
func ClampChunkCap(tokenCap int) int {
	if tokenCap <= 0 {
		tokenCap = DefaultChunkTokenCap
	}
	return max(MinChunkTokenCap, min(tokenCap, MaxChunkTokenCap))
}

// RenderSection is the text a section contributes to a chunk.
func RenderSection(s Section) string {
	return fmt.Sprintf("\n## FILE: %s\n%s\n", s.Label, s.Content)
}

// ChunkSections packs sections greedily, in order, into chunks of at most the clamped cap in
// estimated tokens. Sections with empty content are skipped.
func ChunkSections(sections []Section, tokenCap int) []Chunk {
	limit := ClampChunkCap(tokenCap)

	var (
		chunks []Chunk
		parts  []string
		labels []string
		tokens int
	)
	flush := func() {
		if len(parts) == 0 {
			return
		}
		chunks = append(chunks, Chunk{Text: strings.Join(parts, "\n"), Labels: labels, Tokens: tokens})
		parts, labels, tokens = nil, nil, 0
	}

	for _, s := range sections {
		if s.Content == "" {
			continue
		}
		part := RenderSection(s)
		n := textutil.EstimateTokens(part)
		if len(parts) > 0 && tokens+n > limit {
			flush()
		}
		parts = append(parts, part)
		labels = append(labels, s.Label)
		tokens += n
	}
	flush()

	if len(chunks) == 0 {
		return []Chunk{{Text: EmptyPlaceholder}}
	}
	return chunks
}
