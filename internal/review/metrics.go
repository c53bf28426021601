package review

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
)

// Metrics are static size statistics over collected sections.
type Metrics struct {
	TotalFiles        int     `json:"total_files"`
	SourceFiles       int     `json:"source_files"`
	TotalLines        int     `json:"total_lines"`
	TotalFunctions    int     `json:"total_functions"`
	AvgFunctionLength float64 `json:"avg_function_length"`
	MaxFunctionLength int     `json:"max_function_length"`
}

// functionPrefixes lists, per source extension, the trimmed-line prefixes that open a function.
var functionPrefixes = map[string][]string{
	".py": {"def ", "async def "},
	".go": {"func "},
}

// ComputeComplexityMetrics counts lines for every section and, for recognised source files,
// function-like definitions by line prefix. A function spans from its first line to the next
// definition or the end of the file.
func ComputeComplexityMetrics(sections []Section) Metrics {
	m := Metrics{TotalFiles: len(sections)}
	var lengths []int

	for _, s := range sections {
		lines := splitLines(s.Content)
		m.TotalLines += len(lines)

		prefixes, ok := functionPrefixes[strings.ToLower(filepath.Ext(s.Label))]
		if !ok {
			continue
		}
		m.SourceFiles++

		var starts []int
		for i, line := range lines {
			trimmed := strings.TrimSpace(line)
			for _, p := range prefixes {
				if strings.HasPrefix(trimmed, p) {
					starts = append(starts, i)
					break
				}
			}
		}
		m.TotalFunctions += len(starts)
		for j, start := range starts {
			end := len(lines)
			if j+1 < len(starts) {
				end = starts[j+1]
			}
			lengths = append(lengths, end-start)
		}
	}

	if len(lengths) > 0 {
		sum := 0
		for _, n := range lengths {
			sum += n
			m.MaxFunctionLength = max(m.MaxFunctionLength, n)
		}
		m.AvgFunctionLength = math.Round(float64(sum)/float64(len(lengths))*10) / 10
	}
	return m
}

// FormatMetrics renders m as a short multi-line summary.
func FormatMetrics(m Metrics) string {
	var b strings.Builder
	b.WriteString("Complexity metrics:\n")
	fmt.Fprintf(&b, "  Files: %d (source: %d)\n", m.TotalFiles, m.SourceFiles)
	fmt.Fprintf(&b, "  Lines of code: %d\n", m.TotalLines)
	fmt.Fprintf(&b, "  Functions/methods: %d\n", m.TotalFunctions)
	fmt.Fprintf(&b, "  Avg function length: %.1f lines\n", m.AvgFunctionLength)
	fmt.Fprintf(&b, "  Max function length: %d lines", m.MaxFunctionLength)
	return b.String()
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}
