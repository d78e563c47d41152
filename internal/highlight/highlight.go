package highlight

import (
	"regexp"
	"sort"
	"strings"
)

var ansiCSI = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]`)

type Result struct {
	Text  string
	Count int
	// Lines holds the zero-based indexes of lines with at least one match.
	Lines []int
}

// Terms wraps every case-insensitive occurrence of any term in input. Escape
// sequences are copied through untouched and a match never spans one, so
// styled text keeps its styling. Where terms overlap the longest one wins.
func Terms(input string, terms []string, wrap func(string) string) Result {
	terms = normalize(terms)
	if len(terms) == 0 {
		return Result{Text: input}
	}
	if wrap == nil {
		wrap = func(s string) string { return s }
	}

	lines := strings.SplitAfter(input, "\n")
	var out strings.Builder
	matched := make([]int, 0, 16)
	total := 0

	for lineNo, line := range lines {
		core, hasNewline := strings.CutSuffix(line, "\n")
		rendered, count := applyToANSIText(core, terms, wrap)
		out.WriteString(rendered)
		if hasNewline {
			out.WriteByte('\n')
		}
		if count > 0 {
			matched = append(matched, lineNo)
			total += count
		}
	}

	return Result{Text: out.String(), Count: total, Lines: matched}
}

func normalize(terms []string) []string {
	out := make([]string, 0, len(terms))
	seen := make(map[string]bool, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

func applyToANSIText(s string, terms []string, wrap func(string) string) (string, int) {
	indices := ansiCSI.FindAllStringIndex(s, -1)
	if len(indices) == 0 {
		return applyToPlain(s, terms, wrap)
	}

	var out strings.Builder
	total := 0
	pos := 0
	for _, idx := range indices {
		if idx[0] > pos {
			plain, count := applyToPlain(s[pos:idx[0]], terms, wrap)
			out.WriteString(plain)
			total += count
		}
		out.WriteString(s[idx[0]:idx[1]])
		pos = idx[1]
	}
	if pos < len(s) {
		plain, count := applyToPlain(s[pos:], terms, wrap)
		out.WriteString(plain)
		total += count
	}
	return out.String(), total
}

// applyToPlain scans left to right, taking the longest term that matches at
// each position. Matching is byte-wise on the lowered text, which keeps
// offsets aligned for ASCII and leaves other text unmatched rather than
// misaligned.
func applyToPlain(s string, terms []string, wrap func(string) string) (string, int) {
	if s == "" {
		return s, 0
	}
	lower := strings.ToLower(s)
	if len(lower) != len(s) {
		return s, 0
	}

	var out strings.Builder
	count := 0
	start := 0
	for i := 0; i < len(s); {
		hit := ""
		for _, t := range terms {
			if strings.HasPrefix(lower[i:], t) {
				hit = t
				break
			}
		}
		if hit == "" {
			i++
			continue
		}
		out.WriteString(s[start:i])
		out.WriteString(wrap(s[i : i+len(hit)]))
		count++
		i += len(hit)
		start = i
	}
	out.WriteString(s[start:])
	return out.String(), count
}
