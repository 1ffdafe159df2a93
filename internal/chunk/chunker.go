// Package chunk splits Markdown and plain text into overlapping,
// header-aware pieces. Pieces carry the title of the nearest preceding
// header so downstream rerank and citations can show a section path.
package chunk

import (
	"regexp"
	"strings"
)

// Default window parameters. Callers may override per request.
const (
	DefaultSizeChars    = 1200
	DefaultOverlapChars = 150

	// MinSizeChars and MaxSizeChars bound accepted chunk sizes.
	MinSizeChars = 200
	MaxSizeChars = 5000

	// MaxOverlapChars bounds the accepted overlap.
	MaxOverlapChars = 1000
)

// headerPattern matches ATX headers with up to three leading spaces,
// capturing the title text.
var headerPattern = regexp.MustCompile(`^\s{0,3}#{1,6}\s+(.*)$`)

// Piece is a chunk of text with its section context.
type Piece struct {
	Text         string
	SectionTitle string
	HasTitle     bool
}

// Options configures a split.
type Options struct {
	SizeChars    int
	OverlapChars int
}

// DefaultOptions returns the default window parameters.
func DefaultOptions() Options {
	return Options{
		SizeChars:    DefaultSizeChars,
		OverlapChars: DefaultOverlapChars,
	}
}

// Split decomposes markdown into ordered pieces.
//
// The text is first split at ATX headers; content before the first header
// forms an untitled section. Each section body is then windowed with
// stride size−overlap. A section whose body is empty but which has a
// title yields the title itself, so the section stays navigable.
// Empty input yields no pieces. SizeChars <= 0 returns the whole text as
// a single piece. Overlap >= size is clamped to size−1.
func Split(markdown string, opts Options) []Piece {
	if opts.SizeChars <= 0 {
		trimmed := strings.TrimSpace(markdown)
		if trimmed == "" {
			return nil
		}
		return []Piece{{Text: trimmed}}
	}
	sections := splitSections(markdown)
	var pieces []Piece
	for _, sec := range sections {
		body := sec.body
		if body == "" && sec.hasTitle {
			body = sec.title
		}
		for _, text := range windowText(body, opts.SizeChars, opts.OverlapChars) {
			pieces = append(pieces, Piece{
				Text:         text,
				SectionTitle: sec.title,
				HasTitle:     sec.hasTitle,
			})
		}
	}
	return pieces
}

type section struct {
	title    string
	hasTitle bool
	body     string
}

// splitSections scans line by line, opening a new section at each header.
func splitSections(markdown string) []section {
	lines := strings.Split(markdown, "\n")
	var sections []section
	var current section
	var bodyLines []string
	started := false

	flush := func() {
		sections = append(sections, section{
			title:    current.title,
			hasTitle: current.hasTitle,
			body:     strings.TrimSpace(strings.Join(bodyLines, "\n")),
		})
	}

	for _, line := range lines {
		if m := headerPattern.FindStringSubmatch(line); m != nil {
			if started || len(trimLines(bodyLines)) > 0 {
				flush()
			}
			current = section{title: strings.TrimSpace(m[1]), hasTitle: true}
			bodyLines = bodyLines[:0]
			started = true
			continue
		}
		bodyLines = append(bodyLines, line)
	}
	if started || len(trimLines(bodyLines)) > 0 {
		flush()
	}
	if len(sections) == 0 {
		trimmed := strings.TrimSpace(markdown)
		if trimmed == "" {
			return nil
		}
		return []section{{body: trimmed}}
	}
	return sections
}

// trimLines drops leading and trailing blank lines without joining.
func trimLines(lines []string) []string {
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return lines[start:end]
}

// windowText slides a fixed-size window over text with the given overlap.
// Whitespace-only windows are dropped. A non-positive size returns the
// whole text as one chunk. The window is measured in characters
// (runes), not bytes, so multi-byte content is never split mid-rune.
func windowText(text string, sizeChars, overlapChars int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if sizeChars <= 0 {
		return []string{text}
	}
	overlap := overlapChars
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= sizeChars {
		overlap = sizeChars - 1
	}
	runes := []rune(text)
	var chunks []string
	start := 0
	length := len(runes)
	for start < length {
		end := start + sizeChars
		if end > length {
			end = length
		}
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			chunks = append(chunks, piece)
		}
		if end >= length {
			break
		}
		start = end - overlap
	}
	return chunks
}

// EstimateTokens returns a cheap word-count token estimate for content
// budgeting. It is not a model tokenizer.
func EstimateTokens(text string) int {
	return len(strings.Fields(text))
}
