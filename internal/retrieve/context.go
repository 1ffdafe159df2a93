package retrieve

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/attractor-desk/ragcore/internal/store"
)

// selectContextChunks walks the reranked candidates and greedily picks
// chunks for the context, subject to:
//   - a per-document neighbour guard: a chunk is skipped when another
//     chunk from the same document within one chunk_index is already in
//   - the chunk-count cap
//   - the character budget (the first chunk is always accepted)
func selectContextChunks(candidates []Candidate, details map[string]*store.ChunkDetails, maxChunks, maxChars int) []string {
	var selected []string
	selectedIdx := make(map[string][]int)
	totalChars := 0

	for _, c := range candidates {
		d := details[c.ChunkID]
		if d == nil {
			continue
		}
		neighbour := false
		for _, idx := range selectedIdx[d.DocumentID] {
			diff := d.ChunkIndex - idx
			if diff < 0 {
				diff = -diff
			}
			if diff <= 1 {
				neighbour = true
				break
			}
		}
		if neighbour {
			continue
		}
		chunkLen := utf8.RuneCountInString(d.Content)
		if totalChars+chunkLen > maxChars && len(selected) > 0 {
			break
		}
		selected = append(selected, c.ChunkID)
		selectedIdx[d.DocumentID] = append(selectedIdx[d.DocumentID], d.ChunkIndex)
		totalChars += chunkLen
		if len(selected) >= maxChunks {
			break
		}
	}
	return selected
}

// buildContext assembles the prompt context block and the citation list
// in the same numeric order:
//
//	<retrieved-context>
//	[1] source_name | section_title
//	chunk body
//	...
//	</retrieved-context>
func buildContext(chunkIDs []string, details map[string]*store.ChunkDetails) (string, []Citation) {
	if len(chunkIDs) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("<retrieved-context>\n")
	var citations []Citation
	n := 0
	for _, chunkID := range chunkIDs {
		d := details[chunkID]
		if d == nil {
			continue
		}
		n++
		header := d.SourceName
		if d.SectionTitle != "" {
			header = fmt.Sprintf("%s | %s", d.SourceName, d.SectionTitle)
		}
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", n, header, d.Content)
		citations = append(citations, Citation{
			ChunkID:      d.ID,
			DocumentID:   d.DocumentID,
			SourceName:   d.SourceName,
			SectionTitle: d.SectionTitle,
			ChunkIndex:   d.ChunkIndex,
		})
	}
	b.WriteString("</retrieved-context>")
	return strings.TrimSpace(b.String()), citations
}
