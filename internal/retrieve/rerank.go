package retrieve

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/attractor-desk/ragcore/internal/store"
)

// Heuristic rerank adjustments.
const (
	sectionTitleBonus = 0.05
	repetitionDecay   = 0.9
	recencyBonusMax   = 0.03
)

// rerankCandidates orders candidates best-first. When LLM rerank is
// enabled and a reranker is wired, its ordering wins; any failure or
// malformed response falls through to the heuristic.
func (r *Retriever) rerankCandidates(ctx context.Context, query string, candidates []Candidate, details map[string]*store.ChunkDetails, settings Settings, debug *Debug) []Candidate {
	if len(candidates) == 0 {
		return nil
	}
	if settings.EnableLLMRerank && r.reranker != nil {
		reranked, err := r.llmRerank(ctx, query, candidates, details)
		if err == nil && len(reranked) > 0 {
			return reranked
		}
		if err != nil {
			slog.Warn("llm_rerank_failed", slog.String("error", err.Error()))
			debug.Degraded = append(debug.Degraded, "llm_rerank")
		}
	}
	return heuristicRerank(candidates, details, settings.Scope)
}

// heuristicRerank starts from fused scores and applies three
// adjustments: a bonus for titled sections, a decay for repeated picks
// from the same document, and (session scope only) a recency bonus
// scaled across the candidate set's document update times.
func heuristicRerank(candidates []Candidate, details map[string]*store.ChunkDetails, scope store.Scope) []Candidate {
	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].FusedScore > ordered[j].FusedScore
	})

	var minUpdated, maxUpdated int64
	first := true
	for _, d := range details {
		ts := d.DocumentUpdatedAt.Unix()
		if first {
			minUpdated, maxUpdated = ts, ts
			first = false
			continue
		}
		if ts < minUpdated {
			minUpdated = ts
		}
		if ts > maxUpdated {
			maxUpdated = ts
		}
	}

	docSeen := make(map[string]int)
	for i := range ordered {
		d := details[ordered[i].ChunkID]
		if d == nil {
			ordered[i].RerankScore = ordered[i].FusedScore
			continue
		}
		seen := docSeen[d.DocumentID]
		docSeen[d.DocumentID] = seen + 1

		score := ordered[i].FusedScore
		if d.SectionTitle != "" {
			score += sectionTitleBonus
		}
		for k := 0; k < seen; k++ {
			score *= repetitionDecay
		}
		if scope == store.ScopeSession && maxUpdated > minUpdated {
			recency := float64(d.DocumentUpdatedAt.Unix()-minUpdated) /
				float64(maxUpdated-minUpdated)
			score += recency * recencyBonusMax
		}
		ordered[i].RerankScore = score
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].RerankScore > ordered[j].RerankScore
	})
	return ordered
}

// llmRerank asks the reranker for a strict JSON array of 1-based
// candidate indices ordered best to worst, and reorders accordingly.
// Out-of-range or non-integer entries are dropped; an empty usable
// order is an error so the caller falls back.
func (r *Retriever) llmRerank(ctx context.Context, query string, candidates []Candidate, details map[string]*store.ChunkDetails) ([]Candidate, error) {
	var b strings.Builder
	b.WriteString("You are reranking retrieved passages for relevance to the user query.\n")
	b.WriteString("Return a JSON array of candidate indices (1-based) ordered from best to worst.\n")
	b.WriteString("Do not include any extra text.\n\n")
	fmt.Fprintf(&b, "Query: %s\n\nCandidates:\n", query)
	for i, c := range candidates {
		source, section, text := "unknown", "n/a", ""
		if d := details[c.ChunkID]; d != nil {
			source = d.SourceName
			if d.SectionTitle != "" {
				section = d.SectionTitle
			}
			text = d.Content
		}
		fmt.Fprintf(&b, "[%d] %s | %s\n%s\n", i+1, source, section, text)
	}

	response, err := r.reranker.Invoke(ctx, []Message{
		{Role: "system", Content: "You output strict JSON arrays only."},
		{Role: "user", Content: b.String()},
	})
	if err != nil {
		return nil, err
	}

	var order []int
	if err := json.Unmarshal([]byte(strings.TrimSpace(response)), &order); err != nil {
		return nil, fmt.Errorf("parse rerank response: %w", err)
	}

	reordered := make([]Candidate, 0, len(candidates))
	seen := make(map[int]bool)
	for _, idx := range order {
		i := idx - 1
		if i < 0 || i >= len(candidates) || seen[i] {
			continue
		}
		seen[i] = true
		c := candidates[i]
		c.RerankScore = c.FusedScore
		reordered = append(reordered, c)
	}
	if len(reordered) == 0 {
		return nil, fmt.Errorf("rerank response contained no usable indices")
	}
	return reordered, nil
}
