package search

import (
	"sort"

	"github.com/brunobiangulo/lexkb/store"
)

// DefaultRRFK is the standard RRF constant from the literature.
const DefaultRRFK = 60

// fusedInfo holds per-result method contribution metadata.
type fusedInfo struct {
	Methods     []string `json:"methods"`
	KeywordRank int      `json:"keyword_rank,omitempty"` // 1-based, 0 = not present
	VectorRank  int      `json:"vector_rank,omitempty"`  // 1-based, 0 = not present
}

// fuseRRF combines keyword and vector result lists with Reciprocal Rank
// Fusion: score = sum(1 / (k + rank_i)) over the lists a row appears in,
// with 1-based ranks. Raw lexical and distance scores never mix; only
// rank positions matter, so a row present in both lists always outscores
// a row at the same ranks in one. Ties break on ascending seq so results
// are stable across runs.
func fuseRRF(keywordResults, vectorResults []store.RankedRow, rrfK, maxResults int) ([]store.RankedRow, map[int64]fusedInfo) {
	if rrfK <= 0 {
		rrfK = DefaultRRFK
	}

	type fusedEntry struct {
		seq   int64
		score float64
		info  fusedInfo
	}

	fused := make(map[int64]*fusedEntry)

	for rank, r := range keywordResults {
		entry, ok := fused[r.Seq]
		if !ok {
			entry = &fusedEntry{seq: r.Seq}
			fused[r.Seq] = entry
		}
		entry.score += 1.0 / float64(rrfK+rank+1)
		entry.info.Methods = append(entry.info.Methods, "keyword")
		entry.info.KeywordRank = rank + 1
	}

	for rank, r := range vectorResults {
		entry, ok := fused[r.Seq]
		if !ok {
			entry = &fusedEntry{seq: r.Seq}
			fused[r.Seq] = entry
		}
		entry.score += 1.0 / float64(rrfK+rank+1)
		entry.info.Methods = append(entry.info.Methods, "vector")
		entry.info.VectorRank = rank + 1
	}

	entries := make([]*fusedEntry, 0, len(fused))
	for _, e := range fused {
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].seq < entries[j].seq
	})

	if maxResults > 0 && len(entries) > maxResults {
		entries = entries[:maxResults]
	}

	results := make([]store.RankedRow, len(entries))
	infoMap := make(map[int64]fusedInfo, len(entries))
	for i, e := range entries {
		results[i] = store.RankedRow{Seq: e.seq, Score: e.score}
		infoMap[e.seq] = e.info
	}

	return results, infoMap
}
