package search

import (
	"reflect"
	"strings"
	"testing"

	"github.com/brunobiangulo/lexkb/store"
)

func ranked(seqs ...int64) []store.RankedRow {
	rows := make([]store.RankedRow, len(seqs))
	for i, seq := range seqs {
		rows[i] = store.RankedRow{Seq: seq, Score: float64(len(seqs) - i)}
	}
	return rows
}

func fusedSeqs(rows []store.RankedRow) []int64 {
	seqs := make([]int64, len(rows))
	for i, r := range rows {
		seqs[i] = r.Seq
	}
	return seqs
}

func TestFuseRRFBothListsBeatOne(t *testing.T) {
	// Row 2 appears in both lists; rows 1 and 3 top one list each.
	fused, info := fuseRRF(ranked(1, 2), ranked(3, 2), DefaultRRFK, 10)

	if fused[0].Seq != 2 {
		t.Fatalf("row in both lists should rank first, got %d", fused[0].Seq)
	}
	want := 1.0/float64(DefaultRRFK+2) + 1.0/float64(DefaultRRFK+2)
	if fused[0].Score != want {
		t.Fatalf("expected fused score %f, got %f", want, fused[0].Score)
	}

	if got := info[2].Methods; !reflect.DeepEqual(got, []string{"keyword", "vector"}) {
		t.Fatalf("expected both methods recorded, got %v", got)
	}
	if info[2].KeywordRank != 2 || info[2].VectorRank != 2 {
		t.Fatalf("expected 1-based ranks 2/2, got %d/%d", info[2].KeywordRank, info[2].VectorRank)
	}
	if info[1].VectorRank != 0 {
		t.Fatalf("keyword-only row should have zero vector rank, got %d", info[1].VectorRank)
	}
}

func TestFuseRRFIgnoresRawScores(t *testing.T) {
	// Wildly different raw score scales, same ranks: fusion must depend
	// only on positions.
	keyword := []store.RankedRow{{Seq: 1, Score: 10000}, {Seq: 2, Score: 9999}}
	vector := []store.RankedRow{{Seq: 1, Score: 0.01}, {Seq: 2, Score: 0.009}}

	fused, _ := fuseRRF(keyword, vector, DefaultRRFK, 10)
	if fused[0].Seq != 1 || fused[1].Seq != 2 {
		t.Fatalf("expected rank order preserved, got %v", fusedSeqs(fused))
	}
	if fused[0].Score >= 1 {
		t.Fatalf("fused scores are reciprocal-rank sums, got %f", fused[0].Score)
	}
}

func TestFuseRRFTieBreaksOnSeq(t *testing.T) {
	// Rows 7 and 3 each rank first in exactly one list: identical fused
	// score, ordered by ascending seq.
	fused, _ := fuseRRF(ranked(7), ranked(3), DefaultRRFK, 10)
	if !reflect.DeepEqual(fusedSeqs(fused), []int64{3, 7}) {
		t.Fatalf("expected seq-ascending tie-break, got %v", fusedSeqs(fused))
	}
}

func TestFuseRRFDeterministic(t *testing.T) {
	keyword := ranked(5, 1, 9, 3)
	vector := ranked(9, 5, 2)

	first, _ := fuseRRF(keyword, vector, DefaultRRFK, 10)
	for i := 0; i < 10; i++ {
		again, _ := fuseRRF(keyword, vector, DefaultRRFK, 10)
		if !reflect.DeepEqual(fusedSeqs(first), fusedSeqs(again)) {
			t.Fatalf("fusion order unstable: %v vs %v", fusedSeqs(first), fusedSeqs(again))
		}
	}
}

func TestFuseRRFLimit(t *testing.T) {
	fused, _ := fuseRRF(ranked(1, 2, 3, 4, 5), nil, DefaultRRFK, 2)
	if len(fused) != 2 {
		t.Fatalf("expected result cap at 2, got %d", len(fused))
	}
	if !reflect.DeepEqual(fusedSeqs(fused), []int64{1, 2}) {
		t.Fatalf("expected best rows kept, got %v", fusedSeqs(fused))
	}
}

func TestFuseRRFEmptyInputs(t *testing.T) {
	fused, info := fuseRRF(nil, nil, DefaultRRFK, 10)
	if len(fused) != 0 || len(info) != 0 {
		t.Fatalf("expected empty fusion, got %v", fused)
	}

	fused, _ = fuseRRF(ranked(4, 2), nil, DefaultRRFK, 10)
	if !reflect.DeepEqual(fusedSeqs(fused), []int64{4, 2}) {
		t.Fatalf("single-list fusion should preserve ranking, got %v", fusedSeqs(fused))
	}
}

func TestFuseRRFDefaultsK(t *testing.T) {
	a, _ := fuseRRF(ranked(1), nil, 0, 10)
	b, _ := fuseRRF(ranked(1), nil, DefaultRRFK, 10)
	if a[0].Score != b[0].Score {
		t.Fatalf("zero rrfK must fall back to the default, got %f vs %f", a[0].Score, b[0].Score)
	}
}

func TestSanitizeFTSQuery(t *testing.T) {
	got := sanitizeFTSQuery(`what are the "notice" deadlines?`)
	if got == "" {
		t.Fatal("expected non-empty query")
	}
	if strings.Contains(got, "?") {
		t.Fatalf("operator characters must be stripped, got %q", got)
	}
	if !strings.Contains(got, "notice") || !strings.Contains(got, "deadlines") {
		t.Fatalf("significant terms must survive, got %q", got)
	}
	if !strings.Contains(got, " OR ") {
		t.Fatalf("multi-term queries join with OR, got %q", got)
	}

	// Stop-word-only input degrades to a bare OR join rather than empty.
	if got := sanitizeFTSQuery("the"); got == "" {
		t.Fatal("stop-word-only query should not be empty")
	}
	if got := sanitizeFTSQuery("   "); got != "" {
		t.Fatalf("whitespace-only query should be empty, got %q", got)
	}
}
