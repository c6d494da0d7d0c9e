// Package section maps byte offsets in a document to its heading
// outline. The index is built once per source by scanning for heading
// patterns; every heading owns the half-open interval from its own start
// to the start of the next heading (or the end of the document). All
// offsets here and in the extraction pipeline are byte positions, so
// span grounding and section lookup share one unit.
package section

import (
	"regexp"
	"sort"
	"strings"
)

// Section is a single heading with its owned byte interval.
type Section struct {
	Number string // hierarchical number ("4.3.18"), empty for unnumbered headings
	Title  string // heading text without the number prefix
	Start  int    // byte offset of the heading line, inclusive
	End    int    // byte offset where the next heading starts, exclusive
	Depth  int    // 1 for "4", 2 for "4.3", 3 for "4.3.18"; 1 for unnumbered
	Parent string // number of the enclosing section ("4.3" for "4.3.18"), empty at top level
}

// Index holds the sorted section intervals for one document.
type Index struct {
	sections []Section
	byNumber map[string]int
	docLen   int
}

// numberedHeading matches lines such as "4.3 Payment Terms" or
// "1.2.3. Notices". Top-level numbers need the trailing dot ("4. Scope")
// so that prose lines starting with a bare number are not mistaken for
// headings; multi-level numbers are unambiguous without it.
var numberedHeading = regexp.MustCompile(`^(\d+(?:\.\d+)+|\d+\.)\.?\s+(\S.*)$`)

// unnumberedHeadings matches heading styles that carry no hierarchical
// number: markdown hashes, all-caps lines, and article/appendix labels.
var unnumberedHeadings = []*regexp.Regexp{
	regexp.MustCompile(`^#{1,6}\s+\S`),
	regexp.MustCompile(`^[A-Z][A-Z\s]{4,}$`),
	regexp.MustCompile(`(?i)^(appendix|annex|schedule|exhibit)\s+[A-Z0-9]`),
	regexp.MustCompile(`(?i)^article\s+[IVXLCDM\d]+`),
}

// Build scans text for headings and constructs the interval index.
// Intervals are contiguous and non-overlapping: each heading's end is the
// next heading's start, and the final heading runs to the end of the text.
// Text before the first heading belongs to no section.
func Build(text string) *Index {
	ix := &Index{
		byNumber: make(map[string]int),
		docLen:   len(text),
	}

	offset := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		trimmed := strings.TrimRight(line, "\n")
		if sec, ok := parseHeading(trimmed); ok {
			sec.Start = offset
			ix.sections = append(ix.sections, sec)
		}
		offset += len(line)
	}

	// Assign ends and index by number.
	for i := range ix.sections {
		if i+1 < len(ix.sections) {
			ix.sections[i].End = ix.sections[i+1].Start
		} else {
			ix.sections[i].End = len(text)
		}
		if n := ix.sections[i].Number; n != "" {
			if _, dup := ix.byNumber[n]; !dup {
				ix.byNumber[n] = i
			}
		}
	}

	return ix
}

// parseHeading classifies a single line. Numbered headings get a depth and
// parent derived from their number; unnumbered headings sit at depth 1.
func parseHeading(line string) (Section, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Section{}, false
	}

	if m := numberedHeading.FindStringSubmatch(trimmed); m != nil {
		number := strings.TrimSuffix(m[1], ".")
		return Section{
			Number: number,
			Title:  strings.TrimSpace(m[2]),
			Depth:  strings.Count(number, ".") + 1,
			Parent: parentNumber(number),
		}, true
	}

	for _, re := range unnumberedHeadings {
		if re.MatchString(trimmed) {
			return Section{
				Title: strings.TrimSpace(strings.TrimLeft(trimmed, "# ")),
				Depth: 1,
			}, true
		}
	}
	return Section{}, false
}

// parentNumber strips the last component: "4.3.18" -> "4.3", "4" -> "".
func parentNumber(number string) string {
	i := strings.LastIndex(number, ".")
	if i < 0 {
		return ""
	}
	return number[:i]
}

// Len returns the document length the index was built over.
func (ix *Index) Len() int {
	return ix.docLen
}

// Sections returns all sections in document order.
func (ix *Index) Sections() []Section {
	return ix.sections
}

// SectionFor returns the section whose interval contains pos. Positions
// before the first heading (or outside the document) report false.
func (ix *Index) SectionFor(pos int) (Section, bool) {
	if pos < 0 || pos >= ix.docLen || len(ix.sections) == 0 {
		return Section{}, false
	}

	// Binary search for the last section starting at or before pos.
	i := sort.Search(len(ix.sections), func(i int) bool {
		return ix.sections[i].Start > pos
	}) - 1
	if i < 0 {
		return Section{}, false
	}
	if pos >= ix.sections[i].End {
		return Section{}, false
	}
	return ix.sections[i], true
}

// Breadcrumb returns the chain of section titles from the outermost
// ancestor down to the section containing pos. The parent chain follows
// heading-number nesting ("4.3.18" -> "4.3" -> "4") and stops at the
// first number with no matching heading. Returns nil when pos falls
// before the first heading or outside the document.
func (ix *Index) Breadcrumb(pos int) []string {
	sec, ok := ix.SectionFor(pos)
	if !ok {
		return nil
	}

	titles := []string{headingLabel(sec)}
	for parent := sec.Parent; parent != ""; {
		i, ok := ix.byNumber[parent]
		if !ok {
			break
		}
		titles = append(titles, headingLabel(ix.sections[i]))
		parent = ix.sections[i].Parent
	}

	// Reverse to root-first order.
	for i, j := 0, len(titles)-1; i < j; i, j = i+1, j-1 {
		titles[i], titles[j] = titles[j], titles[i]
	}
	return titles
}

// headingLabel renders a section as "4.3 Payment Terms" or just the title
// for unnumbered headings.
func headingLabel(sec Section) string {
	if sec.Number == "" {
		return sec.Title
	}
	return sec.Number + " " + sec.Title
}
