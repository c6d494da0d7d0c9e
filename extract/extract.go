// Package extract defines the extraction oracle contract: the category
// schemas handed to the oracle and the candidate spans it returns. The
// engine treats the oracle as an external collaborator that may fail or
// return low-quality results; nothing here validates extraction quality.
package extract

import "context"

// Category describes one extraction category: its name, the small set of
// attributes (at most 3) the oracle should fill per span, and
// a handful of worked examples included in the prompt.
type Category struct {
	Name       string    `json:"name"`
	Attributes []string  `json:"attributes"`
	Examples   []Example `json:"examples,omitempty"`
}

// Example is a worked extraction example for prompting.
type Example struct {
	Text       string      `json:"text"`
	Candidates []Candidate `json:"candidates"`
}

// Candidate is one extracted entity span. Start/End are byte offsets
// into the source document (half-open), the same unit section intervals
// use; HasInterval is false when the oracle could not locate the span.
type Candidate struct {
	Class       string            `json:"class"`
	Text        string            `json:"text"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Start       int               `json:"char_start"`
	End         int               `json:"char_end"`
	HasInterval bool              `json:"has_interval"`
}

// EntityRef names a participating entity by its category and span text,
// from which the stored entity identifier is derivable.
type EntityRef struct {
	Category string `json:"category"`
	Text     string `json:"text"`
}

// Relationship is one extracted relationship. Text is the verbatim
// grounding quote and must never be paraphrased or discarded.
type Relationship struct {
	Text        string      `json:"text"`
	Entities    []EntityRef `json:"entities,omitempty"`
	Structure   string      `json:"structure,omitempty"`
	Confidence  float64     `json:"confidence"`
	Start       int         `json:"char_start"`
	End         int         `json:"char_end"`
	HasInterval bool        `json:"has_interval"`
}

// Oracle produces candidate spans for one category over a full document.
// workers bounds the oracle's internal parallelism and is passed through
// from the pipeline caller unchanged.
type Oracle interface {
	ExtractEntities(ctx context.Context, text string, cat Category, workers int) ([]Candidate, error)
	ExtractRelationships(ctx context.Context, text string, workers int) ([]Relationship, error)
}

// RelationshipsCategory is the run-state category name used for the
// relationship extraction stage.
const RelationshipsCategory = "relationships"

// Default category names.
const (
	CategoryConcept            = "concept"
	CategoryActor              = "actor"
	CategoryProcedure          = "procedure"
	CategoryDeadline           = "deadline"
	CategoryDocument           = "document"
	CategoryConsequence        = "consequence"
	CategoryStatutoryReference = "statutory-reference"
)

// DefaultCategories returns the standard legal extraction categories with
// their attribute lists and prompt examples.
func DefaultCategories() []Category {
	return []Category{
		{
			Name:       CategoryConcept,
			Attributes: []string{"definition", "domain"},
			Examples: []Example{{
				Text: `"Insolvency" means the inability of a party to pay its debts as they fall due.`,
				Candidates: []Candidate{{
					Class: CategoryConcept,
					Text:  "Insolvency",
					Attributes: map[string]string{
						"definition": "inability of a party to pay its debts as they fall due",
						"domain":     "insolvency law",
					},
				}},
			}},
		},
		{
			Name:       CategoryActor,
			Attributes: []string{"role", "obligation"},
			Examples: []Example{{
				Text: "The Contractor shall notify the Employer within 14 days of becoming aware of the event.",
				Candidates: []Candidate{{
					Class: CategoryActor,
					Text:  "Contractor",
					Attributes: map[string]string{
						"role":       "performing party",
						"obligation": "notify the Employer within 14 days",
					},
				}},
			}},
		},
		{
			Name:       CategoryProcedure,
			Attributes: []string{"trigger", "outcome"},
			Examples: []Example{{
				Text: "Upon receipt of a claim notice, the Engineer shall respond with approval or detailed comments.",
				Candidates: []Candidate{{
					Class: CategoryProcedure,
					Text:  "the Engineer shall respond with approval or detailed comments",
					Attributes: map[string]string{
						"trigger": "receipt of a claim notice",
						"outcome": "approval or detailed comments",
					},
				}},
			}},
		},
		{
			Name:       CategoryDeadline,
			Attributes: []string{"duration", "consequence_if_missed"},
			Examples: []Example{{
				Text: "Notice shall be given not later than 28 days after the Contractor became aware of the event, failing which the claim lapses.",
				Candidates: []Candidate{{
					Class: CategoryDeadline,
					Text:  "not later than 28 days after the Contractor became aware",
					Attributes: map[string]string{
						"duration":              "28 days",
						"consequence_if_missed": "the claim lapses",
					},
				}},
			}},
		},
		{
			Name:       CategoryDocument,
			Attributes: []string{"purpose", "issuer"},
			Examples: []Example{{
				Text: "The Taking-Over Certificate shall be issued by the Engineer when the Works are complete.",
				Candidates: []Candidate{{
					Class: CategoryDocument,
					Text:  "Taking-Over Certificate",
					Attributes: map[string]string{
						"purpose": "records completion of the Works",
						"issuer":  "the Engineer",
					},
				}},
			}},
		},
		{
			Name:       CategoryConsequence,
			Attributes: []string{"condition", "effect"},
			Examples: []Example{{
				Text: "If the Contractor fails to remedy the defect, the Employer may terminate the Contract.",
				Candidates: []Candidate{{
					Class: CategoryConsequence,
					Text:  "the Employer may terminate the Contract",
					Attributes: map[string]string{
						"condition": "the Contractor fails to remedy the defect",
						"effect":    "termination of the Contract",
					},
				}},
			}},
		},
		{
			Name:       CategoryStatutoryReference,
			Attributes: []string{"instrument", "provision"},
			Examples: []Example{{
				Text: "This agreement is governed by Section 44 of the Arbitration Act 1996.",
				Candidates: []Candidate{{
					Class: CategoryStatutoryReference,
					Text:  "Section 44 of the Arbitration Act 1996",
					Attributes: map[string]string{
						"instrument": "Arbitration Act 1996",
						"provision":  "Section 44",
					},
				}},
			}},
		},
	}
}

// CategoryByName looks up one of the default categories.
func CategoryByName(name string) (Category, bool) {
	for _, c := range DefaultCategories() {
		if c.Name == name {
			return c, true
		}
	}
	return Category{}, false
}
