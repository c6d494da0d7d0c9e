package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/brunobiangulo/lexkb/llm"
)

// defaultWorkers bounds parallel chunk extraction when the caller passes 0.
const defaultWorkers = 8

// maxChunkChars caps how much document text goes into one oracle call.
const maxChunkChars = 6000

// perChunkTimeout caps how long a single chunk extraction can take.
const perChunkTimeout = 90 * time.Second

// entityPrompt asks for one category at a time. Attribute lists and worked
// examples come from the Category definition, so the prompt stays small
// enough for local models.
const entityPrompt = `You are an extraction engine for legal and contractual documents.
Extract every span of the category %q from the text below.

For each span fill exactly these attributes: %s.
Leave an attribute empty when the text does not support it.

Return a JSON object with exactly one key:
  "candidates" : array of {"text": string, "attributes": {attribute: string}}

Rules:
- "text" must be quoted VERBATIM from the input text.
- Only include spans clearly supported by the text.
- If there are none, return an empty array.
- Do NOT include any text outside the JSON object.
%s
TEXT:
%s`

// relationshipPrompt asks for relationships between spans. The grounding
// quote is the load-bearing field; participants are named loosely and
// resolved against stored entities later.
const relationshipPrompt = `You are a relationship extraction engine for legal and contractual documents.
Find statements in the text that connect two or more legal entities, actors,
deadlines, documents, or statutory references.

Return a JSON object with exactly one key:
  "relationships" : array of
    {"text": string, "entities": [{"category": string, "text": string}],
     "structure": string, "confidence": number}

Rules:
- "text" must be the VERBATIM sentence or clause stating the relationship. Never paraphrase.
- "structure" is a short label such as "obligation", "condition", "reference", "definition".
- "confidence" is a float between 0.0 and 1.0.
- Only include relationships clearly supported by the text.
- If there are none, return an empty array.
- Do NOT include any text outside the JSON object.

TEXT:
%s`

// LLMOracle implements Oracle on top of an llm.Provider. One call per
// (chunk, category); chunks are processed in parallel up to the worker
// bound the pipeline passes through.
type LLMOracle struct {
	provider llm.Provider
}

// NewLLMOracle creates an oracle backed by the given provider.
func NewLLMOracle(p llm.Provider) *LLMOracle {
	return &LLMOracle{provider: p}
}

// chunk is a window of document text with its absolute start offset in
// bytes.
type chunk struct {
	text   string
	offset int
}

// splitChunks cuts text into windows of at most maxChunkChars, preferring
// paragraph boundaries so spans are not cut mid-sentence. Offsets are
// absolute so candidate intervals can be grounded in the full document.
func splitChunks(text string) []chunk {
	var chunks []chunk
	offset := 0
	for len(text) > 0 {
		if len(text) <= maxChunkChars {
			chunks = append(chunks, chunk{text: text, offset: offset})
			break
		}
		cut := strings.LastIndex(text[:maxChunkChars], "\n\n")
		if cut <= 0 {
			cut = strings.LastIndex(text[:maxChunkChars], "\n")
		}
		if cut <= 0 {
			cut = maxChunkChars
		}
		chunks = append(chunks, chunk{text: text[:cut], offset: offset})
		text = text[cut:]
		offset += cut
	}
	return chunks
}

// ExtractEntities runs the category prompt over every chunk and merges the
// candidates. A failed chunk fails the whole category; the pipeline records
// it and retries the category on the next run.
func (o *LLMOracle) ExtractEntities(ctx context.Context, text string, cat Category, workers int) ([]Candidate, error) {
	results, err := forEachChunk(ctx, text, workers, func(ctx context.Context, ck chunk) ([]Candidate, error) {
		return o.extractChunkEntities(ctx, ck, cat)
	})
	if err != nil {
		return nil, fmt.Errorf("category %s: %w", cat.Name, err)
	}
	return results, nil
}

// ExtractRelationships runs the relationship prompt over every chunk.
func (o *LLMOracle) ExtractRelationships(ctx context.Context, text string, workers int) ([]Relationship, error) {
	return forEachChunk(ctx, text, workers, o.extractChunkRelationships)
}

// forEachChunk fans chunk extraction out over a bounded worker set and
// concatenates per-chunk results in chunk order.
func forEachChunk[T any](ctx context.Context, text string, workers int, fn func(context.Context, chunk) ([]T, error)) ([]T, error) {
	chunks := splitChunks(text)
	if len(chunks) == 0 {
		return nil, nil
	}
	if workers <= 0 {
		workers = defaultWorkers
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		sem     = make(chan struct{}, workers)
		perCk   = make([][]T, len(chunks))
		firstErr error
	)

	for i, ck := range chunks {
		wg.Add(1)
		go func(i int, ck chunk) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				mu.Lock()
				if firstErr == nil {
					firstErr = ctx.Err()
				}
				mu.Unlock()
				return
			}

			chunkCtx, cancel := context.WithTimeout(ctx, perChunkTimeout)
			defer cancel()

			out, err := fn(chunkCtx, ck)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("chunk at offset %d: %w", ck.offset, err)
				}
				return
			}
			perCk[i] = out
		}(i, ck)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	var all []T
	for _, out := range perCk {
		all = append(all, out...)
	}
	return all, nil
}

// chunkEntityResult is the JSON shape of an entity extraction response.
type chunkEntityResult struct {
	Candidates []struct {
		Text       string            `json:"text"`
		Attributes map[string]string `json:"attributes"`
	} `json:"candidates"`
}

func (o *LLMOracle) extractChunkEntities(ctx context.Context, ck chunk, cat Category) ([]Candidate, error) {
	resp, err := o.provider.Complete(ctx, llm.CompletionRequest{
		Prompt:      fmt.Sprintf(entityPrompt, cat.Name, strings.Join(cat.Attributes, ", "), examplesSection(cat), ck.text),
		Temperature: 0.0,
		JSONMode:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("entity extraction completion: %w", err)
	}

	jsonStr, err := extractJSON(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parsing entity extraction result: %w", err)
	}

	var result chunkEntityResult
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return nil, fmt.Errorf("unmarshalling entity extraction result: %w", err)
	}

	cands := make([]Candidate, 0, len(result.Candidates))
	for _, c := range result.Candidates {
		text := strings.TrimSpace(c.Text)
		if text == "" {
			continue
		}
		cand := Candidate{Class: cat.Name, Text: text, Attributes: c.Attributes}
		cand.Start, cand.End, cand.HasInterval = locateSpan(ck, text)
		cands = append(cands, cand)
	}
	return cands, nil
}

// chunkRelationshipResult is the JSON shape of a relationship response.
type chunkRelationshipResult struct {
	Relationships []struct {
		Text       string      `json:"text"`
		Entities   []EntityRef `json:"entities"`
		Structure  string      `json:"structure"`
		Confidence float64     `json:"confidence"`
	} `json:"relationships"`
}

func (o *LLMOracle) extractChunkRelationships(ctx context.Context, ck chunk) ([]Relationship, error) {
	resp, err := o.provider.Complete(ctx, llm.CompletionRequest{
		Prompt:      fmt.Sprintf(relationshipPrompt, ck.text),
		Temperature: 0.0,
		JSONMode:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("relationship extraction completion: %w", err)
	}

	jsonStr, err := extractJSON(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parsing relationship extraction result: %w", err)
	}

	var result chunkRelationshipResult
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return nil, fmt.Errorf("unmarshalling relationship extraction result: %w", err)
	}

	rels := make([]Relationship, 0, len(result.Relationships))
	for _, r := range result.Relationships {
		text := strings.TrimSpace(r.Text)
		if text == "" {
			continue
		}
		rel := Relationship{
			Text:       text,
			Entities:   r.Entities,
			Structure:  r.Structure,
			Confidence: r.Confidence,
		}
		rel.Start, rel.End, rel.HasInterval = locateSpan(ck, text)
		rels = append(rels, rel)
	}
	return rels, nil
}

// locateSpan grounds a verbatim span in the document by searching the
// chunk it came from, returning byte offsets into the full document.
// Models sometimes normalise whitespace or casing; a miss just means the
// span is stored without positional context.
func locateSpan(ck chunk, span string) (start, end int, ok bool) {
	i := strings.Index(ck.text, span)
	if i < 0 {
		i = strings.Index(strings.ToLower(ck.text), strings.ToLower(span))
	}
	if i < 0 {
		slog.Debug("extract: span not located in chunk", "span_len", len(span), "chunk_offset", ck.offset)
		return 0, 0, false
	}
	return ck.offset + i, ck.offset + i + len(span), true
}

// examplesSection renders a category's worked examples for the prompt.
func examplesSection(cat Category) string {
	if len(cat.Examples) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\nEXAMPLES:\n")
	for _, ex := range cat.Examples {
		out := chunkEntityResult{}
		for _, c := range ex.Candidates {
			out.Candidates = append(out.Candidates, struct {
				Text       string            `json:"text"`
				Attributes map[string]string `json:"attributes"`
			}{Text: c.Text, Attributes: c.Attributes})
		}
		outJSON, _ := json.Marshal(out)
		fmt.Fprintf(&b, "\nInput: %s\nOutput:\n%s\n", ex.Text, outJSON)
	}
	return b.String()
}

// codeBlockRe strips markdown code fences from model output.
var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// extractJSON finds a JSON object in model response text, tolerating
// markdown fences and prose before or after the object.
func extractJSON(raw string) (string, error) {
	if m := codeBlockRe.FindStringSubmatch(raw); len(m) > 1 {
		raw = m[1]
	}

	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		return raw, nil
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1], nil
	}
	return "", fmt.Errorf("no JSON object found in response")
}
