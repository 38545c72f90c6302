// Package retrieval grounds the response generator with ranked snippets
// from past conversations and industry knowledge.
package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Snippet is one retrievable unit of grounding text.
type Snippet struct {
	ID       string `json:"id" yaml:"id"`
	Industry string `json:"industry" yaml:"industry"`
	Topic    string `json:"topic" yaml:"topic"`
	Content  string `json:"content" yaml:"content"`
}

// Result pairs a snippet with its relevance score.
type Result struct {
	Snippet Snippet `json:"snippet"`
	Score   float64 `json:"score"`
}

// Retriever is the knowledge port the response generator consumes.
type Retriever interface {
	Retrieve(ctx context.Context, industry, topic string) ([]Result, error)
}

// Config tunes the BM25 ranking.
type Config struct {
	K1       float64 `yaml:"k1"`
	B        float64 `yaml:"b"`
	TopK     int     `yaml:"top_k"`
	MinScore float64 `yaml:"min_score"`
}

// DefaultConfig returns the standard BM25 parameters.
func DefaultConfig() Config {
	return Config{K1: 1.5, B: 0.75, TopK: 3, MinScore: 0.1}
}

// BM25Retriever ranks an in-memory snippet corpus with BM25. The corpus
// is indexed once and read-only afterwards, so retrieval is safe to call
// from concurrent sessions.
type BM25Retriever struct {
	cfg      Config
	snippets []Snippet

	docLens   []int
	avgDocLen float64
	idf       map[string]float64

	logger *zap.Logger
}

// NewBM25Retriever indexes the snippet corpus.
func NewBM25Retriever(cfg Config, snippets []Snippet, logger *zap.Logger) *BM25Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &BM25Retriever{
		cfg:      cfg,
		snippets: snippets,
		idf:      make(map[string]float64),
		logger:   logger.With(zap.String("component", "retriever")),
	}
	r.computeStats()
	r.logger.Info("snippet corpus indexed", zap.Int("count", len(snippets)))
	return r
}

// Retrieve returns the top snippets for the industry and topic, best
// first. An empty result is not an error; the generator degrades to
// template-only prompts.
func (r *BM25Retriever) Retrieve(ctx context.Context, industry, topic string) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	queryTerms := tokenize(industry + " " + topic)
	var results []Result

	for i, s := range r.snippets {
		// Industry acts as a hard filter when the snippet declares one.
		if s.Industry != "" && industry != "" && !strings.EqualFold(s.Industry, industry) {
			continue
		}
		score := r.score(queryTerms, i)
		if score >= r.cfg.MinScore {
			results = append(results, Result{Snippet: s, Score: score})
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > r.cfg.TopK {
		results = results[:r.cfg.TopK]
	}
	return results, nil
}

func (r *BM25Retriever) computeStats() {
	totalLen := 0
	termDocCount := make(map[string]int)
	r.docLens = make([]int, len(r.snippets))

	for i, s := range r.snippets {
		terms := tokenize(s.Topic + " " + s.Content)
		r.docLens[i] = len(terms)
		totalLen += len(terms)

		seen := make(map[string]bool)
		for _, term := range terms {
			if !seen[term] {
				termDocCount[term]++
				seen[term] = true
			}
		}
	}

	if len(r.snippets) > 0 {
		r.avgDocLen = float64(totalLen) / float64(len(r.snippets))
	}

	n := float64(len(r.snippets))
	for term, df := range termDocCount {
		r.idf[term] = math.Log((n-float64(df)+0.5)/(float64(df)+0.5) + 1.0)
	}
}

func (r *BM25Retriever) score(queryTerms []string, doc int) float64 {
	termFreq := make(map[string]int)
	for _, term := range tokenize(r.snippets[doc].Topic + " " + r.snippets[doc].Content) {
		termFreq[term]++
	}

	score := 0.0
	docLen := float64(r.docLens[doc])
	for _, q := range queryTerms {
		tf, ok := termFreq[q]
		if !ok {
			continue
		}
		idf := r.idf[q]
		numerator := float64(tf) * (r.cfg.K1 + 1.0)
		denominator := float64(tf) + r.cfg.K1*(1.0-r.cfg.B+r.cfg.B*(docLen/r.avgDocLen))
		score += idf * (numerator / denominator)
	}
	return score
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}
