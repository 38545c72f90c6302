package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCorpus() []Snippet {
	return []Snippet{
		{ID: "s1", Industry: "solar", Topic: "price objection",
			Content: "When price comes up, lead with the zero upfront cost and monthly savings comparison."},
		{ID: "s2", Industry: "solar", Topic: "appointment booking",
			Content: "Offer two concrete time windows rather than an open-ended question."},
		{ID: "s3", Industry: "hvac", Topic: "price objection",
			Content: "Seasonal maintenance plans spread the cost across the year."},
		{ID: "s4", Industry: "solar", Topic: "roof condition qualifying",
			Content: "Ask about roof age before promising an installation timeline."},
	}
}

func TestBM25Retriever_RankedRetrieval(t *testing.T) {
	t.Parallel()
	r := NewBM25Retriever(DefaultConfig(), testCorpus(), nil)

	results, err := r.Retrieve(context.Background(), "solar", "price objection")
	require.NoError(t, err)
	require.NotEmpty(t, results)

	assert.Equal(t, "s1", results[0].Snippet.ID)
	for _, res := range results {
		assert.Equal(t, "solar", res.Snippet.Industry, "industry filter leaked")
	}
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i].Score, results[i-1].Score, "results not sorted")
	}
}

func TestBM25Retriever_TopKLimit(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.TopK = 1
	cfg.MinScore = 0
	r := NewBM25Retriever(cfg, testCorpus(), nil)

	results, err := r.Retrieve(context.Background(), "solar", "price appointment roof")
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestBM25Retriever_NoMatchIsEmptyNotError(t *testing.T) {
	t.Parallel()
	r := NewBM25Retriever(DefaultConfig(), testCorpus(), nil)

	results, err := r.Retrieve(context.Background(), "plumbing", "zzzquery")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBM25Retriever_EmptyCorpus(t *testing.T) {
	t.Parallel()
	r := NewBM25Retriever(DefaultConfig(), nil, nil)

	results, err := r.Retrieve(context.Background(), "solar", "price")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBM25Retriever_CancelledContext(t *testing.T) {
	t.Parallel()
	r := NewBM25Retriever(DefaultConfig(), testCorpus(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Retrieve(ctx, "solar", "price")
	assert.Error(t, err)
}
