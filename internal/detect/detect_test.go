package detect

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CanopyHQ/synapse/internal/graph"
	"github.com/CanopyHQ/synapse/internal/normalize"
)

type fakeCatalog []graph.Concept

func (f fakeCatalog) Concepts(ctx context.Context, sources ...graph.Source) ([]graph.Concept, error) {
	var out []graph.Concept
	for _, c := range f {
		for _, s := range sources {
			if c.Source == s {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

type fakeInferrer struct {
	reply string
	err   error
	calls int
	last  InferRequest
}

func (f *fakeInferrer) InferMentions(ctx context.Context, req InferRequest) (string, error) {
	f.calls++
	f.last = req
	return f.reply, f.err
}

func concept(id int64, label string, source graph.Source) graph.Concept {
	return graph.Concept{ID: id, Label: label, NormLabel: normalize.Label(label), Source: source}
}

func testCatalog() fakeCatalog {
	return fakeCatalog{
		concept(1, "Gradient Descent", graph.Domain),
		concept(2, "Linear Regression", graph.Domain),
		concept(3, "Stochastic Gradient Boosting Machines", graph.Domain),
		concept(4, "Backpropagation", graph.Domain),
		concept(5, "gradient descent", graph.Syllabus),
		concept(6, "Overfitting", graph.Syllabus),
		concept(7, "Personal Only", graph.Personal),
	}
}

func byNorm(hits []graph.Hit) map[string]graph.Hit {
	out := make(map[string]graph.Hit)
	for _, h := range hits {
		out[h.NormLabel] = h
	}
	return out
}

func TestDetect_exactHitAboveLearningThreshold(t *testing.T) {
	d := New(testCatalog(), nil, DefaultConfig(), nil)

	hits, err := d.Detect(context.Background(), "I learned about gradient descent today", "")
	require.NoError(t, err)

	h, ok := byNorm(hits)["gradient descent"]
	require.True(t, ok, "expected gradient descent hit, got %+v", hits)
	assert.GreaterOrEqual(t, h.Confidence, 0.55)
	assert.InDelta(t, 0.7, h.Confidence, 1e-9)
	assert.Equal(t, int64(1), h.ConceptID, "domain concept wins over syllabus duplicate")
	assert.Equal(t, "exact", h.Why)
}

func TestDetect_dedupesByNormalizedLabel(t *testing.T) {
	d := New(testCatalog(), nil, DefaultConfig(), nil)
	hits, err := d.Detect(context.Background(), "Gradient descent, gradient descent!", "")
	require.NoError(t, err)

	count := 0
	for _, h := range hits {
		if h.NormLabel == "gradient descent" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestDetect_aggressiveHeuristics(t *testing.T) {
	d := New(testCatalog(), nil, DefaultConfig(), nil)
	hits, err := d.Detect(context.Background(), "we compared boosting machines with stochastic methods; also backpropagations", "")
	require.NoError(t, err)
	got := byNorm(hits)

	partial, ok := got["stochastic gradient boosting machines"]
	require.True(t, ok, "3 of 4 long words present should be a partial hit")
	assert.InDelta(t, 0.60, partial.Confidence, 1e-9)
	assert.Equal(t, "partial", partial.Why)

	sub, ok := got["backpropagation"]
	require.True(t, ok, "label inside a longer word should be a substring hit")
	assert.InDelta(t, 0.55, sub.Confidence, 1e-9)
	assert.Equal(t, "substring", sub.Why)
}

func TestDetect_fuzzy(t *testing.T) {
	d := New(testCatalog(), nil, DefaultConfig(), nil)
	hits, err := d.Detect(context.Background(), "overfiting", "")
	require.NoError(t, err)
	h, ok := byNorm(hits)["overfitting"]
	require.True(t, ok, "typo should match fuzzily: %+v", hits)
	assert.Equal(t, "fuzzy", h.Why)
	assert.InDelta(t, 0.55, h.Confidence, 1e-9)
}

func TestDetect_conservativeOnlyExact(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = Conservative
	inf := &fakeInferrer{reply: `[{"label":"Overfitting","confidence":0.9}]`}
	d := New(testCatalog(), inf, cfg, nil)

	hits, err := d.Detect(context.Background(), "gradient descent and backpropagations", "")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "gradient descent", hits[0].NormLabel)
	assert.InDelta(t, 0.6, hits[0].Confidence, 1e-9)
	assert.Zero(t, inf.calls, "inference is only a fallback in conservative mode")

	hits, err = d.Detect(context.Background(), "models that memorize training data", "")
	require.NoError(t, err)
	assert.Equal(t, 1, inf.calls)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(6), hits[0].ConceptID)
	assert.Equal(t, 0.9, hits[0].Confidence)
}

func TestDetect_conservativeFallbackFiltersLowConfidence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = Conservative
	inf := &fakeInferrer{reply: `[{"label":"Overfitting","confidence":0.3}]`}
	d := New(testCatalog(), inf, cfg, nil)

	hits, err := d.Detect(context.Background(), "nothing obvious here", "")
	require.NoError(t, err)
	assert.Empty(t, hits, "no floor in conservative mode, so 0.3 is dropped")
}

func TestDetect_aggressiveMergesInference(t *testing.T) {
	inf := &fakeInferrer{reply: "Sure! Here you go:\n```json\n" +
		`[{"label":"gradient descent","confidence":0.95,"why":"named"},` +
		`{"label":"Overfitting","confidence":0.2,"why":"hinted"},` +
		`{"label":"Linear Regression","why":"no confidence given"},` +
		`{"label":"Not In Catalog","confidence":1}]` + "\n```"}
	d := New(testCatalog(), inf, DefaultConfig(), nil)

	hits, err := d.Detect(context.Background(), "gradient descent again", "ml")
	require.NoError(t, err)
	got := byNorm(hits)

	assert.Equal(t, "exact", got["gradient descent"].Why, "exact hit wins over inference")
	assert.InDelta(t, 0.7, got["gradient descent"].Confidence, 1e-9)
	assert.InDelta(t, 0.55, got["overfitting"].Confidence, 1e-9, "positive confidence floored at threshold")
	assert.InDelta(t, 0.6, got["linear regression"].Confidence, 1e-9, "missing confidence defaults to 0.6")
	assert.NotContains(t, got, "not in catalog")

	assert.Equal(t, "ml", inf.last.TopicHint)
	assert.Equal(t, Aggressive, inf.last.Mode)
	assert.Len(t, inf.last.Labels, 6, "personal concepts are never part of the catalog")
}

func TestDetect_unparseableConfidenceDropped(t *testing.T) {
	inf := &fakeInferrer{reply: `[{"label":"Overfitting","confidence":"high"},` +
		`{"label":"Backpropagation","confidence":true},` +
		`{"label":"Linear Regression"}]`}
	d := New(testCatalog(), inf, DefaultConfig(), nil)

	hits, err := d.Detect(context.Background(), "hello there", "")
	require.NoError(t, err)
	got := byNorm(hits)
	assert.NotContains(t, got, "overfitting")
	assert.NotContains(t, got, "backpropagation")
	assert.InDelta(t, 0.6, got["linear regression"].Confidence, 1e-9)
}

func TestInferItemConfidence(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   interface{}
		want float64
	}{
		{"missing", nil, 0.6},
		{"number", 0.8, 0.8},
		{"numeric string", " 0.75 ", 0.75},
		{"word", "high", 0},
		{"nan string", "NaN", 0},
		{"infinite", "Inf", 0},
		{"bool", true, 0},
		{"above one", 3.0, 1},
		{"negative", "-2", 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, inferItem{Confidence: tc.in}.confidence(), 1e-9)
		})
	}
}

func TestDetect_inferenceFailuresAreAbsorbed(t *testing.T) {
	for name, inf := range map[string]*fakeInferrer{
		"transport": {err: errors.New("connection refused")},
		"garbage":   {reply: "I could not find any"},
		"bad json":  {reply: `[{"label": }]`},
	} {
		t.Run(name, func(t *testing.T) {
			d := New(testCatalog(), inf, DefaultConfig(), nil)
			hits, err := d.Detect(context.Background(), "gradient descent", "")
			require.NoError(t, err)
			require.Len(t, hits, 1)
			assert.Equal(t, "gradient descent", hits[0].NormLabel)
		})
	}
}

func TestDetect_inferenceLabelCap(t *testing.T) {
	var big fakeCatalog
	for i := 0; i < 700; i++ {
		big = append(big, concept(int64(i+1), "topic "+strings.Repeat("x", i%7)+string(rune('a'+i%26))+string(rune('a'+i/26)), graph.Domain))
	}
	inf := &fakeInferrer{reply: "[]"}
	d := New(big, inf, DefaultConfig(), nil)
	_, err := d.Detect(context.Background(), "hello", "")
	require.NoError(t, err)
	assert.Len(t, inf.last.Labels, 500)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Conservative")
	require.NoError(t, err)
	assert.Equal(t, Conservative, m)
	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, Aggressive, m)
	_, err = ParseMode("yolo")
	assert.Error(t, err)
}

func TestLCSRatio(t *testing.T) {
	assert.Equal(t, 1.0, lcsRatio("", "", 0))
	assert.InDelta(t, 10.0/11.0, lcsRatio("overfitting", "overfiting", 0), 1e-9)
	assert.Zero(t, lcsRatio("abc", "abcdefghijkl", 0), "length ratio rules out a match")
	assert.Zero(t, lcsRatio("overfitting", "overfiting", 50), "cell budget exceeded")
	assert.Equal(t, 3, lcsLen("abcde", "ace"))
}

func TestPartialMatch(t *testing.T) {
	assert.False(t, partialMatch("single", "single word"))
	assert.True(t, partialMatch("neural network training", "training a neural net"))
	assert.False(t, partialMatch("a of b", "a of b"), "short words never count")
}
