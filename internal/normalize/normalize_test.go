package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLabel(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Gradient Descent", "gradient descent"},
		{"  Café   au\tlait ", "cafe au lait"},
		{"🚀 Launch Plan ✅", "launch plan"},
		{"Module: Week 1 – Intro", "module week 1 intro"},
		{"Naïve Bayes (NB)", "naive bayes nb"},
		{"C++/C#", "c c"},
		{"", ""},
		{"   \n\t ", ""},
		{"👍🏽", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Label(tt.in), "Label(%q)", tt.in)
	}
}

func TestLabelIdempotent(t *testing.T) {
	inputs := []string{
		"Gradient Descent", "Ünïcödé Çhärs", "🔥 hot-topic 🔥", "A  B\n\nC", "100% Done!",
		"ﬁnance ligature", "Ⅻ roman", "x²", "",
	}
	for _, in := range inputs {
		once := Label(in)
		assert.Equal(t, once, Label(once), "Label not idempotent for %q", in)
	}
}

func TestSingularize(t *testing.T) {
	tests := map[string]string{
		"studies":   "study",
		"classes":   "class",
		"boxes":     "box",
		"quizzes":   "quizz",
		"functions": "function",
		"class":     "class",
		"analysis":  "analysi",
		"s":         "s",
		"data":      "data",
	}
	for in, want := range tests {
		assert.Equal(t, want, Singularize(in), "Singularize(%q)", in)
	}
}

func TestSingularNormMergesPlural(t *testing.T) {
	assert.Equal(t, SingularNorm("regression function"), SingularNorm("regression functions"))
	assert.Equal(t, "gradient descent", SingularNorm("gradient descents"))
	assert.Equal(t, "", SingularNorm(""))
}

func TestKeys(t *testing.T) {
	assert.Nil(t, Keys(""))
	assert.Equal(t, []string{"graph"}, Keys("graph"))
	assert.Equal(t, []string{"graphs", "graph"}, Keys("graphs"))
}
