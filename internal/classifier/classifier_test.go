package classifier

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordSafety flags any text containing one of its words.
type wordSafety []string

func (w wordSafety) IsProfane(s string) bool {
	lower := strings.ToLower(s)
	for _, word := range w {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := New(DefaultRules(), wordSafety{"badword"}, nil)
	require.NoError(t, err)
	return c
}

func TestClassify(t *testing.T) {
	c := newTestClassifier(t)

	tests := []struct {
		name      string
		fragments []Fragment
		accepted  bool
		priority  int64
	}{
		{
			name:      "empty input",
			fragments: nil,
		},
		{
			name:      "topic only",
			fragments: []Fragment{Post("rust")},
		},
		{
			name:      "topic without form",
			fragments: []Fragment{Post("just a random rust mention")},
		},
		{
			name:      "form only",
			fragments: []Fragment{Post("new blog post about gardening")},
		},
		{
			name:      "deep dive tutorial",
			fragments: []Fragment{Post("Here's a deep dive tutorial on Rust embedded dev")},
			accepted:  true,
			priority:  40,
		},
		{
			name:      "blog in body",
			fragments: []Fragment{Post("Welcome to the rust blog programming language blog!")},
			accepted:  true,
			priority:  40,
		},
		{
			name:      "topic in body form in image",
			fragments: []Fragment{Post("Playing with an ESP32 today"), Image("step one of the guide")},
			accepted:  true,
			priority:  10 + 30,
		},
		{
			name:      "topic in image form in body",
			fragments: []Fragment{Post("Read my new article"), Image("a Linux terminal")},
			accepted:  true,
			priority:  30 + 15,
		},
		{
			name:      "video weights",
			fragments: []Fragment{Post("look at this"), Video("Arduino tutorial")},
			accepted:  true,
			priority:  15 + 15,
		},
		{
			name:      "external link weights",
			fragments: []Fragment{Post("worth a read"), External("Writing a compiler"), External("a long explainer")},
			accepted:  true,
			priority:  15 + 30,
		},
		{
			name:      "signals across three fragments",
			fragments: []Fragment{Post("nothing here"), External("Python"), External("nothing"), Image("the guide")},
			accepted:  true,
			priority:  15 + 30,
		},
		{
			name:      "denylist rejects",
			fragments: []Fragment{Post("Rust tutorial about government software")},
		},
		{
			name:      "denylist in later fragment rejects",
			fragments: []Fragment{Post("Rust"), Image("Elon"), External("tutorial")},
		},
		{
			name:      "keywords are case insensitive",
			fragments: []Fragment{Post("a PYTHON THREAD")},
			accepted:  true,
			priority:  40,
		},
		{
			name:      "keywords need word boundaries",
			fragments: []Fragment{Post("trusted blogger")},
		},
		{
			name:      "thread emoji counts as form",
			fragments: []Fragment{Post("Kernel scheduling 🧵")},
			accepted:  true,
			priority:  40,
		},
		{
			name:      "punctuated topic keyword",
			fragments: []Fragment{Post("Modern C++ guide")},
			accepted:  true,
			priority:  40,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scoring, ok := c.Classify(tt.fragments)
			assert.Equal(t, tt.accepted, ok)
			if tt.accepted {
				assert.Equal(t, Scoring{Priority: tt.priority}, scoring)
			} else {
				assert.Equal(t, Scoring{}, scoring)
			}
		})
	}
}

func TestClassifySafetyPrecedence(t *testing.T) {
	c := newTestClassifier(t)

	tests := []struct {
		name      string
		fragments []Fragment
	}{
		{"unsafe body", []Fragment{Post("badword rust tutorial")}},
		{"unsafe image after topic", []Fragment{Post("rust"), Image("badword")}},
		{"unsafe external", []Fragment{Post("python"), External("badword link")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := c.Classify(tt.fragments)
			assert.False(t, ok)
		})
	}
}

func TestClassifyStopsAtAcceptance(t *testing.T) {
	c := newTestClassifier(t)

	// The unsafe fragment comes after acceptance and is never scanned.
	scoring, ok := c.Classify([]Fragment{Post("Rust tutorial"), Image("badword")})
	require.True(t, ok)
	assert.Equal(t, int64(40), scoring.Priority)
}

func TestClassifyLogsPossibleFalsePositive(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	c, err := New(DefaultRules(), wordSafety{"badword"}, logger)
	require.NoError(t, err)

	_, ok := c.Classify([]Fragment{Post("badword in my Rust code")})
	assert.False(t, ok)
	assert.Contains(t, buf.String(), "possible false positive")

	buf.Reset()
	_, ok = c.Classify([]Fragment{Post("badword and nothing else")})
	assert.False(t, ok)
	assert.Empty(t, buf.String())
}

func TestClassifyWithDefaultSafetyChecker(t *testing.T) {
	c, err := New(DefaultRules(), nil, nil)
	require.NoError(t, err)

	scoring, ok := c.Classify([]Fragment{Post("Here's a deep dive tutorial on Rust embedded dev")})
	require.True(t, ok)
	assert.Equal(t, int64(40), scoring.Priority)

	_, ok = c.Classify([]Fragment{Post("fuck this Rust tutorial")})
	assert.False(t, ok)
}

func TestClassifyAcceptsTechWordsWithDefaultSafetyChecker(t *testing.T) {
	c, err := New(DefaultRules(), nil, nil)
	require.NoError(t, err)

	for _, text := range []string{
		"A thread on assembly programming for the Pico",
		"Writing an assembler in Rust, a tutorial",
		"Asset pipelines for Arduino projects, a blog post",
	} {
		_, ok := c.Classify([]Fragment{Post(text)})
		assert.True(t, ok, text)
	}

	_, ok := c.Classify([]Fragment{Post("assembly thread on Rust, what an ass")})
	assert.False(t, ok)
}

func TestNewRejectsInvalidRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *Rules)
	}{
		{"no topic keywords", func(r *Rules) { r.Topic = nil }},
		{"no form keywords", func(r *Rules) { r.Form = nil }},
		{"blank form keywords", func(r *Rules) { r.Form = []string{" ", ""} }},
		{"negative topic weight", func(r *Rules) { r.Weights.Topic.Image = -1 }},
		{"negative form weight", func(r *Rules) { r.Weights.Form.Post = -5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules := DefaultRules()
			tt.mutate(&rules)
			_, err := New(rules, wordSafety{}, nil)
			assert.Error(t, err)
		})
	}
}

func TestNewAllowsEmptyDenylist(t *testing.T) {
	rules := DefaultRules()
	rules.Denylist = nil

	c, err := New(rules, wordSafety{}, nil)
	require.NoError(t, err)

	_, ok := c.Classify([]Fragment{Post("Rust tutorial about government software")})
	assert.True(t, ok)
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := `
denylist:
  - crypto
weights:
  form:
    post: 50
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	rules, err := LoadRules(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"crypto"}, rules.Denylist)
	assert.Equal(t, DefaultRules().Topic, rules.Topic)
	assert.Equal(t, int64(50), rules.Weights.Form.Post)
	assert.Equal(t, int64(30), rules.Weights.Form.Image)
	assert.Equal(t, int64(10), rules.Weights.Topic.Post)

	c, err := New(rules, wordSafety{}, nil)
	require.NoError(t, err)

	scoring, ok := c.Classify([]Fragment{Post("Rust tutorial")})
	require.True(t, ok)
	assert.Equal(t, int64(60), scoring.Priority)

	_, ok = c.Classify([]Fragment{Post("Rust tutorial on crypto")})
	assert.False(t, ok)
}

func TestLoadRulesErrors(t *testing.T) {
	_, err := LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("topic: [unclosed"), 0o600))
	_, err = LoadRules(path)
	assert.Error(t, err)
}
