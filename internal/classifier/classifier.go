// Package classifier decides whether a post belongs in the feed and how
// highly it should rank.
//
// A post is accepted once its fragments, scanned in order, show both that it
// is about tech (topic) and that it is a longer write-up such as a thread,
// blog post or tutorial (form). Any fragment that is profane or hits the
// denylist rejects the whole post.
package classifier

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	goaway "github.com/TwiN/go-away"
)

// SafetyChecker flags inappropriate text.
type SafetyChecker interface {
	IsProfane(s string) bool
}

// techFalsePositives are word stems common in programming posts that the
// stock dictionary matches as profanity ("assembly" contains "ass").
var techFalsePositives = []string{
	"assembl", // assembly, assembler, assemble
	"assess",
	"asset",
	"analog",
	"cockpit",
	"cocoon",
	"raccoon",
	"tycoon",
	"therapist",
}

// NewSafetyChecker returns a profanity detector using the stock dictionary
// extended with techFalsePositives.
func NewSafetyChecker() SafetyChecker {
	return goaway.NewProfanityDetector().WithCustomDictionary(
		goaway.DefaultProfanities,
		slices.Concat(goaway.DefaultFalsePositives, techFalsePositives),
		goaway.DefaultFalseNegatives,
	)
}

// Classifier scores post fragments against a set of rules. It holds no
// mutable state and is safe for concurrent use.
type Classifier struct {
	rules  *compiledRules
	safety SafetyChecker
	logger *slog.Logger
}

// New compiles the rules into a Classifier. A nil safety checker falls back
// to NewSafetyChecker and a nil logger discards output.
func New(rules Rules, safety SafetyChecker, logger *slog.Logger) (*Classifier, error) {
	compiled, err := rules.compile()
	if err != nil {
		return nil, fmt.Errorf("compile rules: %w", err)
	}
	if safety == nil {
		safety = NewSafetyChecker()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Classifier{
		rules:  compiled,
		safety: safety,
		logger: logger,
	}, nil
}

// Classify scans fragments in order and returns the scoring and true as soon
// as both the topic and form signals have been seen. Fragments after that
// point are never looked at. It returns false when the post is rejected or
// the fragments run out first.
func (c *Classifier) Classify(fragments []Fragment) (Scoring, bool) {
	var (
		score     int64
		fitsTopic bool
		hasForm   bool
	)

	for _, f := range fragments {
		if c.safety.IsProfane(f.Text) {
			if c.rules.topic.MatchString(f.Text) {
				c.logger.Info("possible false positive in safety check",
					"kind", f.Kind.String(),
					"text", f.Text,
				)
			}
			return Scoring{}, false
		}

		if c.rules.denylist != nil && c.rules.denylist.MatchString(f.Text) {
			return Scoring{}, false
		}

		if c.rules.topic.MatchString(f.Text) {
			score += c.rules.weights.Topic.For(f.Kind)
			fitsTopic = true
		}

		if c.rules.form.MatchString(f.Text) {
			score += c.rules.weights.Form.For(f.Kind)
			hasForm = true
		}

		if fitsTopic && hasForm {
			return Scoring{Priority: score}, true
		}
	}

	return Scoring{}, false
}
