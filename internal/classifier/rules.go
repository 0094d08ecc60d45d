package classifier

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// KindWeights assigns a score to each fragment kind.
type KindWeights struct {
	Post     int64 `yaml:"post"`
	Image    int64 `yaml:"image"`
	Video    int64 `yaml:"video"`
	External int64 `yaml:"external"`
}

// For returns the weight for the given kind.
func (w KindWeights) For(k Kind) int64 {
	switch k {
	case KindPost:
		return w.Post
	case KindImage:
		return w.Image
	case KindVideo:
		return w.Video
	case KindExternal:
		return w.External
	default:
		return 0
	}
}

func (w KindWeights) validate() error {
	if w.Post < 0 || w.Image < 0 || w.Video < 0 || w.External < 0 {
		return fmt.Errorf("weights must not be negative")
	}
	return nil
}

// Weights holds the per-kind scores for the topic and narrative form signals.
type Weights struct {
	Topic KindWeights `yaml:"topic"`
	Form  KindWeights `yaml:"form"`
}

// Rules describes what the classifier looks for. Every list is a set of
// keywords matched case-insensitively on word boundaries.
type Rules struct {
	// Topic keywords mark a post as on-topic tech jargon.
	Topic []string `yaml:"topic"`

	// Form keywords mark a post as a write-up: a thread, blog post, tutorial
	// and so on.
	Form []string `yaml:"form"`

	// Denylist keywords reject a post outright.
	Denylist []string `yaml:"denylist"`

	Weights Weights `yaml:"weights"`
}

// DefaultRules returns the built-in rules for the tech threads feed.
func DefaultRules() Rules {
	return Rules{
		Topic: []string{
			"Rust", "C++", "cpp", "js", "c#", "swift", "dotnet", "php", "Python", "JavaScript",
			"RustLang", "Embedded dev", "Microcontroller", "IoT", "Arduino", "RaspberryPi",
			"Programming", "Software Developer", "Software Developers", "Dev", "Hardware",
			"Compiler", "OpenSource", "GitHub", "Linux", "Kernel", "RTOS", "ESP32", "Pico",
			"rp2040", "rp 2040", "rp2350", "rp 2350", "Micropython", "VS Code", "JetBrains",
			"spi", "i2c", "soldering", "waveshare", "maker", "adafruit",
		},
		Form: []string{
			"blog", "post", "article", "thread", "write-up", "guide", "tutorial", "how-to",
			"explainer", "deep dive", "🧵", "working", "threads", "project",
		},
		Denylist: []string{
			"musk", "elon", "trump", "united states", "florida", "texas", "doge",
			"government", "president", "potus", "maga", "vance",
		},
		Weights: Weights{
			Topic: KindWeights{Post: 10, Image: 15, Video: 15, External: 15},
			Form:  KindWeights{Post: 30, Image: 30, Video: 15, External: 30},
		},
	}
}

// LoadRules reads a YAML rules file. Keys missing from the file keep their
// built-in values, so a file may override only the denylist, for example.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()

	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules file: %w", err)
	}

	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("parse rules file: %w", err)
	}

	return rules, nil
}

// compiledRules holds the matching state built from Rules.
type compiledRules struct {
	topic    *regexp.Regexp
	form     *regexp.Regexp
	denylist *regexp.Regexp // nil means nothing is denied
	weights  Weights
}

func (r Rules) compile() (*compiledRules, error) {
	if len(r.Topic) == 0 {
		return nil, fmt.Errorf("at least one topic keyword is required")
	}
	if len(r.Form) == 0 {
		return nil, fmt.Errorf("at least one form keyword is required")
	}
	if err := r.Weights.Topic.validate(); err != nil {
		return nil, fmt.Errorf("topic %w", err)
	}
	if err := r.Weights.Form.validate(); err != nil {
		return nil, fmt.Errorf("form %w", err)
	}

	topic, err := keywordPattern(r.Topic)
	if err != nil {
		return nil, fmt.Errorf("compile topic pattern: %w", err)
	}
	form, err := keywordPattern(r.Form)
	if err != nil {
		return nil, fmt.Errorf("compile form pattern: %w", err)
	}

	var denylist *regexp.Regexp
	if len(r.Denylist) > 0 {
		denylist, err = keywordPattern(r.Denylist)
		if err != nil {
			return nil, fmt.Errorf("compile denylist pattern: %w", err)
		}
	}

	return &compiledRules{
		topic:    topic,
		form:     form,
		denylist: denylist,
		weights:  r.Weights,
	}, nil
}

// keywordPattern builds a case-insensitive alternation of the keywords. A
// word boundary is only required on a side of the keyword that ends in a word
// character, so "C++" and "🧵" still match.
func keywordPattern(keywords []string) (*regexp.Regexp, error) {
	alternatives := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}

		var b strings.Builder
		first, _ := utf8.DecodeRuneInString(kw)
		last, _ := utf8.DecodeLastRuneInString(kw)
		if isWordRune(first) {
			b.WriteString(`\b`)
		}
		b.WriteString(regexp.QuoteMeta(kw))
		if isWordRune(last) {
			b.WriteString(`\b`)
		}
		alternatives = append(alternatives, b.String())
	}

	if len(alternatives) == 0 {
		return nil, fmt.Errorf("no usable keywords")
	}

	return regexp.Compile(`(?i)(?:` + strings.Join(alternatives, "|") + `)`)
}

// isWordRune mirrors RE2's ASCII \w class, which is what \b is defined over.
func isWordRune(r rune) bool {
	return r < unicode.MaxASCII && (r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r))
}
