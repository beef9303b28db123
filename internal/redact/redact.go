package redact

import (
	"fmt"
	"regexp"
	"strings"
)

// Recognized pattern kinds. Custom kinds come from configuration.
const (
	KindEmail       = "email"
	KindPhone       = "phone"
	KindPaymentCard = "payment_card"
	KindGovID       = "gov_id"
)

// Config enumerates which patterns are active and when redaction runs.
type Config struct {
	Kinds                 []string          `mapstructure:"kinds"`
	Custom                map[string]string `mapstructure:"custom"`
	Enabled               bool              `mapstructure:"enabled"`
	RedactBeforeExecution bool              `mapstructure:"redact_before_execution"`
}

// DefaultConfig enables every built-in kind for post-execution redaction.
func DefaultConfig() Config {
	return Config{
		Kinds:   []string{KindEmail, KindPaymentCard, KindPhone, KindGovID},
		Enabled: true,
	}
}

var builtinPatterns = map[string]*regexp.Regexp{
	KindEmail:       regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),
	KindPhone:       regexp.MustCompile(`\+[0-9]{1,3}[-. (]?[0-9]{2,4}[-. )]?[0-9]{3,4}[-. ]?[0-9]{3,4}`),
	KindPaymentCard: regexp.MustCompile(`\b(?:[0-9][ -]?){13,19}\b`),
	KindGovID:       regexp.MustCompile(`\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`),
}

type matcher struct {
	kind string
	re   *regexp.Regexp
}

// Tokenizer substitutes recognized values with opaque [KIND_n] tokens and
// records the reverse mapping. Scoped to a single execute call; mappings are
// never persisted. The emitted tokens match none of the patterns, so
// tokenization is idempotent.
type Tokenizer struct {
	matchers []matcher
	byValue  map[string]string
	counts   map[string]int
	table    map[string]string
}

// NewTokenizer builds a tokenizer for one call.
func NewTokenizer(cfg Config) *Tokenizer {
	t := &Tokenizer{
		byValue: map[string]string{},
		counts:  map[string]int{},
		table:   map[string]string{},
	}
	if !cfg.Enabled {
		return t
	}
	kinds := cfg.Kinds
	if len(kinds) == 0 {
		kinds = DefaultConfig().Kinds
	}
	for _, kind := range kinds {
		if re, ok := builtinPatterns[kind]; ok {
			t.matchers = append(t.matchers, matcher{kind: kind, re: re})
		}
	}
	for name, expr := range cfg.Custom {
		re, err := regexp.Compile(expr)
		if err != nil {
			continue
		}
		t.matchers = append(t.matchers, matcher{kind: name, re: re})
	}
	return t
}

// Tokenize replaces every recognized value in text. The same original value
// always yields the same token within this tokenizer's lifetime.
func (t *Tokenizer) Tokenize(text string) string {
	for _, m := range t.matchers {
		text = m.re.ReplaceAllStringFunc(text, func(value string) string {
			if m.kind == KindPaymentCard && !luhnValid(value) {
				return value
			}
			return t.tokenFor(m.kind, value)
		})
	}
	return text
}

func (t *Tokenizer) tokenFor(kind, value string) string {
	if token, ok := t.byValue[value]; ok {
		return "[" + token + "]"
	}
	t.counts[kind]++
	token := fmt.Sprintf("%s_%d", strings.ToUpper(kind), t.counts[kind])
	t.byValue[value] = token
	t.table[token] = value
	return "[" + token + "]"
}

// Redactions returns the token-to-original table. Callers must not serialize
// it anywhere durable; audit records carry only Count.
func (t *Tokenizer) Redactions() map[string]string {
	return t.table
}

// Count reports how many distinct values were tokenized.
func (t *Tokenizer) Count() int {
	return len(t.table)
}

// luhnValid reports whether the digit sequence passes the Luhn check after
// separators are stripped.
func luhnValid(value string) bool {
	var digits []int
	for _, r := range value {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
