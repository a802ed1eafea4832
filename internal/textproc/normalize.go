package textproc

import (
	"slices"
	"strings"
	"unicode"

	"github.com/kljensen/snowball/english"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const asciiPunctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// NormalizeOptions selects the normalization stages. Stages always run in the
// order lowercase, punctuation strip, stop-word filter, stem.
type NormalizeOptions struct {
	Lowercase        bool     `json:"lowercase"`
	StripPunctuation bool     `json:"strip_punctuation"`
	PunctuationRule  string   `json:"punctuation_rule"` // unicode or ascii
	KeepChars        string   `json:"keep_chars,omitempty"`
	RemoveStopwords  bool     `json:"remove_stopwords"`
	Stopwords        []string `json:"stopwords,omitempty"`
	Stem             bool     `json:"stem"`
}

// Normalizer turns raw text into tokens. It is safe for concurrent use.
type Normalizer struct {
	opts      NormalizeOptions
	keep      map[rune]struct{}
	stopwords map[string]struct{}
	// phrases holds stop words that normalize to several tokens, longest first.
	phrases [][]string
}

func NewNormalizer(opts NormalizeOptions) *Normalizer {
	n := &Normalizer{
		opts: opts,
		keep: make(map[rune]struct{}, len(opts.KeepChars)),
	}
	for _, r := range opts.KeepChars {
		n.keep[r] = struct{}{}
	}

	if opts.RemoveStopwords {
		list := opts.Stopwords
		if len(list) == 0 {
			list = englishStopwords
		}
		n.stopwords = make(map[string]struct{}, len(list))
		for _, w := range list {
			switch toks := strings.Fields(n.Normalize(w)); len(toks) {
			case 0:
			case 1:
				n.stopwords[toks[0]] = struct{}{}
			default:
				n.phrases = append(n.phrases, toks)
			}
		}
		slices.SortStableFunc(n.phrases, func(a, b []string) int { return len(b) - len(a) })
	}
	return n
}

func (n *Normalizer) isPunct(r rune) bool {
	if _, ok := n.keep[r]; ok {
		return false
	}
	if n.opts.PunctuationRule == "ascii" {
		return r < unicode.MaxASCII && strings.ContainsRune(asciiPunctuation, r)
	}
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}

// transformer builds a fresh chain per call; Casers carry state.
func (n *Normalizer) transformer() transform.Transformer {
	chain := []transform.Transformer{norm.NFKC}
	if n.opts.Lowercase {
		chain = append(chain, cases.Lower(language.Und))
	}
	if n.opts.StripPunctuation {
		chain = append(chain, runes.Map(func(r rune) rune {
			if n.isPunct(r) {
				return ' '
			}
			return r
		}))
	}
	return transform.Chain(chain...)
}

// Normalize applies the character-level stages and returns the cleaned text.
func (n *Normalizer) Normalize(text string) string {
	out, _, err := transform.String(n.transformer(), text)
	if err != nil {
		// Only malformed transformer chains fail; fall back to plain NFKC.
		return norm.NFKC.String(text)
	}
	return out
}

// Tokens normalizes text and splits it into tokens.
func (n *Normalizer) Tokens(text string) []string {
	fields := strings.Fields(n.Normalize(text))
	out := fields[:0]
	for i := 0; i < len(fields); i++ {
		tok := fields[i]
		if n.stopwords != nil {
			if _, stop := n.stopwords[tok]; stop {
				continue
			}
			if l := n.matchPhrase(fields[i:]); l > 0 {
				i += l - 1
				continue
			}
		}
		if n.opts.Stem {
			tok = english.Stem(tok, true)
			if tok == "" {
				continue
			}
		}
		out = append(out, tok)
	}
	return out
}

// matchPhrase returns the length of the longest stop phrase that prefixes
// fields, or 0.
func (n *Normalizer) matchPhrase(fields []string) int {
	for _, p := range n.phrases {
		if len(p) <= len(fields) && slices.Equal(p, fields[:len(p)]) {
			return len(p)
		}
	}
	return 0
}
