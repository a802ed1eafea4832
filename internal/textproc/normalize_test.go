package textproc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizerStages(t *testing.T) {
	tests := []struct {
		name string
		opts NormalizeOptions
		in   string
		want []string
	}{
		{
			name: "no stages",
			in:   "The Cat, sat.",
			want: []string{"The", "Cat,", "sat."},
		},
		{
			name: "lowercase and strip",
			opts: NormalizeOptions{Lowercase: true, StripPunctuation: true},
			in:   "The Cat, sat.",
			want: []string{"the", "cat", "sat"},
		},
		{
			name: "nfkc compatibility forms",
			opts: NormalizeOptions{Lowercase: true},
			in:   "ﬁne ＡＰＰ",
			want: []string{"fine", "app"},
		},
		{
			name: "ascii rule keeps non-ascii punctuation",
			opts: NormalizeOptions{StripPunctuation: true, PunctuationRule: "ascii"},
			in:   "¡hola! (ok)",
			want: []string{"¡hola", "ok"},
		},
		{
			name: "keep chars",
			opts: NormalizeOptions{Lowercase: true, StripPunctuation: true, KeepChars: "'"},
			in:   "Don't stop; go",
			want: []string{"don't", "stop", "go"},
		},
		{
			name: "default stopwords",
			opts: NormalizeOptions{Lowercase: true, StripPunctuation: true, RemoveStopwords: true},
			in:   "The app is very good",
			want: []string{"app", "good"},
		},
		{
			name: "custom stopwords are lowercased",
			opts: NormalizeOptions{Lowercase: true, RemoveStopwords: true, Stopwords: []string{"APP"}},
			in:   "the App works",
			want: []string{"the", "works"},
		},
		{
			name: "lowercase keeps sharp s",
			opts: NormalizeOptions{Lowercase: true},
			in:   "Straße STRASSE",
			want: []string{"straße", "strasse"},
		},
		{
			name: "stopwords share the character stages",
			opts: NormalizeOptions{Lowercase: true, StripPunctuation: true, RemoveStopwords: true, Stopwords: []string{"Don't", "ＡＰＰ"}},
			in:   "don't stop the app",
			want: []string{"stop", "the"},
		},
		{
			name: "stop phrase needs every token",
			opts: NormalizeOptions{Lowercase: true, StripPunctuation: true, RemoveStopwords: true, Stopwords: []string{"don't"}},
			in:   "don go t",
			want: []string{"don", "go", "t"},
		},
		{
			name: "stopwords run before stemming",
			opts: NormalizeOptions{Lowercase: true, StripPunctuation: true, RemoveStopwords: true, Stem: true},
			in:   "The Cats, running!",
			want: []string{"cat", "run"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewNormalizer(tt.opts).Tokens(tt.in)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizerEmptyText(t *testing.T) {
	n := NewNormalizer(NormalizeOptions{Lowercase: true, StripPunctuation: true})
	assert.Empty(t, n.Tokens(""))
	assert.Empty(t, n.Tokens(" ?! "))
}
