package textproc

import "errors"

var (
	// ErrEmptyCorpus means there were no records, or no record produced a token.
	ErrEmptyCorpus = errors.New("empty corpus")
	// ErrDegenerateVocabulary means too few tokens survived the frequency cutoff.
	ErrDegenerateVocabulary = errors.New("degenerate vocabulary")
)
