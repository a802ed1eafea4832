package textproc

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"sort"

	"github.com/user/corpus-trainer/internal/entity"
	"github.com/user/corpus-trainer/pkg/utils"
)

const (
	PadToken = "<pad>"
	OOVToken = "<unk>"

	PadIndex int32 = 0
	OOVIndex int32 = 1

	vocabularyFormatVersion = 1
)

// FitOptions are persisted with the vocabulary so that transform always runs
// with the settings the vocabulary was fitted under.
type FitOptions struct {
	Normalize      NormalizeOptions `json:"normalize"`
	MinFrequency   int              `json:"min_frequency"`
	MaxVocabSize   int              `json:"max_vocab_size"`
	MinVocabSize   int              `json:"min_vocab_size"`
	SequenceLength int              `json:"sequence_length"`
}

// Vocabulary maps tokens to dense indices. Tokens[0] is PadToken and
// Tokens[1] is OOVToken.
type Vocabulary struct {
	FormatVersion int        `json:"format_version"`
	Tokens        []string   `json:"tokens"`
	Frequencies   []int      `json:"frequencies"`
	Labels        []string   `json:"labels"`
	Options       FitOptions `json:"options"`

	index      map[string]int32
	normalizer *Normalizer
}

type tokenCount struct {
	token string
	count int
}

// Fit counts tokens over records and builds a vocabulary. Tokens seen fewer
// than MinFrequency times are left out and encode to OOVIndex. Remaining
// tokens are ordered by frequency, then lexically.
func Fit(records []*entity.CorpusRecord, opts FitOptions) (*Vocabulary, error) {
	if opts.MinFrequency < 1 {
		opts.MinFrequency = 1
	}
	if opts.MinVocabSize < 1 {
		opts.MinVocabSize = 1
	}
	if opts.SequenceLength < 1 {
		return nil, fmt.Errorf("sequence length must be at least 1, got %d", opts.SequenceLength)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("fit vocabulary: %w", ErrEmptyCorpus)
	}

	normalizer := NewNormalizer(opts.Normalize)
	counts := make(map[string]int)
	labels := make(map[string]struct{})
	total := 0
	for _, rec := range records {
		for _, tok := range normalizer.Tokens(rec.RawText) {
			if tok == PadToken || tok == OOVToken {
				continue
			}
			counts[tok]++
			total++
		}
		if rec.HasLabel() {
			labels[rec.Label] = struct{}{}
		}
	}
	if total == 0 {
		return nil, fmt.Errorf("fit vocabulary: no tokens in %d records: %w", len(records), ErrEmptyCorpus)
	}

	kept := make([]tokenCount, 0, len(counts))
	for tok, c := range counts {
		if c >= opts.MinFrequency {
			kept = append(kept, tokenCount{token: tok, count: c})
		}
	}
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].count != kept[j].count {
			return kept[i].count > kept[j].count
		}
		return kept[i].token < kept[j].token
	})
	if opts.MaxVocabSize > 0 && len(kept) > opts.MaxVocabSize {
		kept = kept[:opts.MaxVocabSize]
	}
	if len(kept) < opts.MinVocabSize {
		return nil, fmt.Errorf("fit vocabulary: %d tokens reach min frequency %d, need %d: %w",
			len(kept), opts.MinFrequency, opts.MinVocabSize, ErrDegenerateVocabulary)
	}

	v := &Vocabulary{
		FormatVersion: vocabularyFormatVersion,
		Tokens:        make([]string, 0, len(kept)+2),
		Frequencies:   make([]int, 0, len(kept)+2),
		Options:       opts,
	}
	v.Tokens = append(v.Tokens, PadToken, OOVToken)
	v.Frequencies = append(v.Frequencies, 0, 0)
	for _, tc := range kept {
		v.Tokens = append(v.Tokens, tc.token)
		v.Frequencies = append(v.Frequencies, tc.count)
	}
	for l := range labels {
		v.Labels = append(v.Labels, l)
	}
	slices.Sort(v.Labels)
	v.init()
	return v, nil
}

func (v *Vocabulary) init() {
	v.index = make(map[string]int32, len(v.Tokens))
	for i, tok := range v.Tokens {
		v.index[tok] = int32(i)
	}
	v.normalizer = NewNormalizer(v.Options.Normalize)
}

// Size is the number of indices including the two special tokens.
func (v *Vocabulary) Size() int { return len(v.Tokens) }

func (v *Vocabulary) SequenceLength() int { return v.Options.SequenceLength }

// Lookup returns the index of an already normalized token.
func (v *Vocabulary) Lookup(token string) int32 {
	if idx, ok := v.index[token]; ok && idx > OOVIndex {
		return idx
	}
	return OOVIndex
}

// LabelIndex returns the class index of label, or -1.
func (v *Vocabulary) LabelIndex(label string) int {
	i, ok := slices.BinarySearch(v.Labels, label)
	if !ok {
		return -1
	}
	return i
}

// Encode turns raw text into a fixed-length index sequence: the first
// SequenceLength tokens are kept and shorter sequences are padded at the end.
func (v *Vocabulary) Encode(text string) []int32 {
	out := make([]int32, v.Options.SequenceLength)
	v.encodeInto(out, text)
	return out
}

func (v *Vocabulary) encodeInto(dst []int32, text string) {
	tokens := v.normalizer.Tokens(text)
	for i := range dst {
		if i < len(tokens) {
			dst[i] = v.Lookup(tokens[i])
		} else {
			dst[i] = PadIndex
		}
	}
}

// Digest identifies the vocabulary contents and options.
func (v *Vocabulary) Digest() string {
	payload, err := json.Marshal(struct {
		Tokens  []string   `json:"tokens"`
		Labels  []string   `json:"labels"`
		Options FitOptions `json:"options"`
	}{v.Tokens, v.Labels, v.Options})
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Save writes the vocabulary artifact atomically.
func (v *Vocabulary) Save(path string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode vocabulary: %w", err)
	}
	if err := utils.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write vocabulary %s: %w", path, err)
	}
	return nil
}

// LoadVocabulary reads an artifact written by Save.
func LoadVocabulary(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	var v Vocabulary
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode vocabulary %s: %w", path, err)
	}
	if v.FormatVersion != vocabularyFormatVersion {
		return nil, fmt.Errorf("vocabulary %s: unsupported format version %d", path, v.FormatVersion)
	}
	if len(v.Tokens) < 2 || v.Tokens[PadIndex] != PadToken || v.Tokens[OOVIndex] != OOVToken {
		return nil, fmt.Errorf("vocabulary %s: missing special tokens", path)
	}
	if len(v.Frequencies) != len(v.Tokens) {
		return nil, fmt.Errorf("vocabulary %s: %d frequencies for %d tokens", path, len(v.Frequencies), len(v.Tokens))
	}
	if v.Options.SequenceLength < 1 {
		return nil, fmt.Errorf("vocabulary %s: invalid sequence length %d", path, v.Options.SequenceLength)
	}
	if !slices.IsSorted(v.Labels) {
		return nil, fmt.Errorf("vocabulary %s: labels are not sorted", path)
	}
	v.init()
	return &v, nil
}
