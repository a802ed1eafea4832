package textproc

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/user/corpus-trainer/internal/entity"
	"golang.org/x/sync/errgroup"
)

const transformChunkSize = 256

// FeatureBatch is the fixed-length encoding of a corpus. Row i of Indices,
// Labels and Fingerprints describes the same record.
type FeatureBatch struct {
	Indices        [][]int32
	Labels         []int // -1 when the record has no known label
	Fingerprints   []string
	Size           int
	SequenceLength int
}

// Transform encodes records with vocab. Rows keep the order of records and the
// result does not depend on scheduling.
func Transform(ctx context.Context, records []*entity.CorpusRecord, vocab *Vocabulary) (*FeatureBatch, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("transform: %w", ErrEmptyCorpus)
	}

	n := len(records)
	seqLen := vocab.SequenceLength()
	batch := &FeatureBatch{
		Indices:        make([][]int32, n),
		Labels:         make([]int, n),
		Fingerprints:   make([]string, n),
		Size:           n,
		SequenceLength: seqLen,
	}
	backing := make([]int32, n*seqLen)

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < n; start += transformChunkSize {
		end := min(start+transformChunkSize, n)
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				rec := records[i]
				row := backing[i*seqLen : (i+1)*seqLen : (i+1)*seqLen]
				vocab.encodeInto(row, rec.RawText)
				batch.Indices[i] = row
				batch.Fingerprints[i] = rec.Fingerprint
				batch.Labels[i] = -1
				if rec.HasLabel() {
					batch.Labels[i] = vocab.LabelIndex(rec.Label)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return batch, nil
}

// Labeled returns the number of rows with a known label.
func (b *FeatureBatch) Labeled() int {
	n := 0
	for _, l := range b.Labels {
		if l >= 0 {
			n++
		}
	}
	return n
}

// MarshalBinary returns a stable little-endian encoding of the batch; equal
// batches encode to equal bytes.
func (b *FeatureBatch) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	write := func(v any) {
		// bytes.Buffer writes never fail.
		_ = binary.Write(&buf, binary.LittleEndian, v)
	}
	write(uint32(b.Size))
	write(uint32(b.SequenceLength))
	for i := 0; i < b.Size; i++ {
		if len(b.Indices[i]) != b.SequenceLength {
			return nil, fmt.Errorf("row %d has length %d, want %d", i, len(b.Indices[i]), b.SequenceLength)
		}
		write(b.Indices[i])
		write(int32(b.Labels[i]))
		write(uint32(len(b.Fingerprints[i])))
		buf.WriteString(b.Fingerprints[i])
	}
	return buf.Bytes(), nil
}
