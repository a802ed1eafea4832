package trainer

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"math/rand/v2"

	"github.com/user/corpus-trainer/internal/textproc"
)

const splitBuckets = 10000

// inValidation assigns a record to the validation split from its fingerprint,
// so the split survives restarts and corpus reordering.
func inValidation(seed uint64, fingerprint string, fraction float64) bool {
	h := fnv.New64a()
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], seed)
	h.Write(b[:])
	h.Write([]byte(fingerprint))
	return h.Sum64()%splitBuckets < uint64(math.Round(fraction*splitBuckets))
}

// splitExamples featurizes the labeled rows of batch into train and validation
// sets. Rows keep batch order within each set.
func splitExamples(batch *textproc.FeatureBatch, seed uint64, fraction float64) (train, val []example) {
	for i := 0; i < batch.Size; i++ {
		if batch.Labels[i] < 0 {
			continue
		}
		ex := example{features: featurize(batch.Indices[i]), label: batch.Labels[i]}
		if inValidation(seed, batch.Fingerprints[i], fraction) {
			val = append(val, ex)
		} else {
			train = append(train, ex)
		}
	}
	return train, val
}

// epochOrder is the visiting order of n training rows in epoch. It depends only
// on seed and epoch.
func epochOrder(n int, seed uint64, epoch int) []int {
	r := rand.New(rand.NewPCG(seed, uint64(epoch)))
	return r.Perm(n)
}
