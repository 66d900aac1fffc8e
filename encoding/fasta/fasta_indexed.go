package fasta

import (
	"sort"
	"sync"

	"github.com/brentp/faidx"
	"github.com/pkg/errors"
)

type indexedFasta struct {
	fx       *faidx.Faidx
	seqNames []string // returned by SeqNames()
	mu       sync.Mutex
}

// NewIndexed creates a new Fasta that performs random lookups on the FASTA
// file at path through its .fai index (path + ".fai"), without reading the
// sequence data into memory.
func NewIndexed(path string) (Fasta, error) {
	fx, err := faidx.New(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	f := &indexedFasta{fx: fx}
	for name := range fx.Index {
		f.seqNames = append(f.seqNames, name)
	}
	// The index is a map; the byte offset of each record restores file order.
	sort.Slice(f.seqNames, func(i, j int) bool {
		return fx.Index[f.seqNames[i]].Start < fx.Index[f.seqNames[j]].Start
	})
	return f, nil
}

// Len implements Fasta.Len().
func (f *indexedFasta) Len(seqName string) (uint64, error) {
	rec, ok := f.fx.Index[seqName]
	if !ok {
		return 0, errors.Wrapf(ErrSeqNotFound, "%s", seqName)
	}
	return uint64(rec.Length), nil
}

// Get implements Fasta.Get().
func (f *indexedFasta) Get(seqName string, start uint64, end uint64) (string, error) {
	n, err := f.Len(seqName)
	if err != nil {
		return "", err
	}
	if end <= start {
		return "", errors.Errorf("start must be less than end")
	}
	if end > n {
		return "", errors.Errorf("end is past end of sequence %s: %d", seqName, n)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fx.Get(seqName, int(start), int(end))
}

// SeqNames implements Fasta.SeqNames().
func (f *indexedFasta) SeqNames() []string {
	return f.seqNames
}
