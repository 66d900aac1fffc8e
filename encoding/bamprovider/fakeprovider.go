package bamprovider

import (
	"fmt"
	"sort"

	"github.com/biogo/store/interval"
	"github.com/grailbio/hts/sam"
)

// fakeProvider is only for unittests. It yields the given records.
type fakeProvider struct {
	header *sam.Header
	recs   []*sam.Record
	// trees indexes the mapped records by reference name.
	trees map[string]*interval.IntTree
}

type fakeIterator struct {
	recs []*sam.Record
	rec  *sam.Record
	err  error
}

// recRange is the alignment span of recs[id].
type recRange struct {
	start, end int
	id         uintptr
}

func (r recRange) Overlap(b interval.IntRange) bool {
	return r.end > b.Start && r.start < b.End
}
func (r recRange) ID() uintptr              { return r.id }
func (r recRange) Range() interval.IntRange { return interval.IntRange{Start: r.start, End: r.end} }

// NewFakeProvider creates a provider that returns "header" in response to a
// GetHeader() call, and the subset of recs overlapping the requested range in
// NewIterator calls. Records need not be sorted.
func NewFakeProvider(header *sam.Header, recs []*sam.Record) Provider {
	sorted := make([]*sam.Record, len(recs))
	copy(sorted, recs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Pos < sorted[j].Pos })

	b := &fakeProvider{header: header, recs: sorted, trees: map[string]*interval.IntTree{}}
	for id, r := range sorted {
		if r.Flags&sam.Unmapped != 0 || r.Ref == nil || len(r.Cigar) == 0 {
			continue
		}
		tree, ok := b.trees[r.Ref.Name()]
		if !ok {
			tree = &interval.IntTree{}
			b.trees[r.Ref.Name()] = tree
		}
		end := r.End()
		if end <= r.Pos {
			end = r.Pos + 1
		}
		if err := tree.Insert(recRange{start: r.Pos, end: end, id: uintptr(id)}, false); err != nil {
			panic(err)
		}
	}
	return b
}

// GetHeader implements the Provider interface. It returns the header passed to
// the constructor.
func (b *fakeProvider) GetHeader() (*sam.Header, error) {
	return b.header, nil
}

// Close implements the Provider interface.
func (b *fakeProvider) Close() error {
	return nil
}

// NewIterator implements the Provider interface.
func (b *fakeProvider) NewIterator(refName string, start, end int) Iterator {
	if b.header != nil && RefByName(b.header, refName) == nil {
		return NewErrorIterator(fmt.Errorf("fakeprovider: reference '%s' not found", refName))
	}
	tree := b.trees[refName]
	if tree == nil || start >= end {
		return &fakeIterator{}
	}
	matches := tree.Get(recRange{start: start, end: end})
	ids := make([]int, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, int(m.ID()))
	}
	sort.Ints(ids)
	iter := &fakeIterator{recs: make([]*sam.Record, 0, len(ids))}
	for _, id := range ids {
		if r := b.recs[id]; Overlaps(r, start, end) {
			iter.recs = append(iter.recs, r)
		}
	}
	return iter
}

// Err implements the Iterator interface.
func (i *fakeIterator) Err() error {
	return i.err
}

// Close implements the Iterator interface.
func (i *fakeIterator) Close() error {
	return i.err
}

func (i *fakeIterator) Scan() bool {
	if len(i.recs) == 0 {
		return false
	}
	i.rec = i.recs[0]
	i.recs = i.recs[1:]
	return true
}

func (i *fakeIterator) Record() *sam.Record {
	// Return a copy so that the code under test cannot alter the
	// original test input data.
	copy := sam.GetFromFreePool()
	*copy = *i.rec
	return copy
}
