package bamprovider

import (
	"github.com/grailbio/hts/sam"
)

// RefByName finds a sam.Reference with the given name. It returns nil if a
// reference is not found.
func RefByName(h *sam.Header, refName string) *sam.Reference {
	for _, ref := range h.Refs() {
		if ref.Name() == refName {
			return ref
		}
	}
	return nil
}

// Overlaps returns true iff r is mapped and its alignment overlaps the
// half-open range [start, end).
func Overlaps(r *sam.Record, start, end int) bool {
	if r.Flags&sam.Unmapped != 0 || r.Ref == nil || len(r.Cigar) == 0 {
		return false
	}
	return r.Pos < end && r.End() > start
}

// ReadAll drains a fresh iterator over [start, end) of refName, and returns
// the records in coordinate order.
func ReadAll(p Provider, refName string, start, end int) (recs []*sam.Record, err error) {
	iter := p.NewIterator(refName, start, end)
	defer func() {
		if e := iter.Close(); e != nil && err == nil {
			err = e
		}
	}()
	for iter.Scan() {
		recs = append(recs, iter.Record())
	}
	return recs, iter.Err()
}
