// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package pileup

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
	"github.com/lixuenan/GenomicConsensus/interval"
)

// ObservationKind distinguishes the three things a read can say about a
// reference position.
type ObservationKind uint8

const (
	// Match means the read has a base aligned to the position (M, = or X).
	Match ObservationKind = iota
	// Deletion means the read skips the position (D).
	Deletion
	// Insertion means the read carries bases between the position and the
	// next one (I).
	Insertion
)

func (k ObservationKind) String() string {
	switch k {
	case Match:
		return "match"
	case Deletion:
		return "deletion"
	case Insertion:
		return "insertion"
	}
	return "unknown"
}

// Observation is one read's contribution to one Column.
type Observation struct {
	Kind ObservationKind
	// Base is BaseA..BaseX for Match, and BaseDel for Deletion.
	Base byte
	// Seq holds the inserted bases (ASCII) for Insertion.
	Seq      string
	ReadName string
}

// Column collects every observation at one reference position.
type Column struct {
	Pos PosType
	// Obs holds the Match and Deletion observations.  Each read contributes
	// at most one.
	Obs []Observation
	// Insertions holds the bases inserted immediately after Pos.  Each read
	// contributes at most one.
	Insertions []Observation
}

// Coverage is the number of reads spanning the position, counting deletions
// but not insertions.
func (c *Column) Coverage() int {
	return len(c.Obs)
}

// Builder accumulates reads into one Column per position of a reference
// window.  The columns are owned by the Builder; a Builder must not be shared
// between goroutines.
type Builder struct {
	w    interval.Entry
	cols []Column
	seq  []byte
}

// NewBuilder allocates an empty column for every position of w.
func NewBuilder(w interval.Entry) *Builder {
	b := &Builder{w: w, cols: make([]Column, w.Len())}
	for i := range b.cols {
		b.cols[i].Pos = w.Start0 + PosType(i)
	}
	return b
}

// Window returns the window the Builder was created for.
func (b *Builder) Window() interval.Entry {
	return b.w
}

// Columns returns the columns built so far, in reference order.
func (b *Builder) Columns() []Column {
	return b.cols
}

func malformed(r *sam.Record, format string, args ...interface{}) error {
	return errors.E(errors.Invalid, fmt.Sprintf("malformed alignment %s: ", r.Name)+fmt.Sprintf(format, args...))
}

// validate checks everything Add relies on, so that a rejected read
// contributes nothing.
func validate(r *sam.Record) error {
	if len(r.Cigar) == 0 {
		return malformed(r, "empty CIGAR")
	}
	if r.Seq.Length == 0 {
		return malformed(r, "missing sequence")
	}
	if r.Pos < 0 {
		return malformed(r, "negative position %d", r.Pos)
	}
	// Clips are only allowed at the ends, with hard clips outside soft clips.
	first, last := 0, len(r.Cigar)-1
	if r.Cigar[first].Type() == sam.CigarHardClipped {
		first++
	}
	if last > first && r.Cigar[last].Type() == sam.CigarHardClipped {
		last--
	}
	queryLen := 0
	for i, co := range r.Cigar {
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch, sam.CigarInsertion:
			queryLen += co.Len()
		case sam.CigarSoftClipped:
			if i != first && i != last {
				return malformed(r, "interior soft clip in %v", r.Cigar)
			}
			queryLen += co.Len()
		case sam.CigarHardClipped:
			if i != 0 && i != len(r.Cigar)-1 {
				return malformed(r, "interior hard clip in %v", r.Cigar)
			}
		case sam.CigarDeletion, sam.CigarSkipped, sam.CigarPadded:
		default:
			return malformed(r, "unknown CIGAR operation %v", co.Type())
		}
	}
	if queryLen != r.Seq.Length {
		return malformed(r, "CIGAR query length %d, sequence length %d", queryLen, r.Seq.Length)
	}
	if len(r.Qual) != 0 && len(r.Qual) != r.Seq.Length {
		return malformed(r, "quality length %d, sequence length %d", len(r.Qual), r.Seq.Length)
	}
	return nil
}

// Add walks r's CIGAR and appends one observation per aligned reference
// position inside the window.  Inserted bases are attached to the column of
// the read's preceding reference position, and dropped when that position is
// outside the window or was not observed by the read.
//
// A malformed read is rejected as a whole with an errors.Invalid error; the
// caller is expected to log it and carry on.
func (b *Builder) Add(r *sam.Record) error {
	if r.Ref != nil && b.w.RefName != "" && r.Ref.Name() != b.w.RefName {
		return errors.E(errors.Invalid, fmt.Sprintf("read %s is aligned to %s, window is on %s", r.Name, r.Ref.Name(), b.w.RefName))
	}
	if err := validate(r); err != nil {
		return err
	}
	b.seq = expandSeq(b.seq[:0], r.Seq)
	var (
		refPos  = PosType(r.Pos)
		readPos = 0
		// lastObs is the reference position of the latest Match or Deletion
		// emitted by this read, or -1.
		lastObs = PosType(-1)
		ins     []byte
		insPos  = PosType(-1)
	)
	flushIns := func() {
		if len(ins) > 0 {
			col := &b.cols[insPos-b.w.Start0]
			col.Insertions = append(col.Insertions, Observation{Kind: Insertion, Seq: string(ins), ReadName: r.Name})
		}
		ins = ins[:0]
		insPos = -1
	}
	for _, co := range r.Cigar {
		n := co.Len()
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			flushIns()
			for k := 0; k < n; k++ {
				if b.w.Contains(refPos) {
					col := &b.cols[refPos-b.w.Start0]
					col.Obs = append(col.Obs, Observation{Kind: Match, Base: ASCIIToEnumTable[b.seq[readPos]], ReadName: r.Name})
				}
				lastObs = refPos
				refPos++
				readPos++
			}
		case sam.CigarDeletion:
			flushIns()
			for k := 0; k < n; k++ {
				if b.w.Contains(refPos) {
					col := &b.cols[refPos-b.w.Start0]
					col.Obs = append(col.Obs, Observation{Kind: Deletion, Base: BaseDel, ReadName: r.Name})
				}
				lastObs = refPos
				refPos++
			}
		case sam.CigarInsertion:
			if lastObs >= 0 && lastObs == refPos-1 && b.w.Contains(lastObs) {
				insPos = lastObs
				ins = append(ins, b.seq[readPos:readPos+n]...)
			}
			readPos += n
		case sam.CigarSkipped:
			flushIns()
			refPos += PosType(n)
		case sam.CigarSoftClipped:
			flushIns()
			readPos += n
		case sam.CigarHardClipped, sam.CigarPadded:
		}
		if lastObs >= b.w.End {
			// Nothing later in the read can land in the window.
			break
		}
	}
	flushIns()
	return nil
}

// expandSeq appends the ASCII rendering of seq to dst.
func expandSeq(dst []byte, seq sam.Seq) []byte {
	for _, d := range seq.Seq {
		dst = append(dst, Seq8ToASCIITable[d>>4], Seq8ToASCIITable[d&0xf])
	}
	return dst[:seq.Length]
}

// Build runs a fresh Builder for w over reads.  It returns the columns and
// the errors of the reads that were skipped.
func Build(w interval.Entry, reads []*sam.Record) (cols []Column, skipped []error) {
	b := NewBuilder(w)
	for _, r := range reads {
		if err := b.Add(r); err != nil {
			skipped = append(skipped, err)
		}
	}
	return b.Columns(), skipped
}
