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
package plurality

import (
	"sort"
)

// VariantKind is the type of a Variant.  The numeric order is the order of
// variants sharing a start position.
type VariantKind uint8

const (
	// Deletion removes reference bases.
	Deletion VariantKind = iota
	// Insertion adds bases after the anchor position.
	Insertion
	// Substitution replaces one reference base.
	Substitution
)

// String returns the GFF feature type of the kind.
func (k VariantKind) String() string {
	switch k {
	case Deletion:
		return "deletion"
	case Insertion:
		return "insertion"
	case Substitution:
		return "SNV"
	}
	return "unknown"
}

// Variant is a difference between the consensus and the reference.
type Variant struct {
	RefID   int
	RefName string
	Kind    VariantKind
	// [Start, End) is the 0-based half-open reference span.  Insertions span
	// their anchor base.
	Start, End PosType
	Length     int
	// Seq is the variant sequence; empty for deletions.
	Seq string
	// RefSeq is the replaced reference sequence; empty for insertions.
	RefSeq     string
	Frequency  int
	Confidence int
	Coverage   int
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - ('a' - 'A')
	}
	return b
}

// Classify compares call with the reference base at its position, and
// returns the implied variant, if any.  Precedence is deletion, then
// insertion, then substitution.  Calls without coverage never yield a
// variant.
func Classify(call *ConsensusCall, refBase byte) (Variant, bool) {
	if call.NoEvidence() {
		return Variant{}, false
	}
	v := Variant{
		RefID:      call.RefID,
		RefName:    call.RefName,
		Start:      call.Pos,
		End:        call.Pos + 1,
		Length:     1,
		Frequency:  call.Frequency,
		Confidence: call.Confidence,
		Coverage:   call.Coverage,
	}
	switch {
	case call.Sequence == "":
		v.Kind = Deletion
		v.RefSeq = string(refBase)
		v.End = v.Start + PosType(v.Length)
	case len(call.Sequence) > 1 && upper(call.Sequence[0]) == upper(refBase):
		v.Kind = Insertion
		v.Seq = call.Sequence[1:]
		v.Length = len(v.Seq)
		v.Frequency = call.InsertionFrequency
	case upper(call.Sequence[0]) != upper(refBase):
		v.Kind = Substitution
		v.Seq = call.Sequence[:1]
		v.RefSeq = string(refBase)
	default:
		return Variant{}, false
	}
	return v, true
}

// SortVariants orders variants by reference, start, and kind.  The sort is
// stable.
func SortVariants(vs []Variant) {
	sort.SliceStable(vs, func(i, j int) bool {
		a, b := &vs[i], &vs[j]
		if a.RefID != b.RefID {
			return a.RefID < b.RefID
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.Kind < b.Kind
	})
}
