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
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
	"github.com/lixuenan/GenomicConsensus/encoding/fasta"
	"github.com/lixuenan/GenomicConsensus/interval"
)

// Common pileup components.

// PosType is the integer type used to represent genomic positions.
type PosType = interval.PosType

// PosTypeMax is the maximum value that can be represented by a PosType.
const PosTypeMax = interval.PosTypeMax

// The base enum order doubles as the tie-break order used by consensus
// callers: A < C < G < T < N < deletion.
const (
	// BaseA represents an A base.
	BaseA byte = iota
	// BaseC represents an C base.
	BaseC
	// BaseG represents an G base.
	BaseG
	// BaseT represents an T base.
	BaseT
	// BaseX is a catch-all.
	BaseX
	// BaseDel represents a reference position deleted from a read.
	BaseDel
)

const (
	// NBase is the number of regular base types.
	NBase = 4
	// NBaseEnum counts BaseX as well as the regular base types.
	NBaseEnum = 5
	// NObsEnum counts BaseDel as well as NBaseEnum.
	NObsEnum = 6
)

// Seq8ToEnumTable is the .bam seq nibble -> A/C/G/T/X enum mapping.
var Seq8ToEnumTable = [...]byte{BaseX, BaseA, BaseC, BaseX, BaseG, BaseX, BaseX, BaseX, BaseT, BaseX, BaseX, BaseX, BaseX, BaseX, BaseX, BaseX}

// EnumToASCIITable is the A/C/G/T/X/Del -> ASCII mapping, with X rendered as
// 'N' and deletions as '-'.
var EnumToASCIITable = [...]byte{'A', 'C', 'G', 'T', 'N', '-'}

// Seq8ToASCIITable is the .bam seq nibble -> ASCII mapping.
var Seq8ToASCIITable = [...]byte{'=', 'A', 'C', 'M', 'G', 'R', 'S', 'V', 'T', 'W', 'Y', 'H', 'K', 'D', 'B', 'N'}

// ASCIIToEnumTable maps ASCII bases (either case) to A/C/G/T/X.  Everything
// that is not an unambiguous base maps to BaseX.
var ASCIIToEnumTable = func() (t [256]byte) {
	for i := range t {
		t[i] = BaseX
	}
	for _, c := range []struct {
		ch   byte
		base byte
	}{{'A', BaseA}, {'C', BaseC}, {'G', BaseG}, {'T', BaseT}} {
		t[c.ch] = c.base
		t[c.ch+('a'-'A')] = c.base
	}
	return
}()

// CheckRefLengths verifies that every reference in headerRefs that is also
// present in fa has the same length in both.  References missing from either
// side are only logged.
func CheckRefLengths(fa fasta.Fasta, headerRefs []*sam.Reference) error {
	nMissingFromFa := 0
	for _, curRef := range headerRefs {
		refName := curRef.Name()
		refLen, e := fa.Len(refName)
		if e != nil {
			nMissingFromFa++
			continue
		}
		if refLen != uint64(curRef.Len()) {
			return errors.E(errors.Invalid, fmt.Sprintf("pileup.CheckRefLengths: inconsistent lengths for contig %s (%d in BAM header, %d in .fa)", refName, curRef.Len(), refLen))
		}
	}
	if nMissingFromFa != 0 {
		log.Printf("pileup.CheckRefLengths: warning: %d reference(s) present in BAM header but missing from .fa", nMissingFromFa)
	}
	nMissingFromXam := len(fa.SeqNames()) + nMissingFromFa - len(headerRefs)
	if nMissingFromXam > 0 {
		log.Printf("pileup.CheckRefLengths: warning: %d reference(s) present in .fa but missing from BAM header", nMissingFromXam)
	}
	return nil
}
