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
	"fmt"
	"sort"
	"strings"

	"github.com/lixuenan/GenomicConsensus/pileup"
)

// PosType is the integer type used to represent genomic positions.
type PosType = pileup.PosType

// ConsensusCall is the consensus at one reference position.
type ConsensusCall struct {
	RefID   int
	RefName string
	Pos     PosType
	// Coverage counts the reads with a base or a deletion at Pos.
	Coverage int
	// Base is the winning pileup base enum, pileup.BaseDel for a deletion
	// call.  Without coverage it is the reference base's enum.
	Base byte
	// Sequence is "" for a deletion call, the called base, or the called base
	// followed by Inserted.
	Sequence           string
	Inserted           string
	InsertionFrequency int
	Confidence         int
	// Frequency is the number of reads supporting Base.
	Frequency int
}

// NoEvidence reports whether the call was made without any coverage.
func (c *ConsensusCall) NoEvidence() bool {
	return c.Coverage == 0
}

// NoEvidenceMode selects the consensus reported at positions without
// coverage.
type NoEvidenceMode int

const (
	// NoEvidenceReference reports the reference base.
	NoEvidenceReference NoEvidenceMode = iota
	// NoEvidenceLowercaseReference reports the reference base in lowercase.
	NoEvidenceLowercaseReference
	// NoEvidenceNoCall reports 'N'.
	NoEvidenceNoCall
)

var noEvidenceModeNames = map[NoEvidenceMode]string{
	NoEvidenceReference:          "reference",
	NoEvidenceLowercaseReference: "lowercasereference",
	NoEvidenceNoCall:             "nocall",
}

func (m NoEvidenceMode) String() string {
	if s, ok := noEvidenceModeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("NoEvidenceMode(%d)", int(m))
}

// ParseNoEvidenceMode parses "reference", "lowercasereference" or "nocall".
func ParseNoEvidenceMode(s string) (NoEvidenceMode, error) {
	for m, name := range noEvidenceModeNames {
		if strings.EqualFold(s, name) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("plurality: unknown no-evidence consensus mode '%s'", s)
}

func (m NoEvidenceMode) sequence(refBase byte) string {
	switch m {
	case NoEvidenceLowercaseReference:
		return strings.ToLower(string(refBase))
	case NoEvidenceNoCall:
		return "N"
	}
	return string(refBase)
}

// refKey returns the pileup enum matching refBase, and whether refBase is an
// A/C/G/T/N base at all.
func refKey(refBase byte) (byte, bool) {
	switch refBase {
	case 'N', 'n':
		return pileup.BaseX, true
	}
	key := pileup.ASCIIToEnumTable[refBase]
	return key, key != pileup.BaseX
}

// Caller makes plurality calls from pileup columns.  The zero value uses
// DefaultConfidenceTable and NoEvidenceReference.  A Caller is immutable and
// safe for concurrent use.
type Caller struct {
	Confidence ConfidenceTable
	NoEvidence NoEvidenceMode
}

func (c *Caller) confidence() ConfidenceTable {
	if c.Confidence == nil {
		return DefaultConfidenceTable
	}
	return c.Confidence
}

// Call returns the consensus for col, where refBase is the reference base at
// col.Pos.  RefID and RefName are left for the caller to fill in.
func (c *Caller) Call(col *pileup.Column, refBase byte) ConsensusCall {
	call := ConsensusCall{Pos: col.Pos, Coverage: col.Coverage()}
	ref, refOK := refKey(refBase)
	if call.Coverage == 0 {
		call.Base = ref
		call.Sequence = c.NoEvidence.sequence(refBase)
		return call
	}

	var counts [pileup.NObsEnum]int
	for _, o := range col.Obs {
		counts[o.Base]++
	}
	// Enum order is the tie-break order, so a strict comparison keeps the
	// first of the tied groups.
	winner, winnerCount := byte(0), -1
	for b := byte(0); b < pileup.NObsEnum; b++ {
		if counts[b] > winnerCount {
			winner, winnerCount = b, counts[b]
		}
	}
	if refOK && counts[ref] == winnerCount {
		winner = ref
	}
	call.Base = winner
	call.Frequency = winnerCount
	call.Confidence = c.confidence().Score(winnerCount, call.Coverage)
	if winner == pileup.BaseDel {
		return call
	}
	call.Sequence = string(pileup.EnumToASCIITable[winner])

	if !refOK || winner != ref || len(col.Insertions) == 0 {
		return call
	}
	seq, n := bestInsertion(col.Insertions)
	if 2*n >= call.Coverage && n >= winnerCount {
		call.Inserted = seq
		call.InsertionFrequency = n
		call.Sequence += seq
	}
	return call
}

// bestInsertion returns the most frequent inserted sequence, the
// lexicographically smallest one among ties.
func bestInsertion(ins []pileup.Observation) (string, int) {
	groups := make(map[string]int, len(ins))
	for _, o := range ins {
		groups[o.Seq]++
	}
	seqs := make([]string, 0, len(groups))
	for s := range groups {
		seqs = append(seqs, s)
	}
	sort.Strings(seqs)
	best, bestN := "", 0
	for _, s := range seqs {
		if groups[s] > bestN {
			best, bestN = s, groups[s]
		}
	}
	return best, bestN
}
