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

	"github.com/grailbio/base/errors"
)

// ConfidenceTier awards Score to calls whose winning fraction is at least
// Num/Den.
type ConfidenceTier struct {
	Num, Den int
	Score    int
}

// ConfidenceTable maps (winner count, coverage) to a confidence score.  Tiers
// are tried in order, and the first one whose fraction the call reaches
// wins.  Fractions are compared with integer arithmetic, so e.g. 2 of 3 hits
// a 2/3 tier exactly.
type ConfidenceTable []ConfidenceTier

// DefaultConfidenceTable spans 3 (a tied 1-of-2 split, or worse) to 15 (at
// least 97% agreement, which includes every unanimous call).
var DefaultConfidenceTable = ConfidenceTable{
	{Num: 97, Den: 100, Score: 15},
	{Num: 95, Den: 100, Score: 13},
	{Num: 90, Den: 100, Score: 10},
	{Num: 80, Den: 100, Score: 7},
	{Num: 3, Den: 4, Score: 6},
	{Num: 2, Den: 3, Score: 4},
	{Num: 0, Den: 1, Score: 3},
}

// Score returns the confidence of a call supported by winner out of coverage
// observations.  Zero coverage scores zero.
func (t ConfidenceTable) Score(winner, coverage int) int {
	if coverage <= 0 {
		return 0
	}
	for _, tier := range t {
		if winner*tier.Den >= tier.Num*coverage {
			return tier.Score
		}
	}
	return 0
}

// Validate checks that the tiers are well formed and ordered from the
// highest fraction to the lowest, with non-increasing scores.
func (t ConfidenceTable) Validate() error {
	if len(t) == 0 {
		return errors.E(errors.Invalid, "plurality: empty confidence table")
	}
	for i, tier := range t {
		if tier.Den <= 0 || tier.Num < 0 || tier.Num > tier.Den {
			return errors.E(errors.Invalid, fmt.Sprintf("plurality: confidence tier %d: bad fraction %d/%d", i, tier.Num, tier.Den))
		}
		if tier.Score < 0 {
			return errors.E(errors.Invalid, fmt.Sprintf("plurality: confidence tier %d: negative score %d", i, tier.Score))
		}
		if i == 0 {
			continue
		}
		prev := t[i-1]
		if tier.Num*prev.Den > prev.Num*tier.Den {
			return errors.E(errors.Invalid, fmt.Sprintf("plurality: confidence tier %d: fraction %d/%d exceeds the previous tier's %d/%d", i, tier.Num, tier.Den, prev.Num, prev.Den))
		}
		if tier.Score > prev.Score {
			return errors.E(errors.Invalid, fmt.Sprintf("plurality: confidence tier %d: score %d exceeds the previous tier's %d", i, tier.Score, prev.Score))
		}
	}
	return nil
}
