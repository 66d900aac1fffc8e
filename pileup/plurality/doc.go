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

// Package plurality computes a majority-vote consensus over a pileup, and
// the variants that consensus implies relative to the reference.
//
// Every reference position gets exactly one ConsensusCall.  The call takes
// the most frequent base (or deletion) among the reads spanning the
// position; ties go to the reference base, then to the order
// A < C < G < T < N < deletion.  An insertion observed right after the
// position is appended when at least half of the spanning reads carry the
// same inserted sequence.  Positions without coverage pass the reference
// through with zero frequency and confidence.
//
// Calls that differ from the reference become Variants: a deletion, an
// insertion anchored at the preceding base, or a substitution (SNV).
//
// The Engine runs this over reference windows in parallel; Run and
// Consensus drive an Engine over a BAM file and render CSV, GFF3 and FASTA
// outputs.
package plurality
