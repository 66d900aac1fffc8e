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

/*
Given an indexed BAM and the reference it was aligned to, bio-consensus
computes a plurality (majority-vote) consensus at every reference position,
and reports the insertions, deletions and SNVs the consensus implies.

Outputs are selected by file suffix:
  .csv          one row per position: referenceId, referencePos, coverage,
                consensus, consensusConfidence, consensusFrequency
  .gff          one GFF3 feature per variant
  .fasta, .fa   the consensus sequence of every contig
A trailing .gz requests BGZF compression.

Sample usage:
bio-consensus \
    --algorithm plurality \
    -r lambda.fa \
    -o variants.gff,consensus.csv,consensus.fasta \
    aligned.bam
*/
package main
