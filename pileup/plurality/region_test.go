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
package plurality_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/sam"
	"github.com/lixuenan/GenomicConsensus/encoding/bamprovider"
	"github.com/lixuenan/GenomicConsensus/encoding/fasta"
	"github.com/lixuenan/GenomicConsensus/interval"
	"github.com/lixuenan/GenomicConsensus/pileup/plurality"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type contig struct {
	name, seq string
}

// testData is a reference plus a BAM header agreeing with it.
type testData struct {
	refs   []*sam.Reference
	header *sam.Header
	fa     fasta.Fasta
}

func newTestData(t *testing.T, contigs ...contig) *testData {
	d := &testData{}
	var fa strings.Builder
	for _, c := range contigs {
		ref, err := sam.NewReference(c.name, "", "", len(c.seq), nil, nil)
		require.NoError(t, err)
		d.refs = append(d.refs, ref)
		fmt.Fprintf(&fa, ">%s\n%s\n", c.name, c.seq)
	}
	var err error
	d.header, err = sam.NewHeader(nil, d.refs)
	require.NoError(t, err)
	d.fa, err = fasta.New(strings.NewReader(fa.String()))
	require.NoError(t, err)
	return d
}

func (d *testData) read(name string, refIdx, pos int, cigar, seq string) *sam.Record {
	c, err := sam.ParseCigar([]byte(cigar))
	if err != nil {
		panic(err)
	}
	return &sam.Record{
		Name:  name,
		Ref:   d.refs[refIdx],
		Pos:   pos,
		MapQ:  60,
		Cigar: c,
		Seq:   sam.NewSeq([]byte(seq)),
		Qual:  []byte(strings.Repeat("\x1e", len(seq))),
	}
}

func (d *testData) engine(t *testing.T, opts plurality.Opts, reads ...*sam.Record) *plurality.Engine {
	require.NoError(t, opts.Validate())
	e, err := plurality.NewEngine(bamprovider.NewFakeProvider(d.header, reads), d.fa, opts)
	require.NoError(t, err)
	return e
}

// csvRow renders a call the way the consensus CSV does, without the
// reference name and position.
func csvRow(c plurality.ConsensusCall) string {
	return fmt.Sprintf("%s,%d,%d", c.Sequence, c.Confidence, c.Frequency)
}

const scenarioRef = "GACTAGTGCA"

// scenarioReads are two reads that agree at position 0, disagree at 5 and 7,
// and where one of them carries an inserted G after position 7.
func scenarioReads(d *testData) []*sam.Record {
	return []*sam.Record{
		d.read("r1", 0, 0, "10M", "GACTAGTGCA"),
		d.read("r2", 0, 0, "8M1I2M", "GACTACTTGCA"),
	}
}

func TestScenario(t *testing.T) {
	ctx := vcontext.Background()
	d := newTestData(t, contig{"lambda", scenarioRef})
	e := d.engine(t, plurality.DefaultOpts, scenarioReads(d)...)

	calls, err := e.ComputeConsensus(ctx, "lambda", 0, 10)
	require.NoError(t, err)
	require.Len(t, calls, 10)
	for i, c := range calls {
		assert.Equal(t, 2, c.Coverage, "pos %d", i)
		assert.Equal(t, "lambda", c.RefName)
		assert.Equal(t, 0, c.RefID)
	}
	assert.Equal(t, "G,15,2", csvRow(calls[0]))
	assert.Equal(t, "G,3,1", csvRow(calls[5]))
	assert.Equal(t, "GG,3,1", csvRow(calls[7]))
	assert.Equal(t, 1, calls[7].InsertionFrequency)

	variants, err := e.ComputeVariants(ctx, "lambda", 0, 10)
	require.NoError(t, err)
	require.Len(t, variants, 1)
	v := variants[0]
	assert.Equal(t, plurality.Insertion, v.Kind)
	assert.Equal(t, plurality.PosType(7), v.Start)
	assert.Equal(t, "G", v.Seq)
	assert.Equal(t, 1, v.Length)
	assert.Equal(t, 1, v.Frequency)
	assert.Equal(t, 3, v.Confidence)
	assert.Equal(t, 2, v.Coverage)
}

const indelRef = "ACGTACGTACGTACGTACGT"

func indelReads(d *testData) []*sam.Record {
	var reads []*sam.Record
	for i := 0; i < 3; i++ {
		reads = append(reads, d.read(fmt.Sprintf("del%d", i), 0, 0, "5M2D3M2I10M", "ACGTA"+"TAC"+"GG"+"GTACGTACGT"))
	}
	// A minority mismatch at position 10.
	reads = append(reads, d.read("snv", 0, 10, "10M", "TTACGTACGT"))
	return reads
}

func TestIndelCounts(t *testing.T) {
	ctx := vcontext.Background()
	d := newTestData(t, contig{"chr1", indelRef})
	for _, windowSize := range []int{1, 4, 5, 6, 10, 500} {
		opts := plurality.DefaultOpts
		opts.WindowSize = windowSize
		e := d.engine(t, opts, indelReads(d)...)
		calls, variants, err := e.ComputeRegion(ctx, interval.Entry{RefName: "chr1", End: 20})
		require.NoError(t, err)
		require.Len(t, calls, 20)

		counts := map[plurality.VariantKind]int{}
		for _, v := range variants {
			counts[v.Kind]++
		}
		assert.Equal(t, 2, counts[plurality.Deletion], "window size %d", windowSize)
		assert.Equal(t, 1, counts[plurality.Insertion], "window size %d", windowSize)
		assert.Equal(t, 0, counts[plurality.Substitution], "window size %d", windowSize)
		require.Len(t, variants, 3)
		assert.Equal(t, plurality.Deletion, variants[0].Kind)
		assert.Equal(t, plurality.PosType(5), variants[0].Start)
		assert.Equal(t, plurality.PosType(6), variants[0].End)
		assert.Equal(t, plurality.PosType(6), variants[1].Start)
		assert.Equal(t, plurality.Insertion, variants[2].Kind)
		assert.Equal(t, plurality.PosType(9), variants[2].Start)
		assert.Equal(t, "GG", variants[2].Seq)
		assert.Equal(t, 3, variants[2].Frequency)

		assert.Equal(t, "", calls[5].Sequence)
		assert.Equal(t, "CGG", calls[9].Sequence)
		assert.Equal(t, "G,6,3", csvRow(calls[10]))
		assert.Equal(t, 4, calls[10].Coverage)
	}
}

func TestWindowTotality(t *testing.T) {
	ctx := vcontext.Background()
	d := newTestData(t, contig{"chr1", indelRef})
	regions := []interval.Entry{
		{RefName: "chr1", Start0: 0, End: 20},
		{RefName: "chr1", Start0: 3, End: 17},
		{RefName: "chr1", Start0: 19, End: 20},
		{RefName: "chr1", Start0: 8, End: 9},
	}
	for _, windowSize := range []int{1, 2, 3, 7, 500} {
		opts := plurality.DefaultOpts
		opts.WindowSize = windowSize
		opts.Parallelism = 3
		e := d.engine(t, opts, indelReads(d)...)
		for _, r := range regions {
			calls, err := e.ComputeConsensus(ctx, r.RefName, r.Start0, r.End)
			require.NoError(t, err)
			require.Len(t, calls, r.Len(), "%v window size %d", r, windowSize)
			for i, c := range calls {
				assert.Equal(t, r.Start0+plurality.PosType(i), c.Pos)
				assert.True(t, c.Frequency <= c.Coverage)
				assert.True(t, c.InsertionFrequency <= c.Coverage)
			}
		}
	}
}

func TestRegionClamp(t *testing.T) {
	ctx := vcontext.Background()
	d := newTestData(t, contig{"chr1", indelRef})
	e := d.engine(t, plurality.DefaultOpts, indelReads(d)...)
	region, err := interval.ParseRegionString("chr1")
	require.NoError(t, err)
	calls, _, err := e.ComputeRegion(ctx, region)
	require.NoError(t, err)
	assert.Len(t, calls, len(indelRef))
}

func TestNoCoverage(t *testing.T) {
	ctx := vcontext.Background()
	d := newTestData(t, contig{"chr1", "ACGTNacgt"})
	e := d.engine(t, plurality.DefaultOpts)
	calls, variants, err := e.ComputeRegion(ctx, interval.Entry{RefName: "chr1", End: 9})
	require.NoError(t, err)
	require.Len(t, calls, 9)
	for i, c := range calls {
		assert.Equal(t, string("ACGTNacgt"[i]), c.Sequence)
		assert.Equal(t, 0, c.Coverage)
		assert.Equal(t, 0, c.Frequency)
		assert.Equal(t, 0, c.Confidence)
	}
	assert.Empty(t, variants)

	opts := plurality.DefaultOpts
	opts.NoEvidenceConsensus = "nocall"
	e = d.engine(t, opts)
	calls, err = e.ComputeConsensus(ctx, "chr1", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, "N", calls[0].Sequence)
	assert.Equal(t, "N", calls[1].Sequence)
}

func TestContigMissingFromBAM(t *testing.T) {
	ctx := vcontext.Background()
	d := newTestData(t, contig{"chr1", "ACGT"})
	// A reference with an extra contig the BAM header does not mention.
	fa, err := fasta.New(strings.NewReader(">chr1\nACGT\n>chrM\nTTGA\n"))
	require.NoError(t, err)
	e, err := plurality.NewEngine(bamprovider.NewFakeProvider(d.header, []*sam.Record{d.read("r", 0, 0, "4M", "ACGA")}), fa, plurality.DefaultOpts)
	require.NoError(t, err)
	calls, variants, err := e.ComputeRegion(ctx, interval.Entry{})
	require.NoError(t, err)
	require.Len(t, calls, 8)
	assert.Equal(t, "chrM", calls[4].RefName)
	assert.Equal(t, 1, calls[4].RefID)
	assert.Equal(t, "T", calls[4].Sequence)
	assert.Equal(t, 0, calls[4].Coverage)
	require.Len(t, variants, 1)
	assert.Equal(t, plurality.Substitution, variants[0].Kind)
	assert.Equal(t, "A", variants[0].Seq)
}

func TestInconsistentLengths(t *testing.T) {
	d := newTestData(t, contig{"chr1", "ACGT"})
	fa, err := fasta.New(strings.NewReader(">chr1\nACGTA\n"))
	require.NoError(t, err)
	_, err = plurality.NewEngine(bamprovider.NewFakeProvider(d.header, nil), fa, plurality.DefaultOpts)
	require.Error(t, err)
	assert.True(t, errors.Is(errors.Invalid, err), "%v", err)
}

func TestUnknownReference(t *testing.T) {
	ctx := vcontext.Background()
	d := newTestData(t, contig{"chr1", indelRef})
	e := d.engine(t, plurality.DefaultOpts, indelReads(d)...)
	_, err := e.ComputeConsensus(ctx, "chrX", 0, 10)
	require.Error(t, err)
	assert.True(t, errors.Is(errors.NotExist, err), "%v", err)
	_, err = e.ComputeWindow(ctx, interval.Entry{RefName: "chrX", End: 10})
	assert.True(t, errors.Is(errors.NotExist, err), "%v", err)
	// Windows must lie within the contig.
	_, err = e.ComputeWindow(ctx, interval.Entry{RefName: "chr1", Start0: 15, End: 25})
	assert.True(t, errors.Is(errors.Invalid, err), "%v", err)
}

func TestParallelMatchesSequential(t *testing.T) {
	ctx := vcontext.Background()
	d := newTestData(t, contig{"chr1", indelRef}, contig{"chr2", scenarioRef})
	reads := indelReads(d)
	for _, r := range scenarioReads(d) {
		r.Ref = d.refs[1]
		reads = append(reads, r)
	}

	seqOpts := plurality.DefaultOpts
	seqOpts.WindowSize = 3
	seqOpts.Parallelism = 1
	seqCalls, seqVariants, err := d.engine(t, seqOpts, reads...).ComputeRegion(ctx, interval.Entry{})
	require.NoError(t, err)
	require.Len(t, seqCalls, len(indelRef)+len(scenarioRef))
	assert.Len(t, seqVariants, 4)

	for _, parallelism := range []int{2, 3, 8, 64} {
		parOpts := seqOpts
		parOpts.Parallelism = parallelism
		e := d.engine(t, parOpts, reads...)
		for i := 0; i < 2; i++ {
			calls, variants, err := e.ComputeRegion(ctx, interval.Entry{})
			require.NoError(t, err)
			assert.Equal(t, seqCalls, calls, "parallelism %d", parallelism)
			assert.Equal(t, seqVariants, variants, "parallelism %d", parallelism)
		}
	}
}

func TestVariantConsensusAgreement(t *testing.T) {
	ctx := vcontext.Background()
	d := newTestData(t, contig{"chr1", indelRef})
	reads := append(indelReads(d),
		d.read("x1", 0, 12, "4M", "TTTT"),
		d.read("x2", 0, 12, "4M", "TTTT"),
		d.read("x3", 0, 12, "4M", "TTTT"),
		d.read("x4", 0, 12, "4M", "TTTT"),
		d.read("x5", 0, 12, "4M", "TTTT"))
	e := d.engine(t, plurality.DefaultOpts, reads...)
	calls, variants, err := e.ComputeRegion(ctx, interval.Entry{RefName: "chr1", End: 20})
	require.NoError(t, err)
	byPos := map[plurality.PosType]plurality.Variant{}
	for _, v := range variants {
		_, dup := byPos[v.Start]
		assert.False(t, dup, "two variants at %d", v.Start)
		byPos[v.Start] = v
	}
	nSNV := 0
	for _, c := range calls {
		refBase := indelRef[c.Pos]
		v, ok := byPos[c.Pos]
		differs := c.Sequence != string(refBase)
		assert.Equal(t, differs, ok, "pos %d: call %q ref %c", c.Pos, c.Sequence, refBase)
		if ok && v.Kind == plurality.Substitution {
			nSNV++
			assert.Equal(t, c.Sequence, v.Seq)
		}
	}
	// Positions 12..14 are outvoted 5 to 4; position 15 is a T already.
	assert.Equal(t, 3, nSNV)
}

func TestReadFilters(t *testing.T) {
	ctx := vcontext.Background()
	d := newTestData(t, contig{"chr1", "ACGTACGT"})
	dup := d.read("dup", 0, 0, "4M", "TTTT")
	dup.Flags = sam.Duplicate
	secondary := d.read("secondary", 0, 0, "4M", "TTTT")
	secondary.Flags = sam.Secondary
	lowMapQ := d.read("lowmapq", 0, 0, "4M", "TTTT")
	lowMapQ.MapQ = 5
	good := d.read("good", 0, 0, "4M", "ACGT")

	e := d.engine(t, plurality.DefaultOpts, dup, secondary, lowMapQ, good)
	res, err := e.ComputeWindow(ctx, interval.Entry{RefName: "chr1", End: 8})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Reads)
	assert.Equal(t, "A,15,1", csvRow(res.Calls[0]))
	assert.Empty(t, res.Variants)
	assert.Equal(t, "ACGTACGT", res.RefSeq)

	opts := plurality.DefaultOpts
	opts.FlagExclude = 0
	opts.MinMapQV = 0
	e = d.engine(t, opts, dup, secondary, lowMapQ, good)
	res, err = e.ComputeWindow(ctx, interval.Entry{RefName: "chr1", End: 8})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Reads)
	assert.Equal(t, "T,6,3", csvRow(res.Calls[0]))

	opts.MaxCoverage = 2
	e = d.engine(t, opts, dup, secondary, lowMapQ, good)
	res, err = e.ComputeWindow(ctx, interval.Entry{RefName: "chr1", End: 8})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Reads)
}

// Reads at uniform depth across a full window are all used: the depth
// limit applies per position, not to the window as a whole.
func TestMaxCoverageUniformDepth(t *testing.T) {
	ctx := vcontext.Background()
	ref := strings.Repeat("ACGT", 100)
	d := newTestData(t, contig{"chr1", ref})
	var reads []*sam.Record
	for pos := 0; pos+10 <= len(ref); pos += 5 {
		for i := 0; i < 3; i++ {
			reads = append(reads, d.read(fmt.Sprintf("r%d_%d", pos, i), 0, pos, "10M", ref[pos:pos+10]))
		}
	}
	require.True(t, len(reads) > plurality.DefaultOpts.MaxCoverage)

	e := d.engine(t, plurality.DefaultOpts, reads...)
	res, err := e.ComputeWindow(ctx, interval.Entry{RefName: "chr1", End: interval.PosType(len(ref))})
	require.NoError(t, err)
	assert.Equal(t, len(reads), res.Reads)
	require.Len(t, res.Calls, len(ref))
	for i, c := range res.Calls {
		want := 6
		if i < 5 || i >= len(ref)-5 {
			want = 3
		}
		assert.Equal(t, want, c.Coverage, "pos %d", i)
		assert.Equal(t, want, c.Frequency, "pos %d", i)
		assert.Equal(t, ref[i:i+1], c.Sequence, "pos %d", i)
		assert.Equal(t, 15, c.Confidence, "pos %d", i)
	}
}

func TestMaxCoverageStack(t *testing.T) {
	ctx := vcontext.Background()
	ref := strings.Repeat("ACGT", 5)
	d := newTestData(t, contig{"chr1", ref})
	var reads []*sam.Record
	for i := 0; i < 10; i++ {
		reads = append(reads, d.read(fmt.Sprintf("stack%d", i), 0, 0, "10M", ref[:10]))
	}
	// Reaches past the stack, so it is kept.
	reads = append(reads, d.read("tail", 0, 5, "10M", ref[5:15]))

	opts := plurality.DefaultOpts
	opts.MaxCoverage = 4
	e := d.engine(t, opts, reads...)
	res, err := e.ComputeWindow(ctx, interval.Entry{RefName: "chr1", End: 20})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Reads)
	assert.Equal(t, 4, res.Calls[0].Coverage)
	assert.Equal(t, 5, res.Calls[7].Coverage)
	assert.Equal(t, 1, res.Calls[12].Coverage)
	assert.Equal(t, 0, res.Calls[15].Coverage)
}

func TestVariantFilters(t *testing.T) {
	ctx := vcontext.Background()
	d := newTestData(t, contig{"chr1", indelRef})
	opts := plurality.DefaultOpts
	opts.MinConfidence = 7
	e := d.engine(t, opts, indelReads(d)...)
	variants, err := e.ComputeVariants(ctx, "chr1", 0, 20)
	require.NoError(t, err)
	// The deletions score 15 (3 of 3); the insertion sits on a unanimous
	// column as well.
	assert.Len(t, variants, 3)

	opts.MinConfidence = 0
	opts.MinCoverage = 4
	e = d.engine(t, opts, indelReads(d)...)
	variants, err = e.ComputeVariants(ctx, "chr1", 0, 20)
	require.NoError(t, err)
	assert.Empty(t, variants)
}

func TestMalformedReadSkipped(t *testing.T) {
	ctx := vcontext.Background()
	d := newTestData(t, contig{"chr1", "ACGTACGT"})
	bad := d.read("bad", 0, 0, "4M", "TTTT")
	bad.Cigar = []sam.CigarOp{sam.NewCigarOp(sam.CigarMatch, 6)}
	interior := d.read("interior", 0, 0, "2M1S1M", "TTTT")
	good := d.read("good", 0, 0, "4M", "ACGA")
	e := d.engine(t, plurality.DefaultOpts, bad, interior, good)
	res, err := e.ComputeWindow(ctx, interval.Entry{RefName: "chr1", End: 8})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Reads)
	assert.Equal(t, 2, res.Skipped)
	require.Len(t, res.Calls, 8)
	assert.Equal(t, "A,15,1", csvRow(res.Calls[0]))
	assert.Equal(t, "A,15,1", csvRow(res.Calls[3]))
	require.Len(t, res.Variants, 1)
	assert.Equal(t, plurality.PosType(3), res.Variants[0].Start)
}

func TestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(vcontext.Background())
	cancel()
	d := newTestData(t, contig{"chr1", indelRef})
	e := d.engine(t, plurality.DefaultOpts, indelReads(d)...)
	_, _, err := e.ComputeRegion(ctx, interval.Entry{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), context.Canceled.Error())
}

func TestOptsValidate(t *testing.T) {
	bad := []func(*plurality.Opts){
		func(o *plurality.Opts) { o.WindowSize = 0 },
		func(o *plurality.Opts) { o.MinCoverage = -1 },
		func(o *plurality.Opts) { o.NoEvidenceConsensus = "maybe" },
		func(o *plurality.Opts) { o.Region = "chr1:0-5" },
		func(o *plurality.Opts) { o.Confidence = plurality.ConfidenceTable{{Num: 2, Den: 1, Score: 1}} },
	}
	for i, mutate := range bad {
		opts := plurality.DefaultOpts
		mutate(&opts)
		err := opts.Validate()
		assert.True(t, errors.Is(errors.Invalid, err), "case %d: %v", i, err)
	}
	opts := plurality.DefaultOpts
	assert.NoError(t, opts.Validate())
}
