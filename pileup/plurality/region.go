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
	"context"
	"fmt"
	"runtime"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/hts/sam"
	"github.com/lixuenan/GenomicConsensus/encoding/bamprovider"
	"github.com/lixuenan/GenomicConsensus/encoding/fasta"
	"github.com/lixuenan/GenomicConsensus/interval"
	"github.com/lixuenan/GenomicConsensus/pileup"
)

// Engine computes consensus calls and variants over reference windows.  The
// provider and reference are only read; each window gets its own pileup, so
// windows can be processed concurrently.
type Engine struct {
	provider bamprovider.Provider
	ref      fasta.Fasta
	opts     Opts
	caller   Caller

	contigs []fasta.Contig
	byName  map[string]fasta.Contig
	// inBAM lists the contigs present in the BAM header.  Other contigs have
	// no reads.
	inBAM map[string]bool
}

// WindowResult holds the calls and variants of one window.
type WindowResult struct {
	Window interval.Entry
	// RefSeq holds the reference bases of the window.
	RefSeq   string
	Calls    []ConsensusCall
	Variants []Variant
	// Reads counts the reads piled up; Skipped counts the malformed ones.
	Reads   int
	Skipped int
}

// NewEngine creates an Engine.  opts must have been validated with
// Opts.Validate or come from DefaultOpts.
func NewEngine(provider bamprovider.Provider, ref fasta.Fasta, opts Opts) (*Engine, error) {
	caller, err := opts.caller()
	if err != nil {
		return nil, err
	}
	contigs, err := fasta.Contigs(ref)
	if err != nil {
		return nil, err
	}
	header, err := provider.GetHeader()
	if err != nil {
		return nil, err
	}
	if err := pileup.CheckRefLengths(ref, header.Refs()); err != nil {
		return nil, err
	}
	e := &Engine{
		provider: provider,
		ref:      ref,
		opts:     opts,
		caller:   caller,
		contigs:  contigs,
		byName:   make(map[string]fasta.Contig, len(contigs)),
		inBAM:    make(map[string]bool),
	}
	for _, c := range contigs {
		e.byName[c.Name] = c
	}
	for _, r := range header.Refs() {
		e.inBAM[r.Name()] = true
	}
	return e, nil
}

// Contigs returns the reference contigs in FASTA order.
func (e *Engine) Contigs() []fasta.Contig {
	return e.contigs
}

func (e *Engine) contig(refName string) (fasta.Contig, error) {
	c, ok := e.byName[refName]
	if !ok {
		return fasta.Contig{}, errors.E(errors.NotExist, fmt.Sprintf("plurality: reference '%s' not found", refName))
	}
	return c, nil
}

// Windows clamps region to its contig and tiles it into windows of
// Opts.WindowSize positions.  An empty RefName selects every contig.
func (e *Engine) Windows(region interval.Entry) ([]interval.Entry, error) {
	if region.RefName == "" {
		var windows []interval.Entry
		for _, c := range e.contigs {
			windows = append(windows, interval.Tile(interval.Entry{RefName: c.Name, End: PosType(c.Len)}, e.opts.WindowSize)...)
		}
		return windows, nil
	}
	c, err := e.contig(region.RefName)
	if err != nil {
		return nil, err
	}
	return interval.Tile(region.Clamp(c.Len), e.opts.WindowSize), nil
}

// readWindow returns the reads of w that pass the flag, mapping quality and
// coverage filters, in coordinate order.  With a MaxCoverage limit, a read is
// dropped only when every window position it spans already has MaxCoverage
// reads, so a deep window head does not starve its tail.
func (e *Engine) readWindow(w interval.Entry) (reads []*sam.Record, err error) {
	if !e.inBAM[w.RefName] {
		return nil, nil
	}
	iter := e.provider.NewIterator(w.RefName, int(w.Start0), int(w.End))
	defer func() {
		if cerr := iter.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	var depth []int
	if e.opts.MaxCoverage > 0 {
		depth = make([]int, w.Len())
	}
	for iter.Scan() {
		r := iter.Record()
		if int(r.Flags)&e.opts.FlagExclude != 0 || int(r.MapQ) < e.opts.MinMapQV {
			continue
		}
		if depth != nil && !addDepth(depth, int(w.Start0), r.Pos, r.End(), e.opts.MaxCoverage) {
			continue
		}
		reads = append(reads, r)
	}
	return reads, iter.Err()
}

// addDepth counts a read spanning reference [start, end) into depth, which
// holds the read depth of the window positions from windowStart onwards.  It
// returns false, leaving depth untouched, when every position in the span is
// already at maxCoverage.
func addDepth(depth []int, windowStart, start, end, maxCoverage int) bool {
	lo, hi := start-windowStart, end-windowStart
	if lo < 0 {
		lo = 0
	}
	if hi > len(depth) {
		hi = len(depth)
	}
	if lo >= hi {
		return true
	}
	full := true
	for _, d := range depth[lo:hi] {
		if d < maxCoverage {
			full = false
			break
		}
	}
	if full {
		return false
	}
	for i := lo; i < hi; i++ {
		depth[i]++
	}
	return true
}

// ComputeWindow piles up the reads of w and calls every position.  w must be
// non-empty and lie within its contig.
func (e *Engine) ComputeWindow(ctx context.Context, w interval.Entry) (WindowResult, error) {
	res := WindowResult{Window: w}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	c, err := e.contig(w.RefName)
	if err != nil {
		return res, err
	}
	if w.Start0 < 0 || int(w.End) > c.Len || w.Len() == 0 {
		return res, errors.E(errors.Invalid, fmt.Sprintf("plurality: window %v outside of contig %s (length %d)", w, c.Name, c.Len))
	}
	refSeq, err := e.ref.Get(w.RefName, uint64(w.Start0), uint64(w.End))
	if err != nil {
		return res, err
	}
	res.RefSeq = refSeq
	reads, err := e.readWindow(w)
	if err != nil {
		return res, err
	}
	res.Reads = len(reads)
	cols, skipped := pileup.Build(w, reads)
	for _, err := range skipped {
		log.Printf("plurality: warning: skipping read: %v", err)
	}
	res.Skipped = len(skipped)

	res.Calls = make([]ConsensusCall, len(cols))
	for i := range cols {
		call := &res.Calls[i]
		*call = e.caller.Call(&cols[i], refSeq[i])
		call.RefID = c.ID
		call.RefName = c.Name
		if v, ok := Classify(call, refSeq[i]); ok && e.opts.keepVariant(&v) {
			res.Variants = append(res.Variants, v)
		}
	}
	log.Debug.Printf("plurality: %v: %d reads, %d skipped, %d variants", w, res.Reads, res.Skipped, len(res.Variants))
	return res, nil
}

// ComputeRegion computes every window of region (see Windows) with
// Opts.Parallelism workers, and concatenates the results in window order.
func (e *Engine) ComputeRegion(ctx context.Context, region interval.Entry) ([]ConsensusCall, []Variant, error) {
	windows, err := e.Windows(region)
	if err != nil {
		return nil, nil, err
	}
	results, err := e.computeWindows(ctx, windows)
	if err != nil {
		return nil, nil, err
	}
	var (
		calls    []ConsensusCall
		variants []Variant
	)
	for _, r := range results {
		calls = append(calls, r.Calls...)
		variants = append(variants, r.Variants...)
	}
	SortVariants(variants)
	return calls, variants, nil
}

// computeWindows splits windows into contiguous per-job slices and stores
// each window's result at its own index.
func (e *Engine) computeWindows(ctx context.Context, windows []interval.Entry) ([]WindowResult, error) {
	nWindow := len(windows)
	results := make([]WindowResult, nWindow)
	parallelism := e.opts.parallelism()
	if parallelism > nWindow {
		parallelism = nWindow
	}
	if parallelism == 0 {
		return results, nil
	}
	err := traverse.Each(parallelism, func(jobIdx int) error {
		startIdx := (jobIdx * nWindow) / parallelism
		endIdx := ((jobIdx + 1) * nWindow) / parallelism
		for i := startIdx; i < endIdx; i++ {
			r, err := e.ComputeWindow(ctx, windows[i])
			if err != nil {
				return err
			}
			results[i] = r
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ComputeConsensus returns one call per position of [start, end) on refName.
func (e *Engine) ComputeConsensus(ctx context.Context, refName string, start, end PosType) ([]ConsensusCall, error) {
	calls, _, err := e.ComputeRegion(ctx, interval.Entry{RefName: refName, Start0: start, End: end})
	return calls, err
}

// ComputeVariants returns the variants of [start, end) on refName, in
// coordinate order.
func (e *Engine) ComputeVariants(ctx context.Context, refName string, start, end PosType) ([]Variant, error) {
	_, variants, err := e.ComputeRegion(ctx, interval.Entry{RefName: refName, Start0: start, End: end})
	return variants, err
}

func (o *Opts) parallelism() int {
	if o.Parallelism <= 0 {
		return runtime.NumCPU()
	}
	return o.Parallelism
}
