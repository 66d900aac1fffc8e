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
	"os"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/grailbio/base/traverse"
	"github.com/lixuenan/GenomicConsensus/encoding/bamprovider"
	"github.com/lixuenan/GenomicConsensus/encoding/fasta"
	"github.com/lixuenan/GenomicConsensus/interval"
)

func init() {
	recordiozstd.Init()
}

// Opts configures an Engine and the Run driver.
type Opts struct {
	// Commandline options.
	Region              string
	BamIndexPath        string
	FlagExclude         int
	MinMapQV            int
	MaxCoverage         int
	MinCoverage         int
	MinConfidence       int
	NoEvidenceConsensus string
	WindowSize          int
	Parallelism         int
	TempDir             string

	// Confidence overrides DefaultConfidenceTable when non-nil.
	Confidence ConfidenceTable
}

// DefaultOpts excludes unmapped, secondary, QC-fail, duplicate and
// supplementary reads, and keeps every variant.
var DefaultOpts = Opts{
	FlagExclude:         0xf04,
	MinMapQV:            10,
	MaxCoverage:         100,
	MinCoverage:         0,
	MinConfidence:       0,
	NoEvidenceConsensus: "reference",
	WindowSize:          500,
	Parallelism:         0,
}

// Validate checks the option values.
func (o *Opts) Validate() error {
	if o.WindowSize <= 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("plurality: window size must be positive, got %d", o.WindowSize))
	}
	if o.MaxCoverage < 0 || o.MinCoverage < 0 || o.MinConfidence < 0 || o.MinMapQV < 0 {
		return errors.E(errors.Invalid, "plurality: coverage, confidence and mapping quality thresholds must be nonnegative")
	}
	if o.Region != "" {
		if _, err := interval.ParseRegionString(o.Region); err != nil {
			return errors.E(errors.Invalid, err)
		}
	}
	_, err := o.caller()
	return err
}

func (o *Opts) caller() (Caller, error) {
	var c Caller
	if o.NoEvidenceConsensus != "" {
		mode, err := ParseNoEvidenceMode(o.NoEvidenceConsensus)
		if err != nil {
			return c, errors.E(errors.Invalid, err)
		}
		c.NoEvidence = mode
	}
	if o.Confidence != nil {
		if err := o.Confidence.Validate(); err != nil {
			return c, errors.E(errors.Invalid, err)
		}
		c.Confidence = o.Confidence
	}
	return c, nil
}

func (o *Opts) keepVariant(v *Variant) bool {
	return v.Coverage >= o.MinCoverage && v.Confidence >= o.MinConfidence
}

// Run computes the plurality consensus of the BAM file at xampath against the
// reference at fapath, and writes every path in outPaths (see Consensus).
func Run(ctx context.Context, xampath, fapath string, outPaths []string, opts *Opts) (err error) {
	if err = opts.Validate(); err != nil {
		return
	}
	provider := bamprovider.NewProvider(xampath, bamprovider.ProviderOpts{Index: opts.BamIndexPath})
	defer func() {
		if e := provider.Close(); e != nil && err == nil {
			err = e
		}
	}()
	var ref fasta.Fasta
	if ref, err = fasta.Open(ctx, fapath); err != nil {
		return
	}
	return Consensus(ctx, provider, ref, outPaths, opts)
}

// Consensus computes the consensus of opts.Region (every contig when empty)
// and writes it to outPaths.  The output format is chosen by suffix: .csv for
// per-position calls, .gff for variants and .fasta/.fa for the consensus
// sequence; a trailing .gz requests BGZF compression.
//
// The windows are split into contiguous per-job slices.  Each job writes its
// rows to a temporary recordio file, and the files are then rendered in job
// order.
func Consensus(ctx context.Context, provider bamprovider.Provider, ref fasta.Fasta, outPaths []string, opts *Opts) (err error) {
	if len(outPaths) == 0 {
		return errors.E(errors.Invalid, "plurality: no output path")
	}
	for _, path := range outPaths {
		if _, _, err = parseOutputPath(path); err != nil {
			return errors.E(errors.Invalid, err)
		}
	}
	if err = opts.Validate(); err != nil {
		return
	}
	var engine *Engine
	if engine, err = NewEngine(provider, ref, *opts); err != nil {
		return
	}
	var region interval.Entry
	if opts.Region != "" {
		if region, err = interval.ParseRegionString(opts.Region); err != nil {
			return
		}
	}
	var windows []interval.Entry
	if windows, err = engine.Windows(region); err != nil {
		return
	}
	nWindow := len(windows)
	parallelism := opts.parallelism()
	if parallelism > nWindow {
		parallelism = nWindow
	}

	if opts.TempDir != "" {
		if err = os.MkdirAll(opts.TempDir, 0755); err != nil {
			return
		}
	}
	tmpFiles := make([]*os.File, parallelism)
	defer func() {
		for _, f := range tmpFiles {
			if f != nil {
				if e := f.Close(); e != nil && err == nil {
					err = e
				}
				_ = os.Remove(f.Name())
			}
		}
	}()
	for jobIdx := range tmpFiles {
		if tmpFiles[jobIdx], err = os.CreateTemp(opts.TempDir, "consensus_tmp"+strconv.Itoa(jobIdx)+"_*.rio"); err != nil {
			return
		}
	}

	log.Printf("plurality.Consensus: starting main loop (%d windows, %d jobs)", nWindow, parallelism)
	err = traverse.Each(parallelism, func(jobIdx int) error {
		startIdx := (jobIdx * nWindow) / parallelism
		endIdx := ((jobIdx + 1) * nWindow) / parallelism
		w := recordio.NewWriter(tmpFiles[jobIdx], recordio.WriterOpts{
			Marshal:      marshalCallRow,
			Transformers: []string{recordiozstd.Name},
		})
		for _, window := range windows[startIdx:endIdx] {
			res, err := engine.ComputeWindow(ctx, window)
			if err != nil {
				return err
			}
			// Calls with a variant are rare, so match them up by position.
			vi := 0
			for i := range res.Calls {
				// The writer marshals rows lazily, when a block fills up, so
				// each row must be a separate object.
				row := &CallRow{
					Call:    res.Calls[i],
					RefBase: res.RefSeq[i],
				}
				if vi < len(res.Variants) && res.Variants[vi].Start == row.Call.Pos {
					row.FieldsPresent |= FieldVariant
					vi++
				}
				w.Append(row)
			}
		}
		return w.Finish()
	})
	if err != nil {
		return
	}
	log.Printf("plurality.Consensus: main loop complete")
	return convertCallRows(ctx, tmpFiles, outPaths, engine.Contigs(), opts.parallelism())
}

// convertCallRows reads the temporary files back in order and renders every
// row to every output.
func convertCallRows(ctx context.Context, tmpFiles []*os.File, outPaths []string, contigs []fasta.Contig, parallelism int) (err error) {
	outputs := make([]*output, 0, len(outPaths))
	defer func() {
		for _, o := range outputs {
			o.close(ctx, &err)
		}
	}()
	for _, path := range outPaths {
		var o *output
		if o, err = createOutput(ctx, path, contigs, parallelism); err != nil {
			return
		}
		outputs = append(outputs, o)
	}
	nVariant := 0
	for _, f := range tmpFiles {
		if _, err = f.Seek(0, 0); err != nil {
			return
		}
		scanner := recordio.NewScanner(f, recordio.ScannerOpts{
			Unmarshal: unmarshalCallRow,
		})
		for scanner.Scan() {
			cr := scanner.Get().(*CallRow)
			call := &cr.Call
			if call.RefID < 0 || call.RefID >= len(contigs) {
				return fmt.Errorf("plurality: call row with reference ID %d out of range", call.RefID)
			}
			call.RefName = contigs[call.RefID].Name
			var vp *Variant
			if cr.FieldsPresent&FieldVariant != 0 {
				v, ok := Classify(call, cr.RefBase)
				if !ok {
					return fmt.Errorf("plurality: call at %s:%d has no variant", call.RefName, call.Pos)
				}
				vp = &v
				nVariant++
			}
			for _, o := range outputs {
				if err = o.write(call, vp); err != nil {
					return
				}
			}
		}
		if err = scanner.Err(); err != nil {
			return
		}
	}
	log.Printf("plurality.Consensus: done, %d variants, final results written to %v", nVariant, outPaths)
	return nil
}
