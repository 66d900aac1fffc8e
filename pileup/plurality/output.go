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
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/hts/bgzf"
	"github.com/lixuenan/GenomicConsensus/encoding/fasta"
)

// CSVHeader lists the columns of the consensus CSV output.
var CSVHeader = []string{"referenceId", "referencePos", "coverage", "consensus", "consensusConfidence", "consensusFrequency"}

// CSVWriter writes one row per consensus call.
type CSVWriter struct {
	w      *csv.Writer
	record []string
}

// NewCSVWriter creates a CSVWriter and writes the header.
func NewCSVWriter(w io.Writer) (*CSVWriter, error) {
	cw := &CSVWriter{w: csv.NewWriter(w), record: make([]string, len(CSVHeader))}
	if err := cw.w.Write(CSVHeader); err != nil {
		return nil, err
	}
	return cw, nil
}

// Write appends a row for call.  Positions are 0-based.
func (cw *CSVWriter) Write(call *ConsensusCall) error {
	cw.record[0] = call.RefName
	cw.record[1] = strconv.Itoa(int(call.Pos))
	cw.record[2] = strconv.Itoa(call.Coverage)
	cw.record[3] = call.Sequence
	cw.record[4] = strconv.Itoa(call.Confidence)
	cw.record[5] = strconv.Itoa(call.Frequency)
	return cw.w.Write(cw.record)
}

// Flush writes any buffered rows.
func (cw *CSVWriter) Flush() error {
	cw.w.Flush()
	return cw.w.Error()
}

// GFFWriter writes one GFF3 feature per variant.
type GFFWriter struct {
	w *tsv.Writer
}

// NewGFFWriter creates a GFFWriter and writes the GFF3 header, with one
// sequence-region pragma per contig.
func NewGFFWriter(w io.Writer, contigs []fasta.Contig) (*GFFWriter, error) {
	gw := &GFFWriter{w: tsv.NewWriter(w)}
	gw.w.WriteString("##gff-version 3")
	if err := gw.w.EndLine(); err != nil {
		return nil, err
	}
	gw.w.WriteString("##source GenomicConsensus")
	if err := gw.w.EndLine(); err != nil {
		return nil, err
	}
	for _, c := range contigs {
		gw.w.WriteString(fmt.Sprintf("##sequence-region %s 1 %d", c.Name, c.Len))
		if err := gw.w.EndLine(); err != nil {
			return nil, err
		}
	}
	return gw, nil
}

// Write appends the feature line of v.  GFF coordinates are 1-based and
// inclusive, so an insertion or SNV covers a single position and a deletion
// covers its length.
func (gw *GFFWriter) Write(v *Variant) error {
	variantSeq := v.Seq
	if variantSeq == "" {
		variantSeq = "."
	}
	gw.w.WriteString(v.RefName)
	gw.w.WriteString("GenomicConsensus")
	gw.w.WriteString(v.Kind.String())
	gw.w.WriteUint32(uint32(v.Start + 1))
	gw.w.WriteUint32(uint32(v.End))
	gw.w.WriteString(".") // score
	gw.w.WriteString(".") // strand
	gw.w.WriteString(".") // phase
	gw.w.WriteString(fmt.Sprintf("length=%d;variantSeq=%s;frequency=%d;confidence=%d;coverage=%d",
		v.Length, variantSeq, v.Frequency, v.Confidence, v.Coverage))
	return gw.w.EndLine()
}

// Flush writes any buffered features.
func (gw *GFFWriter) Flush() error {
	return gw.w.Flush()
}

// FastaLineWidth is the number of bases per line of the consensus FASTA.
const FastaLineWidth = 60

// FastaWriter writes the consensus sequence of every contig: deletion calls
// are dropped, and called insertions are kept.
type FastaWriter struct {
	w       *bufio.Writer
	refName string
	started bool
	col     int
}

// NewFastaWriter creates a FastaWriter.
func NewFastaWriter(w io.Writer) *FastaWriter {
	return &FastaWriter{w: bufio.NewWriter(w)}
}

func (fw *FastaWriter) endRecord() {
	if fw.started && fw.col > 0 {
		fw.w.WriteByte('\n') // nolint: errcheck
	}
	fw.col = 0
}

// Write appends call's sequence to the record of its contig.  Calls must
// arrive in reference order; a new contig starts a new record.
func (fw *FastaWriter) Write(call *ConsensusCall) error {
	if !fw.started || call.RefName != fw.refName {
		fw.endRecord()
		fw.started = true
		fw.refName = call.RefName
		if _, err := fmt.Fprintf(fw.w, ">%s|plurality\n", call.RefName); err != nil {
			return err
		}
	}
	for i := 0; i < len(call.Sequence); i++ {
		if err := fw.w.WriteByte(call.Sequence[i]); err != nil {
			return err
		}
		fw.col++
		if fw.col == FastaLineWidth {
			if err := fw.w.WriteByte('\n'); err != nil {
				return err
			}
			fw.col = 0
		}
	}
	return nil
}

// Flush terminates the last record and writes any buffered data.
func (fw *FastaWriter) Flush() error {
	fw.endRecord()
	return fw.w.Flush()
}

type outputKind int

const (
	outputCSV outputKind = iota
	outputGFF
	outputFasta
)

// parseOutputPath returns the kind of output requested by path's suffix,
// and whether it must be BGZF-compressed.
func parseOutputPath(path string) (kind outputKind, bgzip bool, err error) {
	base := strings.ToLower(path)
	if strings.HasSuffix(base, ".gz") {
		bgzip = true
		base = strings.TrimSuffix(base, ".gz")
	}
	switch {
	case strings.HasSuffix(base, ".csv"):
		kind = outputCSV
	case strings.HasSuffix(base, ".gff"), strings.HasSuffix(base, ".gff3"):
		kind = outputGFF
	case strings.HasSuffix(base, ".fasta"), strings.HasSuffix(base, ".fa"):
		kind = outputFasta
	default:
		err = fmt.Errorf("plurality: unrecognized output format for %s (want .csv, .gff, .fasta or .fa, optionally followed by .gz)", path)
	}
	return
}

// output is one open output file.
type output struct {
	path  string
	dst   file.File
	bgzfw *bgzf.Writer
	csv   *CSVWriter
	gff   *GFFWriter
	fasta *FastaWriter
}

func createOutput(ctx context.Context, path string, contigs []fasta.Contig, parallelism int) (o *output, err error) {
	kind, bgzip, err := parseOutputPath(path)
	if err != nil {
		return nil, err
	}
	o = &output{path: path}
	if o.dst, err = file.Create(ctx, path); err != nil {
		return nil, err
	}
	var w io.Writer = o.dst.Writer(ctx)
	if bgzip {
		o.bgzfw = bgzf.NewWriter(w, parallelism)
		w = o.bgzfw
	}
	switch kind {
	case outputCSV:
		o.csv, err = NewCSVWriter(w)
	case outputGFF:
		o.gff, err = NewGFFWriter(w, contigs)
	case outputFasta:
		o.fasta = NewFastaWriter(w)
	}
	if err != nil {
		o.close(ctx, &err)
		return nil, err
	}
	return o, nil
}

func (o *output) write(call *ConsensusCall, v *Variant) error {
	switch {
	case o.csv != nil:
		return o.csv.Write(call)
	case o.gff != nil:
		if v == nil {
			return nil
		}
		return o.gff.Write(v)
	default:
		return o.fasta.Write(call)
	}
}

// close flushes and closes the output.  The first error is stored in *err.
func (o *output) close(ctx context.Context, err *error) {
	setErr := func(e error) {
		if e != nil && *err == nil {
			*err = e
		}
	}
	switch {
	case o.csv != nil:
		setErr(o.csv.Flush())
	case o.gff != nil:
		setErr(o.gff.Flush())
	case o.fasta != nil:
		setErr(o.fasta.Flush())
	}
	if o.bgzfw != nil {
		setErr(o.bgzfw.Close())
	}
	file.CloseAndReport(ctx, o.dst, err)
}
