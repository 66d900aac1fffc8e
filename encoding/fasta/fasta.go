// Package fasta contains code for parsing (optionally indexed) FASTA files.
// See http://www.htslib.org/doc/faidx.html.  Briefly, FASTA files consist of a
// number of named sequences that may be interrupted by newlines.  For example:
//
// >chr7
// ACGTAC
// GAGGAC
// GCG
// >chr8
// ACGT
//
// Note: Sequence names are defined to be the stretch of characters excluding
// spaces immediately after '>'.  Any text appear after a space are ignored.
// For example, '>chr1 A viral sequence' becomes 'chr1'.
//
// A Fasta is the reference source of the consensus pipeline: the position of
// a name in SeqNames() is the reference ID reported in the output.
package fasta

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
)

const (
	bufferInitSize = 1024 * 1024 * 300 // 300 MB
)

// ErrSeqNotFound is the cause of every error returned for a sequence name
// that is absent from the FASTA.  Use errors.Cause to test for it.
var ErrSeqNotFound = errors.New("sequence not found")

// Fasta represents FASTA-formatted data, consisting of a set of named
// sequences.
type Fasta interface {
	// Get returns a substring of the given sequence name at the given
	// coordinates, which are treated as a 0-based half-open interval
	// [start, end). Get is thread-safe.
	Get(seqName string, start, end uint64) (string, error)

	// Len returns the length of the given sequence.
	Len(seqName string) (uint64, error)

	// SeqNames returns the names of all sequences, in the order of appearance in
	// the FASTA file.
	SeqNames() []string
}

// Contig describes one sequence of a Fasta.
type Contig struct {
	// ID is the index of the sequence in SeqNames().
	ID   int
	Name string
	Len  int
}

// Contigs lists the sequences of fa in file order.
func Contigs(fa Fasta) ([]Contig, error) {
	names := fa.SeqNames()
	contigs := make([]Contig, len(names))
	for i, name := range names {
		n, err := fa.Len(name)
		if err != nil {
			return nil, err
		}
		contigs[i] = Contig{ID: i, Name: name, Len: int(n)}
	}
	return contigs, nil
}

// LookupContig returns the Contig with the given name.  The error's cause is
// ErrSeqNotFound if there is none.
func LookupContig(fa Fasta, seqName string) (Contig, error) {
	for i, name := range fa.SeqNames() {
		if name == seqName {
			n, err := fa.Len(name)
			if err != nil {
				return Contig{}, err
			}
			return Contig{ID: i, Name: name, Len: int(n)}, nil
		}
	}
	return Contig{}, errors.Wrapf(ErrSeqNotFound, "%s", seqName)
}

type fasta struct {
	seqs     map[string]string
	seqNames []string
}

// New creates a new Fasta that holds all the FASTA data from the given reader
// in memory.
func New(r io.Reader) (Fasta, error) {
	f := &fasta{seqs: make(map[string]string)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, bufferInitSize)
	var seqName string
	var seq strings.Builder
	seen := false
	flush := func() error {
		if !seen {
			return nil
		}
		if _, ok := f.seqs[seqName]; ok {
			return errors.Errorf("duplicate FASTA sequence name %s", seqName)
		}
		f.seqs[seqName] = seq.String()
		f.seqNames = append(f.seqNames, seqName)
		seq.Reset()
		return nil
	}
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' { // Start a new sequence.
			if err := flush(); err != nil {
				return nil, err
			}
			seqName = strings.Split(line[1:], " ")[0]
			if seqName == "" {
				return nil, errors.Errorf("malformed FASTA file: empty sequence name")
			}
			seen = true
		} else {
			if !seen {
				return nil, errors.Errorf("malformed FASTA file: sequence data before first header")
			}
			seq.WriteString(line)
		}
	}
	if scanner.Err() != nil {
		return nil, errors.Wrap(scanner.Err(), "couldn't read FASTA data")
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return f, nil
}

// Get implements Fasta.Get().
func (f *fasta) Get(seqName string, start, end uint64) (string, error) {
	s, ok := f.seqs[seqName]
	if !ok {
		return "", errors.Wrapf(ErrSeqNotFound, "%s", seqName)
	}
	if end <= start {
		return "", errors.Errorf("start must be less than end")
	}
	if end > uint64(len(s)) {
		return "", errors.Errorf("invalid query range %d - %d for sequence %s with length %d",
			start, end, seqName, len(s))
	}
	return s[start:end], nil
}

// Len implements Fasta.Len().
func (f *fasta) Len(seqName string) (uint64, error) {
	s, ok := f.seqs[seqName]
	if !ok {
		return 0, errors.Wrapf(ErrSeqNotFound, "%s", seqName)
	}
	return uint64(len(s)), nil
}

// SeqNames implements Fasta.SeqNames().
func (f *fasta) SeqNames() []string {
	return f.seqNames
}
