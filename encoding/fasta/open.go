package fasta

import (
	"context"
	"strings"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
)

// Open loads the FASTA at fapath.  A local, uncompressed FASTA with a .fai
// sibling is opened through the index; anything else (compressed input, S3
// paths, no index) is read fully into memory.
func Open(ctx context.Context, fapath string) (fa Fasta, err error) {
	if !strings.Contains(fapath, "://") && !strings.HasSuffix(fapath, ".gz") {
		if _, e := file.Stat(ctx, fapath+".fai"); e == nil {
			log.Debug.Printf("fasta.Open: using index %s.fai", fapath)
			return NewIndexed(fapath)
		}
	}
	var infile file.File
	if infile, err = file.Open(ctx, fapath); err != nil {
		return
	}
	defer func() {
		if e := infile.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	reader, _ := compress.NewReader(infile.Reader(ctx))
	defer func() {
		if e := reader.Close(); e != nil && err == nil {
			err = e
		}
	}()
	return New(reader)
}
