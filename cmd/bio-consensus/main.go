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
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/lixuenan/GenomicConsensus/pileup/plurality"
)

var (
	algorithm           = flag.String("algorithm", "plurality", "Consensus algorithm; only 'plurality' is supported")
	referencePath       = flag.String("r", "", "Reference FASTA path (required). A .fai index next to it is used when present")
	outputPaths         = flag.String("o", "", "Comma-separated output paths (required); the format is chosen by suffix: .csv, .gff, .fasta/.fa, optionally followed by .gz")
	region              = flag.String("region", plurality.DefaultOpts.Region, "Restrict consensus computation to the specified region. Format as <contig ID>:<1-based first pos>-<last pos>, <contig ID>:<1-based pos>, or just <contig ID>; default is the whole reference")
	bamIndexPath        = flag.String("index", plurality.DefaultOpts.BamIndexPath, "Input BAM index path. Defaults to bampath + .bai")
	minMapQV            = flag.Int("min-mapqv", plurality.DefaultOpts.MinMapQV, "Reads with MAPQ below this level are skipped")
	flagExclude         = flag.Int("flag-exclude", plurality.DefaultOpts.FlagExclude, "Reads with a FLAG bit intersecting this value are skipped")
	maxCoverage         = flag.Int("max-coverage", plurality.DefaultOpts.MaxCoverage, "Maximum read depth per position; reads that only cover positions already at this depth are skipped; 0 = unlimited")
	minCoverage         = flag.Int("min-coverage", plurality.DefaultOpts.MinCoverage, "Variants at positions with lower coverage are not reported")
	minConfidence       = flag.Int("min-confidence", plurality.DefaultOpts.MinConfidence, "Variants with lower confidence are not reported")
	noEvidenceConsensus = flag.String("no-evidence-consensus", plurality.DefaultOpts.NoEvidenceConsensus, "Consensus at positions without coverage: 'reference', 'lowercasereference' or 'nocall'")
	windowSize          = flag.Int("window-size", plurality.DefaultOpts.WindowSize, "Number of reference positions per unit of work")
	parallelism         = flag.Int("parallelism", 0, "Maximum number of simultaneous (local) consensus jobs to launch; 0 = runtime.NumCPU()")
	tempDir             = flag.String("temp-dir", plurality.DefaultOpts.TempDir, "Directory to write temporary files to (default os.TempDir())")
)

func bioConsensusUsage() {
	fmt.Printf("Usage: %s [OPTIONS] -r fapath -o outpaths bampath\n", os.Args[0])
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

// splitOutputs splits the -o argument, dropping empty entries.
func splitOutputs(arg string) []string {
	var paths []string
	for _, p := range strings.Split(arg, ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

func main() {
	flag.Usage = bioConsensusUsage
	shutdown := grail.Init()
	defer shutdown()

	allArgs := flag.Args()
	nPositionalArgs := flag.NArg()
	positionalArgs := allArgs[len(allArgs)-nPositionalArgs:]
	if nPositionalArgs != 1 {
		if nPositionalArgs < 1 {
			log.Fatalf("Missing positional argument (bampath required); please check flag syntax: '%s'", strings.Join(positionalArgs, " "))
		} else {
			log.Fatalf("Too many positional arguments (only bampath expected); please check flag syntax: '%s'", strings.Join(positionalArgs, " "))
		}
	}
	if *algorithm != "plurality" {
		log.Fatalf("Unsupported -algorithm '%s'; only 'plurality' is available", *algorithm)
	}
	if *referencePath == "" {
		log.Fatalf("-r (reference FASTA) is required")
	}
	outPaths := splitOutputs(*outputPaths)
	if len(outPaths) == 0 {
		log.Fatalf("-o (output paths) is required")
	}
	ctx := vcontext.Background()
	opts := plurality.Opts{
		Region:              *region,
		BamIndexPath:        *bamIndexPath,
		FlagExclude:         *flagExclude,
		MinMapQV:            *minMapQV,
		MaxCoverage:         *maxCoverage,
		MinCoverage:         *minCoverage,
		MinConfidence:       *minConfidence,
		NoEvidenceConsensus: *noEvidenceConsensus,
		WindowSize:          *windowSize,
		Parallelism:         *parallelism,
		TempDir:             *tempDir,
	}
	if err := plurality.Run(ctx, positionalArgs[0], *referencePath, outPaths, &opts); err != nil {
		log.Panicf("%v", err)
	}
	log.Debug.Printf("exiting")
}
