// Package bamprovider provides the aligned-read source of the consensus
// pipeline.
//
// The Provider is an interface for reading the reads that overlap a reference
// window of a coordinate-sorted BAM file, from many goroutines at once.
// BAMProvider reads an indexed BAM file; NewFakeProvider serves an in-memory
// set of records and is meant for tests and small inputs.
package bamprovider
