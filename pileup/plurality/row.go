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
	"encoding/binary"
	"fmt"
)

const (
	// FieldVariant is set when the row's call yields a variant that passed
	// the MinCoverage/MinConfidence filters.
	FieldVariant = 1 << iota
)

// CallRow is one position of the per-job temporary recordio files.  The
// variant, if any, is rebuilt from the call and RefBase with Classify when
// the rows are read back.
//
// The main loop splits the windows into per-job slices, and every job writes
// its rows, in window order, to its own lightly compressed (zstd) file.  The
// files are then read back in job order and rendered to the requested
// outputs.
type CallRow struct {
	FieldsPresent uint32
	RefBase       byte
	Call          ConsensusCall
}

// cutAndAdvance() returns s[offset:offset+pieceLen], and increments offset by
// pieceLen.
func cutAndAdvance(offset *int, s []byte, pieceLen int) []byte {
	tmpSlice := s[(*offset):]
	*offset += pieceLen
	return tmpSlice[:pieceLen]
}

const callRowFixedLen = 34

// Serialized format:
//   [0..4): fieldsPresent
//   [4..8): refID
//   [8..12): pos
//   [12..16): coverage
//   [16..20): frequency
//   [20..24): confidence
//   [24..28): insertion frequency
//   [28]: base enum
//   [29]: reference base (ASCII)
//   [30..34): len(sequence), followed by the sequence itself.
// Inserted is not stored; it is the tail of the sequence whenever the
// insertion frequency is nonzero.
func marshalCallRow(scratch []byte, p interface{}) ([]byte, error) {
	cr := p.(*CallRow)
	call := &cr.Call
	bytesReq := callRowFixedLen + len(call.Sequence)
	t := scratch
	if len(t) < bytesReq {
		t = make([]byte, bytesReq)
	}
	t = t[:bytesReq]

	offset := 0
	tStart := cutAndAdvance(&offset, t, callRowFixedLen)
	binary.LittleEndian.PutUint32(tStart[0:4], cr.FieldsPresent)
	binary.LittleEndian.PutUint32(tStart[4:8], uint32(call.RefID))
	binary.LittleEndian.PutUint32(tStart[8:12], uint32(call.Pos))
	binary.LittleEndian.PutUint32(tStart[12:16], uint32(call.Coverage))
	binary.LittleEndian.PutUint32(tStart[16:20], uint32(call.Frequency))
	binary.LittleEndian.PutUint32(tStart[20:24], uint32(call.Confidence))
	binary.LittleEndian.PutUint32(tStart[24:28], uint32(call.InsertionFrequency))
	tStart[28] = call.Base
	tStart[29] = cr.RefBase
	binary.LittleEndian.PutUint32(tStart[30:34], uint32(len(call.Sequence)))
	copy(cutAndAdvance(&offset, t, len(call.Sequence)), call.Sequence)
	return t, nil
}

func unmarshalCallRow(in []byte) (out interface{}, err error) {
	if len(in) < callRowFixedLen {
		return nil, fmt.Errorf("plurality: truncated call row (%d bytes)", len(in))
	}
	offset := 0
	inStart := cutAndAdvance(&offset, in, callRowFixedLen)
	cr := &CallRow{
		FieldsPresent: binary.LittleEndian.Uint32(inStart[0:4]),
		RefBase:       inStart[29],
	}
	call := &cr.Call
	call.RefID = int(binary.LittleEndian.Uint32(inStart[4:8]))
	call.Pos = PosType(binary.LittleEndian.Uint32(inStart[8:12]))
	call.Coverage = int(binary.LittleEndian.Uint32(inStart[12:16]))
	call.Frequency = int(binary.LittleEndian.Uint32(inStart[16:20]))
	call.Confidence = int(binary.LittleEndian.Uint32(inStart[20:24]))
	call.InsertionFrequency = int(binary.LittleEndian.Uint32(inStart[24:28]))
	call.Base = inStart[28]
	seqLen := int(binary.LittleEndian.Uint32(inStart[30:34]))
	if len(in) != callRowFixedLen+seqLen {
		return nil, fmt.Errorf("plurality: call row has %d bytes, want %d", len(in), callRowFixedLen+seqLen)
	}
	call.Sequence = string(cutAndAdvance(&offset, in, seqLen))
	if call.InsertionFrequency > 0 && len(call.Sequence) > 1 {
		call.Inserted = call.Sequence[1:]
	}
	return cr, nil
}
