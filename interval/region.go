package interval

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// PosType is the coordinate type used for reference positions.
type PosType int32

// PosTypeMax is the largest position ParseRegionString can return as an
// interval end.
const PosTypeMax = math.MaxInt32

// Entry represents a single interval on one reference, with 0-based
// half-open coordinates [Start0, End).
type Entry struct {
	RefName string
	Start0  PosType
	End     PosType
}

// Len returns the number of positions covered by the entry.
func (e Entry) Len() int {
	if e.End <= e.Start0 {
		return 0
	}
	return int(e.End - e.Start0)
}

// Contains returns true iff pos is in [Start0, End).
func (e Entry) Contains(pos PosType) bool {
	return pos >= e.Start0 && pos < e.End
}

// String renders the entry in the same 1-based form ParseRegionString
// accepts.
func (e Entry) String() string {
	return fmt.Sprintf("%s:%d-%d", e.RefName, e.Start0+1, e.End)
}

// ParseRegionString parses a region string of one of the forms
//   [contig ID]:[1-based first pos]-[last pos]
//   [contig ID]:[1-based pos]
//   [contig ID]
// returning a contig ID and 0-based interval boundaries.  The interval
// [0, PosTypeMax - 1) is returned if there is no positional restriction; use
// Clamp to trim it to the contig length.
func ParseRegionString(region string) (result Entry, err error) {
	if len(region) == 0 {
		err = fmt.Errorf("interval.ParseRegionString: empty region string")
		return
	}
	colonPos := strings.LastIndexByte(region, ':')
	if colonPos == -1 {
		result.RefName = region
		result.Start0 = 0
		result.End = PosTypeMax - 1
		return
	}
	if colonPos == 0 {
		err = fmt.Errorf("interval.ParseRegionString: empty contig ID")
		return
	}
	result.RefName = region[0:colonPos]
	rangeStr := strings.Replace(region[colonPos+1:], ",", "", -1)
	dashPos := strings.IndexByte(rangeStr, '-')
	if dashPos == -1 {
		var pos1 int64
		if pos1, err = strconv.ParseInt(rangeStr, 10, 32); err != nil {
			return
		}
		if pos1 <= 0 {
			err = fmt.Errorf("interval.ParseRegionString: position %v in region string out of range", rangeStr)
			return
		}
		result.Start0 = PosType(pos1 - 1)
		result.End = PosType(pos1)
		return
	}
	start1Str := rangeStr[:dashPos]
	endStr := rangeStr[dashPos+1:]
	var start1 int
	if start1, err = strconv.Atoi(start1Str); err != nil {
		return
	}
	if start1 <= 0 {
		err = fmt.Errorf("interval.ParseRegionString: position %v in region string out of range", start1Str)
		return
	}
	var end0 int
	if end0, err = strconv.Atoi(endStr); err != nil {
		return
	}
	// A single-position range such as "chr1:5-5" is legal; it's equivalent to
	// "chr1:5".
	if end0 < start1 || end0 >= PosTypeMax {
		err = fmt.Errorf("interval.ParseRegionString: invalid range string %v", rangeStr)
		return
	}
	result.Start0 = PosType(start1 - 1)
	result.End = PosType(end0)
	return
}

// Clamp restricts the entry to [0, refLen).
func (e Entry) Clamp(refLen int) Entry {
	if e.Start0 < 0 {
		e.Start0 = 0
	}
	if int64(e.End) > int64(refLen) {
		e.End = PosType(refLen)
	}
	if e.Start0 > e.End {
		e.Start0 = e.End
	}
	return e
}

// Tile splits e into consecutive windows of at most size positions, in
// increasing coordinate order.  The windows are disjoint and their union is
// e.  An empty entry yields no windows.
func Tile(e Entry, size int) []Entry {
	if size <= 0 {
		panic(fmt.Sprintf("interval.Tile: nonpositive window size %d", size))
	}
	n := e.Len()
	if n == 0 {
		return nil
	}
	windows := make([]Entry, 0, (n+size-1)/size)
	for start := e.Start0; start < e.End; {
		end := e.End
		if int64(end-start) > int64(size) {
			end = start + PosType(size)
		}
		windows = append(windows, Entry{RefName: e.RefName, Start0: start, End: end})
		start = end
	}
	return windows
}
