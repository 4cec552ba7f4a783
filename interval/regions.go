// Copyright 2021 Basecov Inc.
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
package interval

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/vcontext"
	"github.com/klauspost/compress/gzip"
)

// A Region is one annotation entry: a 0-based half-open interval plus scratch
// slots for the computed statistics.  Start/End are immutable after load; the
// slots are only used when output must preserve BED insertion order.
type Region struct {
	Start, End int
	Sum        float64
	UniqueSum  float64
}

// RegionIndex is a BED-like annotation grouped by contig.  Unlike an interval
// union, entries are kept exactly as given: unmerged, possibly overlapping,
// in file order.  Order additionally records the order contigs first appear,
// for -keep-order output.
type RegionIndex struct {
	ByContig map[string][]Region
	Order    []string
	// FloatValues selects %.3f rendering of region values (the mean reducer);
	// everything else renders integers.
	FloatValues bool
}

// getTokens scrapes up to len(tokens) whitespace-delimited tokens from
// curLine, returning the number found.  Any (group of) characters <= ' ' is a
// delimiter.
func getTokens(tokens [][]byte, curLine []byte) int {
	posEnd := 0
	lineLen := len(curLine)
	for tokenIdx := range tokens {
		pos := posEnd
		for ; pos != lineLen; pos++ {
			if curLine[pos] > ' ' {
				break
			}
		}
		if pos == lineLen {
			return tokenIdx
		}
		posEnd = pos
		for ; posEnd != lineLen; posEnd++ {
			if curLine[posEnd] <= ' ' {
				break
			}
		}
		tokens[tokenIdx] = curLine[pos:posEnd]
	}
	return len(tokens)
}

// NewRegionIndex loads a 3+ column BED (chrom, 0-based start, end) from r.
// Extra columns are ignored.  Blank lines are skipped.
func NewRegionIndex(r io.Reader) (*RegionIndex, error) {
	ri := &RegionIndex{ByContig: make(map[string][]Region)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)
	var tokens [3][]byte
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		nToken := getTokens(tokens[:], line)
		if nToken == 0 {
			continue
		}
		if nToken < 3 {
			return nil, fmt.Errorf("interval.NewRegionIndex: line %d has fewer than 3 columns", lineNum)
		}
		chrom := string(tokens[0])
		start, err := strconv.Atoi(string(tokens[1]))
		if err != nil {
			return nil, fmt.Errorf("interval.NewRegionIndex: line %d: invalid start: %v", lineNum, err)
		}
		end, err := strconv.Atoi(string(tokens[2]))
		if err != nil {
			return nil, fmt.Errorf("interval.NewRegionIndex: line %d: invalid end: %v", lineNum, err)
		}
		if _, ok := ri.ByContig[chrom]; !ok {
			ri.Order = append(ri.Order, chrom)
		}
		ri.ByContig[chrom] = append(ri.ByContig[chrom], Region{Start: start, End: end})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ri, nil
}

// NewRegionIndexFromPath is a wrapper for NewRegionIndex that takes a path
// instead of an io.Reader, transparently decompressing gzipped files.
func NewRegionIndexFromPath(path string) (ri *RegionIndex, err error) {
	ctx := vcontext.Background()
	var infile file.File
	if infile, err = file.Open(ctx, path); err != nil {
		return
	}
	defer func() {
		if cerr := infile.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	reader := io.Reader(infile.Reader(ctx))
	switch fileio.DetermineType(path) {
	case fileio.Gzip:
		if reader, err = gzip.NewReader(reader); err != nil {
			return
		}
	}
	return NewRegionIndex(reader)
}

// NRegions returns the total entry count across contigs.
func (ri *RegionIndex) NRegions() int {
	n := 0
	for _, rs := range ri.ByContig {
		n += len(rs)
	}
	return n
}

// WriteValue renders one region line, as integer unless the index carries
// float values.
func (ri *RegionIndex) WriteValue(w io.Writer, chrom string, start, end int, value float64) {
	if ri.FloatValues {
		fmt.Fprintf(w, "%s\t%d\t%d\t%.3f\n", chrom, start, end, value)
		return
	}
	fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", chrom, start, end, int64(value))
}

// WriteOrdered emits every region in BED insertion order from the stored
// slots.  uw, when non-nil, receives the unique-track values.  local, when
// non-nil, overrides the stored Sum slots with per-caller values (used by
// parallel BigWig workers sharing one read-only index).
func (ri *RegionIndex) WriteOrdered(w, uw io.Writer, local map[string][]float64) {
	for _, chrom := range ri.Order {
		regions := ri.ByContig[chrom]
		var vals []float64
		if local != nil {
			vals = local[chrom]
		}
		for z := range regions {
			v := regions[z].Sum
			if vals != nil {
				v = vals[z]
			}
			ri.WriteValue(w, chrom, regions[z].Start, regions[z].End, v)
			if uw != nil {
				ri.WriteValue(uw, chrom, regions[z].Start, regions[z].End, regions[z].UniqueSum)
			}
		}
	}
}

// WriteMissing backfills zero-valued rows for contigs present in the
// annotation but never observed in the input, so every BED entry appears in
// the output exactly once.
func (ri *RegionIndex) WriteMissing(w io.Writer, seen map[string]bool) {
	for _, chrom := range ri.Order {
		if seen[chrom] {
			continue
		}
		for _, reg := range ri.ByContig[chrom] {
			ri.WriteValue(w, chrom, reg.Start, reg.End, 0)
		}
	}
}
