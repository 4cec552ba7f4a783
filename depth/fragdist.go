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
package depth

import (
	"fmt"
	"io"
	"sort"

	"github.com/grailbio/hts/sam"
)

// Fragment lengths comparable to kallisto's are tracked separately below this
// cutoff.
const kallistoMaxFragLength = 1000

const (
	fragLenBits = 32
	fragLenMask = 0xFFFFFFFF
)

// fragDist accumulates the fragment-length histogram.  The first mate of each
// candidate pair parks its aligned reference span and intron total, packed
// into one word; the second mate applies the geometry check and records
// |tlen| corrected by both mates' intron lengths.
type fragDist struct {
	counts map[int]uint64
	mates  map[string]uint64
}

func newFragDist() *fragDist {
	return &fragDist{
		counts: make(map[int]uint64),
		mates:  make(map[string]uint64),
	}
}

// fragEligible applies csaw getPESizes-style read filtering: primary paired
// alignments with a mapped mate on the same contig and exactly one of the
// read1/read2 flags.
func fragEligible(rec *sam.Record) bool {
	f := rec.Flags
	if f&sam.Secondary != 0 || f&sam.Supplementary != 0 {
		return false
	}
	if f&sam.Paired == 0 || f&sam.MateUnmapped != 0 {
		return false
	}
	if (f&sam.Read1 != 0) == (f&sam.Read2 != 0) {
		return false
	}
	return rec.Ref == rec.MateRef
}

// add processes one record.  endPos is the record's reference end position
// and intronLen its summed ref-skip length, both from the coverage pass.
func (d *fragDist) add(rec *sam.Record, endPos, intronLen int) {
	if !fragEligible(rec) {
		return
	}
	packed, ok := d.mates[rec.Name]
	if !ok {
		both := uint64(endPos-rec.Pos) << fragLenBits
		both |= uint64(intronLen) & fragLenMask
		d.mates[rec.Name] = both
		return
	}
	delete(d.mates, rec.Name)
	bothIntron := intronLen + int(packed&fragLenMask)
	mateRefLen := int((packed >> fragLenBits) & fragLenMask)

	rev := rec.Flags&sam.Reverse != 0
	mateRev := rec.Flags&sam.MateReverse != 0
	if rev == mateRev {
		return
	}
	// Forward-strand mate must start before the reverse-strand mate's end.
	if !((!rev && rec.Pos < rec.MatePos+mateRefLen) || (!mateRev && rec.MatePos < endPos)) {
		return
	}
	tlen := rec.TempLen
	if tlen < 0 {
		tlen = -tlen
	}
	if bothIntron > tlen {
		bothIntron = 0
	}
	d.counts[tlen-bothIntron]++
}

// write emits the histogram in ascending length order followed by the summary
// statistics block.
func (d *fragDist) write(w io.Writer) {
	lengths := make([]int, 0, len(d.counts))
	for l := range d.counts {
		lengths = append(lengths, l)
	}
	sort.Ints(lengths)

	var count, kcount, mode, modeCount uint64
	var mean, kmean float64
	for _, l := range lengths {
		c := d.counts[l]
		fmt.Fprintf(w, "%d\t%d\n", l, c)
		count += c
		mean += float64(l) * float64(c)
		if l < kallistoMaxFragLength {
			kcount += c
			kmean += float64(l) * float64(c)
		}
		if c > modeCount {
			modeCount = c
			mode = uint64(l)
		}
	}
	if count > 0 {
		mean /= float64(count)
	}
	if kcount > 0 {
		kmean /= float64(kcount)
	}
	fmt.Fprintf(w, "STAT\tCOUNT\t%d\n", count)
	fmt.Fprintf(w, "STAT\tMEAN_LENGTH\t%.3f\n", mean)
	fmt.Fprintf(w, "STAT\tMODE_LENGTH\t%d\n", mode)
	fmt.Fprintf(w, "STAT\tMODE_LENGTH_COUNT\t%d\n", modeCount)
	fmt.Fprintf(w, "STAT\tKALLISTO_COUNT\t%d\n", kcount)
	fmt.Fprintf(w, "STAT\tKALLISTO_MEAN_LENGTH\t%.3f\n", kmean)
}
