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
	"github.com/grailbio/hts/sam"
)

// Problem:
// Given a sorted BAM, we maintain per-base coverage for the current contig in
// a dense array sized to the longest contig in the header.  A read-pair whose
// two ends overlap must contribute each overlapped base once, not twice, so
// the first mate of an overlapping proper pair parks a copy of its CIGAR in
// mateOverlapStore; when the second mate accrues its own coverage it
// decrements the counters over the intersection of its aligned segments with
// the stored mate's aligned segments.  Sorted input bounds the store's
// residency: it is cleared at every contig boundary.

// coverageBuffer holds the dense per-base counters for the contig currently
// being accumulated.  unique is nil unless the unique-quality track is
// enabled.
type coverageBuffer struct {
	all    []uint32
	unique []uint32
}

func newCoverageBuffer(size int, withUnique bool) *coverageBuffer {
	b := &coverageBuffer{all: make([]uint32, size)}
	if withUnique {
		b.unique = make([]uint32, size)
	}
	return b
}

func resetArray(a []uint32, n int) {
	for i := 0; i < n; i++ {
		a[i] = 0
	}
}

func (b *coverageBuffer) reset(n int) {
	resetArray(b.all, n)
	if b.unique != nil {
		resetArray(b.unique, n)
	}
}

// mateInfo is the first-mate summary parked until the second mate arrives.
type mateInfo struct {
	cigar      sam.Cigar
	start      int
	uniquePass bool
}

// mateOverlapStore maps read name -> first-mate summary.  At most one entry
// per name; cleared at contig boundaries.
type mateOverlapStore map[string]mateInfo

// span is a half-open reference interval.
type span struct {
	start, end int
}

// alignedSegments returns the reference intervals covered by operations that
// consume both query and reference (the M/=/X segments), walking from start.
func alignedSegments(c sam.Cigar, start int, out []span) []span {
	out = out[:0]
	pos := start
	for _, co := range c {
		op := co.Type()
		if !consumesRef(op) {
			continue
		}
		n := co.Len()
		if consumesQuery(op) {
			out = append(out, span{pos, pos + n})
		}
		pos += n
	}
	return out
}

// overlapCursor walks a second mate's aligned segments against the stored
// first-mate segments, decrementing counters over each intersected base
// exactly once.  Both segment sequences are position-sorted, so the cursor
// only ever moves forward.
type overlapCursor struct {
	spans []span
	idx   int
}

// subtract decrements all (and unique, when uniqueToo) over
// [segStart, segEnd) ∩ spans[idx:], advancing idx past spans the segment has
// moved beyond.
func (c *overlapCursor) subtract(all, unique []uint32, segStart, segEnd int, uniqueToo bool) {
	for c.idx < len(c.spans) && segStart >= c.spans[c.idx].end {
		c.idx++
	}
	if c.idx == len(c.spans) {
		return
	}
	left := segStart
	if left < c.spans[c.idx].start {
		left = c.spans[c.idx].start
	}
	for c.idx < len(c.spans) && left < c.spans[c.idx].end && segEnd > c.spans[c.idx].start {
		right := segEnd
		nextLeft := left
		if right >= c.spans[c.idx].end {
			right = c.spans[c.idx].end
			c.idx++
			if c.idx < len(c.spans) {
				nextLeft = c.spans[c.idx].start
			}
		} else {
			nextLeft = c.spans[c.idx].end
		}
		for z := left; z < right; z++ {
			all[z]--
			if uniqueToo {
				unique[z]--
			}
		}
		left = nextLeft
	}
}

// coverageOpts carries the accrual knobs split off from the engine so the
// inner loop is testable without a reader.
type coverageOpts struct {
	doubleCount   bool
	minUniqueQual int
}

// accrueCoverage adds one record's contribution to buf (which may be nil when
// only the end position and intron total are wanted), applying the
// mate-overlap correction through mates.  It returns the record's reference
// end position and adds any ref-skip lengths to *intronLen.
func accrueCoverage(rec *sam.Record, buf *coverageBuffer, mates mateOverlapStore, opts coverageOpts, intronLen *int) int {
	refpos := rec.Pos
	endPos := refpos + alignedSpan(rec.Cigar)
	unique := opts.minUniqueQual > 0
	passing := int(rec.MapQ) >= opts.minUniqueQual

	var cursor overlapCursor
	matePassed := false
	mateEnd := 0
	if buf != nil && !opts.doubleCount && rec.Flags&sam.ProperPair != 0 {
		if prior, ok := mates[rec.Name]; ok {
			// Second mate: reconstruct the stored mate's aligned segments so
			// the loop below can subtract the overlap.
			cursor.spans = alignedSegments(prior.cigar, prior.start, nil)
			matePassed = prior.uniquePass
			mateEnd = prior.start + alignedSpan(prior.cigar)
			delete(mates, rec.Name)
		} else if rec.Ref == rec.MateRef && endPos > rec.MatePos && refpos <= rec.MatePos {
			// First mate of an overlapping pair: park a CIGAR copy for the
			// second mate.  The copy is required; the record goes back to the
			// free pool before its mate arrives.
			mates[rec.Name] = mateInfo{
				cigar:      append(sam.Cigar(nil), rec.Cigar...),
				start:      refpos,
				uniquePass: unique && passing,
			}
		}
	}

	pos := refpos
	for _, co := range rec.Cigar {
		op := co.Type()
		if !consumesRef(op) {
			continue
		}
		n := co.Len()
		if op == sam.CigarSkipped {
			*intronLen += n
		}
		if buf != nil && consumesQuery(op) {
			for z := pos; z < pos+n; z++ {
				buf.all[z]++
			}
			if unique && passing {
				for z := pos; z < pos+n; z++ {
					buf.unique[z]++
				}
			}
			if len(cursor.spans) > 0 && pos < mateEnd {
				cursor.subtract(buf.all, buf.unique, pos, pos+n, unique && passing && matePassed)
			}
		}
		pos += n
	}
	return endPos
}
