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
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRefs builds a two-contig header and returns its references.
func newTestRefs(t *testing.T) []*sam.Reference {
	ref0, err := sam.NewReference("chrom0", "", "", 10000, nil, nil)
	require.NoError(t, err)
	ref1, err := sam.NewReference("chrom1", "", "", 5000, nil, nil)
	require.NoError(t, err)
	_, err = sam.NewHeader(nil, []*sam.Reference{ref0, ref1})
	require.NoError(t, err)
	return []*sam.Reference{ref0, ref1}
}

func testRecord(t *testing.T, ref *sam.Reference, name, cigar string, pos int, flags sam.Flags) *sam.Record {
	return &sam.Record{
		Name:  name,
		Ref:   ref,
		Pos:   pos,
		MapQ:  60,
		Cigar: mustParseCigar(t, cigar),
		Flags: flags,
	}
}

func sumRange(cov []uint32, start, end int) (total uint64) {
	for i := start; i < end; i++ {
		total += uint64(cov[i])
	}
	return
}

// Single M=100 read: 1x coverage over its span and nothing else.
func TestAccrueCoverageSingleRead(t *testing.T) {
	refs := newTestRefs(t)
	buf := newCoverageBuffer(10000, false)
	mates := make(mateOverlapStore)

	rec := testRecord(t, refs[0], "r1", "100M", 1000, 0)
	intron := 0
	end := accrueCoverage(rec, buf, mates, coverageOpts{}, &intron)
	assert.Equal(t, 1100, end)
	assert.Equal(t, 0, intron)
	for i := 1000; i < 1100; i++ {
		assert.Equal(t, uint32(1), buf.all[i])
	}
	assert.Equal(t, uint64(100), sumRange(buf.all, 0, 10000))
	assert.Empty(t, mates)
}

// Overlapping proper pair: the 130..150 overlap counts once, not twice.
func TestAccrueCoverageMateOverlap(t *testing.T) {
	refs := newTestRefs(t)
	buf := newCoverageBuffer(10000, false)
	mates := make(mateOverlapStore)

	a := testRecord(t, refs[0], "pair1", "50M", 100, sam.Paired|sam.ProperPair|sam.Read1)
	a.MateRef = refs[0]
	a.MatePos = 130
	b := testRecord(t, refs[0], "pair1", "50M", 130, sam.Paired|sam.ProperPair|sam.Read2)
	b.MateRef = refs[0]
	b.MatePos = 100

	intron := 0
	accrueCoverage(a, buf, mates, coverageOpts{}, &intron)
	require.Len(t, mates, 1)
	accrueCoverage(b, buf, mates, coverageOpts{}, &intron)
	assert.Empty(t, mates)

	for i := 100; i < 180; i++ {
		assert.Equal(t, uint32(1), buf.all[i], "pos %d", i)
	}
	assert.Equal(t, uint64(80), sumRange(buf.all, 0, 10000))
}

// With -double-count the correction is skipped and the overlap counts twice.
func TestAccrueCoverageDoubleCount(t *testing.T) {
	refs := newTestRefs(t)
	buf := newCoverageBuffer(10000, false)
	mates := make(mateOverlapStore)

	a := testRecord(t, refs[0], "pair1", "50M", 100, sam.Paired|sam.ProperPair|sam.Read1)
	a.MateRef = refs[0]
	a.MatePos = 130
	b := testRecord(t, refs[0], "pair1", "50M", 130, sam.Paired|sam.ProperPair|sam.Read2)
	b.MateRef = refs[0]
	b.MatePos = 100

	opts := coverageOpts{doubleCount: true}
	intron := 0
	accrueCoverage(a, buf, mates, opts, &intron)
	assert.Empty(t, mates)
	accrueCoverage(b, buf, mates, opts, &intron)

	assert.Equal(t, uint64(100), sumRange(buf.all, 0, 10000))
	for i := 130; i < 150; i++ {
		assert.Equal(t, uint32(2), buf.all[i])
	}
}

// Ref-skips advance the reference without contributing coverage, and are
// summed for the fragment-length correction.
func TestAccrueCoverageRefSkip(t *testing.T) {
	refs := newTestRefs(t)
	buf := newCoverageBuffer(10000, false)
	mates := make(mateOverlapStore)

	rec := testRecord(t, refs[0], "r1", "30M100N30M", 500, 0)
	intron := 0
	end := accrueCoverage(rec, buf, mates, coverageOpts{}, &intron)
	assert.Equal(t, 660, end)
	assert.Equal(t, 100, intron)
	assert.Equal(t, uint64(30), sumRange(buf.all, 500, 530))
	assert.Equal(t, uint64(0), sumRange(buf.all, 530, 630))
	assert.Equal(t, uint64(30), sumRange(buf.all, 630, 660))
}

// unique[b] <= all[b] must hold whatever mix of qualities arrives.
func TestAccrueCoverageUniqueTrack(t *testing.T) {
	refs := newTestRefs(t)
	buf := newCoverageBuffer(10000, true)
	mates := make(mateOverlapStore)
	opts := coverageOpts{minUniqueQual: 10}

	low := testRecord(t, refs[0], "low", "50M", 100, 0)
	low.MapQ = 5
	high := testRecord(t, refs[0], "high", "50M", 120, 0)
	high.MapQ = 60

	intron := 0
	accrueCoverage(low, buf, mates, opts, &intron)
	accrueCoverage(high, buf, mates, opts, &intron)

	for i := 0; i < 10000; i++ {
		assert.LessOrEqual(t, buf.unique[i], buf.all[i])
	}
	assert.Equal(t, uint64(100), sumRange(buf.all, 0, 10000))
	assert.Equal(t, uint64(50), sumRange(buf.unique, 0, 10000))
}

// The unique track is only corrected when the stored mate also passed the
// quality threshold.
func TestAccrueCoverageOverlapUniqueEligibility(t *testing.T) {
	refs := newTestRefs(t)
	buf := newCoverageBuffer(10000, true)
	mates := make(mateOverlapStore)
	opts := coverageOpts{minUniqueQual: 10}

	a := testRecord(t, refs[0], "pair1", "50M", 100, sam.Paired|sam.ProperPair|sam.Read1)
	a.MapQ = 5 // fails the unique threshold
	a.MateRef = refs[0]
	a.MatePos = 130
	b := testRecord(t, refs[0], "pair1", "50M", 130, sam.Paired|sam.ProperPair|sam.Read2)
	b.MapQ = 60
	b.MateRef = refs[0]
	b.MatePos = 100

	intron := 0
	accrueCoverage(a, buf, mates, opts, &intron)
	accrueCoverage(b, buf, mates, opts, &intron)

	// all: overlap corrected; unique: only b contributed, so no correction
	// applies and the overlap stays at 1.
	assert.Equal(t, uint64(80), sumRange(buf.all, 0, 10000))
	assert.Equal(t, uint64(50), sumRange(buf.unique, 0, 10000))
	for i := 130; i < 150; i++ {
		assert.Equal(t, uint32(1), buf.unique[i])
	}
}

// Spliced mates: only the M-segment intersection is subtracted.
func TestOverlapCursorSplicedSubtract(t *testing.T) {
	all := make([]uint32, 400)
	for i := 100; i < 300; i++ {
		all[i] = 2
	}
	cursor := overlapCursor{spans: []span{{100, 150}, {250, 300}}}
	cursor.subtract(all, nil, 120, 270, false)
	assert.Equal(t, uint64(2*20), sumRange(all, 100, 120))
	assert.Equal(t, uint64(1*30), sumRange(all, 120, 150))
	assert.Equal(t, uint64(2*100), sumRange(all, 150, 250))
	assert.Equal(t, uint64(1*20), sumRange(all, 250, 270))
	assert.Equal(t, uint64(2*30), sumRange(all, 270, 300))
}
