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
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basecov/bio/interval"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// engineRecords builds a record stream spanning a contig boundary: an
// overlapping proper pair, a low-MAPQ read, a filtered secondary read and a
// plain read on chrom0; a spliced read on chrom1; a filtered unmapped record
// at the end.
func engineRecords(t *testing.T, refs []*sam.Reference) []*sam.Record {
	pairA := testRecord(t, refs[0], "pair1", "50M", 100, sam.Paired|sam.ProperPair|sam.Read1)
	pairA.MateRef = refs[0]
	pairA.MatePos = 130
	pairB := testRecord(t, refs[0], "pair1", "50M", 130, sam.Paired|sam.ProperPair|sam.Read2)
	pairB.MateRef = refs[0]
	pairB.MatePos = 100
	low := testRecord(t, refs[0], "low", "50M", 200, 0)
	low.MapQ = 5
	secondary := testRecord(t, refs[0], "sec", "50M", 300, sam.Secondary)
	plain := testRecord(t, refs[0], "r1", "100M", 1000, 0)
	spliced := testRecord(t, refs[1], "spliced", "30M100N30M", 500, 0)
	unmapped := testRecord(t, refs[1], "un", "50M", 600, sam.Unmapped)
	return []*sam.Record{pairA, pairB, low, secondary, plain, spliced, unmapped}
}

func engineIndex(order []string) *interval.RegionIndex {
	return &interval.RegionIndex{
		ByContig: map[string][]interval.Region{
			"chrom0":   {{Start: 1000, End: 1100}, {Start: 0, End: 300}},
			"chrom1":   {{Start: 400, End: 700}},
			"chrNever": {{Start: 0, End: 10}},
		},
		Order: order,
	}
}

func runEngine(t *testing.T, opts *Opts, ri *interval.RegionIndex, recs []*sam.Record) (*bamEngine, string) {
	refs := newTestRefs(t)
	header, err := sam.NewHeader(nil, refs)
	require.NoError(t, err)
	if recs == nil {
		recs = engineRecords(t, refs)
	}
	e, err := newBAMEngine(header, opts, ri)
	require.NoError(t, err)
	var stdout bytes.Buffer
	e.stdout = bufio.NewWriterSize(&stdout, 1<<20)
	require.NoError(t, e.run(startPipeline(&fakeSource{recs: recs})))
	require.NoError(t, e.closeOutputs())
	return e, stdout.String()
}

// Drives the full engine across a contig boundary and checks the combined
// outputs: totals, per-contig flushing, inline annotation order, the AUC
// file, and post-run state.
func TestBAMEngineEndToEnd(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	opts := &Opts{
		Coverage:         true,
		AUCPrefix:        filepath.Join(tmpdir, "out"),
		AnnotationPath:   "regions.bed",
		AnnotationPrefix: filepath.Join(tmpdir, "ann"),
		MinUniqueQual:    10,
		NumBases:         true,
	}
	ri := engineIndex([]string{"chrom0", "chrom1", "chrNever"})
	e, stdout := runEngine(t, opts, ri, nil)

	// 7 records seen, 5 pass the unmapped/secondary filter.
	assert.Equal(t, uint64(7), e.totals.records)
	assert.Equal(t, uint64(5), e.totals.passing)
	// pair contributes 80 after overlap correction, low 50, r1 100,
	// spliced 60.
	assert.Equal(t, uint64(290), e.totals.allAUC)
	assert.Equal(t, uint64(240), e.totals.uniqueAUC)
	assert.Equal(t, uint64(290), e.totals.annotatedAUC)
	assert.Equal(t, uint64(240), e.totals.uniqueAnnotatedAUC)
	assert.Equal(t, uint64(310), e.totals.mappedBases)

	// Coverage BED went to stdout, zero runs included, both contigs flushed.
	assert.Contains(t, stdout, "chrom0\t0\t100\t0\n")
	assert.Contains(t, stdout, "chrom0\t1000\t1100\t1\n")
	assert.Contains(t, stdout, "chrom0\t100\t180\t1\n")
	assert.Contains(t, stdout, "chrom1\t500\t530\t1\n")
	assert.Contains(t, stdout, "chrom1\t630\t660\t1\n")
	// The unique track prints its own runs; this one only exists there.
	assert.Contains(t, stdout, "chrom0\t180\t1000\t0\n")
	assert.Contains(t, stdout, "Read 7 records\n")
	assert.Contains(t, stdout, "5 records passed filters\n")
	assert.Contains(t, stdout, "310 bases in alignments which passed filters\n")

	// Contig transitions left no residue.
	assert.Empty(t, e.mates)
	for i := range e.cov.all {
		require.Zero(t, e.cov.all[i])
		require.Zero(t, e.cov.unique[i])
	}

	auc, err := os.ReadFile(opts.AUCPrefix + ".auc.tsv")
	require.NoError(t, err)
	assert.Equal(t,
		"ALL_READS_ALL_BASES\t290\n"+
			"UNIQUE_READS_ALL_BASES\t240\n"+
			"ALL_READS_ANNOTATED_BASES\t290\n"+
			"UNIQUE_READS_ANNOTATED_BASES\t240\n",
		string(auc))

	// Inline annotation output: per-contig flush order, BED entry order
	// within each contig, missing contig backfilled at EOF.
	all, err := os.ReadFile(opts.AnnotationPrefix + ".all.tsv")
	require.NoError(t, err)
	assert.Equal(t,
		"chrom0\t1000\t1100\t100\nchrom0\t0\t300\t130\nchrom1\t400\t700\t60\nchrNever\t0\t10\t0\n",
		string(all))
	unique, err := os.ReadFile(opts.AnnotationPrefix + ".unique.tsv")
	require.NoError(t, err)
	assert.Equal(t,
		"chrom0\t1000\t1100\t100\nchrom0\t0\t300\t80\nchrom1\t400\t700\t60\nchrNever\t0\t10\t0\n",
		string(unique))
}

// keepOrder: output follows BED insertion order even though contigs finish
// in input order.
func TestBAMEngineKeepOrder(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	opts := &Opts{
		KeepOrder:        true,
		AnnotationPath:   "regions.bed",
		AnnotationPrefix: filepath.Join(tmpdir, "ann"),
		MinUniqueQual:    10,
	}
	ri := engineIndex([]string{"chrom1", "chrNever", "chrom0"})
	_, _ = runEngine(t, opts, ri, nil)

	all, err := os.ReadFile(opts.AnnotationPrefix + ".all.tsv")
	require.NoError(t, err)
	assert.Equal(t,
		"chrom1\t400\t700\t60\nchrNever\t0\t10\t0\nchrom0\t1000\t1100\t100\nchrom0\t0\t300\t130\n",
		string(all))
	unique, err := os.ReadFile(opts.AnnotationPrefix + ".unique.tsv")
	require.NoError(t, err)
	assert.Equal(t,
		"chrom1\t400\t700\t60\nchrNever\t0\t10\t0\nchrom0\t1000\t1100\t100\nchrom0\t0\t300\t80\n",
		string(unique))
}

// An empty input still writes totals and backfills every annotation entry.
func TestBAMEngineNoRecords(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	opts := &Opts{
		AUCPrefix:        filepath.Join(tmpdir, "out"),
		AnnotationPath:   "regions.bed",
		AnnotationPrefix: filepath.Join(tmpdir, "ann"),
	}
	ri := engineIndex([]string{"chrom0", "chrom1", "chrNever"})
	e, stdout := runEngine(t, opts, ri, []*sam.Record{})

	assert.Equal(t, uint64(0), e.totals.records)
	assert.Contains(t, stdout, "Read 0 records\n")

	auc, err := os.ReadFile(opts.AUCPrefix + ".auc.tsv")
	require.NoError(t, err)
	assert.Equal(t, "ALL_READS_ALL_BASES\t0\nALL_READS_ANNOTATED_BASES\t0\n", string(auc))

	all, err := os.ReadFile(opts.AnnotationPrefix + ".all.tsv")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(all), "\n"), "\n")
	assert.Len(t, lines, 4)
	for _, line := range lines {
		assert.True(t, strings.HasSuffix(line, "\t0"))
	}
}
