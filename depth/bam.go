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
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/basecov/bio/bigwig"
	"github.com/basecov/bio/interval"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

// totals is the process-wide accounting block.
type totals struct {
	allAUC             uint64
	uniqueAUC          uint64
	annotatedAUC       uint64
	uniqueAnnotatedAUC uint64
	records            uint64
	passing            uint64
	mappedBases        uint64
	seqBases           uint64
}

// bamEngine owns all consumer-side state of the BAM pipeline.  Everything
// here is touched by exactly one goroutine; the record channel is the only
// crossing point with the decoder.
type bamEngine struct {
	opts *Opts
	refs []*sam.Reference

	// Longest contig in the header; all dense arrays are sized to it.
	chrSize int

	cov    *coverageBuffer
	mates  mateOverlapStore
	ends   *readEnds
	frag   *fragDist
	alt    *altEmitter
	jxAsm  *junctionAssembler
	jx     junctionExtractor
	walker cigarWalker

	track       *bigwig.TrackWriter
	uniqueTrack *bigwig.TrackWriter
	ri          *interval.RegionIndex
	seen        map[string]bool

	stdout  *bufio.Writer
	files   []*os.File
	writers []*bufio.Writer
	aucw    io.Writer
	altw    io.Writer
	scw     io.Writer
	jxw     io.Writer
	fragw   io.Writer
	startsw io.Writer
	endsw   io.Writer
	afw     io.Writer
	uafw    io.Writer

	totals totals
	ptid   int
}

func (e *bamEngine) createOutput(name string) (io.Writer, error) {
	f, err := os.Create(name)
	if err != nil {
		return nil, fmt.Errorf("depth: creating %s: %v", name, err)
	}
	w := bufio.NewWriterSize(f, 1<<20)
	e.files = append(e.files, f)
	e.writers = append(e.writers, w)
	return w, nil
}

func (e *bamEngine) closeOutputs() error {
	var firstErr error
	for _, w := range e.writers {
		if err := w.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, f := range e.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := e.stdout.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// computeCoverage reports whether any requested output needs the dense
// per-base histogram.
func (o *Opts) computeCoverage() bool {
	return o.Coverage || o.AUCPrefix != "" || o.AnnotationPath != "" || o.BigWigPrefix != ""
}

func (o *Opts) uniqueEnabled() bool { return o.MinUniqueQual > 0 }

// longestTarget returns the maximum contig length in the header.
func longestTarget(refs []*sam.Reference) int {
	max := 0
	for _, ref := range refs {
		if ref.Len() > max {
			max = ref.Len()
		}
	}
	return max
}

func newBAMEngine(header *sam.Header, opts *Opts, ri *interval.RegionIndex) (*bamEngine, error) {
	e := &bamEngine{
		opts:   opts,
		refs:   header.Refs(),
		ri:     ri,
		seen:   make(map[string]bool),
		stdout: bufio.NewWriterSize(os.Stdout, 4<<20),
		ptid:   -1,
	}
	e.chrSize = longestTarget(e.refs)

	var err error
	if opts.computeCoverage() {
		e.cov = newCoverageBuffer(e.chrSize, opts.uniqueEnabled())
		e.mates = make(mateOverlapStore)
		if opts.BigWigPrefix != "" {
			e.track = bigwig.NewTrackWriter(e.refs)
			if opts.uniqueEnabled() {
				e.uniqueTrack = bigwig.NewTrackWriter(e.refs)
			}
		}
	}
	if opts.AUCPrefix != "" {
		if e.aucw, err = e.createOutput(opts.AUCPrefix + ".auc.tsv"); err != nil {
			return nil, err
		}
	}
	if ri != nil {
		if e.afw, err = e.createOutput(opts.AnnotationPrefix + ".all.tsv"); err != nil {
			return nil, err
		}
		if opts.uniqueEnabled() {
			if e.uafw, err = e.createOutput(opts.AnnotationPrefix + ".unique.tsv"); err != nil {
				return nil, err
			}
		}
	}
	if opts.AltsPrefix != "" {
		if e.altw, err = e.createOutput(opts.AltsPrefix + ".alts.tsv"); err != nil {
			return nil, err
		}
		e.alt = newAltEmitter(e.altw, opts)
	}
	if opts.SoftclipPrefix != "" {
		if e.scw, err = e.createOutput(opts.SoftclipPrefix + ".softclip.tsv"); err != nil {
			return nil, err
		}
		if e.alt == nil {
			// Soft-clip totals are collected by the alt emitter even when alt
			// records themselves were not requested.
			e.alt = newAltEmitter(io.Discard, opts)
		}
	}
	if opts.JunctionsPrefix != "" {
		if e.jxw, err = e.createOutput(opts.JunctionsPrefix + ".jxs.tsv"); err != nil {
			return nil, err
		}
		e.jxAsm = newJunctionAssembler(e.jxw)
		e.walker.register(e.jx.hook())
	}
	if opts.NumBases {
		e.walker.register(mappedLenCounter(&e.totals.mappedBases))
	}
	if opts.ReadEndsPrefix != "" {
		if e.startsw, err = e.createOutput(opts.ReadEndsPrefix + ".starts.tsv"); err != nil {
			return nil, err
		}
		if e.endsw, err = e.createOutput(opts.ReadEndsPrefix + ".ends.tsv"); err != nil {
			return nil, err
		}
		e.ends = newReadEnds(e.chrSize)
	}
	if opts.FragDistPrefix != "" {
		if e.fragw, err = e.createOutput(opts.FragDistPrefix + ".frags.tsv"); err != nil {
			return nil, err
		}
		e.frag = newFragDist()
	}
	return e, nil
}

// finalizeContig flushes everything accumulated for the contig tid and
// resets per-contig state.  Called on each contig transition and at EOF.
func (e *bamEngine) finalizeContig(tid int) {
	if tid < 0 {
		return
	}
	chrom := e.refs[tid].Name()
	size := e.refs[tid].Len()
	if e.cov != nil {
		var bedw io.Writer
		if e.opts.Coverage && e.track == nil {
			bedw = e.stdout
		}
		e.totals.allAUC += emitRunLength(bedw, chrom, e.cov.all, size, false)
		if e.track != nil {
			e.track.SetContig(chrom, e.cov.all, size)
		}
		if e.cov.unique != nil {
			var ubedw io.Writer
			if e.opts.Coverage && e.uniqueTrack == nil {
				ubedw = e.stdout
			}
			e.totals.uniqueAUC += emitRunLength(ubedw, chrom, e.cov.unique, size, false)
			if e.uniqueTrack != nil {
				e.uniqueTrack.SetContig(chrom, e.cov.unique, size)
			}
		}
		if e.ri != nil {
			if _, ok := e.ri.ByContig[chrom]; ok {
				e.totals.annotatedAUC += sumRegions(e.afw, e.ri, chrom, e.cov.all, size, e.opts.KeepOrder, false)
				if e.cov.unique != nil {
					e.totals.uniqueAnnotatedAUC += sumRegions(e.uafw, e.ri, chrom, e.cov.unique, size, e.opts.KeepOrder, true)
				}
				e.seen[chrom] = true
			}
		}
		e.cov.reset(size)
		for k := range e.mates {
			delete(e.mates, k)
		}
	}
	if e.ends != nil {
		e.ends.flush(e.startsw, e.endsw, chrom, size)
	}
	if e.jxAsm != nil {
		e.jxAsm.dropPending()
	}
}

// processRecord handles one passing (mapped, non-secondary) record.
func (e *bamEngine) processRecord(rec *sam.Record) error {
	opts := e.opts
	tid := rec.Ref.ID()
	if tid != e.ptid {
		e.finalizeContig(e.ptid)
		e.ptid = tid
	}

	if e.scw != nil {
		e.totals.seqBases += uint64(rec.Seq.Length)
	}

	endPos := -1
	intronLen := 0
	if e.cov != nil {
		endPos = accrueCoverage(rec, e.cov, e.mates, coverageOpts{
			doubleCount:   opts.DoubleCount,
			minUniqueQual: opts.MinUniqueQual,
		}, &intronLen)
	} else if opts.Ends || e.frag != nil {
		endPos = accrueCoverage(rec, nil, nil, coverageOpts{}, &intronLen)
	}

	if opts.Ends {
		fmt.Fprintf(e.stdout, "%s\t%d\n", rec.Name, endPos)
	}

	if e.frag != nil {
		e.frag.add(rec, endPos, intronLen)
	}

	if e.ends != nil {
		if opts.MinUniqueQual == 0 || int(rec.MapQ) >= opts.MinUniqueQual {
			if endPos == -1 {
				endPos = rec.Pos + alignedSpan(rec.Cigar)
			}
			e.ends.add(rec.Pos, endPos)
		}
	}

	if opts.EchoSAM {
		text, err := rec.MarshalText()
		if err != nil {
			return fmt.Errorf("depth: formatting SAM record %s: %v", rec.Name, err)
		}
		e.stdout.Write(text)
		e.stdout.WriteByte('\n')
	}

	if e.alt != nil {
		seq := rec.Seq.Expand()
		if err := e.alt.emit(rec, seq, opts.RequireMDZ); err != nil {
			return err
		}
	}

	if e.jxAsm != nil || opts.NumBases {
		e.jx.reset()
		e.walker.walk(rec.Cigar)
		if e.jxAsm != nil {
			e.jxAsm.add(rec, e.walker.cigarString(), e.jx.coords)
		}
	}
	return nil
}

// run drains the pipeline and produces every requested output.
func (e *bamEngine) run(pipe *recordPipeline) error {
	for rec := range pipe.records {
		e.totals.records++
		if rec.Flags&sam.Unmapped == 0 && rec.Flags&sam.Secondary == 0 {
			e.totals.passing++
			if err := e.processRecord(rec); err != nil {
				return err
			}
		}
		sam.PutInFreePool(rec)
	}
	if err := <-pipe.err; err != nil {
		return fmt.Errorf("depth: reading records: %v", err)
	}
	e.finalizeContig(e.ptid)
	return e.finish()
}

// finish writes the EOF-only outputs: ordered/missing annotation rows, AUC
// totals, BigWig exports, the fragment distribution, and stdout summaries.
func (e *bamEngine) finish() error {
	opts := e.opts
	if e.ri != nil {
		if opts.KeepOrder {
			var uw io.Writer
			if opts.uniqueEnabled() {
				uw = e.uafw
			}
			e.ri.WriteOrdered(e.afw, uw, nil)
		} else {
			e.ri.WriteMissing(e.afw, e.seen)
			if opts.uniqueEnabled() {
				e.ri.WriteMissing(e.uafw, e.seen)
			}
		}
	}
	if e.aucw != nil {
		fmt.Fprintf(e.aucw, "ALL_READS_ALL_BASES\t%d\n", e.totals.allAUC)
		if opts.uniqueEnabled() {
			fmt.Fprintf(e.aucw, "UNIQUE_READS_ALL_BASES\t%d\n", e.totals.uniqueAUC)
		}
		if e.ri != nil {
			fmt.Fprintf(e.aucw, "ALL_READS_ANNOTATED_BASES\t%d\n", e.totals.annotatedAUC)
			if opts.uniqueEnabled() {
				fmt.Fprintf(e.aucw, "UNIQUE_READS_ANNOTATED_BASES\t%d\n", e.totals.uniqueAnnotatedAUC)
			}
		}
	}
	if e.track != nil {
		if err := e.track.Export(opts.BigWigPrefix + ".all.bw"); err != nil {
			return err
		}
	}
	if e.uniqueTrack != nil {
		if err := e.uniqueTrack.Export(opts.BigWigPrefix + ".unique.bw"); err != nil {
			return err
		}
	}
	if e.frag != nil {
		e.frag.write(e.fragw)
	}
	if e.scw != nil && e.alt != nil {
		fmt.Fprintf(e.scw, "%d bases softclipped\n", e.alt.softclipCount)
		fmt.Fprintf(e.scw, "%d total number of processed sequence bases\n", e.totals.seqBases)
	}
	fmt.Fprintf(e.stdout, "Read %d records\n", e.totals.records)
	if opts.NumBases {
		fmt.Fprintf(e.stdout, "%d records passed filters\n", e.totals.passing)
		fmt.Fprintf(e.stdout, "%d bases in alignments which passed filters\n", e.totals.mappedBases)
	}
	return nil
}

// runBAM opens the codec, wires the record pipeline, and runs the analyzer.
func runBAM(path string, opts *Opts, ri *interval.RegionIndex) (err error) {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("depth: opening %s: %v", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	var src recordSource
	var header *sam.Header
	if strings.HasSuffix(strings.ToLower(path), ".sam") {
		r, rerr := sam.NewReader(f)
		if rerr != nil {
			return fmt.Errorf("depth: reading header of %s: %v", path, rerr)
		}
		header = r.Header()
		src = r
	} else {
		r, rerr := bam.NewReader(f, opts.Threads)
		if rerr != nil {
			return fmt.Errorf("depth: reading header of %s: %v", path, rerr)
		}
		defer r.Close()
		header = r.Header()
		src = r
	}
	log.Printf("depth: processing BAM %q", path)

	engine, err := newBAMEngine(header, opts, ri)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := engine.closeOutputs(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if opts.Head {
		for i, ref := range engine.refs {
			fmt.Fprintf(engine.stdout, "@%d,%s,%d\n", i, ref.Name(), ref.Len())
		}
	}

	return engine.run(startPipeline(src))
}
