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
package main

/*
bio-depth is a BAM and BigWig quantification tool: per-base coverage,
area-under-coverage, per-region sums, alt-base records, splice junction
co-occurrence, read start/end histograms, and fragment-length distributions.
*/

import (
	"flag"
	"fmt"
	"os"

	"github.com/basecov/bio/depth"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
)

var (
	threads          = flag.Int("threads", depth.DefaultOpts.Threads, "BAM decompression threads, or parallel workers for a BigWig list input")
	keepOrder        = flag.Bool("keep-order", depth.DefaultOpts.KeepOrder, "Output annotation coverage in BED insertion order instead of input contig order")
	annotation       = flag.String("annotation", depth.DefaultOpts.AnnotationPath, "BED file of regions to sum coverage over (tab-delimited: chrom,start,end); requires -annotation-prefix")
	annotationPrefix = flag.String("annotation-prefix", depth.DefaultOpts.AnnotationPrefix, "Output prefix for per-region sums; <prefix>.all.tsv (and <prefix>.unique.tsv with -min-unique-qual)")
	op               = flag.String("op", depth.DefaultOpts.Op, "Statistic over annotation regions for BigWig input: sum, mean, min, or max")
	bwBuffer         = flag.Int("bwbuffer", depth.DefaultOpts.BWBuffer, "BigWig read buffer size in bytes; raise for slow remote files")
	coverage         = flag.Bool("coverage", depth.DefaultOpts.Coverage, "Print per-base coverage as BED to stdout")
	aucPrefix        = flag.String("auc", depth.DefaultOpts.AUCPrefix, "Write area-under-coverage totals to <prefix>.auc.tsv")
	bigwigPrefix     = flag.String("bigwig", depth.DefaultOpts.BigWigPrefix, "Write coverage as BigWig to <prefix>.all.bw (and <prefix>.unique.bw with -min-unique-qual)")
	minUniqueQual    = flag.Int("min-unique-qual", depth.DefaultOpts.MinUniqueQual, "Maintain a second coverage track restricted to alignments with at least this mapping quality")
	doubleCount      = flag.Bool("double-count", depth.DefaultOpts.DoubleCount, "Allow overlapping ends of a read-pair to count twice toward coverage")
	numBases         = flag.Bool("num-bases", depth.DefaultOpts.NumBases, "Report the total number of bases in alignments that passed filters")
	altsPrefix       = flag.String("alts", depth.DefaultOpts.AltsPrefix, "Write differing-from-reference records to <prefix>.alts.tsv")
	softclipPrefix   = flag.String("include-softclip", depth.DefaultOpts.SoftclipPrefix, "Include soft-clip records in the alts output; totals to <prefix>.softclip.tsv")
	onlyPolyA        = flag.Bool("only-polya", depth.DefaultOpts.OnlyPolyA, "With -include-softclip, only print soft clips that are mostly A or T")
	includeN         = flag.Bool("include-n", depth.DefaultOpts.IncludeN, "Print mismatch records when the mismatched read base is N")
	printQual        = flag.Bool("print-qual", depth.DefaultOpts.PrintQual, "Print quality values for mismatched bases")
	delta            = flag.Bool("delta", depth.DefaultOpts.Delta, "Accepted for compatibility; positions are printed in absolute form")
	requireMDZ       = flag.Bool("require-mdz", depth.DefaultOpts.RequireMDZ, "Fail unless the MD:Z field exists everywhere it is expected")
	head             = flag.Bool("head", depth.DefaultOpts.Head, "Print sequence names and lengths in the SAM/BAM header")
	junctionsPrefix  = flag.String("junctions", depth.DefaultOpts.JunctionsPrefix, "Write junction co-occurrence records to <prefix>.jxs.tsv")
	readEndsPrefix   = flag.String("read-ends", depth.DefaultOpts.ReadEndsPrefix, "Write read start/end counts to <prefix>.starts.tsv and <prefix>.ends.tsv")
	fragDistPrefix   = flag.String("frag-dist", depth.DefaultOpts.FragDistPrefix, "Write the fragment length distribution to <prefix>.frags.tsv")
	echoSAM          = flag.Bool("echo-sam", depth.DefaultOpts.EchoSAM, "Print a SAM record for each aligned read")
	ends             = flag.Bool("ends", depth.DefaultOpts.Ends, "Report the end coordinate for each read")
	longReads        = flag.Bool("long-reads", depth.DefaultOpts.LongReads, "Accept long-read inputs (PacBio/Oxford); buffer sizing hint")
	testPolyA        = flag.Bool("test-polya", depth.DefaultOpts.TestPolyA, "Lower the poly-A filter minimums, for testing")
)

func bioDepthUsage() {
	fmt.Printf("Usage: %s [OPTIONS] <input.{bam,sam,bw,bigwig,txt}>\n", os.Args[0])
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = bioDepthUsage
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() != 1 {
		log.Error.Printf("Exactly one positional argument expected (the BAM/SAM/BigWig input)")
		flag.Usage()
		os.Exit(-1)
	}
	opts := depth.Opts{
		Threads:          *threads,
		KeepOrder:        *keepOrder,
		AnnotationPath:   *annotation,
		AnnotationPrefix: *annotationPrefix,
		Op:               *op,
		BWBuffer:         *bwBuffer,
		Coverage:         *coverage,
		AUCPrefix:        *aucPrefix,
		BigWigPrefix:     *bigwigPrefix,
		MinUniqueQual:    *minUniqueQual,
		DoubleCount:      *doubleCount,
		NumBases:         *numBases,
		AltsPrefix:       *altsPrefix,
		SoftclipPrefix:   *softclipPrefix,
		OnlyPolyA:        *onlyPolyA,
		IncludeN:         *includeN,
		PrintQual:        *printQual,
		Delta:            *delta,
		RequireMDZ:       *requireMDZ,
		Head:             *head,
		JunctionsPrefix:  *junctionsPrefix,
		ReadEndsPrefix:   *readEndsPrefix,
		FragDistPrefix:   *fragDistPrefix,
		EchoSAM:          *echoSAM,
		Ends:             *ends,
		LongReads:        *longReads,
		TestPolyA:        *testPolyA,
	}
	if err := depth.Run(flag.Arg(0), &opts); err != nil {
		log.Error.Printf("%v", err)
		os.Exit(-1)
	}
	log.Debug.Printf("exiting")
}
