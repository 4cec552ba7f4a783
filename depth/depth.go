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

// Package depth is a streaming analytics engine over aligned sequencing
// data.  Given a position-sorted BAM/SAM it maintains dense per-base coverage
// per contig while computing derived outputs in the same pass: AUC,
// per-region sums, alt-base records, splice junction co-occurrence, read
// start/end histograms, and the fragment-length distribution.  Given BigWig
// input it reduces stored intervals over annotation regions instead.
package depth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/basecov/bio/bigwig"
	"github.com/basecov/bio/interval"
	"github.com/grailbio/base/log"
)

// Format is the detected input kind.
type Format int

const (
	// FormatUnknown means the filename suffix was not recognized.
	FormatUnknown Format = iota
	// FormatBAM covers .bam and .sam inputs.
	FormatBAM
	// FormatBigWig is a single .bw/.bigwig file.
	FormatBigWig
	// FormatBigWigList is a .txt file listing BigWig paths one per line.
	FormatBigWigList
)

// DetectFormat classifies the input path by suffix.
func DetectFormat(path string) Format {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".bam"), strings.HasSuffix(lower, ".sam"):
		return FormatBAM
	case strings.HasSuffix(lower, ".bw"), strings.HasSuffix(lower, ".bigwig"):
		return FormatBigWig
	case strings.HasSuffix(lower, ".txt"):
		return FormatBigWigList
	}
	return FormatUnknown
}

// ErrUnknownFormat reports an unrecognized input filename suffix.
var ErrUnknownFormat = errors.New("depth: cannot determine input format from filename suffix")

// ErrMissingRegionArg reports -annotation given without its output prefix (or
// the reverse).
var ErrMissingRegionArg = errors.New("depth: -annotation requires both a BED path and -annotation-prefix")

// Opts mirrors the command line.
type Opts struct {
	// Threads is the BAM decompression thread count, or the worker count for
	// a BigWig list input.
	Threads   int
	KeepOrder bool

	AnnotationPath   string
	AnnotationPrefix string
	Op               string
	BWBuffer         int

	Coverage      bool
	AUCPrefix     string
	BigWigPrefix  string
	MinUniqueQual int
	DoubleCount   bool
	NumBases      bool

	AltsPrefix     string
	SoftclipPrefix string
	OnlyPolyA      bool
	IncludeN       bool
	PrintQual      bool
	Delta          bool
	RequireMDZ     bool
	Head           bool

	JunctionsPrefix string
	ReadEndsPrefix  string
	FragDistPrefix  string

	EchoSAM   bool
	Ends      bool
	LongReads bool
	TestPolyA bool
}

// DefaultOpts holds the flag defaults.
var DefaultOpts = Opts{
	Op:       "sum",
	BWBuffer: 1 << 30,
}

// Run dispatches on the input format and executes the whole job.
func Run(path string, opts *Opts) error {
	if (opts.AnnotationPath == "") != (opts.AnnotationPrefix == "") {
		return ErrMissingRegionArg
	}
	format := DetectFormat(path)
	if format == FormatUnknown {
		return fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}

	var ri *interval.RegionIndex
	if opts.AnnotationPath != "" {
		var err error
		if ri, err = interval.NewRegionIndexFromPath(opts.AnnotationPath); err != nil {
			return fmt.Errorf("depth.Run: reading annotation: %v", err)
		}
		log.Printf("depth.Run: %d chromosomes for annotated regions read", len(ri.Order))
	}

	op, err := bigwig.ParseOp(opts.Op)
	if err != nil {
		return err
	}

	switch format {
	case FormatBAM:
		return runBAM(path, opts, ri)
	case FormatBigWig:
		if ri != nil {
			ri.FloatValues = op == bigwig.OpMean
		}
		return bigwig.ProcessSingle(path, ri, op, opts.BWBuffer, opts.KeepOrder, opts.AnnotationPrefix)
	case FormatBigWigList:
		if ri == nil {
			return fmt.Errorf("depth.Run: a BigWig list input requires -annotation")
		}
		ri.FloatValues = op == bigwig.OpMean
		return bigwig.RunWorkers(path, ri, op, opts.BWBuffer, opts.KeepOrder, opts.Threads)
	}
	return ErrUnknownFormat
}
