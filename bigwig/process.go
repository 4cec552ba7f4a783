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
package bigwig

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/basecov/bio/interval"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
)

// intervalSource is the reading surface the reducers need.  *Reader is the
// production implementation; tests substitute canned data.
type intervalSource interface {
	Contigs() []Contig
	Intervals(name string, length int) ([]Interval, error)
	Close() error
}

// openSource is indirected so tests can substitute an in-memory source.
var openSource = func(path string, bufSize int) (intervalSource, error) {
	return Open(path, bufSize)
}

// TotalAUC iterates every interval of every contig, summing
// (end-start)*value.  Contigs with no interval data are logged to errw and
// skipped.
func TotalAUC(r intervalSource, errw io.Writer) float64 {
	var auc float64
	for _, contig := range r.Contigs() {
		if contig.Length < 1 {
			continue
		}
		ivs, err := r.Intervals(contig.Name, contig.Length)
		if err != nil || len(ivs) == 0 {
			fmt.Fprintf(errw, "WARNING: no intervals for chromosome %s, skipping\n", contig.Name)
			continue
		}
		for _, iv := range ivs {
			auc += float64(iv.End-iv.Start) * iv.Value
		}
	}
	return auc
}

// reduceFile streams one BigWig's contigs (those present in the region
// index) through the reducer.  Without keepOrder values print inline to afw.
// With keepOrder they land in localVals when non-nil (the parallel-worker
// case, where the index is shared read-only), or in the index's slots
// otherwise.  Returns the annotated AUC.
func reduceFile(r intervalSource, ri *interval.RegionIndex, op Op, keepOrder bool, localVals map[string][]float64, afw, errw io.Writer, seen map[string]bool) float64 {
	var annotatedAUC float64
	for _, contig := range r.Contigs() {
		regions, ok := ri.ByContig[contig.Name]
		if !ok {
			continue
		}
		ivs, err := r.Intervals(contig.Name, contig.Length)
		if err != nil || len(ivs) == 0 {
			fmt.Fprintf(errw, "WARNING: no interval data for chromosome %s, skipping\n", contig.Name)
			continue
		}
		rr := make([]Region, len(regions))
		for i := range regions {
			rr[i] = Region{Start: regions[i].Start, End: regions[i].End}
		}
		var vals []float64
		if keepOrder && localVals != nil {
			vals = localVals[contig.Name]
			if vals == nil {
				vals = make([]float64, len(regions))
				localVals[contig.Name] = vals
			} else {
				// The store is reused across a worker's files.
				for i := range vals {
					vals[i] = 0
				}
			}
		}
		annotatedAUC += ReduceRegions(ivs, rr, op, func(i int, value float64) {
			switch {
			case !keepOrder:
				ri.WriteValue(afw, contig.Name, regions[i].Start, regions[i].End, value)
			case vals != nil:
				vals[i] = value
			default:
				regions[i].Sum = value
			}
		})
		seen[contig.Name] = true
	}
	return annotatedAUC
}

// ProcessSingle handles a single-BigWig input.  With no annotation it reports
// the total AUC over all bases and nothing else; with one it writes per-region
// values to <prefix>.all.tsv and the annotated AUC to stdout.
func ProcessSingle(path string, ri *interval.RegionIndex, op Op, bufSize int, keepOrder bool, prefix string) (err error) {
	log.Printf("bigwig: processing %q", path)
	r, err := openSource(path, bufSize)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := r.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if ri == nil {
		auc := TotalAUC(r, os.Stderr)
		fmt.Printf("AUC_ALL_BASES\t%.3f\n", auc)
		return nil
	}

	f, err := os.Create(prefix + ".all.tsv")
	if err != nil {
		return fmt.Errorf("bigwig.ProcessSingle: %v", err)
	}
	afw := bufio.NewWriterSize(f, 1<<20)
	defer func() {
		if ferr := afw.Flush(); ferr != nil && err == nil {
			err = ferr
		}
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	seen := make(map[string]bool)
	annotatedAUC := reduceFile(r, ri, op, keepOrder, nil, afw, os.Stderr, seen)
	if keepOrder {
		ri.WriteOrdered(afw, nil, nil)
	} else {
		ri.WriteMissing(afw, seen)
	}
	fmt.Printf("AUC_ANNOTATED_BASES\t%.3f\n", annotatedAUC)
	return nil
}

// readFileList reads one path per line, ignoring blank lines.
func readFileList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bigwig.readFileList: %v", err)
	}
	defer f.Close()
	var files []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			files = append(files, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return files, nil
}

// shardFiles splits files into nWorkers contiguous chunks of near-equal
// count.
func shardFiles(files []string, nWorkers int) [][]string {
	shards := make([][]string, nWorkers)
	for i := range shards {
		start := (i * len(files)) / nWorkers
		end := ((i + 1) * len(files)) / nWorkers
		shards[i] = files[start:end]
	}
	return shards
}

// processWorkerFile runs one file of a worker's shard, writing region values
// to <basename>.all.tsv and a SUCCESS/FAILED marker to <basename>.err.  The
// region index is shared read-only across workers; computed values live in
// the worker's local store.
func processWorkerFile(path string, ri *interval.RegionIndex, op Op, bufSize int, keepOrder bool, localVals map[string][]float64) (err error) {
	base := filepath.Base(path)
	errf, err := os.Create(base + ".err")
	if err != nil {
		return fmt.Errorf("bigwig: creating error file for %s: %v", path, err)
	}
	defer errf.Close()
	outf, err := os.Create(base + ".all.tsv")
	if err != nil {
		fmt.Fprintf(errf, "FAILED to process bigwig %s\n", path)
		return fmt.Errorf("bigwig: creating output file for %s: %v", path, err)
	}
	afw := bufio.NewWriterSize(outf, 1<<20)
	defer func() {
		if ferr := afw.Flush(); ferr != nil && err == nil {
			err = ferr
		}
		if cerr := outf.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	r, err := openSource(path, bufSize)
	if err != nil {
		fmt.Fprintf(errf, "FAILED to process bigwig %s\n", path)
		return err
	}
	defer r.Close()

	seen := make(map[string]bool)
	annotatedAUC := reduceFile(r, ri, op, keepOrder, localVals, afw, errf, seen)
	if keepOrder {
		ri.WriteOrdered(afw, nil, localVals)
	} else {
		ri.WriteMissing(afw, seen)
	}
	fmt.Printf("AUC_ANNOTATED_BASES\t%.3f\t%s\n", annotatedAUC, path)
	fmt.Fprintf(errf, "SUCCESS processing bigwig %s\n", path)
	return nil
}

// RunWorkers processes a list of BigWigs with nWorkers parallel workers.
// Each worker owns its files exclusively and writes per-file outputs, so the
// only shared state is the read-only region index.  A failing file is
// isolated: its marker file records the failure and the remaining files
// continue.
func RunWorkers(listPath string, ri *interval.RegionIndex, op Op, bufSize int, keepOrder bool, nWorkers int) error {
	files, err := readFileList(listPath)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("bigwig.RunWorkers: no files listed in %s", listPath)
	}
	if nWorkers < 1 {
		nWorkers = 1
	}
	if nWorkers > len(files) {
		nWorkers = len(files)
	}
	shards := shardFiles(files, nWorkers)
	return traverse.Each(nWorkers, func(jobIdx int) error {
		localVals := make(map[string][]float64)
		for _, path := range shards[jobIdx] {
			log.Printf("bigwig: worker %d processing %q", jobIdx, path)
			if perr := processWorkerFile(path, ri, op, bufSize, keepOrder, localVals); perr != nil {
				log.Printf("bigwig: worker %d: %v", jobIdx, perr)
			}
		}
		return nil
	})
}
