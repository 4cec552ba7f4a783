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

	"github.com/basecov/bio/interval"
)

// emitRunLength walks cov[0:size] once, merging consecutive equal values into
// half-open runs.  Each run's (end-start)*value is accumulated into the
// returned AUC; runs are additionally written to w as BED lines when w is
// non-nil.  Zero-valued runs are dropped when skipZeros is set.
func emitRunLength(w io.Writer, chrom string, cov []uint32, size int, skipZeros bool) uint64 {
	var auc uint64
	if size == 0 {
		return 0
	}
	runStart := 0
	runValue := cov[0]
	flush := func(end int) {
		if runValue == 0 && skipZeros {
			return
		}
		auc += uint64(end-runStart) * uint64(runValue)
		if w != nil {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", chrom, runStart, end, runValue)
		}
	}
	for i := 1; i < size; i++ {
		if cov[i] != runValue {
			flush(i)
			runStart = i
			runValue = cov[i]
		}
	}
	flush(size)
	return auc
}

// sumRegions reduces the finished contig's coverage over its annotation
// entries in input order.  When keepOrder is set the values land in the
// per-region slots for later ordered output; otherwise each line prints
// immediately to w.  The summed values are also accumulated into the
// annotated AUC total, returned.
func sumRegions(w io.Writer, ri *interval.RegionIndex, chrom string, cov []uint32, size int, keepOrder, uniqueTrack bool) uint64 {
	regions := ri.ByContig[chrom]
	var annotated uint64
	for z := range regions {
		var sum uint64
		end := regions[z].End
		if end > size {
			end = size
		}
		for j := regions[z].Start; j < end; j++ {
			sum += uint64(cov[j])
		}
		annotated += sum
		if keepOrder {
			if uniqueTrack {
				regions[z].UniqueSum = float64(sum)
			} else {
				regions[z].Sum = float64(sum)
			}
		} else {
			ri.WriteValue(w, chrom, regions[z].Start, regions[z].End, float64(sum))
		}
	}
	return annotated
}
