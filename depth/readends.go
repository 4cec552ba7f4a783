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
)

// readEnds tracks per-base read-start and read-end histograms for the current
// contig.  When a unique-quality threshold is set, only passing alignments
// are counted.
type readEnds struct {
	starts []uint32
	ends   []uint32
}

func newReadEnds(size int) *readEnds {
	return &readEnds{
		starts: make([]uint32, size),
		ends:   make([]uint32, size),
	}
}

func (r *readEnds) add(refpos, endPos int) {
	r.starts[refpos]++
	r.ends[endPos-1]++
}

// flush writes the nonzero entries for the finished contig as 1-based
// positions and resets both arrays.
func (r *readEnds) flush(sw, ew io.Writer, chrom string, size int) {
	for j := 0; j < size; j++ {
		if r.starts[j] > 0 {
			fmt.Fprintf(sw, "%s\t%d\t%d\n", chrom, j+1, r.starts[j])
		}
		if r.ends[j] > 0 {
			fmt.Fprintf(ew, "%s\t%d\t%d\n", chrom, j+1, r.ends[j])
		}
	}
	resetArray(r.starts, size)
	resetArray(r.ends, size)
}
