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
	"strconv"

	"github.com/grailbio/hts/sam"
)

// cigarHook is invoked once per CIGAR operation, in record order.  Hooks
// accumulate into their own state; the walker itself only tracks the textual
// form of the CIGAR.
type cigarHook func(op sam.CigarOpType, n int)

// cigarWalker drives all per-operation consumers of a record's CIGAR in a
// single pass, and rebuilds the textual CIGAR for junction output as it goes.
type cigarWalker struct {
	hooks []cigarHook
	str   []byte
}

func (w *cigarWalker) register(h cigarHook) {
	w.hooks = append(w.hooks, h)
}

// walk runs every registered hook over c and refreshes the textual CIGAR
// buffer.  The buffer is only valid until the next call.
func (w *cigarWalker) walk(c sam.Cigar) {
	w.str = w.str[:0]
	for _, co := range c {
		n := co.Len()
		w.str = strconv.AppendInt(w.str, int64(n), 10)
		w.str = append(w.str, co.Type().String()...)
		for _, h := range w.hooks {
			h(co.Type(), n)
		}
	}
}

// cigarString returns the textual CIGAR rebuilt by the last walk call.
func (w *cigarWalker) cigarString() string { return string(w.str) }

// consumesQuery and consumesRef classify CIGAR operations the same way
// htslib's bam_cigar_type does: M/=/X consume both, I/S consume query only,
// D/N consume reference only, H/P consume neither.
func consumesQuery(op sam.CigarOpType) bool {
	c := op.Consumes()
	return c.Query != 0
}

func consumesRef(op sam.CigarOpType) bool {
	c := op.Consumes()
	return c.Reference != 0
}

// mappedLenCounter counts bases in operations consuming both query and
// reference (the -num-bases total).
func mappedLenCounter(total *uint64) cigarHook {
	return func(op sam.CigarOpType, n int) {
		c := op.Consumes()
		if c.Query != 0 && c.Reference != 0 {
			*total += uint64(n)
		}
	}
}

// alignedSpan returns the number of reference bases consumed by c.
func alignedSpan(c sam.Cigar) int {
	span, _ := c.Lengths()
	return span
}

// junctionExtractor records intron coordinates relative to the record start.
// On a ref-skip of length n starting at relative offset p it appends (p, p+n);
// every other ref-consuming operation just advances the relative offset.
type junctionExtractor struct {
	relPos int
	coords []int
}

func (j *junctionExtractor) reset() {
	j.relPos = 0
	j.coords = j.coords[:0]
}

func (j *junctionExtractor) hook() cigarHook {
	return func(op sam.CigarOpType, n int) {
		if op != sam.CigarSkipped {
			if consumesRef(op) {
				j.relPos += n
			}
			return
		}
		j.coords = append(j.coords, j.relPos)
		j.relPos += n
		j.coords = append(j.coords, j.relPos)
	}
}
