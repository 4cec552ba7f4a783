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
	"strconv"

	"github.com/grailbio/hts/sam"
)

// junctionAssembler pairs the intron lists of mated records and writes the
// co-occurrence lines.  A first mate with introns waits under its read name
// until the second mate arrives; leftovers are dropped at contig boundaries
// and at EOF.
type junctionAssembler struct {
	w       io.Writer
	pending map[string]pendingJunction
	buf     []byte
}

type pendingJunction struct {
	line  string
	items int
}

func newJunctionAssembler(w io.Writer) *junctionAssembler {
	return &junctionAssembler{
		w:       w,
		pending: make(map[string]pendingJunction),
	}
}

// formatLine renders one mate's junction fields:
// contig name, 1-based start, reverse flag, template length, textual CIGAR, then the
// comma-separated 1-based intron spans.
func (a *junctionAssembler) formatLine(rec *sam.Record, tlen int, cigarStr string, coords []int) string {
	rev := 0
	if rec.Flags&sam.Reverse != 0 {
		rev = 1
	}
	b := a.buf[:0]
	b = append(b, rec.Ref.Name()...)
	b = append(b, '\t')
	b = strconv.AppendInt(b, int64(rec.Pos+1), 10)
	b = append(b, '\t')
	b = strconv.AppendInt(b, int64(rev), 10)
	b = append(b, '\t')
	b = strconv.AppendInt(b, int64(tlen), 10)
	b = append(b, '\t')
	b = append(b, cigarStr...)
	b = append(b, '\t')
	for i, c := range coords {
		abs := rec.Pos + c
		if i%2 == 0 {
			if i >= 2 {
				b = append(b, ',')
			}
			b = strconv.AppendInt(b, int64(abs+1), 10)
			b = append(b, '-')
		} else {
			b = strconv.AppendInt(b, int64(abs), 10)
		}
	}
	a.buf = b
	return string(b)
}

// add processes one record's extracted intron coordinates.  coords holds
// interleaved relative (start, end) pairs, so two items per intron.
func (a *junctionAssembler) add(rec *sam.Record, cigarStr string, coords []int) {
	paired := rec.Flags&sam.Paired != 0
	tlen := rec.TempLen
	// Mates on different contigs carry no meaningful template length; give
	// the pair a stable ordering by contig ID instead.
	if rec.Ref != rec.MateRef && rec.MateRef != nil {
		if rec.MateRef.ID() > rec.Ref.ID() {
			tlen = 1000
		} else {
			tlen = -1000
		}
	}
	sz := len(coords)
	line := ""
	if sz >= 4 || (paired && sz >= 2) {
		line = a.formatLine(rec, rec.TempLen, cigarStr, coords)
	}
	if !paired {
		if sz >= 4 {
			fmt.Fprintf(a.w, "%s\n", line)
		}
		return
	}
	switch {
	case tlen > 0 && sz >= 2:
		a.pending[rec.Name] = pendingJunction{line: line, items: sz}
	case tlen < 0:
		mateItems := 0
		printed := false
		if prior, ok := a.pending[rec.Name]; ok {
			mateItems = prior.items
			if mateItems >= 4 || (mateItems >= 2 && sz >= 2) {
				fmt.Fprintf(a.w, "%s", prior.line)
				printed = true
			}
			delete(a.pending, rec.Name)
		}
		if sz >= 4 || (mateItems >= 2 && sz >= 2) {
			if printed {
				fmt.Fprintf(a.w, "\t")
			}
			fmt.Fprintf(a.w, "%s", line)
			printed = true
		}
		if printed {
			fmt.Fprintf(a.w, "\n")
		}
	}
}

// dropPending discards unmatched first-mate lines.  Called at contig
// boundaries and at EOF; a mate that never arrived will never arrive.
func (a *junctionAssembler) dropPending() {
	for k := range a.pending {
		delete(a.pending, k)
	}
}
