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

	"github.com/grailbio/hts/sam"
)

// MalformedAuxError reports a CIGAR/MD:Z disagreement or a missing MD:Z field
// under -require-mdz.  It aborts the run.
type MalformedAuxError struct {
	Detail string
}

func (e *MalformedAuxError) Error() string {
	return "depth: malformed auxiliary data: " + e.Detail
}

var mdTag = sam.Tag{'M', 'D'}

// mdzOp is one parsed MD:Z operation: '=' (run matching bases), 'X' (run of
// mismatched reference bases, in seq), or '^' (deleted reference bases, in
// seq).
type mdzOp struct {
	op  byte
	run int
	seq []byte
}

// parseMDZ splits an MD:Z value into its operations.  The ops slice is reused
// across records.
func parseMDZ(mdz string, ops []mdzOp) ([]mdzOp, error) {
	ops = ops[:0]
	for i := 0; i < len(mdz); {
		c := mdz[i]
		switch {
		case c >= '0' && c <= '9':
			run := 0
			for i < len(mdz) && mdz[i] >= '0' && mdz[i] <= '9' {
				run = run*10 + int(mdz[i]-'0')
				i++
			}
			if run > 0 {
				ops = append(ops, mdzOp{op: '=', run: run})
			}
		case isAlpha(c):
			st := i
			for i < len(mdz) && isAlpha(mdz[i]) {
				i++
			}
			ops = append(ops, mdzOp{op: 'X', run: i - st, seq: []byte(mdz[st:i])})
		case c == '^':
			i++
			st := i
			for i < len(mdz) && isAlpha(mdz[i]) {
				i++
			}
			if i == st {
				return nil, &MalformedAuxError{Detail: "empty deletion in MD:Z " + mdz}
			}
			ops = append(ops, mdzOp{op: '^', run: i - st, seq: []byte(mdz[st:i])})
		default:
			return nil, &MalformedAuxError{Detail: fmt.Sprintf("unknown MD:Z operation %q", c)}
		}
	}
	return ops, nil
}

func isAlpha(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// Poly-A soft-clip filter defaults.  -test-polya lowers them.
const (
	polyACountMinDefault = 3
	polyARatioMinDefault = 0.8
)

// altEmitter writes mismatch/insertion/deletion/soft-clip records for each
// alignment, driven either by the CIGAR alone or by a joint CIGAR+MD:Z walk.
type altEmitter struct {
	w io.Writer

	printQual       bool
	includeSoftclip bool
	onlyPolyA       bool
	includeN        bool

	polyACountMin int
	polyARatioMin float64

	// total soft-clipped bases, reported in the softclip totals file.
	softclipCount uint64

	mdzBuf []mdzOp
}

func newAltEmitter(w io.Writer, opts *Opts) *altEmitter {
	e := &altEmitter{
		w:               w,
		printQual:       opts.PrintQual,
		includeSoftclip: opts.SoftclipPrefix != "",
		onlyPolyA:       opts.OnlyPolyA,
		includeN:        opts.IncludeN,
		polyACountMin:   polyACountMinDefault,
		polyARatioMin:   polyARatioMinDefault,
	}
	if opts.TestPolyA {
		e.polyACountMin = 1
		e.polyARatioMin = 0.01
	}
	return e
}

// polyACheck counts A and T over the clipped bases and reports the dominant
// base when either reaches the ratio threshold.
func (e *altEmitter) polyACheck(seq []byte) (base byte, count int, ok bool) {
	nA, nT := 0, 0
	for _, c := range seq {
		switch c {
		case 'A':
			nA++
		case 'T':
			nT++
		}
	}
	run := float64(len(seq))
	if float64(nA)/run >= e.polyARatioMin {
		return 'A', nA, true
	}
	if float64(nT)/run >= e.polyARatioMin {
		return 'T', nT, true
	}
	return 0, 0, false
}

func (e *altEmitter) emitSoftclip(tid, refOff, seqOff int, seq []byte, run int) {
	dir := byte('+')
	if seqOff == 0 {
		dir = '-'
	}
	e.softclipCount += uint64(run)
	clip := seq[seqOff : seqOff+run]
	if e.onlyPolyA {
		base, count, ok := e.polyACheck(clip)
		if ok && run >= e.polyACountMin {
			fmt.Fprintf(e.w, "%d,%d,S,%d,%c,%c,%d\n", tid, refOff, run, dir, base, count)
		}
		return
	}
	fmt.Fprintf(e.w, "%d,%d,S,%s\n", tid, refOff, clip)
}

func qualString(qual []byte) []byte {
	out := make([]byte, len(qual))
	for i, q := range qual {
		out[i] = q + 33
	}
	return out
}

// emitFromCigar handles records with no MD:Z field: insertions, deletions and
// soft clips come straight off the CIGAR; mismatches are invisible without
// MD:Z.
func (e *altEmitter) emitFromCigar(rec *sam.Record, seq []byte) error {
	if len(rec.Cigar) == 1 {
		return nil
	}
	tid := rec.Ref.ID()
	refOff := rec.Pos
	seqOff := 0
	for _, co := range rec.Cigar {
		n := co.Len()
		switch co.Type() {
		case sam.CigarDeletion:
			fmt.Fprintf(e.w, "%d,%d,D,%d\n", tid, refOff, n)
			refOff += n
		case sam.CigarSoftClipped:
			if e.includeSoftclip {
				e.emitSoftclip(tid, refOff, seqOff, seq, n)
			}
			seqOff += n
		case sam.CigarInsertion:
			fmt.Fprintf(e.w, "%d,%d,I,%s\n", tid, refOff, seq[seqOff:seqOff+n])
			seqOff += n
		case sam.CigarSkipped:
			refOff += n
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			seqOff += n
			refOff += n
		case sam.CigarHardClipped, sam.CigarPadded:
		default:
			return &MalformedAuxError{Detail: fmt.Sprintf("unknown CIGAR operation %v", co.Type())}
		}
	}
	return nil
}

// emitFromCigarMDZ walks the CIGAR and the parsed MD:Z jointly: each M/=/X
// operation consumes MD:Z run/mismatch ops totalling its length, each D must
// line up with a ^ op of the same length, and insertions/clips come off the
// CIGAR alone (MD:Z does not describe them).
func (e *altEmitter) emitFromCigarMDZ(rec *sam.Record, seq, qual []byte, mdz []mdzOp) error {
	tid := rec.Ref.ID()
	refOff := rec.Pos
	seqOff := 0
	mdzi := 0
	// MD:Z '=' runs are consumed incrementally; track the remainder here
	// rather than mutating the parsed ops.
	remaining := 0
	if len(mdz) > 0 {
		remaining = mdz[0].run
	}
	advance := func() {
		mdzi++
		if mdzi < len(mdz) {
			remaining = mdz[mdzi].run
		}
	}
	for _, co := range rec.Cigar {
		op := co.Type()
		run := co.Len()
		switch op {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			runLeft := run
			for runLeft > 0 {
				if mdzi >= len(mdz) {
					return &MalformedAuxError{Detail: "CIGAR consumed reference after MD:Z was exhausted"}
				}
				cur := mdz[mdzi]
				if cur.op == '^' {
					return &MalformedAuxError{Detail: "MD:Z deletion inside CIGAR match"}
				}
				runComb := runLeft
				if remaining < runComb {
					runComb = remaining
				}
				if cur.op == 'X' {
					skip := !e.includeN && runComb == 1 && seq[seqOff] == 'N'
					if !skip {
						if e.printQual {
							fmt.Fprintf(e.w, "%d,%d,X,%s,%s\n", tid, refOff, seq[seqOff:seqOff+runComb], qualString(qual[seqOff:seqOff+runComb]))
						} else {
							fmt.Fprintf(e.w, "%d,%d,X,%s\n", tid, refOff, seq[seqOff:seqOff+runComb])
						}
					}
				}
				seqOff += runComb
				refOff += runComb
				runLeft -= runComb
				remaining -= runComb
				if remaining == 0 {
					advance()
				}
			}
		case sam.CigarInsertion:
			fmt.Fprintf(e.w, "%d,%d,I,%s\n", tid, refOff, seq[seqOff:seqOff+run])
			seqOff += run
		case sam.CigarSoftClipped:
			if e.includeSoftclip {
				e.emitSoftclip(tid, refOff, seqOff, seq, run)
			}
			seqOff += run
		case sam.CigarDeletion:
			if mdzi >= len(mdz) || mdz[mdzi].op != '^' || mdz[mdzi].run != run {
				return &MalformedAuxError{Detail: fmt.Sprintf("CIGAR deletion of %d at %d does not match MD:Z", run, refOff)}
			}
			advance()
			fmt.Fprintf(e.w, "%d,%d,D,%d\n", tid, refOff, run)
			refOff += run
		case sam.CigarSkipped:
			refOff += run
		case sam.CigarHardClipped, sam.CigarPadded:
		default:
			return &MalformedAuxError{Detail: fmt.Sprintf("unknown CIGAR operation %v", op)}
		}
	}
	if mdzi < len(mdz) {
		return &MalformedAuxError{Detail: "MD:Z not exhausted by CIGAR walk"}
	}
	return nil
}

// emit dispatches one record to the joint walk when it carries MD:Z and the
// CIGAR-only walk otherwise.  requireMDZ turns a missing tag into a hard
// error.
func (e *altEmitter) emit(rec *sam.Record, seq []byte, requireMDZ bool) error {
	aux := rec.AuxFields.Get(mdTag)
	if aux == nil {
		if requireMDZ {
			return &MalformedAuxError{Detail: "no MD:Z field for aligned read " + rec.Name}
		}
		return e.emitFromCigar(rec, seq)
	}
	mdz, ok := aux.Value().(string)
	if !ok {
		return &MalformedAuxError{Detail: "MD tag is not of string type for read " + rec.Name}
	}
	ops, err := parseMDZ(mdz, e.mdzBuf)
	if err != nil {
		return err
	}
	e.mdzBuf = ops
	return e.emitFromCigarMDZ(rec, seq, rec.Qual, ops)
}
