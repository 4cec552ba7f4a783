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
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/pbenner/gonetics"
)

// Contig is one sequence in a BigWig header.
type Contig struct {
	Name   string
	Length int
}

// Reader wraps the gonetics BigWig codec behind the small surface the
// reducer needs: the contig table and whole-contig sorted interval slices.
type Reader struct {
	bwr *gonetics.BigWigReader
	f   *os.File
}

// Open opens path for reading.  Files no larger than bufSize bytes are
// slurped into memory up front; random access into a cold file dominates
// runtime otherwise, especially on network filesystems.
func Open(path string, bufSize int) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bigwig.Open: %v", err)
	}
	var rs io.ReadSeeker = f
	if info, serr := f.Stat(); serr == nil && bufSize > 0 && info.Size() <= int64(bufSize) {
		data, rerr := io.ReadAll(f)
		if rerr != nil {
			f.Close()
			return nil, fmt.Errorf("bigwig.Open: reading %s: %v", path, rerr)
		}
		f.Close()
		f = nil
		rs = bytes.NewReader(data)
	}
	bwr, err := gonetics.NewBigWigReader(rs)
	if err != nil {
		if f != nil {
			f.Close()
		}
		return nil, fmt.Errorf("bigwig.Open: %s: %v", path, err)
	}
	return &Reader{bwr: bwr, f: f}, nil
}

// Close releases the underlying file, if any.
func (r *Reader) Close() error {
	if r.f != nil {
		return r.f.Close()
	}
	return nil
}

// Contigs returns the BigWig's sequence table in stored order.
func (r *Reader) Contigs() []Contig {
	genome := r.bwr.Genome
	contigs := make([]Contig, len(genome.Seqnames))
	for i, name := range genome.Seqnames {
		contigs[i] = Contig{Name: name, Length: genome.Lengths[i]}
	}
	return contigs
}

// Intervals returns the sorted data intervals stored for one contig, at
// native resolution.  An empty result is not an error; callers treat it as a
// skippable contig.
func (r *Reader) Intervals(name string, length int) ([]Interval, error) {
	var ivs []Interval
	for rec := range r.bwr.Query(name, 0, length, 0) {
		if rec.Error != nil {
			return nil, fmt.Errorf("bigwig: querying %s: %v", name, rec.Error)
		}
		if rec.To <= rec.From || rec.Valid == 0 {
			continue
		}
		ivs = append(ivs, Interval{
			Start: rec.From,
			End:   rec.To,
			Value: rec.Sum / rec.Valid,
		})
	}
	return ivs, nil
}
