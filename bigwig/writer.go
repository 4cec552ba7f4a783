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
	"fmt"

	"github.com/grailbio/hts/sam"
	"github.com/pbenner/gonetics"
)

// TrackWriter collects per-base coverage one contig at a time and exports the
// whole track as a BigWig file at EOF.  Contigs never set remain all-zero.
type TrackWriter struct {
	names   []string
	data    [][]float64
	indices map[string]int
}

// NewTrackWriter sizes a track to the BAM header's reference table.
func NewTrackWriter(refs []*sam.Reference) *TrackWriter {
	t := &TrackWriter{
		names:   make([]string, len(refs)),
		data:    make([][]float64, len(refs)),
		indices: make(map[string]int, len(refs)),
	}
	for i, ref := range refs {
		t.names[i] = ref.Name()
		t.data[i] = make([]float64, ref.Len())
		t.indices[ref.Name()] = i
	}
	return t
}

// SetContig copies a finished contig's coverage into the track.
func (t *TrackWriter) SetContig(name string, cov []uint32, size int) {
	i, ok := t.indices[name]
	if !ok {
		return
	}
	seq := t.data[i]
	for j := 0; j < size; j++ {
		seq[j] = float64(cov[j])
	}
}

// Export writes the accumulated track to path as a BigWig with per-base
// resolution.
func (t *TrackWriter) Export(path string) error {
	lengths := make([]int, len(t.data))
	for i, seq := range t.data {
		lengths[i] = len(seq)
	}
	genome := gonetics.NewGenome(t.names, lengths)
	track, err := gonetics.NewSimpleTrack("coverage", t.data, genome, 1)
	if err != nil {
		return fmt.Errorf("bigwig.Export: building track: %v", err)
	}
	if err := track.ExportBigWig(path); err != nil {
		return fmt.Errorf("bigwig.Export: writing %s: %v", path, err)
	}
	return nil
}
