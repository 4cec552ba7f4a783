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
	"io"

	"github.com/grailbio/hts/sam"
)

// recordSource is the reading half of a BAM/SAM codec.  Both bam.Reader and
// sam.Reader satisfy it.
type recordSource interface {
	Read() (*sam.Record, error)
}

// pipelineDepth bounds the number of records in flight between the decoder
// and the analyzer.  Records cycle through the hts free pool: the analyzer
// returns each record with sam.PutInFreePool once it is done, which throttles
// decoder-side allocation the same way a fixed record pool would.
const pipelineDepth = 200

// recordPipeline decouples decompression from analysis: a single producer
// goroutine drains src into a bounded channel in file order; the analyzer is
// the single consumer.  FIFO order is the channel's own guarantee.
type recordPipeline struct {
	records chan *sam.Record
	err     chan error
}

// startPipeline launches the producer.  The records channel closes at EOF;
// the err channel then yields the terminal error, or nil for a clean EOF.
func startPipeline(src recordSource) *recordPipeline {
	p := &recordPipeline{
		records: make(chan *sam.Record, pipelineDepth),
		err:     make(chan error, 1),
	}
	go func() {
		defer close(p.records)
		for {
			rec, err := src.Read()
			if err != nil {
				if err == io.EOF {
					p.err <- nil
				} else {
					p.err <- err
				}
				return
			}
			p.records <- rec
		}
	}()
	return p
}
