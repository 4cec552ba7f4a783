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
package interval

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBED = "chr2\t100\t200\tname1\t0\nchr1\t50\t80\nchr2\t150\t250\n\nchr3\t0\t10\n"

func TestNewRegionIndex(t *testing.T) {
	ri, err := NewRegionIndex(strings.NewReader(testBED))
	require.NoError(t, err)

	// Contig order is first-appearance order, not sorted order.
	assert.Equal(t, []string{"chr2", "chr1", "chr3"}, ri.Order)
	assert.Equal(t, 4, ri.NRegions())
	// Entries stay unmerged and in file order, overlaps included.
	assert.Equal(t, []Region{{Start: 100, End: 200}, {Start: 150, End: 250}}, ri.ByContig["chr2"])
	assert.Equal(t, []Region{{Start: 50, End: 80}}, ri.ByContig["chr1"])
}

func TestNewRegionIndexMalformed(t *testing.T) {
	_, err := NewRegionIndex(strings.NewReader("chr1\t100\n"))
	require.Error(t, err)
	_, err = NewRegionIndex(strings.NewReader("chr1\tx\t200\n"))
	require.Error(t, err)
}

func TestNewRegionIndexFromPath(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	plain := filepath.Join(tmpdir, "regions.bed")
	require.NoError(t, os.WriteFile(plain, []byte(testBED), 0644))
	ri, err := NewRegionIndexFromPath(plain)
	require.NoError(t, err)
	assert.Equal(t, 4, ri.NRegions())

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, err = zw.Write([]byte(testBED))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	zipped := filepath.Join(tmpdir, "regions.bed.gz")
	require.NoError(t, os.WriteFile(zipped, gz.Bytes(), 0644))
	ri, err = NewRegionIndexFromPath(zipped)
	require.NoError(t, err)
	assert.Equal(t, 4, ri.NRegions())
	assert.Equal(t, []string{"chr2", "chr1", "chr3"}, ri.Order)
}

func TestWriteValueRendering(t *testing.T) {
	ri := &RegionIndex{}
	var out bytes.Buffer
	ri.WriteValue(&out, "chr1", 0, 10, 42)
	assert.Equal(t, "chr1\t0\t10\t42\n", out.String())

	ri.FloatValues = true
	out.Reset()
	ri.WriteValue(&out, "chr1", 0, 10, 4.25)
	assert.Equal(t, "chr1\t0\t10\t4.250\n", out.String())
}

func TestWriteOrdered(t *testing.T) {
	ri, err := NewRegionIndex(strings.NewReader(testBED))
	require.NoError(t, err)
	ri.ByContig["chr2"][0].Sum = 7
	ri.ByContig["chr2"][1].Sum = 9
	ri.ByContig["chr1"][0].Sum = 3
	ri.ByContig["chr1"][0].UniqueSum = 2

	var out bytes.Buffer
	ri.WriteOrdered(&out, nil, nil)
	assert.Equal(t,
		"chr2\t100\t200\t7\nchr2\t150\t250\t9\nchr1\t50\t80\t3\nchr3\t0\t10\t0\n",
		out.String())

	// Unique values interleave per region.
	out.Reset()
	var uout bytes.Buffer
	ri.WriteOrdered(&out, &uout, nil)
	assert.Equal(t, "chr2\t100\t200\t0\nchr2\t150\t250\t0\nchr1\t50\t80\t2\nchr3\t0\t10\t0\n", uout.String())

	// A local value store overrides the slots.
	out.Reset()
	local := map[string][]float64{
		"chr2": {70, 90},
		"chr1": {30},
		"chr3": {1},
	}
	ri.WriteOrdered(&out, nil, local)
	assert.Equal(t,
		"chr2\t100\t200\t70\nchr2\t150\t250\t90\nchr1\t50\t80\t30\nchr3\t0\t10\t1\n",
		out.String())
}

func TestWriteMissing(t *testing.T) {
	ri, err := NewRegionIndex(strings.NewReader(testBED))
	require.NoError(t, err)
	var out bytes.Buffer
	ri.WriteMissing(&out, map[string]bool{"chr2": true, "chr3": true})
	assert.Equal(t, "chr1\t50\t80\t0\n", out.String())
}
