/*
Copyright © 2022 the lis2zarr authors.
This file is part of lis2zarr.

lis2zarr is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

lis2zarr is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with lis2zarr.  If not, see <http://www.gnu.org/licenses/>.
*/

package lis2zarr

import (
	"fmt"
	"sort"
	"strings"
)

// TargetChunks maps output dimension names to chunk lengths.
type TargetChunks map[string]int

// For returns the chunk length to use for each of dims, whose lengths
// are given in shape. Dimensions without a configured length are stored
// whole, except concatDim, which defaults to concatChunk.
// Names are matched without regard to case when no key matches exactly,
// since configuration layers may lowercase them.
// Results are clamped to [1, length].
func (tc TargetChunks) For(dims []string, shape []int, concatDim string, concatChunk int) []int {
	o := make([]int, len(dims))
	for i, d := range dims {
		c, ok := tc.lookup(d)
		switch {
		case ok:
		case d == concatDim:
			c = concatChunk
		default:
			c = shape[i]
		}
		if c > shape[i] {
			c = shape[i]
		}
		if c < 1 {
			c = 1
		}
		o[i] = c
	}
	return o
}

func (tc TargetChunks) lookup(d string) (int, bool) {
	if c, ok := tc[d]; ok {
		return c, true
	}
	keys := make([]string, 0, len(tc))
	for k := range tc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.EqualFold(k, d) {
			return tc[k], true
		}
	}
	return 0, false
}

// ChunkGroup is a run of consecutive input files that are read, concatenated
// and written together.
type ChunkGroup struct {
	// Index is the ordinal position of the group.
	Index int

	// Inputs are the source locations, in concat order.
	Inputs []string

	// FileOffset is the position of the first input in the full input
	// sequence.
	FileOffset int

	// Offset is the position of the group's first record along the concat
	// axis.
	Offset int

	// Len is the number of records the group contributes.
	Len int
}

func (g ChunkGroup) String() string {
	return fmt.Sprintf("chunk %d (records %d-%d)", g.Index, g.Offset, g.Offset+g.Len-1)
}

// Plan partitions an ordered input sequence into chunk groups.
type Plan struct {
	Groups         []ChunkGroup
	ItemsPerFile   int
	InputsPerChunk int
	ConcatDim      string
	TargetChunks   TargetChunks
}

// NewPlan groups inputs into runs of inputsPerChunk files. Each file is
// expected to contribute itemsPerFile records along concatDim.
func NewPlan(inputs []string, itemsPerFile, inputsPerChunk int, concatDim string, target TargetChunks) (*Plan, error) {
	if len(inputs) == 0 {
		return nil, &ConfigurationError{Key: "input_path", Reason: "no inputs to plan"}
	}
	if itemsPerFile < 1 {
		return nil, &ConfigurationError{Key: "nitems_per_file", Reason: fmt.Sprintf("%d is not positive", itemsPerFile)}
	}
	if inputsPerChunk < 1 {
		return nil, &ConfigurationError{Key: "inputs_per_chunk", Reason: fmt.Sprintf("%d is not positive", inputsPerChunk)}
	}
	if concatDim == "" {
		return nil, &ConfigurationError{Key: "concat_dim", Reason: "empty"}
	}
	for d, n := range target {
		if n < 1 {
			return nil, &ConfigurationError{Key: "target_chunks." + d, Reason: fmt.Sprintf("%d is not positive", n)}
		}
	}
	p := &Plan{
		ItemsPerFile:   itemsPerFile,
		InputsPerChunk: inputsPerChunk,
		ConcatDim:      concatDim,
		TargetChunks:   target,
	}
	for i, start := 0, 0; start < len(inputs); i, start = i+1, start+inputsPerChunk {
		end := start + inputsPerChunk
		if end > len(inputs) {
			end = len(inputs)
		}
		p.Groups = append(p.Groups, ChunkGroup{
			Index:      i,
			Inputs:     append([]string(nil), inputs[start:end]...),
			FileOffset: start,
			Offset:     start * itemsPerFile,
			Len:        (end - start) * itemsPerFile,
		})
	}
	return p, nil
}

// NumInputs returns the total number of input files.
func (p *Plan) NumInputs() int {
	n := 0
	for _, g := range p.Groups {
		n += len(g.Inputs)
	}
	return n
}

// ConcatLen returns the total length of the concat axis.
func (p *Plan) ConcatLen() int { return p.NumInputs() * p.ItemsPerFile }

// ConcatChunk is the default chunk length along the concat axis: the
// number of records in a full group.
func (p *Plan) ConcatChunk() int { return p.InputsPerChunk * p.ItemsPerFile }

// Inputs returns all inputs in order.
func (p *Plan) Inputs() []string {
	o := make([]string, 0, p.NumInputs())
	for _, g := range p.Groups {
		o = append(o, g.Inputs...)
	}
	return o
}
