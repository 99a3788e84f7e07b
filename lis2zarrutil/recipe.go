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

package lis2zarrutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gosuri/uiprogress"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/lis2zarr"
	"github.com/spatialmodel/lis2zarr/cloud"
	"github.com/spatialmodel/lis2zarr/zarr"
	"gocloud.dev/blob"
	"golang.org/x/sync/errgroup"
)

// Recipe converts a sequence of LIS NetCDF files into a Zarr store.
type Recipe struct {
	// Log receives progress messages.
	Log logrus.FieldLogger

	// ShowProgress turns on a progress bar during the store phase.
	ShowProgress bool

	cfg    Config
	bucket *blob.Bucket
	plan   *lis2zarr.Plan
	stager *cloud.Stager
	store  *zarr.Store

	mu           sync.Mutex
	timeUnits    *lis2zarr.TimeUnits
	timeUnitsSet bool
}

// NewRecipe opens the configured bucket, enumerates the inputs and plans
// the conversion. No object is written until PrepareTarget is called.
// The returned recipe must be closed.
func NewRecipe(ctx context.Context, cfg *Config, log logrus.FieldLogger) (*Recipe, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := &Recipe{Log: log, cfg: *cfg}
	r.cfg.TargetChunks = make(lis2zarr.TargetChunks, len(cfg.TargetChunks))
	for d, n := range cfg.TargetChunks {
		r.cfg.TargetChunks[d] = n
	}

	var err error
	r.bucket, err = cloud.OpenBucket(ctx, cfg.Protocol, cfg.Bucket)
	if err != nil {
		return nil, err
	}
	inputs, err := cloud.Glob(ctx, r.bucket, cfg.InputPath)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.plan, err = lis2zarr.NewPlan(inputs, cfg.ItemsPerFile, cfg.InputsPerChunk, cfg.ConcatDim, r.cfg.TargetChunks)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.stager, err = cloud.NewStager(r.bucket, cfg.TempDir, cfg.CacheInputs, log)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.store, err = zarr.NewStore(r.bucket, cfg.TargetPath, cfg.CompressionLevel)
	if err != nil {
		r.Close()
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"inputs": len(inputs),
		"chunks": len(r.plan.Groups),
		"target": cloud.URL(cfg.Protocol, cfg.Bucket, cfg.TargetPath),
	}).Info("planned conversion")
	return r, nil
}

// Plan returns the chunk plan.
func (r *Recipe) Plan() *lis2zarr.Plan { return r.plan }

// Config returns a copy of the recipe's configuration.
func (r *Recipe) Config() Config { return r.cfg }

// Close releases the recipe's resources and removes staged inputs that
// are not being cached.
func (r *Recipe) Close() error {
	var errs []string
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if r.stager != nil {
		if err := r.stager.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	// Shared in-memory buckets stay open for later recipes.
	if r.bucket != nil && r.cfg.Protocol != "mem" {
		if err := r.bucket.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("lis2zarr: closing recipe: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (r *Recipe) source(key string) string {
	return cloud.URL(r.cfg.Protocol, r.cfg.Bucket, key)
}

// loadFrame stages, decodes and regrids one input file.
func (r *Recipe) loadFrame(ctx context.Context, key string) (*lis2zarr.RasterFrame, error) {
	localPath, release, err := r.stager.Stage(ctx, key)
	if err != nil {
		return nil, err
	}
	defer release()
	f, err := lis2zarr.ReadNetCDF(localPath, r.source(key))
	if err != nil {
		return nil, err
	}

	dim := r.cfg.ConcatDim
	if _, ok := f.Dims[dim]; !ok && r.cfg.ItemsPerFile == 1 {
		f.ExpandDim(dim, func(name string, v *lis2zarr.Variable) bool {
			return !f.IsCoord(name) && name != lis2zarr.LatName && name != lis2zarr.LonName && lis2zarr.Spans(v)
		})
	}
	if n := f.Dims[dim]; n != r.cfg.ItemsPerFile {
		return nil, &lis2zarr.DimensionMismatchError{Dim: dim, Source: f.Source, Want: r.cfg.ItemsPerFile, Got: n}
	}
	return lis2zarr.ReconstructGrid(f)
}

// setTimeUnits records the time encoding of the template's concat
// coordinate. Every chunk is re-encoded in it before being stored.
func (r *Recipe) setTimeUnits(templ *lis2zarr.RasterFrame) error {
	var u *lis2zarr.TimeUnits
	if v, ok := templ.Vars[r.cfg.ConcatDim]; ok {
		tu, ok, err := v.TimeUnits()
		if err != nil {
			return &lis2zarr.MissingAttributeError{Attribute: r.cfg.ConcatDim + ":units", Source: templ.Source, Reason: err.Error()}
		}
		if ok {
			u = &tu
		}
	}
	r.mu.Lock()
	r.timeUnits, r.timeUnitsSet = u, true
	r.mu.Unlock()
	return nil
}

// targetTimeUnits returns the time encoding of the output concat
// coordinate, reading it from the store if PrepareTarget has not run on
// r. It returns nil if the coordinate carries none.
func (r *Recipe) targetTimeUnits(ctx context.Context) (*lis2zarr.TimeUnits, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timeUnitsSet {
		return r.timeUnits, nil
	}
	attrs, err := r.store.ReadAttrs(ctx, r.cfg.ConcatDim)
	if err != nil && !cloud.IsNotFound(err) {
		return nil, err
	}
	if s, _ := attrs["units"].(string); lis2zarr.IsTimeUnits(s) {
		u, err := lis2zarr.ParseTimeUnits(s)
		if err != nil {
			return nil, err
		}
		r.timeUnits = &u
	}
	r.timeUnitsSet = true
	return r.timeUnits, nil
}

// PrepareTarget writes the skeleton of the output store: the root group,
// the metadata of every array, and the full content of the arrays that do
// not span the concat dimension, taken from the first input. Any
// consolidated metadata left by an earlier run is removed first. Chunks
// already in the store are not deleted.
func (r *Recipe) PrepareTarget(ctx context.Context) error {
	log := r.Log.WithField("phase", "prepare")
	log.Info("preparing target")
	if err := r.store.RemoveConsolidated(ctx); err != nil {
		return err
	}
	first := r.plan.Groups[0].Inputs[0]
	templ, err := r.loadFrame(ctx, first)
	if err != nil {
		return fmt.Errorf("lis2zarr: preparing target from %s: %w", r.source(first), err)
	}
	if err := r.setTimeUnits(templ); err != nil {
		return err
	}
	if err := r.store.WriteGroup(ctx, templ.Attrs); err != nil {
		return err
	}

	var auxCoords []string
	for _, c := range templ.Coords {
		if v, ok := templ.Vars[c]; ok && !(len(v.Dims) == 1 && v.Dims[0] == c) {
			auxCoords = append(auxCoords, c)
		}
	}
	sort.Strings(auxCoords)

	for _, name := range templ.VarNames() {
		v := templ.Vars[name]
		shape := append([]int(nil), v.Shape()...)
		ax := v.DimIndex(r.cfg.ConcatDim)
		if ax >= 0 {
			shape[ax] = r.plan.ConcatLen()
		}
		attrs := make(map[string]interface{}, len(v.Attrs)+1)
		for k, a := range v.Attrs {
			attrs[k] = a
		}
		if !templ.IsCoord(name) && len(auxCoords) > 0 && v.HasDims(lis2zarr.LatName, lis2zarr.LonName) {
			attrs["coordinates"] = strings.Join(auxCoords, " ")
		}
		a, err := r.store.CreateArray(ctx, name, zarr.ArraySpec{
			Dims:      v.Dims,
			Shape:     shape,
			Chunks:    r.plan.TargetChunks.For(v.Dims, shape, r.cfg.ConcatDim, r.plan.ConcatChunk()),
			DType:     v.DType,
			FillValue: v.FillValue,
			Attrs:     attrs,
		})
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"array":  name,
			"shape":  a.Meta.Shape,
			"chunks": a.Meta.Chunks,
		}).Debug("created array")
		if ax < 0 {
			if err := a.WriteRegion(ctx, make([]int, len(shape)), v.Data); err != nil {
				return err
			}
		}
	}
	return nil
}

// StoreChunk reads the inputs of g, re-encodes their time coordinates in
// the units of the target, concatenates them along the concat dimension
// and writes the result at g's offset.
func (r *Recipe) StoreChunk(ctx context.Context, g lis2zarr.ChunkGroup) error {
	start := time.Now()
	log := r.Log.WithFields(logrus.Fields{"phase": "store", "chunk": g.Index})
	units, err := r.targetTimeUnits(ctx)
	if err != nil {
		return fmt.Errorf("lis2zarr: chunk %d: reading time units: %w", g.Index, err)
	}
	frames := make([]*lis2zarr.RasterFrame, len(g.Inputs))
	for i, key := range g.Inputs {
		f, err := r.loadFrame(ctx, key)
		if err == nil && units != nil {
			err = f.RebaseTime(r.cfg.ConcatDim, *units)
		}
		if err != nil {
			return fmt.Errorf("lis2zarr: chunk %d (%s): %w", g.Index, r.source(key), err)
		}
		frames[i] = f
	}
	f, err := lis2zarr.Concat(frames, r.cfg.ConcatDim)
	if err != nil {
		return fmt.Errorf("lis2zarr: chunk %d (%s): %w", g.Index, r.source(g.Inputs[0]), err)
	}
	if n := f.Dims[r.cfg.ConcatDim]; n != g.Len {
		return fmt.Errorf("lis2zarr: chunk %d (%s): %w", g.Index, r.source(g.Inputs[0]),
			&lis2zarr.DimensionMismatchError{Dim: r.cfg.ConcatDim, Source: r.source(g.Inputs[0]), Want: g.Len, Got: n})
	}

	for _, name := range f.VarNames() {
		v := f.Vars[name]
		ax := v.DimIndex(r.cfg.ConcatDim)
		if ax < 0 {
			continue
		}
		a, err := r.store.OpenArray(ctx, name)
		if err != nil {
			return fmt.Errorf("lis2zarr: chunk %d: variable %s: %w", g.Index, name, err)
		}
		offset := make([]int, len(v.Dims))
		offset[ax] = g.Offset
		if err := a.WriteRegion(ctx, offset, v.Data); err != nil {
			return fmt.Errorf("lis2zarr: chunk %d: variable %s: %w", g.Index, name, err)
		}
		if lo, hi, ok := v.Range(); ok {
			log.WithFields(logrus.Fields{"array": name, "min": lo, "max": hi}).Debug("wrote region")
		}
	}
	log.WithFields(logrus.Fields{
		"records":  fmt.Sprintf("%d-%d", g.Offset, g.Offset+g.Len-1),
		"inputs":   len(g.Inputs),
		"duration": time.Since(start),
	}).Debug("wrote chunk")
	return nil
}

// FinalizeTarget writes the consolidated metadata of the store.
func (r *Recipe) FinalizeTarget(ctx context.Context) error {
	r.Log.WithField("phase", "finalize").Info("consolidating metadata")
	return r.store.Consolidate(ctx)
}

// Execute runs the whole conversion: PrepareTarget, then StoreChunk for
// every chunk group using up to Workers goroutines, then, once every
// chunk has been stored, FinalizeTarget. The first error stops the
// remaining chunks and the store is left unfinalized.
func (r *Recipe) Execute(ctx context.Context) error {
	start := time.Now()
	if err := r.PrepareTarget(ctx); err != nil {
		return err
	}

	var bar *uiprogress.Bar
	if r.ShowProgress {
		uiprogress.Start()
		bar = uiprogress.AddBar(len(r.plan.Groups)).AppendCompleted().PrependElapsed()
	}
	r.Log.WithFields(logrus.Fields{
		"phase":   "store",
		"chunks":  len(r.plan.Groups),
		"workers": r.cfg.Workers,
	}).Info("storing chunks")

	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, group := range r.plan.Groups {
		group := group
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := r.StoreChunk(gctx, group); err != nil {
				return err
			}
			r.Log.WithFields(logrus.Fields{
				"phase":    "store",
				"chunk":    group.Index,
				"progress": fmt.Sprintf("%d/%d", done.Add(1), len(r.plan.Groups)),
			}).Info("stored chunk")
			if bar != nil {
				bar.Incr()
			}
			return nil
		})
	}
	err := g.Wait()
	if r.ShowProgress {
		uiprogress.Stop()
	}
	if err != nil {
		return err
	}

	if err := r.FinalizeTarget(ctx); err != nil {
		return err
	}
	r.Log.WithFields(logrus.Fields{
		"target":   cloud.URL(r.cfg.Protocol, r.cfg.Bucket, r.cfg.TargetPath),
		"duration": time.Since(start),
	}).Info("conversion complete")
	return nil
}
