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

// Package lis2zarrutil contains the configuration handling, the conversion
// driver and the command-line interface of lis2zarr.
package lis2zarrutil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/lis2zarr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to lis2zarr.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: keyBucket,
			usage: `
              bucket is the name of the bucket holding the input files and
              the output store.`,
			shorthand:  "b",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: keyProtocol,
			usage: `
              protocol is the storage provider of the bucket: s3 for AWS S3,
              gs for Google Cloud Storage, file for a local directory, or mem
              for an in-memory bucket.`,
			defaultVal: "s3",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: keyInputPath,
			usage: `
              input_path is a glob pattern, relative to the bucket, matching
              the LIS NetCDF files to convert. Matches are concatenated in
              lexicographic order. '**' matches across directories.`,
			shorthand:  "i",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: keyTargetPath,
			usage: `
              target_path is the location, relative to the bucket, of the
              Zarr store to be written.`,
			shorthand:  "o",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: keyTempDir,
			usage: `
              temp_dir is the scratch directory where input files are staged
              before they are read. The default is the system temporary
              directory.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: keyItemsPerFile,
			usage: `
              nitems_per_file is the number of records each input file holds
              along the concat dimension.`,
			defaultVal: 1,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: keyInputsPerChunk,
			usage: `
              inputs_per_chunk is the number of input files read and written
              together as one unit of work.`,
			defaultVal: 1,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: keyTargetChunks,
			usage: `
              target_chunks gives the chunk length of output dimensions, for
              example {"time": 24, "lat": 100, "lon": 100}. Dimensions that are
              not listed are stored whole, except the concat dimension, which
              defaults to nitems_per_file × inputs_per_chunk.`,
			defaultVal: map[string]int{},
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: keyConcatDim,
			usage: `
              concat_dim is the dimension along which input files are
              concatenated.`,
			defaultVal: "time",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: keyEnableLogging,
			usage: `
              enable_logging turns on detailed progress logging.`,
			shorthand:  "v",
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: keyWorkers,
			usage: `
              workers is the number of chunks stored concurrently.`,
			shorthand:  "w",
			defaultVal: 1,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: keyCacheInputs,
			usage: `
              cache_inputs specifies whether staged input files are kept in
              temp_dir and reused by later runs.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: keyCompressionLevel,
			usage: `
              compression_level is the zstd compression level of output
              chunks, from 1 (fastest) to 22 (smallest). 0 turns compression
              off.`,
			defaultVal: 3,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "progress",
			usage: `
              progress specifies whether to show a progress bar while chunks
              are stored.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{Root.Flags()},
		},
	}

	Cfg = newViper()

	for _, option := range options {
		for _, set := range option.flagsets {
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			case map[string]int:
				b, err := json.Marshal(option.defaultVal)
				if err != nil {
					panic(err)
				}
				set.String(option.name, string(b), option.usage)
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}

	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(planCmd)
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "lis2zarr [flags] CONFIG",
	Short: "Convert LIS NetCDF output to Zarr.",
	Long: `lis2zarr converts a time series of Land Information System (LIS)
NetCDF output files in cloud storage into a single Zarr store with
consolidated metadata. The masked lat and lon variables of the inputs are
replaced by regular coordinate axes computed from the grid description.

Configuration can be changed by using a configuration file (CONFIG, in YAML,
TOML or JSON format), by using command-line arguments, or by setting
environment variables in the format 'LIS2ZARR_var' where 'var' is the
name of the variable to be set. Path-like variables may contain environment
variables. Refer to https://github.com/spf13/viper for additional
configuration information.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadCommandConfig(args[0])
		if err != nil {
			return err
		}
		return Run(cmd.Context(), cfg, newLogger(cmd.ErrOrStderr(), cfg), Cfg.GetBool("progress"))
	},
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of lis2zarr.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("lis2zarr v%s\n", lis2zarr.Version)
	},
	DisableAutoGenTag: true,
}

var planCmd = &cobra.Command{
	Use:   "plan CONFIG",
	Short: "Print the chunk plan",
	Long: `plan enumerates the input files and prints how they will be grouped
into chunks, without writing anything to the target.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadCommandConfig(args[0])
		if err != nil {
			return err
		}
		r, err := NewRecipe(cmd.Context(), cfg, newLogger(cmd.ErrOrStderr(), cfg))
		if err != nil {
			return err
		}
		defer r.Close()
		return PrintPlan(cmd.OutOrStdout(), r.Plan())
	},
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// loadCommandConfig reads the configuration file and combines it with the
// command-line flags and environment.
func loadCommandConfig(path string) (*Config, error) {
	if err := readConfigFile(Cfg, path); err != nil {
		return nil, err
	}
	return ConfigFromViper(Cfg)
}

// newLogger returns a logger writing to w at a level set by
// cfg.EnableLogging.
func newLogger(w io.Writer, cfg *Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)
	log.SetLevel(logrus.InfoLevel)
	if cfg.EnableLogging {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

// Run converts the inputs described by cfg.
func Run(ctx context.Context, cfg *Config, log logrus.FieldLogger, progress bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	r, err := NewRecipe(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer r.Close()
	r.ShowProgress = progress
	return r.Execute(ctx)
}

// PrintPlan writes a description of p to w, one line per chunk group.
func PrintPlan(w io.Writer, p *lis2zarr.Plan) error {
	_, err := fmt.Fprintf(w, "%d inputs, %d chunks, %d records along %s\n",
		p.NumInputs(), len(p.Groups), p.ConcatLen(), p.ConcatDim)
	if err != nil {
		return err
	}
	for _, g := range p.Groups {
		if _, err := fmt.Fprintf(w, "%s: %s\n", g, strings.Join(g.Inputs, " ")); err != nil {
			return err
		}
	}
	return nil
}
