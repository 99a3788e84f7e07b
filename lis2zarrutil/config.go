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
	"fmt"
	"os"
	"strings"

	"github.com/spatialmodel/lis2zarr"
	"github.com/spatialmodel/lis2zarr/cloud"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Config holds the settings of a conversion. It is not modified after
// it has been validated.
type Config struct {
	// Bucket is the name of the bucket holding the inputs and the target.
	Bucket string

	// Protocol is the storage provider: "s3", "gs", "file" or "mem".
	Protocol string

	// InputPath is a glob, relative to the bucket, matching the input files.
	InputPath string

	// TargetPath is the key prefix, relative to the bucket, of the
	// output store.
	TargetPath string

	// TempDir is the scratch directory for staged inputs.
	TempDir string

	ItemsPerFile   int
	InputsPerChunk int
	TargetChunks   lis2zarr.TargetChunks
	ConcatDim      string

	EnableLogging    bool
	Workers          int
	CacheInputs      bool
	CompressionLevel int
}

// Configuration keys.
const (
	keyBucket           = "bucket"
	keyProtocol         = "protocol"
	keyInputPath        = "input_path"
	keyTargetPath       = "target_path"
	keyTempDir          = "temp_dir"
	keyItemsPerFile     = "nitems_per_file"
	keyInputsPerChunk   = "inputs_per_chunk"
	keyTargetChunks     = "target_chunks"
	keyConcatDim        = "concat_dim"
	keyEnableLogging    = "enable_logging"
	keyWorkers          = "workers"
	keyCacheInputs      = "cache_inputs"
	keyCompressionLevel = "compression_level"
)

// ConfigFromViper reads and validates a Config. Environment variables
// in path-like values are expanded.
func ConfigFromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Bucket:        os.ExpandEnv(v.GetString(keyBucket)),
		Protocol:      v.GetString(keyProtocol),
		InputPath:     os.ExpandEnv(v.GetString(keyInputPath)),
		TargetPath:    os.ExpandEnv(v.GetString(keyTargetPath)),
		TempDir:       os.ExpandEnv(v.GetString(keyTempDir)),
		ConcatDim:     v.GetString(keyConcatDim),
		EnableLogging: v.GetBool(keyEnableLogging),
		CacheInputs:   v.GetBool(keyCacheInputs),
	}
	ints := []struct {
		key string
		dst *int
	}{
		{keyItemsPerFile, &cfg.ItemsPerFile},
		{keyInputsPerChunk, &cfg.InputsPerChunk},
		{keyWorkers, &cfg.Workers},
		{keyCompressionLevel, &cfg.CompressionLevel},
	}
	for _, i := range ints {
		n, err := cast.ToIntE(v.Get(i.key))
		if err != nil {
			return nil, &lis2zarr.ConfigurationError{Key: i.key, Reason: err.Error()}
		}
		*i.dst = n
	}
	tc, err := targetChunks(v.Get(keyTargetChunks))
	if err != nil {
		return nil, err
	}
	cfg.TargetChunks = tc
	return cfg, cfg.Validate()
}

// targetChunks parses the target_chunks setting, which is a map in a
// configuration file and a JSON object on the command line.
func targetChunks(v interface{}) (lis2zarr.TargetChunks, error) {
	if v == nil {
		return lis2zarr.TargetChunks{}, nil
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return lis2zarr.TargetChunks{}, nil
	}
	m, err := cast.ToStringMapIntE(v)
	if err != nil {
		return nil, &lis2zarr.ConfigurationError{Key: keyTargetChunks, Reason: err.Error()}
	}
	return lis2zarr.TargetChunks(m), nil
}

// Validate checks that every required setting is present and every
// numeric setting is in range.
func (c *Config) Validate() error {
	required := []struct{ key, val string }{
		{keyBucket, c.Bucket},
		{keyInputPath, c.InputPath},
		{keyTargetPath, c.TargetPath},
		{keyConcatDim, c.ConcatDim},
	}
	for _, r := range required {
		if strings.TrimSpace(r.val) == "" {
			return &lis2zarr.ConfigurationError{Key: r.key, Reason: "required"}
		}
	}
	valid := false
	for _, p := range cloud.Protocols {
		if c.Protocol == p {
			valid = true
		}
	}
	if !valid {
		return &lis2zarr.ConfigurationError{Key: keyProtocol,
			Reason: fmt.Sprintf("%q is not one of %s", c.Protocol, strings.Join(cloud.Protocols, ", "))}
	}
	positive := []struct {
		key string
		val int
	}{
		{keyItemsPerFile, c.ItemsPerFile},
		{keyInputsPerChunk, c.InputsPerChunk},
		{keyWorkers, c.Workers},
	}
	for _, p := range positive {
		if p.val < 1 {
			return &lis2zarr.ConfigurationError{Key: p.key, Reason: fmt.Sprintf("%d is not positive", p.val)}
		}
	}
	for d, n := range c.TargetChunks {
		if n < 1 {
			return &lis2zarr.ConfigurationError{Key: keyTargetChunks + "." + d, Reason: fmt.Sprintf("%d is not positive", n)}
		}
	}
	if c.CompressionLevel < 0 || c.CompressionLevel > 22 {
		return &lis2zarr.ConfigurationError{Key: keyCompressionLevel,
			Reason: fmt.Sprintf("%d is outside [0, 22]", c.CompressionLevel)}
	}
	if strings.Trim(c.TargetPath, "/") == "" {
		return &lis2zarr.ConfigurationError{Key: keyTargetPath, Reason: "must not be the bucket root"}
	}
	return nil
}

// LoadConfig reads the configuration file at path, applying defaults and
// LIS2ZARR_ environment variable overrides. The format follows the file
// extension.
func LoadConfig(path string) (*Config, error) {
	v := newViper()
	for _, option := range options {
		v.SetDefault(option.name, option.defaultVal)
	}
	if err := readConfigFile(v, path); err != nil {
		return nil, err
	}
	return ConfigFromViper(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("LIS2ZARR")
	v.AutomaticEnv()
	return v
}

func readConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(os.ExpandEnv(path))
	if err := v.ReadInConfig(); err != nil {
		return &lis2zarr.ConfigurationError{Key: "config", Reason: "problem reading configuration file: " + err.Error()}
	}
	return nil
}
