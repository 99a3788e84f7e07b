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

package zarr

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
)

// codec converts chunk values to and from their stored bytes.
type codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// newCodec returns a codec that compresses with zstd at the given level.
// Level follows the zstd command line scale (1-22).
func newCodec(level int) (*codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("zarr: creating zstd encoder: %v", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zarr: creating zstd decoder: %v", err)
	}
	return &codec{enc: enc, dec: dec}, nil
}

func (c *codec) close() {
	c.enc.Close()
	c.dec.Close()
}

// encode packs vals as little-endian dtype elements and compresses them
// if comp is not nil.
func (c *codec) encode(vals []float64, dtype string, comp *Compressor) ([]byte, error) {
	size, err := itemSize(dtype)
	if err != nil {
		return nil, err
	}
	b := make([]byte, len(vals)*size)
	le := binary.LittleEndian
	for i, v := range vals {
		p := b[i*size:]
		switch dtype[1:] {
		case "f4":
			le.PutUint32(p, math.Float32bits(float32(v)))
		case "f8":
			le.PutUint64(p, math.Float64bits(v))
		case "i1":
			p[0] = byte(int8(v))
		case "u1":
			p[0] = uint8(v)
		case "i2":
			le.PutUint16(p, uint16(int16(v)))
		case "u2":
			le.PutUint16(p, uint16(v))
		case "i4":
			le.PutUint32(p, uint32(int32(v)))
		case "u4":
			le.PutUint32(p, uint32(v))
		case "i8":
			le.PutUint64(p, uint64(int64(v)))
		case "u8":
			le.PutUint64(p, uint64(v))
		}
	}
	if comp == nil {
		return b, nil
	}
	return c.enc.EncodeAll(b, make([]byte, 0, len(b)/2)), nil
}

// decode is the inverse of encode. n is the expected number of elements.
func (c *codec) decode(data []byte, n int, dtype string, comp *Compressor) ([]float64, error) {
	size, err := itemSize(dtype)
	if err != nil {
		return nil, err
	}
	if comp != nil {
		data, err = c.dec.DecodeAll(data, make([]byte, 0, n*size))
		if err != nil {
			return nil, fmt.Errorf("zarr: decompressing chunk: %v", err)
		}
	}
	if len(data) != n*size {
		return nil, fmt.Errorf("zarr: chunk has %d bytes, want %d", len(data), n*size)
	}
	o := make([]float64, n)
	le := binary.LittleEndian
	for i := range o {
		p := data[i*size:]
		switch dtype[1:] {
		case "f4":
			o[i] = float64(math.Float32frombits(le.Uint32(p)))
		case "f8":
			o[i] = math.Float64frombits(le.Uint64(p))
		case "i1":
			o[i] = float64(int8(p[0]))
		case "u1":
			o[i] = float64(p[0])
		case "i2":
			o[i] = float64(int16(le.Uint16(p)))
		case "u2":
			o[i] = float64(le.Uint16(p))
		case "i4":
			o[i] = float64(int32(le.Uint32(p)))
		case "u4":
			o[i] = float64(le.Uint32(p))
		case "i8":
			o[i] = float64(int64(le.Uint64(p)))
		case "u8":
			o[i] = float64(le.Uint64(p))
		}
	}
	return o, nil
}
