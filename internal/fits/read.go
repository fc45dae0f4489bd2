// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package fits

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/mlnoga/flatcal/internal/imgdata"
	"github.com/mlnoga/flatcal/internal/xerrs"
)

// ReadHeaders reads only as far as needed to recover the keyword map,
// skipping pixel data entirely. Grounds C2's header-only metadata pass.
func ReadHeaders(path string, logWriter io.Writer) (map[string]imgdata.Keyword, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrs.New(xerrs.NotFound, path, err)
	}
	defer f.Close()

	h, err := readHeader(f, path, logWriter)
	if err != nil {
		return nil, err
	}
	return h.Keywords, nil
}

// Read loads keywords and pixel data from a FITS file, decoding pixels to
// normalized floats per the codec's bit-depth rules.
func Read(path string, logWriter io.Writer) (*imgdata.ImageData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrs.New(xerrs.NotFound, path, err)
	}
	defer f.Close()

	h, err := readHeader(f, path, logWriter)
	if err != nil {
		return nil, err
	}
	g, err := h.geometry(path)
	if err != nil {
		return nil, err
	}
	if len(g.Naxisn) < 2 {
		return nil, xerrs.New(xerrs.BadGeometry, path, fmt.Errorf("need at least 2 axes, got %d", len(g.Naxisn)))
	}
	width, height := g.Naxisn[0], g.Naxisn[1]
	channels := 1
	if len(g.Naxisn) >= 3 {
		channels = g.Naxisn[2]
	}

	img := imgdata.New(width, height, channels)
	for k, v := range h.Keywords {
		img.Keywords[k] = v
	}

	if err := readPixels(f, path, g, img.Pixels); err != nil {
		return nil, err
	}
	return img, nil
}

const readBufLen = 16 * 1024

func readPixels(r io.Reader, path string, g Geometry, out []float64) error {
	switch g.Bitpix {
	case 8:
		return readIntN(r, path, out, 1, g.Bzero, g.Bscale, 255, false)
	case 16:
		return readIntN(r, path, out, 2, g.Bzero, g.Bscale, 65535, true)
	case 32:
		return readIntN(r, path, out, 4, g.Bzero, g.Bscale, 0, true)
	case 64:
		return readIntN(r, path, out, 8, g.Bzero, g.Bscale, 0, true)
	case -32:
		return readFloatN(r, path, out, 4, g.Bzero, g.Bscale)
	case -64:
		return readFloatN(r, path, out, 8, g.Bzero, g.Bscale)
	default:
		return xerrs.New(xerrs.UnsupportedFormat, path, fmt.Errorf("unsupported BITPIX %d", g.Bitpix))
	}
}

// readIntN decodes big-endian signed integers of byteLen bytes, applies
// BSCALE/BZERO, and divides by norm when normalize is requested (norm==0
// means no normalization, matching the 32/64-bit "no normalization" rule).
func readIntN(r io.Reader, path string, out []float64, byteLen int, bzero, bscale, norm float64, signed bool) error {
	buf := make([]byte, readBufLen)
	n := len(out)
	idx := 0
	leftover := 0
	for idx < n {
		want := (n-idx)*byteLen - leftover
		if want > len(buf)-leftover {
			want = len(buf) - leftover
		}
		read, err := io.ReadFull(r, buf[leftover:leftover+want])
		if err != nil && read == 0 {
			return xerrs.New(xerrs.TruncatedHeader, path, fmt.Errorf("truncated pixel data: %w", err))
		}
		avail := leftover + read
		usable := avail - avail%byteLen
		for i := 0; i < usable; i += byteLen {
			var raw int64
			for b := 0; b < byteLen; b++ {
				raw = (raw << 8) | int64(buf[i+b])
			}
			if signed && byteLen < 8 {
				signBit := int64(1) << uint(byteLen*8-1)
				if raw&signBit != 0 {
					raw -= signBit << 1
				}
			}
			v := float64(raw)*bscale + bzero
			if norm != 0 {
				v /= norm
			}
			out[idx+(i/byteLen)] = v
		}
		idx += usable / byteLen
		leftover = avail - usable
		for i := 0; i < leftover; i++ {
			buf[i] = buf[usable+i]
		}
	}
	return nil
}

func readFloatN(r io.Reader, path string, out []float64, byteLen int, bzero, bscale float64) error {
	buf := make([]byte, readBufLen)
	n := len(out)
	idx := 0
	leftover := 0
	for idx < n {
		want := (n-idx)*byteLen - leftover
		if want > len(buf)-leftover {
			want = len(buf) - leftover
		}
		read, err := io.ReadFull(r, buf[leftover:leftover+want])
		if err != nil && read == 0 {
			return xerrs.New(xerrs.TruncatedHeader, path, fmt.Errorf("truncated pixel data: %w", err))
		}
		avail := leftover + read
		usable := avail - avail%byteLen
		for i := 0; i < usable; i += byteLen {
			var bits uint64
			for b := 0; b < byteLen; b++ {
				bits = (bits << 8) | uint64(buf[i+b])
			}
			var v float64
			if byteLen == 4 {
				v = float64(math.Float32frombits(uint32(bits)))
			} else {
				v = math.Float64frombits(bits)
			}
			out[idx+(i/byteLen)] = v*bscale + bzero
		}
		idx += usable / byteLen
		leftover = avail - usable
		for i := 0; i < leftover; i++ {
			buf[i] = buf[usable+i]
		}
	}
	return nil
}
