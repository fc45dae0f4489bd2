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

// Package fits implements the FITS half of the image I/O codec:
// header-block parsing, pixel decoding/encoding for the supported BITPIX
// sample types, and keyword preservation, scoped to the header keywords
// and pixel sample types actually observed in flat/dark calibration
// pipelines rather than the full FITS standard.
// Spec here:   https://fits.gsfc.nasa.gov/standard40/fits_standard40aa-le.pdf
// Primer here: https://fits.gsfc.nasa.gov/fits_primer.html
package fits

import (
	"github.com/mlnoga/flatcal/internal/imgdata"
)

const blockSize = 2880 // block size of FITS header and data units
const lineSize = 80    // line size of a FITS header card

// Header holds the raw keyword values from one FITS file, prior to any
// typed interpretation. Typed, search-order-aware access lives in
// internal/meta; this package only knows how to split cards into
// key/value/comment text.
type Header struct {
	Keywords map[string]imgdata.Keyword
	Comments []string
	History  []string
}

func newHeader() Header {
	return Header{
		Keywords: make(map[string]imgdata.Keyword),
		Comments: make([]string, 0),
		History:  make([]string, 0),
	}
}

// Geometry carries the mandatory structural header fields every FITS
// primary HDU must declare.
type Geometry struct {
	Bitpix int
	Naxisn []int // most quickly varying dimension first (i.e. X, Y)
	Bzero  float64
	Bscale float64
}

func (g *Geometry) numPixels() int {
	n := 1
	for _, a := range g.Naxisn {
		n *= a
	}
	return n
}
