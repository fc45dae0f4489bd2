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

// Package imgdata holds the ImageData contract shared by the FITS and XISF
// codec variants: a decoded pixel plane plus its preserved keyword map.
// Keeping this contract in its own package lets both internal/fits and
// internal/xisf depend on it without depending on each other, the same
// tagged-variant-over-open-hierarchy shape the original fits.Image used
// for format-independent consumers (internal/stats, internal/ops).
package imgdata

import "fmt"

// Keyword is one preserved header entry: its original textual value plus
// an optional trailing comment. Values are kept as strings; typed access
// (int/float/bool/date) lives in internal/meta, which knows the search
// order and fallback rules for specific fields.
type Keyword struct {
	Value   string
	Comment string
}

// ImageData is a decoded pixel plane with preserved keywords, the common
// currency between internal/fits, internal/xisf and internal/engine.
type ImageData struct {
	Width    int
	Height   int
	Channels int
	Pixels   []float64 // row-major, length Width*Height*Channels
	Keywords map[string]Keyword
}

// New allocates an ImageData of the given geometry with a zeroed pixel
// buffer and an empty keyword map.
func New(width, height, channels int) *ImageData {
	if channels < 1 {
		channels = 1
	}
	return &ImageData{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pixels:   make([]float64, width*height*channels),
		Keywords: make(map[string]Keyword),
	}
}

// NumPixels returns the number of samples in the pixel buffer.
func (d *ImageData) NumPixels() int {
	return d.Width * d.Height * d.Channels
}

// DimensionsToString renders WxHxC for diagnostics, matching the codec's
// conventional log line shape.
func (d *ImageData) DimensionsToString() string {
	if d.Channels <= 1 {
		return fmt.Sprintf("%dx%d", d.Width, d.Height)
	}
	return fmt.Sprintf("%dx%dx%d", d.Width, d.Height, d.Channels)
}

// SameGeometry reports whether two planes share width, height and channel
// count, the check the integration engine uses before subtracting a dark.
func (d *ImageData) SameGeometry(o *ImageData) bool {
	return d.Width == o.Width && d.Height == o.Height && d.Channels == o.Channels
}

// Clone deep-copies the pixel buffer and keyword map.
func (d *ImageData) Clone() *ImageData {
	out := &ImageData{
		Width:    d.Width,
		Height:   d.Height,
		Channels: d.Channels,
		Pixels:   append([]float64(nil), d.Pixels...),
		Keywords: make(map[string]Keyword, len(d.Keywords)),
	}
	for k, v := range d.Keywords {
		out.Keywords[k] = v
	}
	return out
}
