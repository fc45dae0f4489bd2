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

// Package xisf implements the XISF half of the image I/O codec: the
// monolithic-attachment container used by PixInsight-family tools. No
// example repo in the teacher's lineage implements this container, so the
// reader/writer here is written fresh, in the teacher's receiver-based,
// single-error-return style (internal/fits), rather than adapted from an
// existing file.
// Spec here: https://pixinsight.com/doc/docs/XISF-1.0-spec/XISF-1.0-spec.html
package xisf

const (
	signature       = "XISF0100"
	signatureLen    = 8
	sizeHeaderLen   = 8 // 4-byte header length + 4 reserved bytes
	headerAlignment = 4096
)

// sampleFormat names the XISF sample types the codec recognizes.
type sampleFormat string

const (
	fmtUInt8   sampleFormat = "UInt8"
	fmtUInt16  sampleFormat = "UInt16"
	fmtUInt32  sampleFormat = "UInt32"
	fmtFloat32 sampleFormat = "Float32"
	fmtFloat64 sampleFormat = "Float64"
)

func sampleFormatMax(f sampleFormat) (float64, bool) {
	switch f {
	case fmtUInt8:
		return 255, true
	case fmtUInt16:
		return 65535, true
	case fmtUInt32:
		return 4294967295, true
	default:
		return 0, false // float formats pass through unchanged
	}
}

func sampleByteLen(f sampleFormat) int {
	switch f {
	case fmtUInt8:
		return 1
	case fmtUInt16:
		return 2
	case fmtUInt32, fmtFloat32:
		return 4
	case fmtFloat64:
		return 8
	default:
		return 0
	}
}
