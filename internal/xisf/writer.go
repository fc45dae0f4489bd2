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

package xisf

import (
	"bytes"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/mlnoga/flatcal/internal/imgdata"
	"github.com/mlnoga/flatcal/internal/xerrs"
)

// Write emits a monolithic XISF file with a single attached Float32
// little-endian image, replicating img's keywords. The header is laid out
// in two passes so the attachment offset recorded in the location
// attribute matches where the padded header actually ends.
func Write(path string, img *imgdata.ImageData) error {
	geometry := fmt.Sprintf("%d:%d", img.Width, img.Height)
	if img.Channels > 1 {
		geometry = fmt.Sprintf("%d:%d:%d", img.Width, img.Height, img.Channels)
	}
	byteLen := sampleByteLen(fmtFloat32)
	dataLen := img.NumPixels() * byteLen

	offset := signatureLen + sizeHeaderLen + headerAlignment
	var headerXML []byte
	for i := 0; i < 3; i++ {
		headerXML = buildHeaderXML(img, geometry, offset, dataLen)
		padded := padUp(len(headerXML), headerAlignment)
		newOffset := signatureLen + sizeHeaderLen + padded
		if newOffset == offset {
			break
		}
		offset = newOffset
	}
	paddedLen := padUp(len(headerXML), headerAlignment)
	headerXML = append(headerXML, bytes.Repeat([]byte{0x20}, paddedLen-len(headerXML))...)

	f, err := os.Create(path)
	if err != nil {
		return xerrs.New(xerrs.Internal, path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(signature); err != nil {
		return xerrs.New(xerrs.Internal, path, err)
	}
	sizeBuf := make([]byte, sizeHeaderLen)
	binary.LittleEndian.PutUint32(sizeBuf[0:4], uint32(paddedLen))
	if _, err := f.Write(sizeBuf); err != nil {
		return xerrs.New(xerrs.Internal, path, err)
	}
	if _, err := f.Write(headerXML); err != nil {
		return xerrs.New(xerrs.Internal, path, err)
	}

	buf := make([]byte, 4)
	for _, v := range img.Pixels {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
		if _, err := f.Write(buf); err != nil {
			return xerrs.New(xerrs.Internal, path, err)
		}
	}
	return nil
}

func padUp(n, align int) int {
	if n%align == 0 {
		return n
	}
	return (n/align + 1) * align
}

func buildHeaderXML(img *imgdata.ImageData, geometry string, offset, length int) []byte {
	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<xisf version="1.0" xmlns="http://www.pixinsight.com/xisf">` + "\n")
	fmt.Fprintf(&b, `  <Image geometry="%s" sampleFormat="Float32" colorSpace="Gray" location="attachment:%d:%d">`+"\n",
		geometry, offset, length)

	keys := make([]string, 0, len(img.Keywords))
	for k := range img.Keywords {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch k {
		case "SIMPLE", "BITPIX", "NAXIS", "NAXIS1", "NAXIS2", "NAXIS3", "BZERO", "BSCALE":
			continue
		}
		kw := img.Keywords[k]
		fmt.Fprintf(&b, `    <FITSKeyword name=%s value=%s comment=%s/>`+"\n",
			attr(k), attr(kw.Value), attr(kw.Comment))
	}
	b.WriteString("  </Image>\n")
	b.WriteString("</xisf>\n")
	return b.Bytes()
}

func attr(v string) string {
	var out bytes.Buffer
	out.WriteByte('"')
	xml.EscapeText(&out, []byte(v))
	out.WriteByte('"')
	return out.String()
}
