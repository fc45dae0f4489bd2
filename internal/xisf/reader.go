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
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/mlnoga/flatcal/internal/imgdata"
	"github.com/mlnoga/flatcal/internal/xerrs"
)

type xmlKeyword struct {
	Name    string `xml:"name,attr"`
	Value   string `xml:"value,attr"`
	Comment string `xml:"comment,attr"`
}

type xmlImage struct {
	Geometry     string       `xml:"geometry,attr"`
	SampleFormat string       `xml:"sampleFormat,attr"`
	Location     string       `xml:"location,attr"`
	Keywords     []xmlKeyword `xml:"FITSKeyword"`
}

type xmlRoot struct {
	XMLName xml.Name   `xml:"xisf"`
	Images  []xmlImage `xml:"Image"`
}

// ReadHeaders parses the XML envelope only, returning the preserved
// keyword map without touching the pixel attachment.
func ReadHeaders(path string) (map[string]imgdata.Keyword, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrs.New(xerrs.NotFound, path, err)
	}
	defer f.Close()

	_, root, err := readEnvelope(f, path)
	if err != nil {
		return nil, err
	}
	if len(root.Images) == 0 {
		return nil, xerrs.New(xerrs.MalformedHeader, path, fmt.Errorf("no Image element"))
	}
	return keywordMap(root.Images[0]), nil
}

// Read parses the XML envelope and decodes the attached pixel plane,
// normalizing integer sample formats per the codec's contract.
func Read(path string) (*imgdata.ImageData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrs.New(xerrs.NotFound, path, err)
	}
	defer f.Close()

	headerLen, root, err := readEnvelope(f, path)
	if err != nil {
		return nil, err
	}
	if len(root.Images) == 0 {
		return nil, xerrs.New(xerrs.MalformedHeader, path, fmt.Errorf("no Image element"))
	}
	xi := root.Images[0]

	w, h, c, err := parseGeometry(xi.Geometry, path)
	if err != nil {
		return nil, err
	}
	sf := sampleFormat(xi.SampleFormat)
	byteLen := sampleByteLen(sf)
	if byteLen == 0 {
		return nil, xerrs.New(xerrs.UnsupportedFormat, path, fmt.Errorf("unsupported sampleFormat %q", xi.SampleFormat))
	}
	offset, length, err := parseLocation(xi.Location, path)
	if err != nil {
		return nil, err
	}

	img := imgdata.New(w, h, c)
	for k, v := range keywordMap(xi) {
		img.Keywords[k] = v
	}

	want := img.NumPixels() * byteLen
	if length != 0 && length != want {
		return nil, xerrs.New(xerrs.BadGeometry, path, fmt.Errorf("attachment length %d does not match geometry (want %d)", length, want))
	}

	if _, err := f.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, xerrs.New(xerrs.TruncatedHeader, path, err)
	}
	buf := make([]byte, want)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, xerrs.New(xerrs.TruncatedHeader, path, fmt.Errorf("truncated pixel attachment: %w", err))
	}

	norm, normalize := sampleFormatMax(sf)
	for i := 0; i < img.NumPixels(); i++ {
		off := i * byteLen
		var v float64
		switch sf {
		case fmtUInt8:
			v = float64(buf[off])
		case fmtUInt16:
			v = float64(binary.LittleEndian.Uint16(buf[off:]))
		case fmtUInt32:
			v = float64(binary.LittleEndian.Uint32(buf[off:]))
		case fmtFloat32:
			v = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[off:])))
		case fmtFloat64:
			v = math.Float64frombits(binary.LittleEndian.Uint64(buf[off:]))
		}
		if normalize {
			v /= norm
		}
		img.Pixels[i] = v
	}
	_ = headerLen
	return img, nil
}

func keywordMap(xi xmlImage) map[string]imgdata.Keyword {
	out := make(map[string]imgdata.Keyword, len(xi.Keywords))
	for _, k := range xi.Keywords {
		out[k.Name] = imgdata.Keyword{Value: stripSingleQuotes(k.Value), Comment: k.Comment}
	}
	return out
}

func stripSingleQuotes(v string) string {
	if len(v) >= 2 && v[0] == '\'' && v[len(v)-1] == '\'' {
		return v[1 : len(v)-1]
	}
	return v
}

func parseGeometry(g, path string) (w, h, c int, err error) {
	parts := strings.Split(g, ":")
	if len(parts) < 2 {
		return 0, 0, 0, xerrs.New(xerrs.MalformedHeader, path, fmt.Errorf("malformed geometry %q", g))
	}
	w, err1 := strconv.Atoi(parts[0])
	h, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, 0, xerrs.New(xerrs.MalformedHeader, path, fmt.Errorf("malformed geometry %q", g))
	}
	c = 1
	if len(parts) >= 3 {
		if v, err3 := strconv.Atoi(parts[2]); err3 == nil {
			c = v
		}
	}
	return w, h, c, nil
}

func parseLocation(loc, path string) (offset, length int, err error) {
	parts := strings.Split(loc, ":")
	if len(parts) < 2 || parts[0] != "attachment" {
		return 0, 0, xerrs.New(xerrs.MalformedHeader, path, fmt.Errorf("unsupported location %q", loc))
	}
	offset, errA := strconv.Atoi(parts[1])
	if errA != nil {
		return 0, 0, xerrs.New(xerrs.MalformedHeader, path, fmt.Errorf("malformed location offset in %q", loc))
	}
	if len(parts) >= 3 {
		length, _ = strconv.Atoi(parts[2])
	}
	return offset, length, nil
}

// readEnvelope validates the signature, reads the declared header length,
// and unmarshals the XML into root.
func readEnvelope(f io.Reader, path string) (headerLen int, root xmlRoot, err error) {
	sig := make([]byte, signatureLen)
	if _, err = io.ReadFull(f, sig); err != nil {
		return 0, root, xerrs.New(xerrs.TruncatedHeader, path, err)
	}
	if string(sig) != signature {
		return 0, root, xerrs.New(xerrs.UnsupportedFormat, path, fmt.Errorf("bad XISF signature %q", sig))
	}
	sizeBuf := make([]byte, sizeHeaderLen)
	if _, err = io.ReadFull(f, sizeBuf); err != nil {
		return 0, root, xerrs.New(xerrs.TruncatedHeader, path, err)
	}
	headerLen = int(binary.LittleEndian.Uint32(sizeBuf[0:4]))

	xmlBuf := make([]byte, headerLen)
	if _, err = io.ReadFull(f, xmlBuf); err != nil {
		return 0, root, xerrs.New(xerrs.TruncatedHeader, path, err)
	}
	if err = xml.Unmarshal(xmlBuf, &root); err != nil {
		return 0, root, xerrs.New(xerrs.MalformedHeader, path, err)
	}
	return headerLen, root, nil
}
