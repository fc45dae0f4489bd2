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
	"bufio"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/mlnoga/flatcal/internal/imgdata"
	"github.com/mlnoga/flatcal/internal/xerrs"
)

// Write writes img as a primary HDU, BITPIX=-32, big-endian, 2880-aligned,
// the optional FITS output path mentioned in the codec contract (the
// normative output format is XISF; see internal/xisf).
func Write(path string, img *imgdata.ImageData) error {
	f, err := os.Create(path)
	if err != nil {
		return xerrs.New(xerrs.Internal, path, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	naxis := 2
	if img.Channels > 1 {
		naxis = 3
	}
	lines := []string{
		card("SIMPLE", "T", "conforms to FITS standard"),
		card("BITPIX", "-32", "32-bit float pixels"),
		card("NAXIS", fmt.Sprintf("%d", naxis), ""),
		card("NAXIS1", fmt.Sprintf("%d", img.Width), ""),
		card("NAXIS2", fmt.Sprintf("%d", img.Height), ""),
	}
	if naxis == 3 {
		lines = append(lines, card("NAXIS3", fmt.Sprintf("%d", img.Channels), ""))
	}
	lines = append(lines, card("BZERO", "0", ""), card("BSCALE", "1", ""))

	keys := make([]string, 0, len(img.Keywords))
	for k := range img.Keywords {
		switch k {
		case "SIMPLE", "BITPIX", "NAXIS", "NAXIS1", "NAXIS2", "NAXIS3", "BZERO", "BSCALE":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		kw := img.Keywords[k]
		lines = append(lines, card(k, quoteIfNeeded(kw.Value), kw.Comment))
	}
	lines = append(lines, fmt.Sprintf("%-80s", "END"))

	if err := writeHeaderBlocks(w, lines); err != nil {
		return xerrs.New(xerrs.Internal, path, err)
	}
	if err := writePixels(w, img.Pixels); err != nil {
		return xerrs.New(xerrs.Internal, path, err)
	}
	return w.Flush()
}

func quoteIfNeeded(v string) string {
	if v == "" {
		return v
	}
	if _, err := fmt.Sscanf(v, "%g", new(float64)); err == nil {
		return v
	}
	return "'" + v + "'"
}

func card(key, value, comment string) string {
	line := key
	for len(line) < 8 {
		line += " "
	}
	line += "= " + value
	if comment != "" {
		line += " / " + comment
	}
	if len(line) > lineSize {
		line = line[:lineSize]
	}
	for len(line) < lineSize {
		line += " "
	}
	return line
}

func writeHeaderBlocks(w *bufio.Writer, lines []string) error {
	linesPerBlock := blockSize / lineSize
	for i := 0; i < len(lines); i += linesPerBlock {
		end := i + linesPerBlock
		if end > len(lines) {
			end = len(lines)
		}
		for _, l := range lines[i:end] {
			if _, err := w.WriteString(l); err != nil {
				return err
			}
		}
		pad := (end - i)
		for ; pad < linesPerBlock; pad++ {
			if _, err := w.WriteString(blankCard()); err != nil {
				return err
			}
		}
	}
	return nil
}

func blankCard() string {
	b := make([]byte, lineSize)
	for i := range b {
		b[i] = ' '
	}
	return string(b)
}

func writePixels(w *bufio.Writer, pixels []float64) error {
	buf := make([]byte, 4)
	for _, v := range pixels {
		bits := math.Float32bits(float32(v))
		buf[0] = byte(bits >> 24)
		buf[1] = byte(bits >> 16)
		buf[2] = byte(bits >> 8)
		buf[3] = byte(bits)
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	total := len(pixels) * 4
	pad := (blockSize - total%blockSize) % blockSize
	if pad > 0 {
		zeros := make([]byte, pad)
		if _, err := w.Write(zeros); err != nil {
			return err
		}
	}
	return nil
}
