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
	"regexp"
	"strconv"
	"strings"

	"github.com/mlnoga/flatcal/internal/imgdata"
	"github.com/mlnoga/flatcal/internal/xerrs"
)

// cardRE splits one 80-byte FITS card into blank/history/comment/end/keyed
// forms. Adapted from the regexp card grammar used to parse acquisition
// software output; generalized here to keep the raw value text (not typed
// fields) since search-order-aware typed access belongs to internal/meta.
var cardRE = compileCardRE()

func compileCardRE() *regexp.Regexp {
	white := `\s+`
	whiteOpt := `\s*`

	histLine := "HISTORY" + white + `(?P<H>.*)`
	commLine := "COMMENT" + white + `(?P<C>.*)`
	endLine := `(?P<E>END)` + whiteOpt

	key := `(?P<k>[A-Z0-9_-]+)`
	val := `(?P<v>.*?)`
	commOpt := `(?:/(?P<c>.*))?`
	keyLine := key + whiteOpt + "=" + whiteOpt + val + whiteOpt + commOpt

	lineRe := `^(?:` + white + `|` + histLine + `|` + commLine + `|` + keyLine + `|` + endLine + `)$`
	return regexp.MustCompile(lineRe)
}

// parseCard splits one trimmed 80-byte card. ok is false when the line
// matches none of the recognized card shapes (a malformed card, which the
// caller logs and skips rather than failing the whole read).
func parseCard(line string) (key, value, comment string, isEnd, isHistory, isComment, ok bool) {
	m := cardRE.FindStringSubmatch(line)
	if m == nil {
		return "", "", "", false, false, false, false
	}
	names := cardRE.SubexpNames()
	for i, name := range names {
		if i == 0 || m[i] == "" {
			continue
		}
		switch name {
		case "E":
			isEnd = true
		case "H":
			isHistory = true
			value = m[i]
		case "C":
			isComment = true
			value = m[i]
		case "k":
			key = m[i]
		case "v":
			value = strings.TrimSpace(m[i])
		case "c":
			comment = strings.TrimSpace(m[i])
		}
	}
	if key != "" {
		value = stripQuotes(value)
	}
	return key, value, comment, isEnd, isHistory, isComment, true
}

func stripQuotes(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 && v[0] == '\'' && v[len(v)-1] == '\'' {
		return strings.TrimSpace(v[1 : len(v)-1])
	}
	return v
}

// readHeader consumes 2880-byte blocks of 80-byte cards until the END
// card, populating h.Keywords/Comments/History. logWriter receives a
// warning line for each card that fails to parse; those cards are
// skipped, not fatal, per the codec's malformed-card contract.
func readHeader(r io.Reader, path string, logWriter io.Writer) (Header, error) {
	h := newHeader()
	buf := make([]byte, blockSize)
	ended := false
	for !ended {
		n, err := io.ReadFull(r, buf)
		if err != nil {
			return h, xerrs.New(xerrs.TruncatedHeader, path, fmt.Errorf("header truncated before END: %w", err))
		}
		for lineNo := 0; lineNo < blockSize/lineSize && !ended; lineNo++ {
			line := string(buf[lineNo*lineSize : (lineNo+1)*lineSize])
			key, value, comment, isEnd, isHistory, isComment, ok := parseCard(line)
			if !ok {
				if strings.TrimSpace(line) == "" {
					continue
				}
				fmt.Fprintf(logWriter, "warning: cannot parse FITS card %q in %s, skipping\n", line, path)
				continue
			}
			switch {
			case isEnd:
				ended = true
			case isHistory:
				h.History = append(h.History, value)
			case isComment:
				h.Comments = append(h.Comments, value)
			case key != "":
				h.Keywords[key] = imgdata.Keyword{Value: value, Comment: comment}
			}
		}
		if n != blockSize {
			return h, xerrs.New(xerrs.TruncatedHeader, path, fmt.Errorf("short header block: %d bytes", n))
		}
	}
	return h, nil
}

func (h Header) popInt(key string) (int, bool) {
	kw, ok := h.Keywords[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSpace(kw.Value))
	if err != nil {
		return 0, false
	}
	return v, true
}

func (h Header) popFloat(key string) (float64, bool) {
	kw, ok := h.Keywords[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(kw.Value), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (h Header) popNumeric(key string) (float64, bool) {
	if v, ok := h.popInt(key); ok {
		return float64(v), true
	}
	return h.popFloat(key)
}

// geometry extracts BITPIX/NAXIS* /BZERO/BSCALE from the parsed header.
func (h Header) geometry(path string) (Geometry, error) {
	var g Geometry
	bitpix, ok := h.popInt("BITPIX")
	if !ok {
		return g, xerrs.New(xerrs.MalformedHeader, path, fmt.Errorf("missing BITPIX"))
	}
	g.Bitpix = bitpix

	naxis, ok := h.popInt("NAXIS")
	if !ok {
		return g, xerrs.New(xerrs.MalformedHeader, path, fmt.Errorf("missing NAXIS"))
	}
	g.Naxisn = make([]int, naxis)
	for i := 1; i <= naxis; i++ {
		n, ok := h.popInt(fmt.Sprintf("NAXIS%d", i))
		if !ok {
			return g, xerrs.New(xerrs.MalformedHeader, path, fmt.Errorf("missing NAXIS%d", i))
		}
		g.Naxisn[i-1] = n
	}

	g.Bzero = 0
	g.Bscale = 1
	if v, ok := h.popNumeric("BZERO"); ok {
		g.Bzero = v
	}
	if v, ok := h.popNumeric("BSCALE"); ok {
		g.Bscale = v
	}
	return g, nil
}
