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

package meta

import (
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/mlnoga/flatcal/internal/fits"
	"github.com/mlnoga/flatcal/internal/imgdata"
	"github.com/mlnoga/flatcal/internal/xisf"
)

var (
	exposureTrailRE = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)s\b`)
	exposureKeyRE   = regexp.MustCompile(`(?i)EXPOSURE[_\-=:\s]?(\d+(?:\.\d+)?)`)
	temperatureRE   = regexp.MustCompile(`(?i)temp[_\-=\s](-?\d+(?:\.\d+)?)`)
)

var exposureKeywords = []string{"EXPTIME", "EXPOSURE", "EXPOSURETIME", "X_EXPOSURE"}
var binningKeywords = []string{"XBINNING", "BINNING", "CCDBINNING", "BINNING_MODE"}
var gainKeywords = []string{"GAIN", "EGAIN"}
var offsetKeywords = []string{"OFFSET", "BLACKLEVEL"}
var temperatureKeywords = []string{"CCD-TEMP", "CCD_TEMP", "SENSOR_TEMP", "SENSOR-TEMP", "SET-TEMP", "SET_TEMP"}
var filterKeywords = []string{"FILTER", "INSFLNAM"}
var dateKeywords = []string{"DATE-OBS", "DATE_OBS", "DATE"}
var typeKeywords = []string{"IMAGETYP", "FRAMETYPE", "FRAME"}

// readHeaders dispatches to the FITS or XISF header-only reader by
// extension, mirroring the codec's extension-tagged dispatch.
func readHeaders(path string, logWriter io.Writer) (map[string]imgdata.Keyword, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xisf":
		return xisf.ReadHeaders(path)
	default:
		return fits.ReadHeaders(path, logWriter)
	}
}

// Read produces a Metadata record for path, preferring header keywords
// and falling back to filename-derived fields when a header field is
// absent. Read never fails outright: on a read error it returns a
// fallback record built from the filename alone, with err carrying the
// underlying cause for logging.
func Read(path string, logWriter io.Writer) (*Metadata, error) {
	m := &Metadata{Path: path}
	kw, err := readHeaders(path, logWriter)
	if err != nil {
		applyFilenameFallbacks(m, path)
		return m, err
	}

	if v, ok := firstNumeric(kw, exposureKeywords); ok {
		m.Exposure, m.HasExposure = v, true
	}
	if v, ok := firstString(kw, binningKeywords); ok {
		m.Binning = strings.ToUpper(strings.TrimSpace(v))
	}
	if v, ok := firstNumeric(kw, gainKeywords); ok {
		m.Gain, m.HasGain = v, true
	}
	if v, ok := firstNumeric(kw, offsetKeywords); ok {
		m.Offset, m.HasOffset = v, true
	}
	if v, ok := firstNumeric(kw, temperatureKeywords); ok {
		m.Temperature, m.HasTemperature = v, true
	}
	if v, ok := firstString(kw, filterKeywords); ok {
		m.Filter = v
	}
	if v, ok := firstString(kw, dateKeywords); ok {
		m.Date = v
	}

	m.Type = Unknown
	if typ, ok := firstString(kw, typeKeywords); ok {
		m.Type = inferType(typ)
	}

	applyFilenameFallbacks(m, path)
	return m, nil
}

// applyFilenameFallbacks fills in exposure, temperature and frame type
// from the filename whenever the header did not supply them.
func applyFilenameFallbacks(m *Metadata, path string) {
	base := filepath.Base(path)
	if !m.HasExposure {
		if v, ok := exposureFromFilename(base); ok {
			m.Exposure, m.HasExposure = v, true
		}
	}
	if !m.HasTemperature {
		if mm := temperatureRE.FindStringSubmatch(base); mm != nil {
			if v, err := strconv.ParseFloat(mm[1], 64); err == nil {
				m.Temperature, m.HasTemperature = v, true
			}
		}
	}
	if m.Type == Unknown {
		m.Type = inferType(strings.ToUpper(base))
	}
}

func exposureFromFilename(name string) (float64, bool) {
	if mm := exposureTrailRE.FindStringSubmatch(name); mm != nil {
		if v, err := strconv.ParseFloat(mm[1], 64); err == nil {
			return v, true
		}
	}
	if mm := exposureKeyRE.FindStringSubmatch(name); mm != nil {
		if v, err := strconv.ParseFloat(mm[1], 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

func firstString(kw map[string]imgdata.Keyword, keys []string) (string, bool) {
	for _, k := range keys {
		if v, ok := kw[k]; ok && strings.TrimSpace(v.Value) != "" {
			return strings.TrimSpace(v.Value), true
		}
	}
	return "", false
}

func firstNumeric(kw map[string]imgdata.Keyword, keys []string) (float64, bool) {
	for _, k := range keys {
		if v, ok := kw[k]; ok {
			s := strings.TrimSpace(v.Value)
			if s == "" {
				continue
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}
