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

package engine

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/mlnoga/flatcal/internal/imgdata"
	"github.com/mlnoga/flatcal/internal/meta"
	"github.com/mlnoga/flatcal/internal/scan"
)

var filterRE = regexp.MustCompile(`(?i)(?:FILTER)?[_\-]?([LRGBSHO]a?|Ha|SII|OIII|NII)`)
var dateRE = regexp.MustCompile(`20\d\d-\d\d-\d\d`)

// deriveFilename computes the normative MasterFlat_<DATE>_<FILTER>_Bin<binning>_<exp>s.xisf
// output name for one exposure group.
func deriveFilename(sourceDir string, group scan.ExposureGroup, keywords map[string]imgdata.Keyword) string {
	filter := deriveFilter(sourceDir, keywords)
	date := deriveDate(sourceDir, keywords)
	binning := deriveBinning(group)
	exp := meta.ExposureKey(group.Exposure)
	return "MasterFlat_" + date + "_" + filter + "_Bin" + binning + "_" + exp + ".xisf"
}

func deriveFilter(sourceDir string, keywords map[string]imgdata.Keyword) string {
	for _, key := range []string{"FILTER", "INSFLNAM"} {
		if kw, ok := keywords[key]; ok && strings.TrimSpace(kw.Value) != "" {
			return strings.ToUpper(strings.TrimSpace(kw.Value))
		}
	}
	base := filepath.Base(sourceDir)
	if m := filterRE.FindStringSubmatch(base); m != nil {
		return strings.ToUpper(m[1])
	}
	return "UNKNOWN"
}

func deriveDate(sourceDir string, keywords map[string]imgdata.Keyword) string {
	if m := dateRE.FindString(sourceDir); m != "" {
		return m
	}
	for _, key := range []string{"DATE-OBS", "DATE_OBS", "DATE"} {
		if kw, ok := keywords[key]; ok {
			if m := dateRE.FindString(kw.Value); m != "" {
				return m
			}
		}
	}
	return time.Now().UTC().Format("2006-01-02")
}

func deriveBinning(group scan.ExposureGroup) string {
	if group.HasBinning && group.Binning != "" {
		return group.Binning
	}
	return "1"
}
