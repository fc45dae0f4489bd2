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

// Package darkmatch selects the best dark/bias calibration frame for an
// exposure group using a tiered, fully deterministic policy. Pure
// decision logic over in-memory catalogs, grounded on the teacher's
// reliance on sort.Slice plus lexicographic string tie-breaks for
// reproducible output ordering (internal/ops/stack et al.), not on any
// one stacking file in particular.
package darkmatch

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/mlnoga/flatcal/internal/meta"
	"github.com/mlnoga/flatcal/internal/scan"
)

// Config carries the tunable dark-matching options from ProcessingConfiguration.
type Config struct {
	EnforceBinning           bool
	PreferSameGainOffset     bool
	PreferClosestTemp        bool
	MaxTempDeltaC            float64 // default 5.0
	AllowNearestWithOptimize bool
}

// DefaultConfig returns the matcher defaults named in the processing
// configuration table.
func DefaultConfig() Config {
	return Config{MaxTempDeltaC: 5.0}
}

// Result is the outcome of matching one exposure group.
type Result struct {
	Dark         *scan.DarkFrame
	Optimize     bool
	Kind         string
	Score        float64
	TempDelta    float64
	HasTempDelta bool
	Warnings     []string
	Rejected     []RejectedAlternative
}

// RejectedAlternative is one non-chosen candidate from the winning tier.
type RejectedAlternative struct {
	Dark     *scan.DarkFrame
	Kind     string
	ScoreGap float64
}

var typePriority = map[meta.FrameType]int{
	meta.MasterDarkFlat: 6,
	meta.DarkFlat:       5,
	meta.MasterDark:     4,
	meta.Dark:           3,
	meta.MasterBias:     2,
	meta.Bias:           1,
}

// score implements the score(dark, criteria) function: binning/gain/offset
// bonuses plus a temperature-proximity bonus, used only to break ties
// within a tier.
func score(d *scan.DarkFrame, g *scan.ExposureGroup, cfg Config) float64 {
	s := 0.0
	if cfg.EnforceBinning && g.HasBinning && d.Binning != "" && strings.EqualFold(g.Binning, d.Binning) {
		s += 3.0
	}
	if cfg.PreferSameGainOffset && g.HasGain && d.HasGain && math.Abs(g.Gain-d.Gain) < 0.01 {
		s += 2.0
	}
	if cfg.PreferSameGainOffset && g.HasOffset && d.HasOffset && math.Abs(g.Offset-d.Offset) < 0.5 {
		s += 2.0
	}
	if cfg.PreferClosestTemp && g.HasTemperature && d.HasTemperature {
		delta := math.Abs(g.Temperature - d.Temperature)
		if delta <= cfg.MaxTempDeltaC {
			s += 1.5 - 0.2*delta
		}
	}
	return s
}

// byTiebreak sorts candidates by descending score, then descending type
// priority, then ascending case-insensitive path: the matcher's total
// deterministic order.
func byTiebreak(cands []*scan.DarkFrame, scores map[*scan.DarkFrame]float64) {
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if scores[a] != scores[b] {
			return scores[a] > scores[b]
		}
		if typePriority[a.Type] != typePriority[b.Type] {
			return typePriority[a.Type] > typePriority[b.Type]
		}
		return strings.ToLower(a.Path) < strings.ToLower(b.Path)
	})
}

// Match chooses one calibration frame for group from catalog, or returns
// ok=false if no tier produced a candidate.
func Match(group *scan.ExposureGroup, catalog []scan.DarkFrame, cfg Config) (Result, bool) {
	darkClass := make([]*scan.DarkFrame, 0)
	biasClass := make([]*scan.DarkFrame, 0)
	for i := range catalog {
		d := &catalog[i]
		if d.Type.IsDarkClass() {
			darkClass = append(darkClass, d)
		} else if d.Type.IsBiasClass() {
			biasClass = append(biasClass, d)
		}
	}

	if r, ok := matchTier(group, darkClass, cfg, tierExact); ok {
		return r, true
	}
	if cfg.AllowNearestWithOptimize {
		if r, ok := matchTier(group, darkClass, cfg, tierNearNoOptimize); ok {
			return r, true
		}
		if r, ok := matchTier(group, darkClass, cfg, tierNearOptimize); ok {
			return r, true
		}
	}
	if r, ok := matchTier(group, biasClass, cfg, tierBiasFallback); ok {
		return r, true
	}
	return Result{}, false
}

type tier int

const (
	tierExact tier = iota
	tierNearNoOptimize
	tierNearOptimize
	tierBiasFallback
)

func matchTier(group *scan.ExposureGroup, pool []*scan.DarkFrame, cfg Config, t tier) (Result, bool) {
	var cands []*scan.DarkFrame
	for _, d := range pool {
		delta := math.Abs(group.Exposure - d.Exposure)
		switch t {
		case tierExact:
			if delta < 0.001 {
				cands = append(cands, d)
			}
		case tierNearNoOptimize:
			if delta >= 0.001 && delta <= 2.0 {
				cands = append(cands, d)
			}
		case tierNearOptimize:
			if delta > 2.0 && delta <= 10.0 {
				cands = append(cands, d)
			}
		case tierBiasFallback:
			cands = append(cands, d)
		}
	}
	if len(cands) == 0 {
		return Result{}, false
	}

	scores := make(map[*scan.DarkFrame]float64, len(cands))
	for _, d := range cands {
		scores[d] = score(d, group, cfg)
	}
	byTiebreak(cands, scores)

	chosen := cands[0]
	r := Result{Dark: chosen, Score: scores[chosen]}
	switch t {
	case tierExact:
		r.Optimize = false
		r.Kind = fmt.Sprintf("%s(exact)", chosen.Type)
	case tierNearNoOptimize:
		r.Optimize = false
		r.Kind = fmt.Sprintf("%s(nearest<=2s,%s)", chosen.Type, formatExp(chosen.Exposure))
	case tierNearOptimize:
		r.Optimize = true
		r.Kind = fmt.Sprintf("%s(nearest<=10s+optimize,%s)", chosen.Type, formatExp(chosen.Exposure))
	case tierBiasFallback:
		r.Optimize = false
		r.Kind = chosen.Type.String()
	}

	if group.HasTemperature && chosen.HasTemperature {
		r.TempDelta = math.Abs(group.Temperature - chosen.Temperature)
		r.HasTempDelta = true
	}
	if r.Optimize {
		r.Warnings = append(r.Warnings, "optimize required")
	}
	if r.HasTempDelta && r.TempDelta > cfg.MaxTempDeltaC {
		r.Warnings = append(r.Warnings, fmt.Sprintf("|deltaT| > %.0f", cfg.MaxTempDeltaC))
	}

	for _, d := range cands[1:] {
		if len(r.Rejected) >= 5 {
			break
		}
		r.Rejected = append(r.Rejected, RejectedAlternative{
			Dark: d, Kind: d.Type.String(), ScoreGap: r.Score - scores[d],
		})
	}
	return r, true
}

func formatExp(exp float64) string {
	return fmt.Sprintf("%.3fs", exp)
}
