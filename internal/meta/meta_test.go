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

import "testing"

func TestExposureKey(t *testing.T) {
	cases := []struct {
		x    float64
		want string
	}{
		{1.0, "1s"},
		{1.001, "1.001s"},
		{0.5, "0.5s"},
		{10.125, "10.125s"},
	}
	for _, c := range cases {
		if got := ExposureKey(c.x); got != c.want {
			t.Errorf("ExposureKey(%v) = %q, want %q", c.x, got, c.want)
		}
	}
}

func TestExposureKeyUnknown(t *testing.T) {
	m := &Metadata{}
	if got := m.ExposureKey(); got != "Unknown" {
		t.Errorf("got %q, want Unknown", got)
	}
}

func TestInferTypeLongestTokenWins(t *testing.T) {
	cases := []struct {
		s    string
		want FrameType
	}{
		{"MASTERDARKFLAT_001", MasterDarkFlat},
		{"masterdark_1.5s", MasterDark},
		{"darkflat_30s", DarkFlat},
		{"dark_001", Dark},
		{"MasterFlat_2026-01-01", MasterFlat},
		{"flat_003", Flat},
		{"masterbias", MasterBias},
		{"bias_001", Bias},
		{"light_frame_001", Light},
		{"random_001", Unknown},
	}
	for _, c := range cases {
		if got := inferType(c.s); got != c.want {
			t.Errorf("inferType(%q) = %v, want %v", c.s, got, c.want)
		}
	}
}

func TestExposureFromFilename(t *testing.T) {
	cases := []struct {
		name string
		want float64
		ok   bool
	}{
		{"flat_1.5s_001.fits", 1.5, true},
		{"EXPOSURE_30_frame.fits", 30, true},
		{"noexposure.fits", 0, false},
	}
	for _, c := range cases {
		got, ok := exposureFromFilename(c.name)
		if ok != c.ok || (ok && got != c.want) {
			t.Errorf("exposureFromFilename(%q) = (%v, %v), want (%v, %v)", c.name, got, ok, c.want, c.ok)
		}
	}
}

func TestDarkAndBiasClass(t *testing.T) {
	if !Dark.IsDarkClass() || !MasterDarkFlat.IsDarkClass() {
		t.Error("expected dark-class types to report IsDarkClass")
	}
	if Bias.IsDarkClass() {
		t.Error("bias must not be dark-class")
	}
	if !Bias.IsBiasClass() || !MasterBias.IsBiasClass() {
		t.Error("expected bias-class types to report IsBiasClass")
	}
}
