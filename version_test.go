package sofa

import "testing"

func TestCompareVersions(t *testing.T) {
	tt := []struct {
		A, B string
		Want int
	}{
		{"15.3", "15.2.1", 1},
		{"18.2", "18.2", 0},
		{"16.7.10", "16.7.9", 1},
		{"15", "15.0", 0},
		{"16.5.1 (a)", "16.5.1", 0},
		{"18.2", "18.10", -1},
	}
	for _, tc := range tt {
		t.Run(tc.A+" vs "+tc.B, func(t *testing.T) {
			if got := CompareVersions(tc.A, tc.B); got != tc.Want {
				t.Errorf("got: %d, want: %d", got, tc.Want)
			}
		})
	}
}

func TestMajorVersion(t *testing.T) {
	for in, want := range map[string]int{
		"15.3":       15,
		"18":         18,
		"16.5.1 (a)": 16,
		"Ventura":    -1,
		"":           -1,
	} {
		if got := MajorVersion(in); got != want {
			t.Errorf("%q: got: %d, want: %d", in, got, want)
		}
	}
}

func TestRSRSuffix(t *testing.T) {
	if !HasRSRSuffix("16.5.1 (a)") {
		t.Error("expected RSR suffix")
	}
	if HasRSRSuffix("16.5.1") {
		t.Error("unexpected RSR suffix")
	}
	if got := StripRSRSuffix("16.5.1 (a)"); got != "16.5.1" {
		t.Errorf("got: %q", got)
	}
}
