package sofa

import (
	"errors"
	"testing"
	"time"
)

func validRecord() *ReleaseRecord {
	return &ReleaseRecord{
		Platform:    MacOS,
		Title:       "macOS Sequoia 15.3",
		Version:     "15.3",
		Build:       "24D60",
		AllBuilds:   []string{"24D60"},
		ReleaseDate: time.Date(2025, 1, 27, 0, 0, 0, 0, time.UTC),
		ReleaseType: ReleaseTypeOS,
	}
}

func TestReleaseValidate(t *testing.T) {
	tt := []struct {
		Name   string
		Mutate func(*ReleaseRecord)
		OK     bool
	}{
		{"Valid", func(r *ReleaseRecord) {}, true},
		{"NoPlatform", func(r *ReleaseRecord) { r.Platform = PlatformUnknown }, false},
		{"NoVersion", func(r *ReleaseRecord) { r.Version = "" }, false},
		{"NoDate", func(r *ReleaseRecord) { r.ReleaseDate = time.Time{} }, false},
		{"BuildNotInAllBuilds", func(r *ReleaseRecord) { r.AllBuilds = []string{"24D61"} }, false},
		{"EmptyBuildOK", func(r *ReleaseRecord) { r.Build = ""; r.AllBuilds = nil }, true},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			r := validRecord()
			tc.Mutate(r)
			err := r.Validate()
			if tc.OK && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.OK {
				if err == nil {
					t.Fatal("expected validation error")
				}
				if !errors.Is(err, ErrValidation) {
					t.Errorf("wrong kind: %v", err)
				}
			}
		})
	}
}

func TestExploitedEvidenceInvariant(t *testing.T) {
	r := validRecord()
	r.AddCVE("CVE-2025-24085")
	d := r.Detail("CVE-2025-24085")
	d.Exploitation.IsExploited = true
	d.Exploitation.AddSource(SourceCrossPlatform)

	if err := r.Validate(); err == nil {
		t.Fatal("cross_platform alone must not support an exploited verdict")
	}

	d.Exploitation.AddSource(SourceCISAKEV)
	if err := r.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestExploitedCVEs(t *testing.T) {
	r := validRecord()
	r.AddCVE("CVE-2025-24085")
	r.AddCVE("CVE-2024-44308")
	d := r.Detail("CVE-2025-24085")
	d.Exploitation.IsExploited = true
	d.Exploitation.AddSource(SourceAppleDirect)

	got := r.ExploitedCVEs()
	if len(got) != 1 || got[0] != "CVE-2025-24085" {
		t.Errorf("got: %v", got)
	}
}

func TestNormalizeBuilds(t *testing.T) {
	r := validRecord()
	r.AllBuilds = []string{"24D61"}
	r.NormalizeBuilds()
	if len(r.AllBuilds) != 2 || r.AllBuilds[0] != "24D60" {
		t.Errorf("got: %v", r.AllBuilds)
	}
}
