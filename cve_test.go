package sofa

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFindCVEs(t *testing.T) {
	tt := []struct {
		Name string
		In   string
		Want []string
	}{
		{
			Name: "Simple",
			In:   "Impact: ... CVE-2024-44308 and CVE-2024-44309.",
			Want: []string{"CVE-2024-44308", "CVE-2024-44309"},
		},
		{
			Name: "Duplicates",
			In:   "CVE-2024-23222 CVE-2024-23222",
			Want: []string{"CVE-2024-23222"},
		},
		{
			Name: "OrderedByYearThenSequence",
			In:   "CVE-2025-101 CVE-2023-42917 CVE-2025-99",
			Want: []string{"CVE-2023-42917", "CVE-2025-99", "CVE-2025-101"},
		},
		{
			Name: "None",
			In:   "This update has no published CVE entries.",
			Want: nil,
		},
		{
			Name: "RejectsMalformed",
			In:   "CVE-24-1234 CVE-2024-123",
			Want: nil,
		},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			got := FindCVEs(tc.In)
			if !cmp.Equal(got, tc.Want) {
				t.Error(cmp.Diff(got, tc.Want))
			}
		})
	}
}

func TestMergeCVEs(t *testing.T) {
	got := MergeCVEs(
		[]string{"CVE-2024-44309", "CVE-2023-42917"},
		[]string{"CVE-2024-44308", "CVE-2023-42917"},
	)
	want := []string{"CVE-2023-42917", "CVE-2024-44308", "CVE-2024-44309"}
	if !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}
}
