package securityindex

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

const indexFixture = `<html><body><table>
<tr><th>Name and information link</th><th>Available for</th><th>Release date</th></tr>
<tr><td><a href="/en-ca/122066">macOS Sequoia 15.3</a></td><td>macOS Sequoia</td><td>27 Jan 2025</td></tr>
<tr><td><a href="/kb/HT213983">iOS 18.2 and iPadOS 18.2</a></td><td>iPhone XS and later</td><td>11 Dec 2024</td></tr>
<tr><td>Safari 18.2</td><td>macOS Ventura and macOS Sonoma</td><td>11 Dec 2024</td></tr>
<tr><td><a href="/en-us/121999">Xcode 16.2</a></td><td>macOS Sonoma and later</td><td>11 Dec 2024</td></tr>
</table></body></html>`

func TestParseIndex(t *testing.T) {
	got, err := ParseIndex([]byte(indexFixture), "https://support.apple.com/en-ca/100100")
	if err != nil {
		t.Fatal(err)
	}
	want := []Row{
		{
			Name:      "macOS Sequoia 15.3",
			Date:      "27 Jan 2025",
			OSType:    "macos",
			DetailURL: "https://support.apple.com/en-us/122066",
		},
		{
			Name:      "iOS 18.2 and iPadOS 18.2",
			Date:      "11 Dec 2024",
			OSType:    "ios",
			DetailURL: "https://support.apple.com/en-us/HT213983",
		},
		{
			Name:   "Safari 18.2",
			Date:   "11 Dec 2024",
			OSType: "safari",
		},
		{
			Name:      "Xcode 16.2",
			Date:      "11 Dec 2024",
			DetailURL: "https://support.apple.com/en-us/121999",
		},
	}
	if !cmp.Equal(got.Rows, want) {
		t.Error(cmp.Diff(got.Rows, want))
	}
}

func TestParseIndexEmpty(t *testing.T) {
	_, err := ParseIndex([]byte(`<html><body><p>maintenance</p></body></html>`), "u")
	if err == nil {
		t.Fatal("expected parse error")
	}
}

const detailFixture = `<html><body>
<h1>About the security content of iOS 18.2 and iPadOS 18.2</h1>
<p>Released 11 Dec 2024</p>
<h3>WebKit</h3>
<p>Available for: iPhone XS and later</p>
<p>Impact: Processing maliciously crafted web content may lead to arbitrary code execution. Apple is aware of a report that this issue may have been actively exploited.</p>
<p>Description: A memory corruption issue was addressed with improved checks.</p>
<p>CVE-2024-44308: anonymous researcher</p>
<p>CVE-2024-44309: anonymous researcher</p>
<h3>Kernel</h3>
<p>Available for: iPhone XS and later</p>
<p>Impact: An app may be able to execute arbitrary code with kernel privileges.</p>
<p>Description: The issue was addressed with improved memory handling.</p>
<p>CVE-2024-44245: an anonymous researcher</p>
</body></html>`

func TestParseDetail(t *testing.T) {
	got, err := ParseDetail([]byte(detailFixture), "https://support.apple.com/en-us/121837")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "About the security content of iOS 18.2 and iPadOS 18.2" {
		t.Errorf("title: %q", got.Title)
	}
	if got.ReleaseDate != "2024-12-11T00:00:00Z" {
		t.Errorf("release date: %q", got.ReleaseDate)
	}
	wantCVEs := []string{"CVE-2024-44245", "CVE-2024-44308", "CVE-2024-44309"}
	if !cmp.Equal(got.CVEs, wantCVEs) {
		t.Error(cmp.Diff(got.CVEs, wantCVEs))
	}
	webkit, ok := got.Entries["CVE-2024-44308"]
	if !ok {
		t.Fatal("missing entry for CVE-2024-44308")
	}
	if webkit.Component != "WebKit" {
		t.Errorf("component: %q", webkit.Component)
	}
	if want := "iPhone XS and later"; webkit.AvailableFor != want {
		t.Errorf("available for: %q", webkit.AvailableFor)
	}
	if kernel := got.Entries["CVE-2024-44245"]; kernel.Component != "Kernel" {
		t.Errorf("component: %q", kernel.Component)
	}
}

func TestParseDetailGroupsWithoutRepeatedHeading(t *testing.T) {
	const page = `<html><body>
<h1>About the security content of macOS Sequoia 15.3</h1>
<h3>CoreMedia</h3>
<p>Available for: macOS Sequoia</p>
<p>Impact: first impact</p>
<p>CVE-2025-1111: someone</p>
<p>Available for: macOS Sequoia</p>
<p>Impact: second impact</p>
<p>CVE-2025-2222: someone else</p>
</body></html>`
	got, err := ParseDetail([]byte(page), "u")
	if err != nil {
		t.Fatal(err)
	}
	if got.Entries["CVE-2025-1111"].Impact != "first impact" {
		t.Errorf("got: %q", got.Entries["CVE-2025-1111"].Impact)
	}
	if got.Entries["CVE-2025-2222"].Impact != "second impact" {
		t.Errorf("got: %q", got.Entries["CVE-2025-2222"].Impact)
	}
}
