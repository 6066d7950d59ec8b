package sofa

import "testing"

func sampleFeed() *FeedV1 {
	return &FeedV1{
		UpdateHash: "placeholder",
		OSVersions: []OSVersionV1{{
			OSVersion: "Sequoia 15",
			Latest: ReleaseV1{
				UpdateName:            "macOS Sequoia 15.3",
				ProductVersion:        "15.3",
				Build:                 "24D60",
				AllBuilds:             []string{"24D60"},
				ReleaseDate:           "2025-01-27T00:00:00Z",
				CVEs:                  map[string]bool{"CVE-2025-24085": true},
				ActivelyExploitedCVEs: []string{"CVE-2025-24085"},
				UniqueCVEsCount:       1,
			},
		}},
	}
}

func TestUpdateHashStable(t *testing.T) {
	doc := sampleFeed()
	h1, err := ComputeUpdateHash(doc)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := ComputeUpdateHash(doc)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("hash not stable: %s != %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("want hex sha256, got %q", h1)
	}
}

func TestUpdateHashElidesSelf(t *testing.T) {
	doc := sampleFeed()
	h1, err := ComputeUpdateHash(doc)
	if err != nil {
		t.Fatal(err)
	}
	doc.UpdateHash = h1
	h2, err := ComputeUpdateHash(doc)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Error("stored hash must not feed back into the computation")
	}
}

func TestUpdateHashElidesGeneratedAt(t *testing.T) {
	v2 := &FeedV2{SchemaVersion: "2.0", GeneratedAt: "2025-01-27T10:00:00Z"}
	h1, err := ComputeUpdateHash(v2)
	if err != nil {
		t.Fatal(err)
	}
	v2.GeneratedAt = "2025-01-28T10:00:00Z"
	h2, err := ComputeUpdateHash(v2)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Error("generated_at must not affect the hash")
	}
}

func TestUpdateHashSensitive(t *testing.T) {
	doc := sampleFeed()
	h1, err := ComputeUpdateHash(doc)
	if err != nil {
		t.Fatal(err)
	}
	doc.OSVersions[0].Latest.ProductVersion = "15.3.1"
	h2, err := ComputeUpdateHash(doc)
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h2 {
		t.Error("content change must change the hash")
	}
}
