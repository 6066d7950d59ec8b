package sofa

// KEVEntry is one vulnerability from CISA's Known Exploited
// Vulnerabilities catalog. JSON tags follow the CISA wire format.
type KEVEntry struct {
	CVEID             string `json:"cveID"`
	VendorProject     string `json:"vendorProject"`
	Product           string `json:"product"`
	VulnerabilityName string `json:"vulnerabilityName"`
	DateAdded         string `json:"dateAdded"`
	ShortDescription  string `json:"shortDescription"`
	RequiredAction    string `json:"requiredAction"`
	DueDate           string `json:"dueDate"`
	RansomwareUse     string `json:"knownRansomwareCampaignUse"`
}

// KEVCatalog is the CISA catalog document.
type KEVCatalog struct {
	Title           string     `json:"title"`
	CatalogVersion  string     `json:"catalogVersion"`
	DateReleased    string     `json:"dateReleased"`
	Count           int        `json:"count"`
	Vulnerabilities []KEVEntry `json:"vulnerabilities"`
}

// KEVSet is the membership view used by the enricher.
type KEVSet struct {
	entries map[string]KEVEntry
}

// NewKEVSet indexes a catalog by CVE ID.
func NewKEVSet(cat *KEVCatalog) *KEVSet {
	s := &KEVSet{entries: make(map[string]KEVEntry, len(cat.Vulnerabilities))}
	for _, e := range cat.Vulnerabilities {
		s.entries[e.CVEID] = e
	}
	return s
}

// EmptyKEVSet is the set used when KEV checking is disabled.
func EmptyKEVSet() *KEVSet {
	return &KEVSet{entries: map[string]KEVEntry{}}
}

// Contains reports catalog membership.
func (s *KEVSet) Contains(cve string) bool {
	_, ok := s.entries[cve]
	return ok
}

// Entry returns the catalog record for a CVE.
func (s *KEVSet) Entry(cve string) (KEVEntry, bool) {
	e, ok := s.entries[cve]
	return e, ok
}

// Len reports the catalog size.
func (s *KEVSet) Len() int { return len(s.entries) }
