package sofa

// GDMFAsset is one entry from Apple's public asset manifest. Field
// names mirror the wire format.
type GDMFAsset struct {
	ProductVersion   string   `json:"ProductVersion"`
	Build            string   `json:"Build"`
	PostingDate      string   `json:"PostingDate"`
	ExpirationDate   string   `json:"ExpirationDate"`
	SupportedDevices []string `json:"SupportedDevices"`
}

// GDMFData is the manifest body: platform key to asset list, once for
// the public set and once for the full set.
type GDMFData struct {
	PublicAssetSets map[string][]GDMFAsset `json:"PublicAssetSets"`
	AssetSets       map[string][]GDMFAsset `json:"AssetSets"`
}

// AssetsFor returns the assets filed under key across both set maps,
// public first.
func (d *GDMFData) AssetsFor(key string) []GDMFAsset {
	var out []GDMFAsset
	out = append(out, d.PublicAssetSets[key]...)
	out = append(out, d.AssetSets[key]...)
	return out
}
