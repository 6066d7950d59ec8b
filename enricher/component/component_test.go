package component

import "testing"

func TestNormalize(t *testing.T) {
	tt := []struct {
		In   string
		Want string
	}{
		{"WebKit", "WebKit"},
		{"WebKit PDF", "WebKit"},
		{"JavaScriptCore", "WebKit"},
		{"Kernel", "Kernel"},
		{"Wi-Fi", "Networking"},
		{"CFNetwork Proxies", "Networking"},
		{"Security", "Security"},
		{"USB Restricted Mode", "Security"},
		{"CoreMedia", "Media"},
		{"CoreMedia Playback", "Media"},
		{"Intel Graphics Driver", "Graphics"},
		{"ImageIO", "Graphics"},
		{"APFS", "File System"},
		{"AppleMobileFileIntegrity", "Security"},
		{"Audio Drivers", "Media"},
		{"Accessibility", "Accessibility"},
		{"Hypervisor", "Virtualization"},
		{"PackageKit", "Package Management"},
		{"Xcode", "Developer Tools"},
		{"TCC", "Privacy"},
		{"Mail", "Applications"},
		{"Broadcom BCM4308", "Drivers"},
		{"AGXGraphicsDriver", "Graphics"},
		{"SceneKit", "System Services"},
		{"Foundation", "System Services"},
		{"libxml2", "System"},
		{"", "System"},
	}
	for _, tc := range tt {
		t.Run(tc.In, func(t *testing.T) {
			if got := Normalize(tc.In); got != tc.Want {
				t.Errorf("got: %q, want: %q", got, tc.Want)
			}
		})
	}
}

func TestAllCategoriesDistinct(t *testing.T) {
	seen := map[string]struct{}{}
	for _, c := range Categories {
		if _, dup := seen[c]; dup {
			t.Errorf("duplicate category %q", c)
		}
		seen[c] = struct{}{}
	}
	for _, cat := range keywords {
		if _, ok := seen[cat]; !ok {
			t.Errorf("keyword category %q not in Categories", cat)
		}
	}
}
