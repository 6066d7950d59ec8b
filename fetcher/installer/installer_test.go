package installer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quay/zlog"

	"github.com/macadmins/sofa/internal/httpcache"
)

const ipswFixture = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
  <key>MobileDeviceSoftwareVersionsByVersion</key>
  <dict>
    <key>1</key>
    <dict>
      <key>MobileDeviceSoftwareVersions</key>
      <dict>
        <key>Mac</key>
        <dict>
          <key>Unknown</key>
          <dict>
            <key>Universal</key>
            <dict>
              <key>Restore</key>
              <dict>
                <key>ProductVersion</key><string>15.3</string>
                <key>BuildVersion</key><string>24D60</string>
                <key>FirmwareURL</key><string>https://updates.cdn-apple.com/2025/052-12345/UniversalMac_15.3_24D60_Restore.ipsw</string>
              </dict>
            </dict>
          </dict>
        </dict>
        <key>OldMac</key>
        <dict>
          <key>Restore</key>
          <dict>
            <key>ProductVersion</key><string>14.7.2</string>
            <key>BuildVersion</key><string>23H311</string>
            <key>FirmwareURL</key><string>https://updates.cdn-apple.com/2024/041-99999/UniversalMac_14.7.2_23H311_Restore.ipsw</string>
          </dict>
        </dict>
      </dict>
    </dict>
  </dict>
</dict>
</plist>`

func umaCatalogFixture(base string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
  <key>Products</key>
  <dict>
    <key>072-10001</key>
    <dict>
      <key>Packages</key>
      <array>
        <dict><key>URL</key><string>%s/pkgs/sequoia/InstallAssistant.pkg</string></dict>
      </array>
      <key>Distributions</key>
      <dict>
        <key>English</key><string>%s/dist/072-10001.English.dist</string>
      </dict>
      <key>ExtendedMetaInfo</key>
      <dict>
        <key>InstallAssistantPackageIdentifiers</key>
        <dict><key>SharedSupport</key><string>com.apple.pkg.InstallAssistant.macOSSequoia</string></dict>
      </dict>
    </dict>
    <key>072-10002</key>
    <dict>
      <key>Packages</key>
      <array>
        <dict><key>URL</key><string>%s/pkgs/sonoma/InstallAssistant.pkg</string></dict>
      </array>
      <key>Distributions</key>
      <dict>
        <key>English</key><string>%s/dist/072-10002.English.dist</string>
      </dict>
      <key>ExtendedMetaInfo</key>
      <dict>
        <key>InstallAssistantPackageIdentifiers</key>
        <dict><key>SharedSupport</key><string>com.apple.pkg.InstallAssistant.macOSSonoma</string></dict>
      </dict>
    </dict>
    <key>072-10003</key>
    <dict>
      <key>Packages</key>
      <array>
        <dict><key>URL</key><string>%s/pkgs/other/SomeUpdate.pkg</string></dict>
      </array>
    </dict>
  </dict>
</dict>
</plist>`, base, base, base, base, base)
}

func distFixture(title, version, build string) string {
	return fmt.Sprintf(`<?xml version="1.0"?>
<installer-gui-script minSpecVersion="2">
  <title>%s</title>
  <auxinfo>
    <dict>
      <key>BUILD</key>
      <string>%s</string>
      <key>VERSION</key>
      <string>%s</string>
    </dict>
  </auxinfo>
</installer-gui-script>`, title, build, version)
}

func TestFetch(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/ipsw.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(ipswFixture))
	})
	mux.HandleFunc("/uma.sucatalog", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(umaCatalogFixture(srv.URL)))
	})
	mux.HandleFunc("/dist/072-10001.English.dist", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(distFixture("macOS Sequoia", "15.3", "24D60")))
	})
	mux.HandleFunc("/dist/072-10002.English.dist", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(distFixture("macOS Sonoma", "14.7.2", "23H311")))
	})

	resourceDir := t.TempDir()
	cache, err := httpcache.New(t.TempDir(), srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	f := New(cache, Config{
		IPSWCatalogURL: srv.URL + "/ipsw.xml",
		UMACatalogURL:  srv.URL + "/uma.sucatalog",
	}, resourceDir)
	if err := f.Fetch(ctx); err != nil {
		t.Fatal(err)
	}

	apps, err := Load(resourceDir)
	if err != nil {
		t.Fatal(err)
	}
	if apps == nil {
		t.Fatal("no annex written")
	}
	if apps.LatestMacIPSW.Version != "15.3" || apps.LatestMacIPSW.Build != "24D60" {
		t.Errorf("ipsw: %+v", apps.LatestMacIPSW)
	}
	if apps.LatestMacIPSW.AppleSlug != "052-12345" {
		t.Errorf("slug: %q", apps.LatestMacIPSW.AppleSlug)
	}
	if apps.LatestUMA.Title != "macOS Sequoia" || apps.LatestUMA.Version != "15.3" {
		t.Errorf("latest uma: %+v", apps.LatestUMA)
	}
	if len(apps.AllPreviousUMA) != 1 || apps.AllPreviousUMA[0].Version != "14.7.2" {
		t.Errorf("previous uma: %+v", apps.AllPreviousUMA)
	}
}

func TestLoadAbsent(t *testing.T) {
	apps, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if apps != nil {
		t.Errorf("got: %+v", apps)
	}
}
