package exportpoll

import "testing"

func TestDownloadRefPrefersFileURL(t *testing.T) {
	snap := normalizeStatus(map[string]interface{}{
		"status":       "complete",
		"file_url":     "https://oss.example.com/a.xlsx",
		"download_url": "https://oss.example.com/b.xlsx",
	})
	if snap.DownloadRef != "https://oss.example.com/a.xlsx" {
		t.Fatalf("download ref = %q", snap.DownloadRef)
	}

	snap = normalizeStatus(map[string]interface{}{
		"status":       "complete",
		"download_url": "https://oss.example.com/b.xlsx",
	})
	if snap.DownloadRef != "https://oss.example.com/b.xlsx" {
		t.Fatalf("download ref fallback = %q", snap.DownloadRef)
	}
}

func TestFilenameFallbackChain(t *testing.T) {
	cases := []struct {
		name        string
		serverName  string
		downloadRef string
		want        string
	}{
		{"server name wins", "export.xlsx", "https://x/y/z.xlsx", "export.xlsx"},
		{"last path segment", "", "https://x/y/z.xlsx", "z.xlsx"},
		{"query stripped", "", "https://x/y/z.xlsx?sig=abc", "z.xlsx"},
		{"default", "", "", DefaultFilename},
		{"trailing slash", "", "https://x/y/", "y"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := filenameFor(tc.serverName, tc.downloadRef); got != tc.want {
				t.Fatalf("filenameFor(%q, %q) = %q, want %q", tc.serverName, tc.downloadRef, got, tc.want)
			}
		})
	}
}

func TestStatusCaseInsensitive(t *testing.T) {
	for _, raw := range []string{"Complete", "COMPLETED", "complete"} {
		snap := normalizeStatus(map[string]interface{}{"status": raw, "download_url": "/f.xlsx"})
		if !snap.complete() {
			t.Fatalf("status %q not treated as complete", raw)
		}
	}
	snap := normalizeStatus(map[string]interface{}{"status": "Error"})
	if !snap.terminalError() {
		t.Fatal("mixed-case error status not terminal")
	}
}
