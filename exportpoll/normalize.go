package exportpoll

import (
	"strconv"
	"strings"
)

// DefaultFilename is used when neither the server nor the download ref
// yields a usable name.
const DefaultFilename = "liste_marchands.xlsx"

// statusSnapshot is the normalized view of one raw status payload. All
// normalization happens here, in one place; the poll loop only ever sees
// clean values.
type statusSnapshot struct {
	TaskID      string
	Status      string
	Progress    int
	Processed   int
	Total       int
	DownloadRef string
	Filename    string
	ErrMessage  string

	hasDownloadURL bool
	hasFilePath    bool
}

func normalizeStatus(raw map[string]interface{}) statusSnapshot {
	snap := statusSnapshot{
		TaskID:     asString(raw["task_id"]),
		Status:     strings.ToLower(strings.TrimSpace(asString(raw["status"]))),
		Progress:   coerceInt(raw["progress"]),
		Processed:  coerceInt(raw["processed"]),
		Total:      coerceInt(raw["total"]),
		ErrMessage: strings.TrimSpace(asString(raw["error"])),
	}
	if snap.Progress < 0 {
		snap.Progress = 0
	}
	if snap.Progress > 100 {
		snap.Progress = 100
	}

	fileURL := strings.TrimSpace(asString(raw["file_url"]))
	downloadURL := strings.TrimSpace(asString(raw["download_url"]))
	snap.hasDownloadURL = downloadURL != ""
	snap.hasFilePath = strings.TrimSpace(asString(raw["file_path"])) != ""
	if fileURL != "" {
		snap.DownloadRef = fileURL
	} else {
		snap.DownloadRef = downloadURL
	}

	snap.Filename = filenameFor(asString(raw["filename"]), snap.DownloadRef)
	return snap
}

// terminalError reports whether the snapshot is a failure: explicit error
// status, a populated error field, or the silent-failure shape where the
// server claims 100% but exposes nothing to download.
func (s statusSnapshot) terminalError() bool {
	if s.Status == "error" {
		return true
	}
	if s.ErrMessage != "" {
		return true
	}
	if s.Progress >= 100 && !s.hasDownloadURL && !s.hasFilePath {
		return true
	}
	return false
}

func (s statusSnapshot) complete() bool {
	return s.Status == "complete" || s.Status == "completed"
}

func filenameFor(serverName, downloadRef string) string {
	if n := strings.TrimSpace(serverName); n != "" {
		return n
	}
	ref := strings.TrimSpace(downloadRef)
	if ref != "" {
		trimmed := strings.TrimRight(ref, "/")
		if idx := strings.Index(trimmed, "?"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
			trimmed = trimmed[idx+1:]
		}
		if trimmed != "" {
			return trimmed
		}
	}
	return DefaultFilename
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

// coerceInt accepts the number-or-string variants backends emit for counters
// and defaults anything unparseable to 0.
func coerceInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			if f, ferr := strconv.ParseFloat(strings.TrimSpace(n), 64); ferr == nil {
				return int(f)
			}
			return 0
		}
		return parsed
	default:
		return 0
	}
}
