// Package checks orchestrates per-file and per-release validation of new
// revisions: routing files to checker tasks by suffix, recording findings,
// and reusing prior results keyed by content hash.
package checks

import "strings"

// suffixRoutes maps filename suffixes to the checker task types that consume
// them. Longer suffixes are listed first where they overlap.
var suffixRoutes = []struct {
	suffix string
	types  []string
}{
	{".asc", []string{"signature-check"}},
	{".sha256", []string{"hashing-check"}},
	{".sha512", []string{"hashing-check"}},
	{".tar.gz", archiveCheckers("targz")},
	{".tgz", archiveCheckers("targz")},
	{".zip", archiveCheckers("zipformat")},
	{".cdx.json", []string{"sbom-tool-score"}},
}

func archiveCheckers(format string) []string {
	return []string{
		"license-files",
		"license-headers",
		"rat-check",
		format + "-integrity",
		format + "-structure",
	}
}

// CheckersForFile returns the checker task types selected for one file,
// by filename suffix. Most files select none.
func CheckersForFile(name string) []string {
	for _, route := range suffixRoutes {
		if strings.HasSuffix(name, route.suffix) {
			return route.types
		}
	}
	return nil
}
