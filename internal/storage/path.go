package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

const (
	DocumentsRoot = "documents"
	ArchivesRoot  = "history"
)

var (
	pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)
	unsafeFileChars      = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
)

// BuildDocumentPath places the index-th file of an ingestion job under the
// job's directory. The original file name is kept in sanitized form.
func BuildDocumentPath(jobID string, index int, fileName string) (string, error) {
	if err := validatePathComponent(jobID, "job id"); err != nil {
		return "", err
	}
	if index < 0 {
		return "", fmt.Errorf("file index must be >= 0")
	}
	return path.Join(DocumentsRoot, jobID, fmt.Sprintf("%03d_%s", index, SanitizeFileName(fileName))), nil
}

// BuildDocumentIndexPath is where the JSON index entry for a stored document
// lives.
func BuildDocumentIndexPath(documentKey string) string {
	return documentKey + ".index.json"
}

// BuildHistoryArchivePath partitions history archives by UTC day.
func BuildHistoryArchivePath(archivedAt time.Time, sequence int) (string, error) {
	if sequence < 0 {
		return "", fmt.Errorf("sequence must be >= 0")
	}
	ts := archivedAt.UTC()
	return path.Join(
		ArchivesRoot,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("history-%s-%05d.parquet", ts.Format("150405.000000000"), sequence),
	), nil
}

// SanitizeFileName reduces an uploaded file name to its base name with any
// character outside [a-zA-Z0-9._-] replaced by an underscore.
func SanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	base := path.Base(strings.TrimSpace(name))
	if base == "." || base == "/" || base == ".." {
		base = ""
	}
	base = unsafeFileChars.ReplaceAllString(base, "_")
	base = strings.TrimLeft(base, ".")
	if base == "" {
		return "upload"
	}
	return base
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
