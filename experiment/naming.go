package experiment

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// File-name grammar
//
//	segment   = stem "_" index "." ext      e.g. MD_1abc_3.gro
//	stem      = suffix "_" code             (SegmentStem)
//	index     = 1*DIGIT
//	replicate = prefix index                e.g. R_2
//	snapshot  = parent "_" code "_" trial "_" replicate "_" unix "." ext
//
// Any name containing BackupMarker is an engine backup and never a segment.

// BackupMarker is the character the engine uses to mark backup files.
const BackupMarker = '#'

// SegmentStem returns the stem shared by every stage output of a system.
func SegmentStem(suffix, code string) string {
	return suffix + "_" + code
}

// SegmentName formats a stage output file name. ext may carry a leading dot.
func SegmentName(stem string, index int, ext string) string {
	return fmt.Sprintf("%s_%d.%s", stem, index, trimDot(ext))
}

// ParseSegmentIndex extracts the trailing integer of a name that follows
// "<anything>_<index>.<ext>". Directory components are ignored.
func ParseSegmentIndex(name string) (int, error) {
	base := filepath.Base(name)
	us := strings.LastIndexByte(base, '_')
	if us < 0 {
		return 0, fmt.Errorf("segment name %q: missing _<index>", name)
	}
	rest := base[us+1:]
	dot := strings.IndexByte(rest, '.')
	if dot <= 0 || dot == len(rest)-1 {
		return 0, fmt.Errorf("segment name %q: missing <index>.<ext>", name)
	}
	digits := rest[:dot]
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("segment name %q: index %q is not a non-negative integer", name, digits)
		}
	}
	idx, err := strconv.Atoi(digits)
	if err != nil {
		return 0, fmt.Errorf("segment name %q: %w", name, err)
	}
	return idx, nil
}

// IsBackup reports whether name carries the engine's backup marker.
func IsBackup(name string) bool {
	return strings.ContainsRune(name, BackupMarker)
}

// ReplaceExt swaps the final extension of path for ext.
func ReplaceExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + "." + trimDot(ext)
}

// SpliceSuffix inserts suffix between the stem and the extension of path.
//
//	SpliceSuffix("data/R_1/MD_x_0.xtc", "-nojump") == "data/R_1/MD_x_0-nojump.xtc"
func SpliceSuffix(path, suffix string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + suffix + ext
}

// ReplicateLabel formats the replicate directory name.
func ReplicateLabel(prefix string, idx int) string {
	return prefix + strconv.Itoa(idx)
}

// SnapshotName formats a snapshot file name from its identity and creation time.
func SnapshotName(stem string, unix int64, ext string) string {
	return fmt.Sprintf("%s_%d.%s", stem, unix, trimDot(ext))
}

// SnapshotStem is the default snapshot stem for an identity.
func SnapshotStem(parent string, id Identity) string {
	return strings.Join([]string{parent, id.Code, id.Trial, strconv.Itoa(id.Replicate)}, "_")
}

func trimDot(ext string) string {
	return strings.TrimPrefix(ext, ".")
}
