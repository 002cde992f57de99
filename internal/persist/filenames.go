package persist

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	snapshotPrefix = "snapshot."
)

// SnapshotPath returns the path of the snapshot taken at ts within dir.
func SnapshotPath(dir string, ts int64) string {
	return filepath.Join(dir, fmt.Sprintf("%s%d", snapshotPrefix, ts))
}

// ListSnapshots returns the numeric suffixes of every snapshot.<ts> file in
// dir, sorted ascending.
func ListSnapshots(dir string) ([]int64, error) {
	return listNumberedFiles(dir, snapshotPrefix)
}

func listNumberedFiles(dir string, prefix string) ([]int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimPrefix(e.Name(), prefix), 10, 64)
		if err != nil {
			// not one of ours, ignore (e.g. a non-numeric suffix)
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
