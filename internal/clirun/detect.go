package clirun

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// FileReport describes one detected output file.
type FileReport struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	HumanSize string `json:"human_size"`
	FullPath  string `json:"full_path"`
}

var markerRe = regexp.MustCompile(`\[FILE_GENERATED:\s*([^\]]+)\]`)

// Directories a CLI fills with noise rather than deliverables.
var excludedDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"media_input":  true,
}

// snapshotFiles records the regular files under root before execution.
func snapshotFiles(root string) map[string]struct{} {
	snap := make(map[string]struct{})
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if excludedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		snap[p] = struct{}{}
		return nil
	})
	return snap
}

// detectOutputFiles unions three detection layers: explicit stdout markers,
// workspace-rooted paths mentioned in stdout, and files that appeared (or
// were touched) in the workspace since the run began.
func detectOutputFiles(stdout, workspacePath string, snapshot map[string]struct{}, startedAt time.Time) []FileReport {
	found := make(map[string]struct{})

	for _, m := range markerRe.FindAllStringSubmatch(stdout, -1) {
		p := strings.TrimSpace(m[1])
		if isRegularFile(p) {
			found[p] = struct{}{}
		}
	}

	if workspacePath != "" {
		pathRe := regexp.MustCompile(regexp.QuoteMeta(workspacePath) + `/[^\s"'` + "`" + `\]\)>]+`)
		for _, p := range pathRe.FindAllString(stdout, -1) {
			p = strings.TrimRight(p, ".,;:!?")
			if isRegularFile(p) {
				found[p] = struct{}{}
			}
		}

		_ = filepath.WalkDir(workspacePath, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if excludedDirs[d.Name()] {
					return filepath.SkipDir
				}
				return nil
			}
			if _, existed := snapshot[p]; !existed {
				found[p] = struct{}{}
				return nil
			}
			if info, err := d.Info(); err == nil && !info.ModTime().Before(startedAt) {
				found[p] = struct{}{}
			}
			return nil
		})
	}

	reports := make([]FileReport, 0, len(found))
	for p := range found {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		reports = append(reports, FileReport{
			Name:      filepath.Base(p),
			Size:      info.Size(),
			HumanSize: humanize.Bytes(uint64(info.Size())),
			FullPath:  p,
		})
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].FullPath < reports[j].FullPath })
	return reports
}

func isRegularFile(p string) bool {
	if !filepath.IsAbs(p) {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
