package catalog

import (
	"fmt"
	"os"
	"regexp"
	"strconv"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// BranchGroups holds the "(catalog-id, branch-group-name) -> branch-name"
// mapping described in spec.md §4.4, loaded from a separate YAML file with
// per-project exact entries and a "*" wildcard group.
type BranchGroups struct {
	// Projects maps catalog path -> branch-group-name -> branch-name.
	Projects map[string]map[string]string `yaml:"projects"`
	// Wildcard maps branch-group-name -> branch-name, applied when a
	// project has no specific entry.
	Wildcard map[string]string `yaml:"wildcard"`
}

// LoadBranchGroups reads the branch-group policy file.
func LoadBranchGroups(path string) (*BranchGroups, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var bg BranchGroups
	if err := yaml.Unmarshal(buf, &bg); err != nil {
		return nil, err
	}
	return &bg, nil
}

// Resolve returns the branch name for catalogPath under branchGroup, or ""
// (meaning "elide this project from the build", spec.md §4.4 and P7).
func (bg *BranchGroups) Resolve(catalogPath, branchGroup string) string {
	if bg == nil || branchGroup == "" {
		return ""
	}
	if perProject, ok := bg.Projects[catalogPath]; ok {
		if branch, ok := perProject[branchGroup]; ok {
			return branch
		}
	}
	return bg.Wildcard[branchGroup]
}

// LatestSentinel is the branch-group policy value meaning "pick the newest
// stable release branch from the remote" instead of a fixed branch name.
const LatestSentinel = "latest"

var releaseBranchPattern = regexp.MustCompile(`^release/(\d+)\.(\d+)$`)

// LatestReleaseBranch picks the newest "release/X.Y" branch among
// candidates, comparing releases numerically via golang.org/x/mod/semver
// after normalizing "release/25.08" to the "vX.Y.0" form semver.Compare
// expects. Returns ok=false if no candidate matches the release/X.Y shape.
func LatestReleaseBranch(candidates []string) (branch string, ok bool) {
	var best, bestNormalized string
	for _, c := range candidates {
		m := releaseBranchPattern.FindStringSubmatch(c)
		if m == nil {
			continue
		}
		// semver rejects leading zeros ("v24.08.0"), so parse the numbers.
		major, _ := strconv.Atoi(m[1])
		minor, _ := strconv.Atoi(m[2])
		normalized := fmt.Sprintf("v%d.%d.0", major, minor)
		if !semver.IsValid(normalized) {
			continue
		}
		if best == "" || semver.Compare(normalized, bestNormalized) > 0 {
			best, bestNormalized = c, normalized
		}
	}
	return best, best != ""
}
