package executor

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"time"

	"github.com/phrazzld/coldstore/internal/domain"
)

// FastGlacier stores the virtual path and modification time of an archive
// in its description. Version 4 is the only one in use.
const (
	fastGlacierVersion    = "4"
	fastGlacierTimeLayout = "20060102T150405Z"
)

var fastGlacierPattern = regexp.MustCompile(`^<m><v>(.*)</v><p>(.*)</p><lm>(.*)</lm></m>$`)

// ArchiveDescription is the decoded form of a FastGlacier description.
type ArchiveDescription struct {
	Parent   string
	Name     string
	IsDir    bool
	Modified time.Time
}

// Path returns the full virtual path.
func (d ArchiveDescription) Path() string {
	return d.Parent + d.Name
}

// EncodeDescription renders path and modified in FastGlacier's format.
// A path ending in a slash denotes a directory.
func EncodeDescription(path string, modified time.Time) string {
	p := base64.StdEncoding.EncodeToString([]byte(path))
	return fmt.Sprintf("<m><v>%s</v><p>%s</p><lm>%s</lm></m>",
		fastGlacierVersion, p, modified.UTC().Format(fastGlacierTimeLayout))
}

// DecodeDescription parses a FastGlacier description.
func DecodeDescription(s string) (ArchiveDescription, error) {
	m := fastGlacierPattern.FindStringSubmatch(s)
	if m == nil {
		return ArchiveDescription{}, fmt.Errorf("%w: not a FastGlacier description", domain.ErrInvalidFormat)
	}

	if m[1] != fastGlacierVersion {
		return ArchiveDescription{}, fmt.Errorf("%w: FastGlacier version %q", domain.ErrInvalidFormat, m[1])
	}

	raw, err := base64.StdEncoding.DecodeString(m[2])
	if err != nil {
		return ArchiveDescription{}, fmt.Errorf("%w: path: %v", domain.ErrInvalidFormat, err)
	}

	modified, err := time.Parse(fastGlacierTimeLayout, m[3])
	if err != nil {
		return ArchiveDescription{}, fmt.Errorf("%w: modification time: %v", domain.ErrInvalidFormat, err)
	}

	parent, name, isDir := domain.SplitPath(string(raw))
	return ArchiveDescription{Parent: parent, Name: name, IsDir: isDir, Modified: modified}, nil
}

// InventoryJobDescription is the description FastGlacier gives inventory
// jobs, carrying the base64 client id.
func InventoryJobDescription(clientID string) string {
	e := base64.StdEncoding.EncodeToString([]byte(clientID))
	return fmt.Sprintf("<a><b>4</b><e>%s</e><f>0:0::0</f><g>0</g></a>", e)
}

// archiveDescription is the remote description of an upload saved as path.
func (s Settings) archiveDescription(path string, modified time.Time) string {
	if s.FastGlacierNaming {
		return EncodeDescription(path, modified)
	}
	return path
}
