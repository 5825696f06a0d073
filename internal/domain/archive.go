package domain

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// Tier selects the retrieval speed of an archive job.
type Tier string

// Retrieval tiers
const (
	TierExpedited Tier = "Expedited"
	TierStandard  Tier = "Standard"
	TierBulk      Tier = "Bulk"
)

// TierDelay holds how long to wait before the first readiness check of a
// retrieval job and between subsequent checks.
type TierDelay struct {
	Initial time.Duration
	Retry   time.Duration
}

var tierDelays = map[Tier]TierDelay{
	TierExpedited: {Initial: 3 * time.Minute, Retry: 3 * time.Minute},
	TierStandard:  {Initial: 4 * time.Hour, Retry: 2 * time.Hour},
	TierBulk:      {Initial: 6 * time.Hour, Retry: 3 * time.Hour},
}

// Delays returns the polling schedule for the tier.
func (t Tier) Delays() (TierDelay, error) {
	d, ok := tierDelays[t]
	if !ok {
		return TierDelay{}, fmt.Errorf("%w: %q", ErrUnknownTier, t)
	}
	return d, nil
}

// Inventory polling schedule.
const (
	InventoryInitialDelay = 4 * time.Hour
	InventoryRetryDelay   = time.Hour
)

// ArchiveRecord is one archive as known to the local inventory.
// Directories have IsDir set and, when virtual, no remote counterpart.
type ArchiveRecord struct {
	ArchiveID string    `json:"archive_id"`
	VaultARN  string    `json:"vault_arn"`
	Parent    string    `json:"parent"`
	Name      string    `json:"name"`
	Uploaded  time.Time `json:"uploaded"`
	Modified  time.Time `json:"modified,omitempty"`
	TreeHash  string    `json:"tree_hash"`
	Size      int64     `json:"size"`
	IsDir     bool      `json:"is_dir"`
	IsVirtual bool      `json:"is_virtual,omitempty"`
}

// Path returns the full virtual path of the record.
func (a ArchiveRecord) Path() string {
	return a.Parent + a.Name
}

// SplitPath splits a virtual path into its parent and name. A trailing slash
// marks a directory and stays on the name: "a/b/" splits into "a/" and "b/".
func SplitPath(p string) (parent, name string, isDir bool) {
	isDir = strings.HasSuffix(p, "/")
	trimmed := strings.TrimSuffix(p, "/")

	dir, base := path.Split(trimmed)
	if isDir {
		base += "/"
	}
	return dir, base, isDir
}

// VaultInfo describes a remote vault.
type VaultInfo struct {
	ARN               string    `json:"arn"`
	Name              string    `json:"name"`
	Created           time.Time `json:"created"`
	LastInventoryDate time.Time `json:"last_inventory_date,omitempty"`
	ArchiveCount      int64     `json:"archive_count"`
	SizeInBytes       int64     `json:"size_in_bytes"`
}

// JobStatus is the state of a remote retrieval job.
type JobStatus string

// Remote job states
const (
	JobInProgress JobStatus = "InProgress"
	JobSucceeded  JobStatus = "Succeeded"
	JobFailed     JobStatus = "Failed"
)

// JobDescription is the result of polling a remote job.
type JobDescription struct {
	JobID                string    `json:"job_id"`
	Status               JobStatus `json:"status"`
	StatusMessage        string    `json:"status_message,omitempty"`
	ArchiveSizeInBytes   int64     `json:"archive_size_in_bytes"`
	InventorySizeInBytes int64     `json:"inventory_size_in_bytes"`
	TreeHash             string    `json:"tree_hash,omitempty"`
}

// ByteRange is an inclusive byte range. A zero value means the whole object.
type ByteRange struct {
	Start int64
	End   int64
}

// IsZero reports whether the range is unset.
func (r ByteRange) IsZero() bool {
	return r.Start == 0 && r.End == 0
}

// Len returns the number of bytes covered by the range.
func (r ByteRange) Len() int64 {
	return r.End - r.Start + 1
}
