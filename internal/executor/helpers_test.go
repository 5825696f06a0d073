package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/coldstore/internal/domain"
	"github.com/phrazzld/coldstore/internal/platform/logger"
	"github.com/stretchr/testify/require"
)

const (
	testVaultName = "photos"
	testVaultARN  = "arn:aws:glacier:us-east-1:012345678901:vaults/photos"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeVault is an in-memory remote service.
type fakeVault struct {
	mu sync.Mutex

	jobs       map[string]domain.JobDescription
	outputs    map[string][]byte
	describeFn func(jobID string) (domain.JobDescription, error)

	inventoryJobs []string // descriptions
	archiveJobs   []string // archive ids
	outputRanges  []domain.ByteRange

	uploads       map[string][]byte // archive id -> body
	descriptions  map[string]string // archive id -> description
	multipart     map[string]map[int64][]byte
	partHashes    map[string][]string
	partSizes     []int64
	completeErr   error
	completeCalls int

	nextID int
}

func newFakeVault() *fakeVault {
	return &fakeVault{
		jobs:         make(map[string]domain.JobDescription),
		outputs:      make(map[string][]byte),
		uploads:      make(map[string][]byte),
		descriptions: make(map[string]string),
		multipart:    make(map[string]map[int64][]byte),
		partHashes:   make(map[string][]string),
	}
}

func (v *fakeVault) id(prefix string) string {
	v.nextID++
	return fmt.Sprintf("%s-%d", prefix, v.nextID)
}

func (v *fakeVault) InitiateInventoryJob(_ context.Context, _, _, description string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.inventoryJobs = append(v.inventoryJobs, description)
	return v.id("inventory-job"), nil
}

func (v *fakeVault) InitiateArchiveJob(_ context.Context, _, archiveID string, _ domain.Tier) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.archiveJobs = append(v.archiveJobs, archiveID)
	return v.id("archive-job"), nil
}

func (v *fakeVault) DescribeJob(_ context.Context, _, jobID string) (domain.JobDescription, error) {
	if v.describeFn != nil {
		return v.describeFn(jobID)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	job, ok := v.jobs[jobID]
	if !ok {
		return domain.JobDescription{}, errors.New("no such job")
	}
	return job, nil
}

func (v *fakeVault) JobOutput(_ context.Context, _, jobID string, rng domain.ByteRange) (io.ReadCloser, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.outputRanges = append(v.outputRanges, rng)
	data, ok := v.outputs[jobID]
	if !ok {
		return nil, errors.New("no output")
	}
	if !rng.IsZero() {
		data = data[rng.Start : rng.End+1]
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (v *fakeVault) UploadArchive(_ context.Context, _, description, _ string, body io.ReadSeeker) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	id := v.id("archive")
	v.uploads[id] = data
	v.descriptions[id] = description
	return id, nil
}

func (v *fakeVault) InitiateMultipartUpload(_ context.Context, _, description string, partSize int64) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := v.id("upload")
	v.multipart[id] = make(map[int64][]byte)
	v.descriptions[id] = description
	v.partSizes = append(v.partSizes, partSize)
	return id, nil
}

func (v *fakeVault) UploadPart(_ context.Context, _, uploadID, treeHash string, rng domain.ByteRange, body io.ReadSeeker) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if int64(len(data)) != rng.Len() {
		return fmt.Errorf("body is %d bytes, range is %d", len(data), rng.Len())
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	parts, ok := v.multipart[uploadID]
	if !ok {
		return errors.New("no such upload")
	}
	parts[rng.Start] = data
	v.partHashes[uploadID] = append(v.partHashes[uploadID], treeHash)
	return nil
}

func (v *fakeVault) CompleteMultipartUpload(_ context.Context, _, uploadID string, _ int64, _ string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.completeCalls++
	if v.completeErr != nil {
		return "", v.completeErr
	}
	return "archive-of-" + uploadID, nil
}

func (v *fakeVault) ListVaults(context.Context) ([]domain.VaultInfo, error) {
	return []domain.VaultInfo{{ARN: testVaultARN, Name: testVaultName}}, nil
}

// fakeInventory keeps records in memory.
type fakeInventory struct {
	mu       sync.Mutex
	records  map[string]domain.ArchiveRecord
	replaced int
}

func newFakeInventory() *fakeInventory {
	return &fakeInventory{records: make(map[string]domain.ArchiveRecord)}
}

func (i *fakeInventory) Replace(_ context.Context, vaultARN string, _ time.Time, fill func(put func(domain.ArchiveRecord) error) error) error {
	next := make(map[string]domain.ArchiveRecord)
	err := fill(func(rec domain.ArchiveRecord) error {
		rec.VaultARN = vaultARN
		next[rec.ArchiveID] = rec
		return nil
	})
	if err != nil {
		return err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.records = next
	i.replaced++
	return nil
}

func (i *fakeInventory) Put(_ context.Context, rec domain.ArchiveRecord) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.records[rec.ArchiveID] = rec
	return nil
}

func (i *fakeInventory) FindByDigest(_ context.Context, vaultARN string, size int64, treeHash string) ([]domain.ArchiveRecord, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	var out []domain.ArchiveRecord
	for _, rec := range i.records {
		if rec.VaultARN == vaultARN && rec.Size == size && rec.TreeHash == treeHash && !rec.IsDir {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (i *fakeInventory) FindByPathPrefix(_ context.Context, vaultARN, prefix string) ([]domain.ArchiveRecord, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	var out []domain.ArchiveRecord
	for _, rec := range i.records {
		if rec.VaultARN == vaultARN && len(rec.Path()) >= len(prefix) && rec.Path()[:len(prefix)] == prefix {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (i *fakeInventory) get(id string) (domain.ArchiveRecord, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	rec, ok := i.records[id]
	return rec, ok
}

// fakeUploads mirrors the unique (upload, part) records of the part tracker.
type fakeUploads struct {
	mu       sync.Mutex
	parts    map[string]map[int]bool
	released []int
}

func newFakeUploads() *fakeUploads {
	return &fakeUploads{parts: make(map[string]map[int]bool)}
}

func (u *fakeUploads) Record(_ context.Context, uploadID string, part int) (int, bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.parts[uploadID] == nil {
		u.parts[uploadID] = make(map[int]bool)
	}
	inserted := !u.parts[uploadID][part]
	u.parts[uploadID][part] = true
	return len(u.parts[uploadID]), inserted, nil
}

func (u *fakeUploads) Forget(_ context.Context, uploadID string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.parts, uploadID)
	return nil
}

func (u *fakeUploads) Release(_ context.Context, uploadID string, part int) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.parts[uploadID], part)
	u.released = append(u.released, part)
	return nil
}

// recorder collects emitted events.
type recorder struct {
	mu     sync.Mutex
	events []domain.OutputEvent
}

func (r *recorder) emit(ev domain.OutputEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Message
	}
	return out
}

type testEnv struct {
	*Env
	vault     *fakeVault
	inventory *fakeInventory
	uploads   *fakeUploads
	events    *recorder
	logs      *logger.TestLogBuffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log, buf := logger.GetTestLogger(t)
	te := &testEnv{
		vault:     newFakeVault(),
		inventory: newFakeInventory(),
		uploads:   newFakeUploads(),
		events:    &recorder{},
		logs:      buf,
	}

	settings := DefaultSettings()
	settings.ChunkSizeMiB = 1
	settings.VerifyChunkMiB = 1
	settings.ProgressInterval = 0

	te.Env = &Env{
		Vault:     te.vault,
		Inventory: te.inventory,
		Uploads:   te.uploads,
		Settings:  settings,
		Emit:      te.events.emit,
		Now:       func() time.Time { return testNow },
		Logger:    log,
	}
	return te
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/1024)
	}
	return b
}

func taskOf(t *testing.T, kind domain.Kind, payload any) domain.Task {
	t.Helper()
	task, err := domain.NewTask("test "+string(kind), kind, domain.CategoryMeta, domain.PriorityMeta, payload)
	require.NoError(t, err)
	return task
}
