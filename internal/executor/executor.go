package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/phrazzld/coldstore/internal/domain"
)

// Vault is the remote archive service.
type Vault interface {
	InitiateInventoryJob(ctx context.Context, vaultName, format, description string) (jobID string, err error)
	InitiateArchiveJob(ctx context.Context, vaultName, archiveID string, tier domain.Tier) (jobID string, err error)
	DescribeJob(ctx context.Context, vaultName, jobID string) (domain.JobDescription, error)

	// JobOutput streams the output of a finished job. A zero range
	// requests the whole output.
	JobOutput(ctx context.Context, vaultName, jobID string, rng domain.ByteRange) (io.ReadCloser, error)

	UploadArchive(ctx context.Context, vaultName, description, treeHash string, body io.ReadSeeker) (archiveID string, err error)
	InitiateMultipartUpload(ctx context.Context, vaultName, description string, partSize int64) (uploadID string, err error)
	UploadPart(ctx context.Context, vaultName, uploadID, treeHash string, rng domain.ByteRange, body io.ReadSeeker) error
	CompleteMultipartUpload(ctx context.Context, vaultName, uploadID string, size int64, treeHash string) (archiveID string, err error)

	ListVaults(ctx context.Context) ([]domain.VaultInfo, error)
}

// Inventory is the local copy of vault contents.
type Inventory interface {
	Replace(ctx context.Context, vaultARN string, at time.Time, fill func(put func(domain.ArchiveRecord) error) error) error
	Put(ctx context.Context, rec domain.ArchiveRecord) error
	FindByDigest(ctx context.Context, vaultARN string, size int64, treeHash string) ([]domain.ArchiveRecord, error)
	FindByPathPrefix(ctx context.Context, vaultARN, prefix string) ([]domain.ArchiveRecord, error)
}

// Uploads tracks which parts of multipart uploads have been sent.
type Uploads interface {
	Record(ctx context.Context, uploadID string, part int) (count int, inserted bool, err error)
	Forget(ctx context.Context, uploadID string) error
	Release(ctx context.Context, uploadID string, part int) error
}

// Settings are the user preferences that shape uploads and downloads.
type Settings struct {
	// ChunkSizeMiB is the multipart part size and the tree hash chunk size
	// of uploads. It must be a power of two.
	ChunkSizeMiB int

	// VerifyChunkMiB is the chunk size used when re-hashing downloads.
	VerifyChunkMiB int

	// ClientID is embedded in inventory job descriptions.
	ClientID string

	// FastGlacierNaming stores paths in FastGlacier's description format
	// instead of as plain text.
	FastGlacierNaming bool

	// CheckDuplicates refuses every upload whose content is already in the
	// inventory, whatever the task asks for.
	CheckDuplicates bool

	// ProgressInterval is the minimum gap between transfer progress events.
	ProgressInterval time.Duration
}

// DefaultSettings returns the settings used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		ChunkSizeMiB:      16,
		VerifyChunkMiB:    256,
		FastGlacierNaming: true,
		ProgressInterval:  200 * time.Millisecond,
	}
}

func (s Settings) chunkBytes() int64 {
	return int64(s.ChunkSizeMiB) << 20
}

// Env is everything an executor may touch.
type Env struct {
	Vault     Vault
	Inventory Inventory
	Uploads   Uploads
	Settings  Settings

	// Emit receives progress events. Nil drops them.
	Emit func(domain.OutputEvent)

	// Now is the clock. Nil means time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Env) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Env) emit(t domain.Task, status domain.Status, percent float64, message string) {
	if e.Emit != nil {
		e.Emit(domain.NewOutputEvent(t, status, percent, message))
	}
}

// progress reports an ACTIVE step of t.
func (e *Env) progress(t domain.Task, percent float64, message string) {
	e.emit(t, domain.StatusActive, percent, message)
}

// Result is the outcome of a task that did not fail. A result with
// successors continues the task; one without finishes it with Message.
type Result struct {
	Message    string
	Successors []domain.Task
}

// Done finishes a task.
func Done(message string) Result {
	return Result{Message: message}
}

// Continue replaces a task with its successors.
func Continue(successors ...domain.Task) Result {
	return Result{Successors: successors}
}

// Continues reports whether the result replaces the task.
func (r Result) Continues() bool {
	return len(r.Successors) > 0
}

// Executor runs tasks of one kind.
type Executor interface {
	Execute(ctx context.Context, t domain.Task, env *Env) (Result, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, t domain.Task, env *Env) (Result, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, t domain.Task, env *Env) (Result, error) {
	return f(ctx, t, env)
}

// Errors returned by executors.
var (
	// ErrNoExecutor is returned for a kind without a registered executor.
	ErrNoExecutor = errors.New("no executor for task kind")

	// ErrBadHash is returned when downloaded data does not match the
	// archive's tree hash. The data is kept next to the destination.
	ErrBadHash = errors.New("tree hash mismatch")

	// ErrFileChanged is returned when a file changed size between the
	// start of its upload and the upload of one of its parts.
	ErrFileChanged = errors.New("file changed during upload")

	// ErrJobFailed is returned when a remote job ended without success.
	ErrJobFailed = errors.New("remote job failed")
)

// AcceptableError is an expected, user-facing failure such as a duplicate
// upload. It fails the task without being logged as an error.
type AcceptableError struct {
	Message string
	Err     error
}

// Acceptable wraps err, which may be nil, as an AcceptableError.
func Acceptable(err error, format string, args ...any) *AcceptableError {
	return &AcceptableError{Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *AcceptableError) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *AcceptableError) Unwrap() error {
	return e.Err
}

// IsAcceptable reports whether err is or wraps an AcceptableError.
func IsAcceptable(err error) bool {
	var ae *AcceptableError
	return errors.As(err, &ae)
}

// Registry maps each task kind to its executor.
type Registry struct {
	executors map[domain.Kind]Executor
}

// NewRegistry returns a registry with an executor for every kind.
func NewRegistry() *Registry {
	r := &Registry{executors: make(map[domain.Kind]Executor)}
	r.Register(domain.KindDummy, DummyExecutor{})
	r.Register(domain.KindInventoryRequest, InventoryRequestExecutor{})
	r.Register(domain.KindInventoryReceive, InventoryReceiveExecutor{})
	r.Register(domain.KindArchiveRequest, ArchiveRequestExecutor{})
	r.Register(domain.KindArchiveReceive, ArchiveReceiveExecutor{})
	r.Register(domain.KindArchiveUpload, ArchiveUploadExecutor{})
	r.Register(domain.KindArchivePartUpload, PartUploadExecutor{})
	return r
}

// Register sets the executor of kind, replacing any previous one.
func (r *Registry) Register(kind domain.Kind, ex Executor) {
	r.executors[kind] = ex
}

// For returns the executor of kind.
func (r *Registry) For(kind domain.Kind) (Executor, error) {
	ex, ok := r.executors[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoExecutor, kind)
	}
	return ex, nil
}
