package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/phrazzld/coldstore/internal/domain"
	"github.com/phrazzld/coldstore/internal/transfer"
	"github.com/phrazzld/coldstore/internal/treehash"
)

// ArchiveRequestExecutor starts an archive retrieval job and schedules its
// first check according to the retrieval tier.
type ArchiveRequestExecutor struct{}

// Execute implements Executor.
func (ArchiveRequestExecutor) Execute(ctx context.Context, t domain.Task, env *Env) (Result, error) {
	var p domain.ArchiveRequestPayload
	if err := t.DecodePayload(&p); err != nil {
		return Result{}, err
	}

	delays, err := p.Tier.Delays()
	if err != nil {
		return Result{}, err
	}

	env.progress(t, 0, "Requesting…")
	jobID, err := env.Vault.InitiateArchiveJob(ctx, p.VaultName, p.ArchiveID, p.Tier)
	if err != nil {
		return Result{}, fmt.Errorf("failed to request archive %s: %w", p.ArchiveID, err)
	}

	next, err := t.Successor(domain.KindArchiveReceive, domain.CategoryDownload, domain.PriorityDownloadFile,
		env.now().Add(delays.Initial),
		domain.ArchiveReceivePayload{
			VaultName:    p.VaultName,
			JobID:        jobID,
			SaveDir:      p.SaveDir,
			SaveName:     p.SaveName,
			DirsToCreate: p.DirsToCreate,
			TreeHash:     p.TreeHash,
			Tier:         p.Tier,
		})
	if err != nil {
		return Result{}, err
	}

	return Continue(next), nil
}

// ArchiveReceiveExecutor waits for an archive job, downloads its output
// and verifies it against the archive's tree hash. Interrupted downloads
// resume from the partial file.
type ArchiveReceiveExecutor struct{}

// Execute implements Executor.
func (ArchiveReceiveExecutor) Execute(ctx context.Context, t domain.Task, env *Env) (Result, error) {
	var p domain.ArchiveReceivePayload
	if err := t.DecodePayload(&p); err != nil {
		return Result{}, err
	}

	delays, err := p.Tier.Delays()
	if err != nil {
		return Result{}, err
	}

	return checkJob(ctx, t, env, p.VaultName, p.JobID, delays.Retry,
		func(job domain.JobDescription) (Result, error) {
			return receiveArchive(ctx, t, env, p, job)
		})
}

func receiveArchive(
	ctx context.Context,
	t domain.Task,
	env *Env,
	p domain.ArchiveReceivePayload,
	job domain.JobDescription,
) (Result, error) {
	log := env.logger()

	if info, err := os.Stat(p.SaveDir); err != nil || !info.IsDir() {
		return Result{}, Acceptable(err, "Save directory %s does not exist", p.SaveDir)
	}

	dir := p.SaveDir
	for _, name := range p.DirsToCreate {
		dir = filepath.Join(dir, name)
		if err := os.Mkdir(dir, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
			return Result{}, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	dest := p.Destination()
	if _, err := os.Lstat(dest); err == nil {
		return Result{}, Acceptable(fs.ErrExist, "File %s already exists", dest)
	}

	total := job.ArchiveSizeInBytes
	tmp := dest + ".tmp"

	var start int64
	if info, err := os.Stat(tmp); err == nil {
		start = info.Size()
		log.Info("resuming download", "file", tmp, "offset", start, "size", total)
	}

	progress := newTransferProgress(env, t, total)

	if start < total {
		if err := download(ctx, env, p, tmp, domain.ByteRange{Start: start, End: total - 1}, func(n int64) {
			progress.bytes("Downloading ", start+n)
		}); err != nil {
			return Result{}, err
		}
	} else if start == 0 {
		if err := os.WriteFile(tmp, nil, 0o644); err != nil {
			return Result{}, fmt.Errorf("failed to create %s: %w", tmp, err)
		}
	}

	sum, err := hashFile(tmp, env.Settings.VerifyChunkMiB, func(n int64) {
		progress.bytes("Checking ", n)
	})
	if err != nil {
		return Result{}, err
	}

	if !strings.EqualFold(sum.RootHex(), p.TreeHash) {
		bad := fmt.Sprintf("%s.badHash.%d", dest, env.now().Unix())
		if err := os.Rename(tmp, bad); err != nil {
			return Result{}, fmt.Errorf("%w: also failed to move %s aside: %v", ErrBadHash, tmp, err)
		}
		log.Error("downloaded archive does not match its tree hash",
			"file", bad,
			"expected", p.TreeHash,
			"actual", sum.RootHex())
		return Result{}, fmt.Errorf("%w: %s kept as %s", ErrBadHash, p.SaveName, bad)
	}

	if err := os.Rename(tmp, dest); err != nil {
		return Result{}, fmt.Errorf("failed to move %s into place: %w", tmp, err)
	}

	return Done("Saved"), nil
}

func download(
	ctx context.Context,
	env *Env,
	p domain.ArchiveReceivePayload,
	tmp string,
	rng domain.ByteRange,
	progress transfer.PositionFunc,
) error {
	body, err := env.Vault.JobOutput(ctx, p.VaultName, p.JobID, rng)
	if err != nil {
		return fmt.Errorf("failed to fetch archive: %w", err)
	}
	defer func() { _ = body.Close() }()

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", tmp, err)
	}

	_, copyErr := io.Copy(f, transfer.NewCountingReader(body, progress))
	closeErr := f.Close()
	if copyErr != nil {
		return fmt.Errorf("download interrupted: %w", copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, closeErr)
	}
	return nil
}

func hashFile(path string, chunkMiB int, progress treehash.ProgressFunc) (treehash.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return treehash.Result{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	sum, err := treehash.Sum(f, chunkMiB, progress)
	if err != nil {
		return treehash.Result{}, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return sum, nil
}
