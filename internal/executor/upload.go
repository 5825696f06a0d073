package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/phrazzld/coldstore/internal/domain"
	"github.com/phrazzld/coldstore/internal/transfer"
	"github.com/phrazzld/coldstore/internal/treehash"
)

// directoryBody is the content uploaded for a directory archive, following
// FastGlacier. Its tree hash is taken with 1 MiB chunks.
var directoryBody = []byte("0")

// ArchiveUploadExecutor hashes a local file and uploads it, in one request
// when it fits in a single chunk and otherwise by continuing into one
// ARCHIVE_PART_UPLOAD task per chunk. Directories become one-byte marker
// archives.
type ArchiveUploadExecutor struct{}

// Execute implements Executor.
func (ArchiveUploadExecutor) Execute(ctx context.Context, t domain.Task, env *Env) (Result, error) {
	var p domain.ArchiveUploadPayload
	if err := t.DecodePayload(&p); err != nil {
		return Result{}, err
	}

	env.progress(t, 0, "Preparing…")

	info, err := os.Stat(p.File)
	if err != nil {
		return Result{}, Acceptable(err, "Cannot read %s", p.File)
	}

	saveAs := p.SaveAsPath + p.SaveAsName
	if p.SaveAsName == "" {
		saveAs = p.SaveAsPath + filepath.Base(p.File)
	}
	if info.IsDir() && !strings.HasSuffix(saveAs, "/") {
		saveAs += "/"
	}

	if info.IsDir() {
		sum, err := treehash.SumBytes(directoryBody, 1)
		if err != nil {
			return Result{}, err
		}
		return uploadWhole(ctx, env, p, saveAs, info, sum, bytes.NewReader(directoryBody))
	}

	size := info.Size()
	progress := newTransferProgress(env, t, size)
	sum, err := hashFile(p.File, env.Settings.ChunkSizeMiB, func(n int64) {
		progress.percentOnly("Checksum ", n)
	})
	if err != nil {
		return Result{}, err
	}

	if p.CheckForDuplicates || env.Settings.CheckDuplicates {
		same, err := env.Inventory.FindByDigest(ctx, p.VaultARN, size, sum.RootHex())
		if err != nil {
			return Result{}, fmt.Errorf("failed to look for duplicates: %w", err)
		}
		if len(same) > 0 {
			paths := make([]string, len(same))
			for i, rec := range same {
				paths[i] = rec.Path()
			}
			return Result{}, Acceptable(nil, "Same file exists: %s", strings.Join(paths, ","))
		}
	}

	env.logger().Info("initiating upload", "file", p.File, "save_as", saveAs, "size", size)

	if size <= env.Settings.chunkBytes() {
		f, err := os.Open(p.File)
		if err != nil {
			return Result{}, fmt.Errorf("failed to open %s: %w", p.File, err)
		}
		defer func() { _ = f.Close() }()

		body := transfer.NewProgressReader(f, func(pos int64) {
			progress.bytes("Uploading ", pos)
		})
		return uploadWhole(ctx, env, p, saveAs, info, sum, body)
	}

	return initiateMultipart(ctx, t, env, p, saveAs, info, sum)
}

func uploadWhole(
	ctx context.Context,
	env *Env,
	p domain.ArchiveUploadPayload,
	saveAs string,
	info os.FileInfo,
	sum treehash.Result,
	body io.ReadSeeker,
) (Result, error) {
	description := env.Settings.archiveDescription(saveAs, info.ModTime())

	archiveID, err := env.Vault.UploadArchive(ctx, p.VaultName, description, sum.RootHex(), body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to upload %s: %w", p.File, err)
	}

	parent, name, isDir := domain.SplitPath(saveAs)
	rec := domain.ArchiveRecord{
		ArchiveID: archiveID,
		VaultARN:  p.VaultARN,
		Parent:    parent,
		Name:      name,
		Uploaded:  env.now().UTC(),
		Modified:  info.ModTime().UTC(),
		TreeHash:  sum.RootHex(),
		Size:      sum.Size,
		IsDir:     isDir,
	}
	if err := env.Inventory.Put(ctx, rec); err != nil {
		return Result{}, fmt.Errorf("uploaded %s but failed to record it: %w", saveAs, err)
	}

	return Done("Uploaded"), nil
}

func initiateMultipart(
	ctx context.Context,
	t domain.Task,
	env *Env,
	p domain.ArchiveUploadPayload,
	saveAs string,
	info os.FileInfo,
	sum treehash.Result,
) (Result, error) {
	partSize := env.Settings.chunkBytes()
	description := env.Settings.archiveDescription(saveAs, info.ModTime())

	uploadID, err := env.Vault.InitiateMultipartUpload(ctx, p.VaultName, description, partSize)
	if err != nil {
		return Result{}, fmt.Errorf("failed to initiate upload of %s: %w", p.File, err)
	}

	base := filepath.Base(p.File)
	group := domain.NewGroupID(base)
	parts := sum.ChunksHex()
	size := info.Size()

	successors := make([]domain.Task, 0, len(parts))
	for i, partHash := range parts {
		offset := int64(i) * partSize
		next, err := t.Successor(domain.KindArchivePartUpload, domain.CategoryUpload, domain.PriorityUploadFile,
			time.Time{},
			domain.PartUploadPayload{
				VaultARN:         p.VaultARN,
				VaultName:        p.VaultName,
				File:             p.File,
				OriginalFileSize: size,
				TotalParts:       len(parts),
				FileTreeHash:     sum.RootHex(),
				PartTreeHash:     partHash,
				PartOffset:       offset,
				PartSize:         min(size-offset, partSize),
				PartIndex:        i,
				UploadID:         uploadID,
				SaveAsPath:       p.SaveAsPath,
				SaveAsName:       strings.TrimPrefix(saveAs, p.SaveAsPath),
			})
		if err != nil {
			return Result{}, err
		}
		next.GroupID = group
		next.Name = fmt.Sprintf("Upload %s %d/%d", base, i+1, len(parts))
		successors = append(successors, next)
	}

	env.logger().Info("multipart upload initiated", "upload_id", uploadID, "parts", len(parts))
	return Continue(successors...), nil
}

// PartUploadExecutor uploads one part of a multipart upload. The task that
// sees every part recorded completes the upload.
type PartUploadExecutor struct{}

// Execute implements Executor.
func (PartUploadExecutor) Execute(ctx context.Context, t domain.Task, env *Env) (Result, error) {
	var p domain.PartUploadPayload
	if err := t.DecodePayload(&p); err != nil {
		return Result{}, err
	}

	info, err := os.Stat(p.File)
	if err != nil {
		return Result{}, fmt.Errorf("failed to stat %s: %w", p.File, err)
	}
	if info.Size() != p.OriginalFileSize {
		return Result{}, fmt.Errorf("%w: %s is %d bytes, was %d", ErrFileChanged, p.File, info.Size(), p.OriginalFileSize)
	}

	if err := uploadPart(ctx, t, env, p); err != nil {
		return Result{}, err
	}

	count, inserted, err := env.Uploads.Record(ctx, p.UploadID, p.PartIndex)
	if err != nil {
		return Result{}, fmt.Errorf("failed to record part %d: %w", p.PartIndex+1, err)
	}
	// Records survive only until a completed upload is forgotten, so a full
	// count on a replayed part means the earlier completion never ran.
	if count != p.TotalParts {
		return Done(fmt.Sprintf("Uploaded part %d/%d", count, p.TotalParts)), nil
	}
	if !inserted {
		env.logger().Warn("completing upload from a replayed part", "upload_id", p.UploadID, "part", p.PartIndex)
	}

	return completeMultipart(ctx, env, p, info)
}

func uploadPart(ctx context.Context, t domain.Task, env *Env, p domain.PartUploadPayload) error {
	f, err := os.Open(p.File)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", p.File, err)
	}
	defer func() { _ = f.Close() }()

	m, err := transfer.MapRange(f, p.PartOffset, p.PartSize)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	progress := newTransferProgress(env, t, p.PartSize)
	body := transfer.NewProgressReader(bytes.NewReader(m.Bytes()), func(pos int64) {
		progress.bytes("Uploading ", pos)
	})

	rng := domain.ByteRange{Start: p.PartOffset, End: p.PartOffset + p.PartSize - 1}
	if err := env.Vault.UploadPart(ctx, p.VaultName, p.UploadID, p.PartTreeHash, rng, body); err != nil {
		return fmt.Errorf("failed to upload part %d/%d: %w", p.PartIndex+1, p.TotalParts, err)
	}
	return nil
}

func completeMultipart(ctx context.Context, env *Env, p domain.PartUploadPayload, info os.FileInfo) (Result, error) {
	log := env.logger().With("upload_id", p.UploadID)

	archiveID, err := env.Vault.CompleteMultipartUpload(ctx, p.VaultName, p.UploadID, p.OriginalFileSize, p.FileTreeHash)
	if err != nil {
		if rerr := env.Uploads.Release(ctx, p.UploadID, p.PartIndex); rerr != nil {
			log.Error("failed to release part after failed completion", "part", p.PartIndex, "error", rerr)
		}
		return Result{}, fmt.Errorf("failed to complete upload of %s: %w", p.File, err)
	}

	if err := env.Uploads.Forget(ctx, p.UploadID); err != nil {
		log.Warn("failed to forget completed upload", "error", err)
	}

	parent, name, _ := domain.SplitPath(p.SaveAsPath + p.SaveAsName)
	rec := domain.ArchiveRecord{
		ArchiveID: archiveID,
		VaultARN:  p.VaultARN,
		Parent:    parent,
		Name:      name,
		Uploaded:  env.now().UTC(),
		Modified:  info.ModTime().UTC(),
		TreeHash:  p.FileTreeHash,
		Size:      p.OriginalFileSize,
	}
	if err := env.Inventory.Put(ctx, rec); err != nil {
		return Result{}, fmt.Errorf("uploaded %s but failed to record it: %w", rec.Path(), err)
	}

	log.Info("multipart upload completed", "archive_id", archiveID)
	return Done("Uploaded"), nil
}
