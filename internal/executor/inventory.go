package executor

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/phrazzld/coldstore/internal/domain"
	"github.com/phrazzld/coldstore/internal/transfer"
)

// InventoryRequestExecutor starts an inventory job and schedules its
// first check.
type InventoryRequestExecutor struct{}

// Execute implements Executor.
func (InventoryRequestExecutor) Execute(ctx context.Context, t domain.Task, env *Env) (Result, error) {
	var p domain.InventoryRequestPayload
	if err := t.DecodePayload(&p); err != nil {
		return Result{}, err
	}

	format := p.Format
	if format == "" {
		format = domain.InventoryFormatCSV
	}

	clientID := env.Settings.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("USER-%d", 1000000+rand.IntN(9000000))
	}

	env.progress(t, 0, "Requesting…")
	jobID, err := env.Vault.InitiateInventoryJob(ctx, p.VaultName, format, InventoryJobDescription(clientID))
	if err != nil {
		return Result{}, fmt.Errorf("failed to request inventory of %s: %w", p.VaultName, err)
	}

	next, err := t.Successor(domain.KindInventoryReceive, domain.CategoryMeta, domain.PriorityMeta,
		env.now().Add(domain.InventoryInitialDelay),
		domain.InventoryReceivePayload{
			JobID:     jobID,
			VaultARN:  p.VaultARN,
			VaultName: p.VaultName,
			Format:    format,
		})
	if err != nil {
		return Result{}, err
	}

	return Continue(next), nil
}

// InventoryReceiveExecutor waits for an inventory job and replaces the
// local inventory with its output.
type InventoryReceiveExecutor struct{}

// Execute implements Executor.
func (InventoryReceiveExecutor) Execute(ctx context.Context, t domain.Task, env *Env) (Result, error) {
	var p domain.InventoryReceivePayload
	if err := t.DecodePayload(&p); err != nil {
		return Result{}, err
	}

	return checkJob(ctx, t, env, p.VaultName, p.JobID, domain.InventoryRetryDelay,
		func(job domain.JobDescription) (Result, error) {
			return receiveInventory(ctx, t, env, p, job)
		})
}

func receiveInventory(
	ctx context.Context,
	t domain.Task,
	env *Env,
	p domain.InventoryReceivePayload,
	job domain.JobDescription,
) (Result, error) {
	body, err := env.Vault.JobOutput(ctx, p.VaultName, p.JobID, domain.ByteRange{})
	if err != nil {
		return Result{}, fmt.Errorf("failed to fetch inventory: %w", err)
	}
	defer func() { _ = body.Close() }()

	progress := newTransferProgress(env, t, job.InventorySizeInBytes)
	r := transfer.NewCountingReader(body, func(total int64) { progress.bytes("", total) })

	var count, fallbacks int
	err = env.Inventory.Replace(ctx, p.VaultARN, env.now(), func(put func(domain.ArchiveRecord) error) error {
		return ParseInventory(p.Format, r, func(e InventoryEntry) error {
			rec, plain := e.Record(p.VaultARN)
			if plain {
				fallbacks++
			}
			count++
			return put(rec)
		})
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to update inventory of %s: %w", p.VaultName, err)
	}

	env.logger().Info("inventory updated",
		"vault", p.VaultName,
		"archives", count,
		"plain_descriptions", fallbacks,
		"bytes", r.Total())

	return Done("Inventory updated"), nil
}

// InventoryEntry is one archive in an inventory job's output.
type InventoryEntry struct {
	ArchiveID          string `json:"ArchiveId"`
	ArchiveDescription string `json:"ArchiveDescription"`
	CreationDate       string `json:"CreationDate"`
	Size               int64  `json:"Size"`
	SHA256TreeHash     string `json:"SHA256TreeHash"`
}

// Record converts the entry to an inventory record. Descriptions that are
// not in FastGlacier format become plain names at the root; plain reports
// that case.
func (e InventoryEntry) Record(vaultARN string) (rec domain.ArchiveRecord, plain bool) {
	rec = domain.ArchiveRecord{
		ArchiveID: e.ArchiveID,
		VaultARN:  vaultARN,
		TreeHash:  e.SHA256TreeHash,
		Size:      e.Size,
	}

	if created, err := time.Parse(time.RFC3339, e.CreationDate); err == nil {
		rec.Uploaded = created.UTC()
	}

	desc, err := DecodeDescription(e.ArchiveDescription)
	if err != nil {
		rec.Name = e.ArchiveDescription
		return rec, true
	}

	rec.Parent = desc.Parent
	rec.Name = desc.Name
	rec.IsDir = desc.IsDir
	rec.Modified = desc.Modified
	return rec, false
}

// ParseInventory streams the entries of an inventory job's output in the
// given format to fn.
func ParseInventory(format string, r io.Reader, fn func(InventoryEntry) error) error {
	switch strings.ToUpper(format) {
	case domain.InventoryFormatJSON:
		return parseInventoryJSON(r, fn)
	case domain.InventoryFormatCSV, "":
		return parseInventoryCSV(r, fn)
	default:
		return fmt.Errorf("%w: inventory format %q", domain.ErrInvalidFormat, format)
	}
}

var inventoryColumns = []string{"ArchiveId", "ArchiveDescription", "CreationDate", "Size", "SHA256TreeHash"}

func parseInventoryCSV(r io.Reader, fn func(InventoryEntry) error) error {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: inventory header: %v", domain.ErrInvalidFormat, err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, name := range inventoryColumns {
		if _, ok := col[name]; !ok {
			return fmt.Errorf("%w: inventory has no %s column", domain.ErrInvalidFormat, name)
		}
	}
	cr.FieldsPerRecord = len(header)

	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: inventory row: %v", domain.ErrInvalidFormat, err)
		}

		size, err := strconv.ParseInt(row[col["Size"]], 10, 64)
		if err != nil {
			return fmt.Errorf("%w: archive size %q", domain.ErrInvalidFormat, row[col["Size"]])
		}

		if err := fn(InventoryEntry{
			ArchiveID:          row[col["ArchiveId"]],
			ArchiveDescription: row[col["ArchiveDescription"]],
			CreationDate:       row[col["CreationDate"]],
			Size:               size,
			SHA256TreeHash:     row[col["SHA256TreeHash"]],
		}); err != nil {
			return err
		}
	}
}

// parseInventoryJSON decodes ArchiveList one element at a time so large
// inventories are never held in memory.
func parseInventoryJSON(r io.Reader, fn func(InventoryEntry) error) error {
	dec := json.NewDecoder(r)

	if err := expectDelim(dec, '{'); err != nil {
		return err
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("%w: inventory: %v", domain.ErrInvalidFormat, err)
		}

		if key, _ := tok.(string); key != "ArchiveList" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return fmt.Errorf("%w: inventory field %v: %v", domain.ErrInvalidFormat, tok, err)
			}
			continue
		}

		if err := expectDelim(dec, '['); err != nil {
			return err
		}
		for dec.More() {
			var e InventoryEntry
			if err := dec.Decode(&e); err != nil {
				return fmt.Errorf("%w: inventory entry: %v", domain.ErrInvalidFormat, err)
			}
			if err := fn(e); err != nil {
				return err
			}
		}
		if err := expectDelim(dec, ']'); err != nil {
			return err
		}
	}

	return expectDelim(dec, '}')
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: inventory: %v", domain.ErrInvalidFormat, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("%w: inventory: expected %v, got %v", domain.ErrInvalidFormat, want, tok)
	}
	return nil
}
