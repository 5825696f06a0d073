package domain

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// Inventory output formats accepted by the remote service.
const (
	InventoryFormatCSV  = "CSV"
	InventoryFormatJSON = "JSON"
)

// DummyPayload drives the DUMMY task: Steps progress events spaced by
// StepDelayMS, failing at FailAtStep when it is positive.
type DummyPayload struct {
	Steps       int `json:"steps"`
	StepDelayMS int `json:"step_delay_ms"`
	FailAtStep  int `json:"fail_at_step,omitempty"`
}

// InventoryRequestPayload starts an inventory retrieval job.
type InventoryRequestPayload struct {
	VaultARN  string `json:"vault_arn"`
	VaultName string `json:"vault_name"`
	Format    string `json:"format"`
}

// InventoryReceivePayload polls an inventory job and loads its output.
type InventoryReceivePayload struct {
	JobID     string `json:"job_id"`
	VaultARN  string `json:"vault_arn"`
	VaultName string `json:"vault_name"`
	Format    string `json:"format"`
}

// ArchiveRequestPayload starts an archive retrieval job.
type ArchiveRequestPayload struct {
	VaultName    string   `json:"vault_name"`
	ArchiveID    string   `json:"archive_id"`
	SaveDir      string   `json:"save_dir"`
	SaveName     string   `json:"save_name"`
	DirsToCreate []string `json:"dirs_to_create,omitempty"`
	TreeHash     string   `json:"tree_hash"`
	Tier         Tier     `json:"tier"`
}

// ArchiveReceivePayload polls an archive job and downloads its output.
type ArchiveReceivePayload struct {
	VaultName    string   `json:"vault_name"`
	JobID        string   `json:"job_id"`
	SaveDir      string   `json:"save_dir"`
	SaveName     string   `json:"save_name"`
	DirsToCreate []string `json:"dirs_to_create,omitempty"`
	TreeHash     string   `json:"tree_hash"`
	Tier         Tier     `json:"tier"`
}

// Destination returns the final path of the downloaded file.
func (p ArchiveReceivePayload) Destination() string {
	parts := append([]string{p.SaveDir}, p.DirsToCreate...)
	parts = append(parts, p.SaveName)
	return filepath.Join(parts...)
}

// ArchiveUploadPayload uploads a local file or directory marker.
type ArchiveUploadPayload struct {
	VaultName          string `json:"vault_name"`
	VaultARN           string `json:"vault_arn"`
	File               string `json:"file"`
	SaveAsPath         string `json:"save_as_path"`
	SaveAsName         string `json:"save_as_name"`
	CheckForDuplicates bool   `json:"check_for_duplicates"`
}

// PartUploadPayload uploads one part of a multipart upload.
type PartUploadPayload struct {
	VaultARN         string `json:"vault_arn"`
	VaultName        string `json:"vault_name"`
	File             string `json:"file"`
	OriginalFileSize int64  `json:"original_file_size"`
	TotalParts       int    `json:"total_parts"`
	FileTreeHash     string `json:"file_tree_hash"`
	PartTreeHash     string `json:"part_tree_hash"`
	PartOffset       int64  `json:"part_offset"`
	PartSize         int64  `json:"part_size"`
	PartIndex        int    `json:"part_index"`
	UploadID         string `json:"upload_id"`
	SaveAsPath       string `json:"save_as_path"`
	SaveAsName       string `json:"save_as_name"`
}

// NewDummyTask builds a DUMMY task.
func NewDummyTask(name string, p DummyPayload) (Task, error) {
	if p.Steps <= 0 {
		return Task{}, fmt.Errorf("%w: dummy steps must be positive", ErrValidation)
	}
	return NewTask(name, KindDummy, CategoryMeta, PriorityMeta, p)
}

// NewInventoryRequestTask builds an INVENTORY_REQUEST task.
func NewInventoryRequestTask(p InventoryRequestPayload) (Task, error) {
	if p.VaultName == "" {
		return Task{}, fmt.Errorf("%w: vault name is required", ErrValidation)
	}
	if p.Format == "" {
		p.Format = InventoryFormatCSV
	}
	if p.Format != InventoryFormatCSV && p.Format != InventoryFormatJSON {
		return Task{}, fmt.Errorf("%w: inventory format %q", ErrValidation, p.Format)
	}
	return NewTask("Inventory "+p.VaultName, KindInventoryRequest, CategoryMeta, PriorityMeta, p)
}

// NewArchiveRequestTask builds an ARCHIVE_REQUEST task.
func NewArchiveRequestTask(p ArchiveRequestPayload) (Task, error) {
	if p.VaultName == "" || p.ArchiveID == "" {
		return Task{}, fmt.Errorf("%w: vault name and archive id are required", ErrValidation)
	}
	if p.SaveDir == "" || p.SaveName == "" {
		return Task{}, fmt.Errorf("%w: save dir and save name are required", ErrValidation)
	}
	for _, elem := range append([]string{p.SaveName}, p.DirsToCreate...) {
		if !validPathElement(elem) {
			return Task{}, fmt.Errorf("%w: unsafe path element %q", ErrValidation, elem)
		}
	}
	if _, err := p.Tier.Delays(); err != nil {
		return Task{}, err
	}
	return NewTask("Download "+p.SaveName, KindArchiveRequest, CategoryDownload, PriorityDownloadFile, p)
}

// NewArchiveUploadTask builds an ARCHIVE_UPLOAD task.
func NewArchiveUploadTask(p ArchiveUploadPayload) (Task, error) {
	if p.VaultName == "" || p.File == "" {
		return Task{}, fmt.Errorf("%w: vault name and file are required", ErrValidation)
	}
	if p.SaveAsName == "" {
		p.SaveAsName = filepath.Base(p.File)
	}
	return NewTask("Upload "+p.SaveAsName, KindArchiveUpload, CategoryUpload, PriorityInitiateUpload, p)
}

// Submittable reports whether tasks of kind k may be created by a client.
// Receive and part upload tasks only appear as successors.
func (k Kind) Submittable() bool {
	switch k {
	case KindDummy, KindInventoryRequest, KindArchiveRequest, KindArchiveUpload:
		return true
	}
	return false
}

// NewSubmittedTask builds a task of kind k from a raw JSON payload as sent
// by the control API or the command line.
func NewSubmittedTask(k Kind, name string, payload json.RawMessage) (Task, error) {
	if !k.Valid() {
		return Task{}, fmt.Errorf("%w: %q", ErrUnknownKind, k)
	}
	if !k.Submittable() {
		return Task{}, fmt.Errorf("%w: %s tasks cannot be submitted", ErrValidation, k)
	}

	switch k {
	case KindDummy:
		var p DummyPayload
		if err := decodeSubmitted(payload, &p); err != nil {
			return Task{}, err
		}
		if name == "" {
			name = "Dummy"
		}
		return NewDummyTask(name, p)
	case KindInventoryRequest:
		var p InventoryRequestPayload
		if err := decodeSubmitted(payload, &p); err != nil {
			return Task{}, err
		}
		return NewInventoryRequestTask(p)
	case KindArchiveRequest:
		var p ArchiveRequestPayload
		if err := decodeSubmitted(payload, &p); err != nil {
			return Task{}, err
		}
		return NewArchiveRequestTask(p)
	default:
		var p ArchiveUploadPayload
		if err := decodeSubmitted(payload, &p); err != nil {
			return Task{}, err
		}
		return NewArchiveUploadTask(p)
	}
}

// validPathElement reports whether elem names a single entry inside its
// parent directory.
func validPathElement(elem string) bool {
	if elem == "" || elem == "." || elem == ".." {
		return false
	}
	return !strings.ContainsAny(elem, `/\`)
}

func decodeSubmitted(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: payload is required", ErrValidation)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: payload: %v", ErrInvalidFormat, err)
	}
	return nil
}
