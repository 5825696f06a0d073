package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/phrazzld/coldstore/internal/api/shared"
	"github.com/phrazzld/coldstore/internal/domain"
	"github.com/phrazzld/coldstore/internal/platform/logger"
	"github.com/phrazzld/coldstore/internal/store"
)

// VaultLister lists the vaults of the remote account.
type VaultLister interface {
	ListVaults(ctx context.Context) ([]domain.VaultInfo, error)
}

// InventoryReader is the read side of the local inventory.
type InventoryReader interface {
	List(ctx context.Context, vaultARN, parent string) ([]domain.ArchiveRecord, error)
	Search(ctx context.Context, vaultARN, pattern string) ([]domain.ArchiveRecord, error)
	Vault(ctx context.Context, vaultARN string) (domain.VaultInfo, error)
	FindByPathPrefix(ctx context.Context, vaultARN, prefix string) ([]domain.ArchiveRecord, error)
}

// VaultHandler serves vaults and the stored inventory, and turns inventory
// selections into download tasks.
type VaultHandler struct {
	vaults    VaultLister
	inventory InventoryReader
	tasks     TaskService
}

// NewVaultHandler creates a new VaultHandler
func NewVaultHandler(vaults VaultLister, inventory InventoryReader, tasks TaskService) *VaultHandler {
	return &VaultHandler{vaults: vaults, inventory: inventory, tasks: tasks}
}

// ListVaults handles GET /api/vaults requests
func (h *VaultHandler) ListVaults(w http.ResponseWriter, r *http.Request) {
	vaults, err := h.vaults.ListVaults(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list vaults")
		return
	}
	if vaults == nil {
		vaults = []domain.VaultInfo{}
	}

	shared.RespondWithJSON(w, r, http.StatusOK, VaultsResponse{Vaults: vaults})
}

// ListArchives handles GET /api/inventory requests: the direct children of
// parent, or name matches when q is set.
func (h *VaultHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	vaultARN := q.Get("vault_arn")
	if vaultARN == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid vault_arn: required field")
		return
	}

	var (
		recs []domain.ArchiveRecord
		err  error
	)
	if term := q.Get("q"); term != "" {
		recs, err = h.inventory.Search(r.Context(), vaultARN, containsPattern(term))
	} else {
		recs, err = h.inventory.List(r.Context(), vaultARN, q.Get("parent"))
	}
	if err != nil {
		HandleAPIError(w, r, err, "Failed to read inventory")
		return
	}
	if recs == nil {
		recs = []domain.ArchiveRecord{}
	}

	shared.RespondWithJSON(w, r, http.StatusOK, ArchivesResponse{Archives: recs})
}

// InventorySummary handles GET /api/inventory/summary requests
func (h *VaultHandler) InventorySummary(w http.ResponseWriter, r *http.Request) {
	vaultARN := r.URL.Query().Get("vault_arn")
	if vaultARN == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid vault_arn: required field")
		return
	}

	info, err := h.inventory.Vault(r.Context(), vaultARN)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to read inventory")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, info)
}

// Retrieve handles POST /api/retrievals requests
func (h *VaultHandler) Retrieve(w http.ResponseWriter, r *http.Request) {
	var req RetrieveRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	info, err := h.inventory.Vault(r.Context(), req.VaultARN)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to read inventory")
		return
	}

	recs, err := h.inventory.FindByPathPrefix(r.Context(), req.VaultARN, req.Prefix)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to read inventory")
		return
	}

	tasks, err := retrievalTasks(info.Name, req, recs)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	if err := h.tasks.Add(r.Context(), tasks...); err != nil {
		HandleAPIError(w, r, err, "Failed to add tasks")
		return
	}

	logger.FromContext(r.Context()).Info("retrieval requested",
		slog.String("vault", info.Name),
		slog.String("prefix", req.Prefix),
		slog.Int("archives", len(tasks)))

	resp := TasksResponse{Tasks: make([]TaskResponse, 0, len(tasks))}
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, taskToResponse(t, false))
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, resp)
}

// retrievalTasks builds one ARCHIVE_REQUEST per file under the prefix. The
// directories between the prefix's parent and each file are recreated
// below the save directory.
func retrievalTasks(vaultName string, req RetrieveRequest, recs []domain.ArchiveRecord) ([]domain.Task, error) {
	base, _, _ := domain.SplitPath(req.Prefix)

	var tasks []domain.Task
	for _, rec := range recs {
		if rec.IsDir || rec.ArchiveID == "" {
			continue
		}

		dirs := strings.FieldsFunc(strings.TrimPrefix(rec.Parent, base), func(c rune) bool { return c == '/' })
		t, err := domain.NewArchiveRequestTask(domain.ArchiveRequestPayload{
			VaultName:    vaultName,
			ArchiveID:    rec.ArchiveID,
			SaveDir:      req.SaveDir,
			SaveName:     rec.Name,
			DirsToCreate: dirs,
			TreeHash:     rec.TreeHash,
			Tier:         req.Tier,
		})
		if err != nil {
			return nil, fmt.Errorf("archive %s: %w", rec.Path(), err)
		}
		tasks = append(tasks, t)
	}

	if len(tasks) == 0 {
		return nil, fmt.Errorf("%w: nothing stored under %q", store.ErrArchiveNotFound, req.Prefix)
	}
	return tasks, nil
}
