package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSubmittedTask(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		kind     Kind
		payload  string
		wantKind Kind
		wantCat  Category
		wantName string
		wantErr  error
	}{
		{
			name:     "dummy gets default name",
			kind:     KindDummy,
			payload:  `{"steps":3}`,
			wantKind: KindDummy,
			wantCat:  CategoryMeta,
			wantName: "Dummy",
		},
		{
			name:     "inventory request",
			kind:     KindInventoryRequest,
			payload:  `{"vault_name":"photos","vault_arn":"arn:aws:glacier:eu-west-1:1:vaults/photos"}`,
			wantKind: KindInventoryRequest,
			wantCat:  CategoryMeta,
			wantName: "Inventory photos",
		},
		{
			name:     "archive request",
			kind:     KindArchiveRequest,
			payload:  `{"vault_name":"v","archive_id":"a1","save_dir":"/tmp","save_name":"x.bin","tier":"Bulk"}`,
			wantKind: KindArchiveRequest,
			wantCat:  CategoryDownload,
			wantName: "Download x.bin",
		},
		{
			name:     "archive upload",
			kind:     KindArchiveUpload,
			payload:  `{"vault_name":"v","file":"/data/report.pdf"}`,
			wantKind: KindArchiveUpload,
			wantCat:  CategoryUpload,
			wantName: "Upload report.pdf",
		},
		{
			name:    "successor kinds are refused",
			kind:    KindArchivePartUpload,
			payload: `{}`,
			wantErr: ErrValidation,
		},
		{
			name:    "unknown kind",
			kind:    Kind("REBOOT"),
			payload: `{}`,
			wantErr: ErrUnknownKind,
		},
		{
			name:    "malformed payload",
			kind:    KindDummy,
			payload: `{"steps":`,
			wantErr: ErrInvalidFormat,
		},
		{
			name:    "missing payload",
			kind:    KindDummy,
			wantErr: ErrValidation,
		},
		{
			name:    "bad tier",
			kind:    KindArchiveRequest,
			payload: `{"vault_name":"v","archive_id":"a1","save_dir":"/tmp","save_name":"x","tier":"Fast"}`,
			wantErr: ErrUnknownTier,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var raw json.RawMessage
			if tc.payload != "" {
				raw = json.RawMessage(tc.payload)
			}

			task, err := NewSubmittedTask(tc.kind, "", raw)
			if tc.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.wantKind, task.Kind)
			assert.Equal(t, tc.wantCat, task.Category)
			assert.Equal(t, tc.wantName, task.Name)
			assert.NotEmpty(t, task.ID)
			assert.NoError(t, task.Validate())
		})
	}
}

func TestKindSubmittable(t *testing.T) {
	t.Parallel()

	assert.True(t, KindDummy.Submittable())
	assert.True(t, KindArchiveUpload.Submittable())
	assert.False(t, KindInventoryReceive.Submittable())
	assert.False(t, KindArchiveReceive.Submittable())
	assert.False(t, KindArchivePartUpload.Submittable())
}

func TestNewArchiveRequestTaskRejectsUnsafePaths(t *testing.T) {
	t.Parallel()

	base := ArchiveRequestPayload{
		VaultName: "v",
		ArchiveID: "a1",
		SaveDir:   "/tmp/out",
		SaveName:  "x.bin",
		Tier:      TierBulk,
	}

	bad := []func(p *ArchiveRequestPayload){
		func(p *ArchiveRequestPayload) { p.SaveName = ".." },
		func(p *ArchiveRequestPayload) { p.SaveName = "a/b" },
		func(p *ArchiveRequestPayload) { p.DirsToCreate = []string{"ok", ".."} },
		func(p *ArchiveRequestPayload) { p.DirsToCreate = []string{`..\evil`} },
		func(p *ArchiveRequestPayload) { p.DirsToCreate = []string{""} },
	}

	for i, mutate := range bad {
		p := base
		mutate(&p)
		_, err := NewArchiveRequestTask(p)
		assert.ErrorIs(t, err, ErrValidation, "case %d", i)
	}

	p := base
	p.DirsToCreate = []string{"2021", "trip"}
	_, err := NewArchiveRequestTask(p)
	assert.NoError(t, err)
}
