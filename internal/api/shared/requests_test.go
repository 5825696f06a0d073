package shared

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRequest struct {
	Name string   `json:"name" validate:"required"`
	Tier string   `json:"tier" validate:"omitempty,oneof=Bulk Standard"`
	IDs  []string `json:"ids" validate:"max=2"`
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name        string
		requestBody string
		wantErr     bool
		errContains string
	}{
		{
			name:        "valid json",
			requestBody: `{"name": "test", "tier": "Bulk"}`,
		},
		{
			name:        "invalid json",
			requestBody: `{"name": "test",}`,
			wantErr:     true,
			errContains: "invalid character",
		},
		{
			name:        "empty body",
			requestBody: "",
			wantErr:     true,
			errContains: "EOF",
		},
		{
			name:        "unknown field",
			requestBody: `{"name": "test", "colour": "red"}`,
			wantErr:     true,
			errContains: "unknown field",
		},
		{
			name:        "trailing data",
			requestBody: `{"name": "a"} {"name": "b"}`,
			wantErr:     true,
			errContains: "unexpected data",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(tc.requestBody))

			var target sampleRequest
			err := DecodeJSON(req, &target)

			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.errContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "test", target.Name)
			assert.Equal(t, "Bulk", target.Tier)
		})
	}
}

type errorReader struct{}

func (errorReader) Read(p []byte) (n int, err error) {
	return 0, io.ErrUnexpectedEOF
}

func TestDecodeJSONWithReadError(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/test", errorReader{})

	var target struct{}
	err := DecodeJSON(req, &target)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected EOF")
}

func TestDecodeJSONBodyLimit(t *testing.T) {
	body := `{"name":"` + string(bytes.Repeat([]byte("x"), MaxBodyBytes)) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(body))

	var target sampleRequest
	assert.Error(t, DecodeJSON(req, &target))
}

type selfValidating struct{ ok bool }

func (s selfValidating) Validate() error {
	if !s.ok {
		return errors.New("not ok")
	}
	return nil
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     interface{}
		wantMsg string
	}{
		{
			name: "valid struct",
			req:  &sampleRequest{Name: "a", Tier: "Standard"},
		},
		{
			name:    "missing required field uses json name",
			req:     &sampleRequest{},
			wantMsg: "Invalid name: required field",
		},
		{
			name:    "bad enum",
			req:     &sampleRequest{Name: "a", Tier: "Fast"},
			wantMsg: "Invalid tier: invalid value",
		},
		{
			name:    "too many items",
			req:     &sampleRequest{Name: "a", IDs: []string{"1", "2", "3"}},
			wantMsg: "Invalid ids: too long",
		},
		{
			name:    "custom validator",
			req:     selfValidating{ok: false},
			wantMsg: "Validation error",
		},
		{
			name: "custom validator passes",
			req:  selfValidating{ok: true},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateRequest(tc.req)

			if tc.wantMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.wantMsg, ValidationMessage(err))
		})
	}
}
