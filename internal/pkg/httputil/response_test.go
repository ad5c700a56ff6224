package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMissing = errors.New("missing")

func TestHandleError(t *testing.T) {
	rules := []ErrorRule{
		{Err: errMissing, Status: http.StatusNotFound, Code: "not_found"},
	}

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
		wantCode   string
	}{
		{"matched wrapped", fmt.Errorf("segment 42: %w", errMissing), http.StatusNotFound, "segment 42: missing", "not_found"},
		{"unmatched hides detail", errors.New("pq: connection refused"), http.StatusInternalServerError, "internal server error", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			HandleError(rec, tt.err, rules)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body.Error)
			assert.Equal(t, tt.wantCode, body.Code)
		})
	}
}

func TestDecode(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	t.Run("valid", func(t *testing.T) {
		var p payload
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"vip"}`))
		rec := httptest.NewRecorder()
		assert.True(t, Decode(rec, req, &p))
		assert.Equal(t, "vip", p.Name)
	})

	t.Run("unknown field", func(t *testing.T) {
		var p payload
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"nme":"vip"}`))
		rec := httptest.NewRecorder()
		assert.False(t, Decode(rec, req, &p))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed", func(t *testing.T) {
		var p payload
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
		rec := httptest.NewRecorder()
		assert.False(t, Decode(rec, req, &p))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestJSONHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	Created(rec, map[string]int{"estimate": 25000})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"estimate":25000}`, rec.Body.String())
}
