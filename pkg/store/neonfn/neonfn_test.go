package neonfn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repairhq/repairstore/pkg/entity"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL)
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}

func TestListUnwrapsEnvelope(t *testing.T) {
	var gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		data, _ := json.Marshal([]entity.Record{{"id": "1"}, {"id": "2"}})
		writeEnvelope(w, http.StatusOK, Envelope{Success: true, Data: data, Backend: "neon"})
	})

	out, err := c.List(context.Background(), entity.TypeSale, "", 0)
	require.NoError(t, err)
	assert.Equal(t, "/functions/salesList", gotPath)
	assert.Len(t, out, 2)
}

func TestListNullDataYieldsEmptySlice(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, Envelope{Success: true, Data: json.RawMessage("null")})
	})

	out, err := c.List(context.Background(), entity.TypeOrder, "", 0)
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestFailureEnvelopeBecomesBackendCallError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusInternalServerError, Envelope{Success: false, Error: "db down"})
	})

	_, err := c.List(context.Background(), entity.TypeOrder, "", 0)
	require.Error(t, err)
	var callErr *entity.BackendCallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, entity.BackendNeon, callErr.Backend)
	assert.Contains(t, callErr.Error(), "db down")
}

func TestGetNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusNotFound, Envelope{Success: false, Error: "no such record"})
	})

	_, err := c.Get(context.Background(), entity.TypeCustomer, "missing")
	require.Error(t, err)
	assert.True(t, entity.IsNotFound(err))
}

func TestUpdateSendsIDAndPartial(t *testing.T) {
	var gotPayload map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/functions/ordersUpdate", r.URL.Path)
		json.NewDecoder(r.Body).Decode(&gotPayload)
		data, _ := json.Marshal(entity.Record{"id": "o-1", "status": "completed"})
		writeEnvelope(w, http.StatusOK, Envelope{Success: true, Data: data})
	})

	rec, err := c.Update(context.Background(), entity.TypeOrder, "o-1", entity.Record{"status": "completed"})
	require.NoError(t, err)
	assert.Equal(t, "o-1", gotPayload["id"])
	assert.Equal(t, "completed", rec.String("status"))
}

func TestInvokeFunctionPassesPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		require.Equal(t, "order", payload["sequence_type"])
		data, _ := json.Marshal(map[string]any{"number": "WO-20250116-0001"})
		writeEnvelope(w, http.StatusOK, Envelope{Success: true, Data: data})
	})

	raw, err := c.InvokeFunction(context.Background(), "generateSequenceNumber", map[string]any{
		"sequence_type": "order",
		"period_type":   "daily",
	})
	require.NoError(t, err)
	var out struct {
		Number string `json:"number"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "WO-20250116-0001", out.Number)
}
