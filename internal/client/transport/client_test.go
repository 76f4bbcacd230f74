package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"infinite-experiment/logbook/internal/constants"
	"infinite-experiment/logbook/internal/models/dtos"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPush_SendsTokenAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sync", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, clientName, r.Header.Get(constants.HeaderClient))

		var req dtos.SyncRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "create", req.Type)

		_ = json.NewEncoder(w).Encode(dtos.SyncResponse{Success: true, ServerID: "srv-1"})
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "tok", time.Second)
	resp, err := c.Push(context.Background(), dtos.SyncRequest{Type: "create", Collection: "flights", Data: json.RawMessage(`{"id":"L1"}`)})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "srv-1", resp.ServerID)
}

func TestDelta_EncodesSince(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sync/aircraft", r.URL.Path)
		assert.Equal(t, "1234", r.URL.Query().Get("since"))
		_ = json.NewEncoder(w).Encode(dtos.DeltaResponse{Deleted: []string{"L9"}, SyncedAt: 5000})
	}))
	defer srv.Close()

	resp, err := New(srv.URL, "tok", time.Second).Delta(context.Background(), dtos.CollectionAircraft, 1234)
	require.NoError(t, err)
	assert.Equal(t, []string{"L9"}, resp.Deleted)
	assert.Equal(t, int64(5000), resp.SyncedAt)
}

func TestPushBulk_RejectsMismatchedResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(dtos.BulkSyncResponse{Success: true})
	}))
	defer srv.Close()

	_, err := New(srv.URL, "tok", time.Second).PushBulk(context.Background(), []dtos.BulkSyncItem{{ID: "q1"}})
	assert.ErrorContains(t, err, "result count mismatch")
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, ErrUnauthorized},
		{"server error", http.StatusInternalServerError, ErrTransient},
		{"rate limited", http.StatusTooManyRequests, ErrTransient},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.status)
			}))
			defer srv.Close()

			_, err := New(srv.URL, "tok", time.Second).Delta(context.Background(), dtos.CollectionFlights, 0)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)

			var serr *StatusError
			require.ErrorAs(t, err, &serr)
			assert.Equal(t, tc.status, serr.Code)
		})
	}
}

func TestBadRequestIsNeitherAuthNorTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "tok", time.Second).Delta(context.Background(), dtos.CollectionFlights, 0)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)
	assert.NotErrorIs(t, err, ErrTransient)
}

func TestNetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := New(addr, "tok", time.Second).Delta(context.Background(), dtos.CollectionFlights, 0)
	assert.ErrorIs(t, err, ErrTransient)
}
