package dtos

import "encoding/json"

// SyncRequest is the body of POST /sync.
type SyncRequest struct {
	Type       string          `json:"type"`
	Collection string          `json:"collection"`
	Data       json.RawMessage `json:"data"`
}

// SyncResponse is the outcome of a single pushed mutation. The server id is
// exposed as mongoId for compatibility with existing clients.
type SyncResponse struct {
	Success  bool   `json:"success"`
	ServerID string `json:"mongoId,omitempty"`
	Rejected bool   `json:"rejected,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// BulkSyncItem is one queue item inside POST /sync/bulk.
type BulkSyncItem struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Timestamp  int64           `json:"timestamp"`
	Collection string          `json:"collection"`
	Data       json.RawMessage `json:"data"`
}

type BulkSyncRequest struct {
	Items []BulkSyncItem `json:"items"`
}

type BulkItemResult struct {
	QueueItemID string `json:"queueItemId"`
	Success     bool   `json:"success"`
	ServerID    string `json:"mongoId,omitempty"`
	Rejected    bool   `json:"rejected,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

type BulkSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// BulkSyncResponse reports per-item outcomes in request order. Success means
// the batch was processed, not that every item succeeded.
type BulkSyncResponse struct {
	Success bool             `json:"success"`
	Results []BulkItemResult `json:"results"`
	Summary BulkSummary      `json:"summary"`
}

// DeltaResponse is the body of GET /sync/{collection}.
type DeltaResponse struct {
	Records  []json.RawMessage `json:"records"`
	Deleted  []string          `json:"deleted"`
	SyncedAt int64             `json:"syncedAt"`
	Count    int               `json:"count"`
}
