package store

import (
	"encoding/json"

	"infinite-experiment/logbook/internal/models/dtos"
)

// localRecord is one row of a per-collection table (flights, aircraft,
// personnel). Data holds the full entity JSON; the other columns mirror
// the sync metadata for queries.
type localRecord struct {
	ID         string `gorm:"column:id;primaryKey"`
	ServerID   string `gorm:"column:server_id;index"`
	CreatedAt  int64  `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt  int64  `gorm:"column:updated_at;autoUpdateTime:false"`
	SyncStatus string `gorm:"column:sync_status;index"`
	SortDate   string `gorm:"column:sort_date"`
	Data       string `gorm:"column:data"`
}

// QueueItem is one pending local mutation, in creation order.
type QueueItem struct {
	Seq        int64  `gorm:"column:seq;primaryKey;autoIncrement"`
	ID         string `gorm:"column:id;uniqueIndex"`
	Type       string `gorm:"column:type"`
	Collection string `gorm:"column:collection"`
	RecordID   string `gorm:"column:record_id;index"`
	Data       string `gorm:"column:data"`
	Timestamp  int64  `gorm:"column:timestamp"`
}

func (QueueItem) TableName() string { return "sync_queue" }

// Payload returns the wire form of the queued data.
func (q QueueItem) Payload() json.RawMessage { return json.RawMessage(q.Data) }

func (q QueueItem) BulkItem() dtos.BulkSyncItem {
	return dtos.BulkSyncItem{
		ID:         q.ID,
		Type:       q.Type,
		Timestamp:  q.Timestamp,
		Collection: q.Collection,
		Data:       q.Payload(),
	}
}

type syncMeta struct {
	Key        string `gorm:"column:meta_key;primaryKey"`
	LastSyncAt int64  `gorm:"column:last_sync_at"`
}

func (syncMeta) TableName() string { return "sync_meta" }

const lastSyncKey = "lastSync"
