package gorm

// SyncRecord is the server copy of one logbook entity. Payload fields live
// in Data as JSON; sync metadata has its own columns so reconciliation and
// delta queries never decode the payload.
type SyncRecord struct {
	ServerID   string `gorm:"column:server_id;primaryKey;type:varchar(36)"`
	UserID     string `gorm:"column:user_id;type:varchar(64);not null;uniqueIndex:ux_sync_records_key,priority:1"`
	Collection string `gorm:"column:collection;type:varchar(32);not null;uniqueIndex:ux_sync_records_key,priority:2"`
	LocalID    string `gorm:"column:local_id;type:varchar(64);not null;uniqueIndex:ux_sync_records_key,priority:3"`

	// Client supplied epoch milliseconds
	CreatedAt int64  `gorm:"column:created_at;not null;default:0;autoCreateTime:false"`
	UpdatedAt *int64 `gorm:"column:updated_at;autoUpdateTime:false"`

	// Server epoch milliseconds of the last applied write
	SyncedAt int64 `gorm:"column:synced_at;not null;index"`

	SortDate string `gorm:"column:sort_date;type:varchar(10);not null;default:''"`
	Data     string `gorm:"column:data;type:text;not null"`
}

// TableName specifies the table name for GORM
func (SyncRecord) TableName() string {
	return "sync_records"
}

func (r SyncRecord) CreatedAtMillis() int64 { return r.CreatedAt }

func (r SyncRecord) UpdatedAtMillis() int64 {
	if r.UpdatedAt == nil {
		return 0
	}
	return *r.UpdatedAt
}
