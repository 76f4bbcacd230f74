package gorm

// Tombstone marks a record as intentionally deleted. It expires TTL after
// DeletedAt and until then blocks recreation of RecordID.
type Tombstone struct {
	ID         uint    `gorm:"column:id;primaryKey;autoIncrement"`
	UserID     string  `gorm:"column:user_id;type:varchar(64);not null;uniqueIndex:ux_tombstones_key,priority:1"`
	Collection string  `gorm:"column:collection;type:varchar(32);not null;uniqueIndex:ux_tombstones_key,priority:2"`
	RecordID   string  `gorm:"column:record_id;type:varchar(64);not null;uniqueIndex:ux_tombstones_key,priority:3"`
	ServerID   *string `gorm:"column:server_id;type:varchar(36)"`

	// Server epoch milliseconds
	DeletedAt int64 `gorm:"column:deleted_at;not null;index"`
}

// TableName specifies the table name for GORM
func (Tombstone) TableName() string {
	return "tombstones"
}
