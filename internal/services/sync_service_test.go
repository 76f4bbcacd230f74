package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"infinite-experiment/logbook/internal/db"
	"infinite-experiment/logbook/internal/db/repositories"
	"infinite-experiment/logbook/internal/metrics"
	"infinite-experiment/logbook/internal/models/dtos"
	gormModels "infinite-experiment/logbook/internal/models/gorm"
	"infinite-experiment/logbook/internal/testutil"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testUser = "user-1"

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type syncFixture struct {
	orm        *gorm.DB
	records    *repositories.RecordRepository
	tombstones *repositories.TombstoneRepository
	sync       *SyncService
	delta      *DeltaService
	clock      *testClock
}

func newSyncFixture(t *testing.T, opts SyncOptions) *syncFixture {
	t.Helper()
	orm := testutil.SQLite(t, &gormModels.SyncRecord{}, &gormModels.Tombstone{})
	handle, err := db.Wrap(orm, "sqlite3")
	require.NoError(t, err)

	f := &syncFixture{
		orm:        orm,
		records:    repositories.NewRecordRepository(handle.ORM),
		tombstones: repositories.NewTombstoneRepository(handle.ORM, handle.SQL),
		clock:      &testClock{t: time.UnixMilli(1_700_000_000_000)},
	}
	m := metrics.NewMetricsRegistry(prometheus.NewRegistry())
	f.sync = NewSyncService(f.records, f.tombstones, opts, m)
	f.sync.now = f.clock.Now
	f.delta = NewDeltaService(f.records, f.tombstones, m)
	f.delta.now = f.clock.Now
	return f
}

func flightData(id string, createdAt, updatedAt int64, remarks string) json.RawMessage {
	f := dtos.Flight{
		RecordMeta: dtos.RecordMeta{ID: id, CreatedAt: createdAt, UpdatedAt: updatedAt},
		Date:       "2024-05-01",
		Departure:  "EGLL",
		Arrival:    "KJFK",
		Remarks:    remarks,
	}
	raw, _ := json.Marshal(f)
	return raw
}

func deleteData(id, serverID string) json.RawMessage {
	raw, _ := json.Marshal(dtos.DeleteRef{ID: id, ServerID: serverID})
	return raw
}

func (f *syncFixture) push(t *testing.T, op dtos.OpType, data json.RawMessage) dtos.SyncResponse {
	t.Helper()
	resp, err := f.sync.Push(context.Background(), testUser, dtos.SyncRequest{
		Type:       string(op),
		Collection: string(dtos.CollectionFlights),
		Data:       data,
	})
	require.NoError(t, err)
	return resp
}

func (f *syncFixture) storedFlights(t *testing.T) []gormModels.SyncRecord {
	t.Helper()
	var rows []gormModels.SyncRecord
	require.NoError(t, f.orm.Where("collection = ?", "flights").Order("local_id").Find(&rows).Error)
	return rows
}

func TestSyncService_CreateAssignsServerIDAndOwner(t *testing.T) {
	f := newSyncFixture(t, SyncOptions{})

	data := flightData("L1", 1000, 0, "first")
	var withOwner map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &withOwner))
	withOwner["userId"] = "someone-else"
	data, _ = json.Marshal(withOwner)

	resp := f.push(t, dtos.OpCreate, data)
	assert.True(t, resp.Success)
	assert.False(t, resp.Rejected)
	require.NotEmpty(t, resp.ServerID)

	rows := f.storedFlights(t)
	require.Len(t, rows, 1)
	assert.Equal(t, resp.ServerID, rows[0].ServerID)
	assert.Equal(t, testUser, rows[0].UserID)
	assert.Equal(t, "2024-05-01", rows[0].SortDate)
	assert.Equal(t, f.clock.Now().UnixMilli(), rows[0].SyncedAt)
	assert.NotContains(t, rows[0].Data, "someone-else")
}

func TestSyncService_RetriedCreateIsIdempotent(t *testing.T) {
	f := newSyncFixture(t, SyncOptions{})

	first := f.push(t, dtos.OpCreate, flightData("L1", 1000, 0, "x"))
	second := f.push(t, dtos.OpCreate, flightData("L1", 1000, 0, "x"))

	assert.True(t, second.Success)
	assert.Equal(t, first.ServerID, second.ServerID)
	assert.Len(t, f.storedFlights(t), 1)
}

func TestSyncService_LastWriteWins(t *testing.T) {
	f := newSyncFixture(t, SyncOptions{})

	created := f.push(t, dtos.OpCreate, flightData("L1", 1000, 5000, "newest"))

	stale := f.push(t, dtos.OpUpdate, flightData("L1", 1000, 3000, "stale"))
	assert.True(t, stale.Success, "stale writes are reported as success")
	assert.Equal(t, created.ServerID, stale.ServerID)
	assert.Contains(t, f.storedFlights(t)[0].Data, "newest")

	tie := f.push(t, dtos.OpUpdate, flightData("L1", 1000, 5000, "tie"))
	assert.True(t, tie.Success)
	assert.Contains(t, f.storedFlights(t)[0].Data, "tie")

	newer := f.push(t, dtos.OpUpdate, flightData("L1", 1000, 6000, "newer"))
	assert.True(t, newer.Success)
	rows := f.storedFlights(t)
	require.Len(t, rows, 1)
	assert.Contains(t, rows[0].Data, "newer")
	assert.Equal(t, int64(6000), rows[0].UpdatedAtMillis())
}

func TestSyncService_ConvergesRegardlessOfArrivalOrder(t *testing.T) {
	a := flightData("L1", 1000, 2000, "device-a")
	b := flightData("L1", 1000, 4000, "device-b")

	for name, order := range map[string][]json.RawMessage{
		"a-then-b": {a, b},
		"b-then-a": {b, a},
	} {
		t.Run(name, func(t *testing.T) {
			f := newSyncFixture(t, SyncOptions{})
			for _, d := range order {
				assert.True(t, f.push(t, dtos.OpUpdate, d).Success)
			}
			rows := f.storedFlights(t)
			require.Len(t, rows, 1)
			assert.Contains(t, rows[0].Data, "device-b")
		})
	}
}

func TestSyncService_UpdateOfUnknownRecordInserts(t *testing.T) {
	f := newSyncFixture(t, SyncOptions{})

	resp := f.push(t, dtos.OpUpdate, flightData("L9", 1000, 2000, "upsert"))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.ServerID)
	assert.Len(t, f.storedFlights(t), 1)
}

func TestSyncService_UpdateMatchesByServerID(t *testing.T) {
	f := newSyncFixture(t, SyncOptions{})

	created := f.push(t, dtos.OpCreate, flightData("L1", 1000, 0, "v1"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(flightData("other-local", 1000, 2000, "v2"), &body))
	body["serverId"] = created.ServerID
	data, _ := json.Marshal(body)

	resp := f.push(t, dtos.OpUpdate, data)
	assert.True(t, resp.Success)
	assert.Equal(t, created.ServerID, resp.ServerID)

	rows := f.storedFlights(t)
	require.Len(t, rows, 1)
	assert.Equal(t, "L1", rows[0].LocalID)
	assert.Contains(t, rows[0].Data, "v2")
}

func TestSyncService_DistinctLocalIDsNeverMerged(t *testing.T) {
	f := newSyncFixture(t, SyncOptions{})

	a := f.push(t, dtos.OpCreate, flightData("L1", 1000, 0, "same"))
	b := f.push(t, dtos.OpCreate, flightData("L2", 1000, 0, "same"))

	assert.NotEqual(t, a.ServerID, b.ServerID)
	assert.Len(t, f.storedFlights(t), 2)
}

func TestSyncService_DeleteIsIdempotentAndRejectsRecreate(t *testing.T) {
	f := newSyncFixture(t, SyncOptions{})

	created := f.push(t, dtos.OpCreate, flightData("L1", 1000, 0, "x"))

	for i := 0; i < 2; i++ {
		resp := f.push(t, dtos.OpDelete, deleteData("L1", created.ServerID))
		assert.True(t, resp.Success)
		assert.False(t, resp.Rejected)
	}
	assert.Empty(t, f.storedFlights(t))

	var tombs []gormModels.Tombstone
	require.NoError(t, f.orm.Find(&tombs).Error)
	require.Len(t, tombs, 1)
	assert.Equal(t, "L1", tombs[0].RecordID)
	require.NotNil(t, tombs[0].ServerID)
	assert.Equal(t, created.ServerID, *tombs[0].ServerID)

	for _, op := range []dtos.OpType{dtos.OpCreate, dtos.OpUpdate} {
		resp := f.push(t, op, flightData("L1", 1000, 9000, "resurrect"))
		assert.False(t, resp.Success)
		assert.True(t, resp.Rejected)
		assert.Equal(t, ReasonDeletedElsewhere, resp.Reason)
	}
	assert.Empty(t, f.storedFlights(t))
}

func TestSyncService_DeleteOfUnknownRecordStillTombstones(t *testing.T) {
	f := newSyncFixture(t, SyncOptions{})

	resp := f.push(t, dtos.OpDelete, deleteData("never-synced", ""))
	assert.True(t, resp.Success)

	var count int64
	require.NoError(t, f.orm.Model(&gormModels.Tombstone{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSyncService_TombstoneExpiresAfterTTL(t *testing.T) {
	f := newSyncFixture(t, SyncOptions{TombstoneTTL: 24 * time.Hour})

	f.push(t, dtos.OpCreate, flightData("L1", 1000, 0, "x"))
	f.push(t, dtos.OpDelete, deleteData("L1", ""))

	f.clock.Advance(23 * time.Hour)
	assert.True(t, f.push(t, dtos.OpCreate, flightData("L1", 1000, 0, "x")).Rejected)

	// Expired but not yet swept.
	f.clock.Advance(2 * time.Hour)
	resp := f.push(t, dtos.OpCreate, flightData("L1", 1000, 0, "back"))
	assert.True(t, resp.Success)
	assert.False(t, resp.Rejected)
	assert.Len(t, f.storedFlights(t), 1)
}

func TestSyncService_PushValidationFailures(t *testing.T) {
	f := newSyncFixture(t, SyncOptions{})

	tests := []struct {
		name   string
		req    dtos.SyncRequest
		reason string
	}{
		{"unknown collection", dtos.SyncRequest{Type: "create", Collection: "gliders", Data: flightData("L1", 1, 0, "")}, "unknown collection"},
		{"unknown type", dtos.SyncRequest{Type: "upsert", Collection: "flights", Data: flightData("L1", 1, 0, "")}, "unknown operation type"},
		{"missing data", dtos.SyncRequest{Type: "create", Collection: "flights"}, "missing data"},
		{"malformed data", dtos.SyncRequest{Type: "create", Collection: "flights", Data: json.RawMessage(`"nope"`)}, "malformed"},
		{"missing id", dtos.SyncRequest{Type: "create", Collection: "flights", Data: json.RawMessage(`{"date":"2024-01-01"}`)}, "missing record id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := f.sync.Push(context.Background(), testUser, tt.req)
			require.NoError(t, err)
			assert.False(t, resp.Success)
			assert.False(t, resp.Rejected)
			assert.Contains(t, resp.Reason, tt.reason)
		})
	}
	assert.Empty(t, f.storedFlights(t))
}

func TestSyncService_PushReturnsStoreErrors(t *testing.T) {
	f := newSyncFixture(t, SyncOptions{})
	boom := errors.New("connection reset")
	f.sync.tombstones = &failingTombstones{TombstoneStore: f.tombstones, findErr: boom}

	resp, err := f.sync.Push(context.Background(), testUser, dtos.SyncRequest{
		Type: "create", Collection: "flights", Data: flightData("L1", 1000, 0, ""),
	})
	require.ErrorIs(t, err, boom)
	assert.False(t, resp.Success)
}

func bulkItem(id string, op dtos.OpType, c dtos.Collection, data json.RawMessage) dtos.BulkSyncItem {
	return dtos.BulkSyncItem{ID: id, Type: string(op), Collection: string(c), Data: data, Timestamp: 1}
}

func TestSyncService_BulkMixedBatch(t *testing.T) {
	f := newSyncFixture(t, SyncOptions{})

	aircraft, _ := json.Marshal(dtos.Aircraft{RecordMeta: dtos.RecordMeta{ID: "A1", CreatedAt: 1000}, Registration: "G-ABCD"})
	resp := f.sync.PushBulk(context.Background(), testUser, dtos.BulkSyncRequest{Items: []dtos.BulkSyncItem{
		bulkItem("q1", dtos.OpCreate, dtos.CollectionFlights, flightData("L1", 1000, 0, "one")),
		bulkItem("q2", dtos.OpCreate, "gliders", flightData("L2", 1000, 0, "")),
		bulkItem("q3", dtos.OpCreate, dtos.CollectionAircraft, aircraft),
		bulkItem("q4", dtos.OpCreate, dtos.CollectionFlights, flightData("L3", 1000, 0, "three")),
	}})

	assert.True(t, resp.Success)
	require.Len(t, resp.Results, 4)
	for i, id := range []string{"q1", "q2", "q3", "q4"} {
		assert.Equal(t, id, resp.Results[i].QueueItemID)
	}
	assert.True(t, resp.Results[0].Success)
	assert.NotEmpty(t, resp.Results[0].ServerID)
	assert.False(t, resp.Results[1].Success)
	assert.Contains(t, resp.Results[1].Reason, "unknown collection")
	assert.True(t, resp.Results[2].Success)
	assert.True(t, resp.Results[3].Success)
	assert.Equal(t, dtos.BulkSummary{Total: 4, Succeeded: 3, Failed: 1}, resp.Summary)

	assert.Len(t, f.storedFlights(t), 2)
}

func TestSyncService_BulkSequentialSemanticsWithinBatch(t *testing.T) {
	f := newSyncFixture(t, SyncOptions{})

	resp := f.sync.PushBulk(context.Background(), testUser, dtos.BulkSyncRequest{Items: []dtos.BulkSyncItem{
		bulkItem("q1", dtos.OpCreate, dtos.CollectionFlights, flightData("L1", 1000, 0, "v1")),
		bulkItem("q2", dtos.OpUpdate, dtos.CollectionFlights, flightData("L1", 1000, 2000, "v2")),
		bulkItem("q3", dtos.OpCreate, dtos.CollectionFlights, flightData("L2", 1000, 0, "keep")),
		bulkItem("q4", dtos.OpUpdate, dtos.CollectionFlights, flightData("L2", 1000, 3000, "kept")),
		bulkItem("q5", dtos.OpDelete, dtos.CollectionFlights, deleteData("L1", "")),
		bulkItem("q6", dtos.OpUpdate, dtos.CollectionFlights, flightData("L1", 1000, 4000, "late")),
	}})

	require.Len(t, resp.Results, 6)
	for _, r := range resp.Results[:5] {
		assert.True(t, r.Success, r.QueueItemID)
	}
	assert.Equal(t, resp.Results[0].ServerID, resp.Results[1].ServerID)
	assert.True(t, resp.Results[5].Rejected)
	assert.Equal(t, ReasonDeletedElsewhere, resp.Results[5].Reason)

	rows := f.storedFlights(t)
	require.Len(t, rows, 1)
	assert.Equal(t, "L2", rows[0].LocalID)
	assert.Equal(t, resp.Results[2].ServerID, rows[0].ServerID)
	assert.Contains(t, rows[0].Data, "kept")
}

func TestSyncService_BulkSplitsIntoBatches(t *testing.T) {
	f := newSyncFixture(t, SyncOptions{BatchSize: 2, Concurrency: 1})

	var items []dtos.BulkSyncItem
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("L%d", i)
		items = append(items, bulkItem("q"+id, dtos.OpCreate, dtos.CollectionFlights, flightData(id, 1000, 0, "")))
	}
	resp := f.sync.PushBulk(context.Background(), testUser, dtos.BulkSyncRequest{Items: items})

	assert.Equal(t, dtos.BulkSummary{Total: 5, Succeeded: 5}, resp.Summary)
	assert.Len(t, f.storedFlights(t), 5)
}

func TestSyncService_BulkPartialFailureIsolated(t *testing.T) {
	f := newSyncFixture(t, SyncOptions{})
	f.sync.records = &failingRecords{
		RecordStore: f.records,
		insertErr:   map[string]error{"L2": errors.New("value too long for column")},
	}

	resp := f.sync.PushBulk(context.Background(), testUser, dtos.BulkSyncRequest{Items: []dtos.BulkSyncItem{
		bulkItem("q1", dtos.OpCreate, dtos.CollectionFlights, flightData("L1", 1000, 0, "")),
		bulkItem("q2", dtos.OpCreate, dtos.CollectionFlights, flightData("L2", 1000, 0, "")),
		bulkItem("q3", dtos.OpUpdate, dtos.CollectionFlights, flightData("L2", 1000, 2000, "")),
		bulkItem("q4", dtos.OpCreate, dtos.CollectionFlights, flightData("L3", 1000, 0, "")),
	}})

	assert.True(t, resp.Success)
	assert.True(t, resp.Results[0].Success)
	assert.False(t, resp.Results[1].Success)
	assert.Contains(t, resp.Results[1].Reason, "value too long")
	assert.False(t, resp.Results[2].Success, "writes after a failed write of the same record fail too")
	assert.True(t, resp.Results[3].Success)
	assert.Equal(t, dtos.BulkSummary{Total: 4, Succeeded: 2, Failed: 2}, resp.Summary)

	rows := f.storedFlights(t)
	require.Len(t, rows, 2)
	assert.Equal(t, "L1", rows[0].LocalID)
	assert.Equal(t, "L3", rows[1].LocalID)
}

func TestSyncService_BulkReadFailureFailsOnlyThatCollection(t *testing.T) {
	f := newSyncFixture(t, SyncOptions{})
	f.sync.records = &failingRecords{RecordStore: f.records, findErrFor: "aircraft"}

	aircraft, _ := json.Marshal(dtos.Aircraft{RecordMeta: dtos.RecordMeta{ID: "A1", CreatedAt: 1000}})
	resp := f.sync.PushBulk(context.Background(), testUser, dtos.BulkSyncRequest{Items: []dtos.BulkSyncItem{
		bulkItem("q1", dtos.OpCreate, dtos.CollectionAircraft, aircraft),
		bulkItem("q2", dtos.OpCreate, dtos.CollectionFlights, flightData("L1", 1000, 0, "")),
	}})

	assert.False(t, resp.Results[0].Success)
	assert.NotEmpty(t, resp.Results[0].Reason)
	assert.True(t, resp.Results[1].Success)
}

type failingRecords struct {
	RecordStore
	insertErr  map[string]error
	findErrFor string
}

func (r *failingRecords) Insert(ctx context.Context, rec *gormModels.SyncRecord, recency int64) error {
	if err, ok := r.insertErr[rec.LocalID]; ok {
		return err
	}
	return r.RecordStore.Insert(ctx, rec, recency)
}

func (r *failingRecords) FindExisting(ctx context.Context, userID, collection string, localIDs, serverIDs []string) ([]gormModels.SyncRecord, error) {
	if collection == r.findErrFor {
		return nil, errors.New("read timeout")
	}
	return r.RecordStore.FindExisting(ctx, userID, collection, localIDs, serverIDs)
}

type failingTombstones struct {
	TombstoneStore
	findErr error
}

func (t *failingTombstones) FindLive(ctx context.Context, userID, collection string, recordIDs []string, cutoff int64) ([]gormModels.Tombstone, error) {
	if t.findErr != nil {
		return nil, t.findErr
	}
	return t.TombstoneStore.FindLive(ctx, userID, collection, recordIDs, cutoff)
}
