package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"infinite-experiment/logbook/internal/models/dtos"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeltaService_ReturnsChangesWithDefaults(t *testing.T) {
	f := newSyncFixture(t, SyncOptions{})
	ctx := context.Background()

	bare, _ := json.Marshal(map[string]interface{}{"id": "L1", "createdAt": 1000, "date": "2024-02-01"})
	created := f.push(t, dtos.OpCreate, bare)
	f.push(t, dtos.OpCreate, flightData("L2", 1000, 0, ""))

	resp, err := f.delta.Delta(ctx, testUser, dtos.CollectionFlights, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Records, 2)
	assert.Empty(t, resp.Deleted)
	assert.Equal(t, f.clock.Now().UnixMilli(), resp.SyncedAt)

	// Newest calendar date first.
	var first dtos.Flight
	require.NoError(t, json.Unmarshal(resp.Records[0], &first))
	assert.Equal(t, "L2", first.ID)

	var flight dtos.Flight
	require.NoError(t, json.Unmarshal(resp.Records[1], &flight))
	assert.Equal(t, "L1", flight.ID)
	assert.Equal(t, created.ServerID, flight.ServerID)
	assert.Equal(t, dtos.SyncStatusSynced, flight.SyncStatus)
	assert.Equal(t, int64(1000), flight.CreatedAt)
	assert.Equal(t, dtos.ZeroDuration, flight.BlockTime)
	assert.Equal(t, dtos.ZeroDuration, flight.NightTime)
	assert.NotNil(t, flight.Crew)
	assert.Zero(t, flight.DayLandings)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Records[1], &raw))
	assert.Equal(t, []interface{}{}, raw["crew"])
}

func TestDeltaService_SinceAndDeletions(t *testing.T) {
	f := newSyncFixture(t, SyncOptions{})
	ctx := context.Background()

	f.push(t, dtos.OpCreate, flightData("L1", 1000, 0, ""))
	f.push(t, dtos.OpCreate, flightData("L2", 1000, 0, ""))

	first, err := f.delta.Delta(ctx, testUser, dtos.CollectionFlights, 0)
	require.NoError(t, err)
	require.Equal(t, 2, first.Count)

	f.clock.Advance(time.Minute)
	f.push(t, dtos.OpDelete, deleteData("L1", ""))
	f.push(t, dtos.OpUpdate, flightData("L2", 1000, 2000, "edited"))
	f.clock.Advance(time.Minute)

	next, err := f.delta.Delta(ctx, testUser, dtos.CollectionFlights, first.SyncedAt)
	require.NoError(t, err)
	require.Equal(t, 1, next.Count)
	assert.Contains(t, string(next.Records[0]), "edited")
	assert.Equal(t, []string{"L1"}, next.Deleted)

	f.clock.Advance(time.Minute)
	empty, err := f.delta.Delta(ctx, testUser, dtos.CollectionFlights, next.SyncedAt)
	require.NoError(t, err)
	assert.Zero(t, empty.Count)
	assert.NotNil(t, empty.Records)
	assert.NotNil(t, empty.Deleted)
}

func TestDeltaService_ScopedByUserAndCollection(t *testing.T) {
	f := newSyncFixture(t, SyncOptions{})
	ctx := context.Background()

	f.push(t, dtos.OpCreate, flightData("L1", 1000, 0, ""))

	other, err := f.delta.Delta(ctx, "user-2", dtos.CollectionFlights, 0)
	require.NoError(t, err)
	assert.Zero(t, other.Count)

	aircraft, err := f.delta.Delta(ctx, testUser, dtos.CollectionAircraft, 0)
	require.NoError(t, err)
	assert.Zero(t, aircraft.Count)
}

func TestDeltaService_WriteAtWatermarkIsDelivered(t *testing.T) {
	f := newSyncFixture(t, SyncOptions{})
	ctx := context.Background()

	first, err := f.delta.Delta(ctx, testUser, dtos.CollectionFlights, 0)
	require.NoError(t, err)
	require.Zero(t, first.Count)

	// Same server millisecond as the pull, with client stamps far older.
	f.push(t, dtos.OpCreate, flightData("L1", 1000, 0, ""))
	f.push(t, dtos.OpCreate, flightData("L2", 1000, 0, ""))
	f.push(t, dtos.OpDelete, deleteData("L2", ""))

	next, err := f.delta.Delta(ctx, testUser, dtos.CollectionFlights, first.SyncedAt)
	require.NoError(t, err)
	require.Equal(t, 1, next.Count)
	assert.Contains(t, string(next.Records[0]), `"id":"L1"`)
	assert.Equal(t, []string{"L2"}, next.Deleted)
}
