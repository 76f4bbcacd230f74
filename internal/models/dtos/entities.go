package dtos

import (
	"encoding/json"
	"fmt"
)

type (
	Collection string
	OpType     string
	SyncStatus string
)

const (
	CollectionFlights   Collection = "flights"
	CollectionAircraft  Collection = "aircraft"
	CollectionPersonnel Collection = "personnel"

	OpCreate OpType = "create"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"

	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusPending SyncStatus = "pending"
	SyncStatusError   SyncStatus = "error"
)

// ZeroDuration is the backfill value for missing HH:MM fields.
const ZeroDuration = "00:00"

// Collections lists every synchronized collection in a stable order.
var Collections = []Collection{CollectionFlights, CollectionAircraft, CollectionPersonnel}

func ParseCollection(s string) (Collection, error) {
	for _, c := range Collections {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown collection %q", s)
}

func ParseOpType(s string) (OpType, error) {
	switch OpType(s) {
	case OpCreate, OpUpdate, OpDelete:
		return OpType(s), nil
	}
	return "", fmt.Errorf("unknown operation type %q", s)
}

// RecordMeta is the sync metadata every entity carries on the wire.
type RecordMeta struct {
	ID         string     `json:"id"`
	ServerID   string     `json:"serverId,omitempty"`
	UserID     string     `json:"userId,omitempty"`
	CreatedAt  int64      `json:"createdAt,omitempty"`
	UpdatedAt  int64      `json:"updatedAt,omitempty"`
	SyncStatus SyncStatus `json:"syncStatus,omitempty"`
}

func (m *RecordMeta) Meta() *RecordMeta { return m }

func (m RecordMeta) CreatedAtMillis() int64 { return m.CreatedAt }
func (m RecordMeta) UpdatedAtMillis() int64 { return m.UpdatedAt }

// Entity is implemented by *Flight, *Aircraft and *Personnel only.
type Entity interface {
	Meta() *RecordMeta
	CreatedAtMillis() int64
	UpdatedAtMillis() int64
	Collection() Collection
	// SortDate is the calendar key used to order delta responses.
	SortDate() string
	// ApplyDefaults backfills fields older clients may not send.
	ApplyDefaults()

	sealed()
}

type Flight struct {
	RecordMeta
	Date          string   `json:"date"`
	FlightNumber  string   `json:"flightNumber"`
	Departure     string   `json:"departure"`
	Arrival       string   `json:"arrival"`
	AircraftReg   string   `json:"aircraftReg"`
	AircraftType  string   `json:"aircraftType"`
	OutTime       string   `json:"outTime"`
	OffTime       string   `json:"offTime"`
	OnTime        string   `json:"onTime"`
	InTime        string   `json:"inTime"`
	BlockTime     string   `json:"blockTime"`
	FlightTime    string   `json:"flightTime"`
	NightTime     string   `json:"nightTime"`
	IFRTime       string   `json:"ifrTime"`
	PICTime       string   `json:"picTime"`
	SICTime       string   `json:"sicTime"`
	DualTime      string   `json:"dualTime"`
	PilotFlying   bool     `json:"pilotFlying"`
	DayTakeoffs   int      `json:"dayTakeoffs"`
	NightTakeoffs int      `json:"nightTakeoffs"`
	DayLandings   int      `json:"dayLandings"`
	NightLandings int      `json:"nightLandings"`
	Crew          []string `json:"crew"`
	Remarks       string   `json:"remarks"`
}

func (*Flight) Collection() Collection { return CollectionFlights }
func (f *Flight) SortDate() string    { return f.Date }
func (*Flight) sealed()               {}

func (f *Flight) ApplyDefaults() {
	for _, d := range []*string{
		&f.BlockTime, &f.FlightTime, &f.NightTime, &f.IFRTime,
		&f.PICTime, &f.SICTime, &f.DualTime,
	} {
		if *d == "" {
			*d = ZeroDuration
		}
	}
	if f.Crew == nil {
		f.Crew = []string{}
	}
}

type Aircraft struct {
	RecordMeta
	Registration      string `json:"registration"`
	Type              string `json:"type"`
	Model             string `json:"model"`
	Category          string `json:"category"`
	EngineType        string `json:"engineType"`
	IsMultiEngine     bool   `json:"isMultiEngine"`
	IsComplex         bool   `json:"isComplex"`
	IsHighPerformance bool   `json:"isHighPerformance"`
	Notes             string `json:"notes"`
}

func (*Aircraft) Collection() Collection { return CollectionAircraft }
func (*Aircraft) SortDate() string       { return "" }
func (*Aircraft) sealed()                {}

func (a *Aircraft) ApplyDefaults() {
	if a.Category == "" {
		a.Category = "airplane"
	}
}

type Personnel struct {
	RecordMeta
	Name       string   `json:"name"`
	Role       string   `json:"role"`
	Company    string   `json:"company"`
	EmployeeID string   `json:"employeeId"`
	Email      string   `json:"email"`
	Phone      string   `json:"phone"`
	Notes      string   `json:"notes"`
	Favorite   bool     `json:"favorite"`
	Licenses   []string `json:"licenses"`
}

func (*Personnel) Collection() Collection { return CollectionPersonnel }
func (*Personnel) SortDate() string       { return "" }
func (*Personnel) sealed()                {}

func (p *Personnel) ApplyDefaults() {
	if p.Licenses == nil {
		p.Licenses = []string{}
	}
}

// NewEntity returns an empty entity of the collection's kind.
func NewEntity(c Collection) (Entity, error) {
	switch c {
	case CollectionFlights:
		return &Flight{}, nil
	case CollectionAircraft:
		return &Aircraft{}, nil
	case CollectionPersonnel:
		return &Personnel{}, nil
	}
	return nil, fmt.Errorf("unknown collection %q", c)
}

// DecodeEntity unmarshals raw JSON into the collection's entity kind.
func DecodeEntity(c Collection, raw []byte) (Entity, error) {
	e, err := NewEntity(c)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, e); err != nil {
		return nil, fmt.Errorf("malformed %s record: %w", c, err)
	}
	return e, nil
}

// DeleteRef is the payload of a delete operation.
type DeleteRef struct {
	ID       string `json:"id"`
	ServerID string `json:"serverId,omitempty"`
}

// Mutation is a decoded push operation. Entity is set for create and update,
// Delete for delete.
type Mutation struct {
	Kind       OpType
	Collection Collection
	Entity     Entity
	Delete     *DeleteRef
}

// LocalID returns the client identifier the mutation targets.
func (m Mutation) LocalID() string {
	if m.Delete != nil {
		return m.Delete.ID
	}
	if m.Entity != nil {
		return m.Entity.Meta().ID
	}
	return ""
}

// ServerID returns the server identifier the client supplied, if any.
func (m Mutation) ServerID() string {
	if m.Delete != nil {
		return m.Delete.ServerID
	}
	if m.Entity != nil {
		return m.Entity.Meta().ServerID
	}
	return ""
}

// DecodeMutation turns the untyped wire triple into a Mutation.
func DecodeMutation(op, collection string, data json.RawMessage) (Mutation, error) {
	kind, err := ParseOpType(op)
	if err != nil {
		return Mutation{}, err
	}
	c, err := ParseCollection(collection)
	if err != nil {
		return Mutation{}, err
	}
	if len(data) == 0 || string(data) == "null" {
		return Mutation{}, fmt.Errorf("missing data for %s %s", kind, c)
	}

	m := Mutation{Kind: kind, Collection: c}
	switch kind {
	case OpDelete:
		var ref DeleteRef
		if err := json.Unmarshal(data, &ref); err != nil {
			return Mutation{}, fmt.Errorf("malformed delete payload: %w", err)
		}
		m.Delete = &ref
	default:
		e, err := DecodeEntity(c, data)
		if err != nil {
			return Mutation{}, err
		}
		m.Entity = e
	}

	if m.LocalID() == "" {
		return Mutation{}, fmt.Errorf("missing record id for %s %s", kind, c)
	}
	return m, nil
}
