package constants

type (
	RequestSource string
	APIStatus     string
	LockKey       string
)

const (
	RequestSourceAPI RequestSource = "API"

	APIStatusOk    APIStatus = "ok"
	APIStatusError APIStatus = "error"

	LockKeyTombstoneSweep LockKey = "logbook:lock:tombstone_sweep"

	HeaderRequestID = "X-Request-ID"
	HeaderClient    = "X-Logbook-Client"
)
