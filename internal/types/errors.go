package types

import "errors"

// Sentinel errors for zone operations.
var (
	ErrRecordNotFound    = errors.New("DNS record not found")
	ErrRecordExists      = errors.New("DNS record already exists")
	ErrProtectedRecord   = errors.New("SOA and NS records cannot be modified")
	ErrInvalidRecordType = errors.New("invalid DNS record type")
	ErrInvalidName       = errors.New("invalid domain name")
	ErrInvalidIP         = errors.New("invalid IP address")
	ErrMalformedRequest  = errors.New("malformed request")
	ErrUnknownZone       = errors.New("unknown zone")
	ErrSerialOverflow    = errors.New("SOA serial counter exhausted for today")
	ErrZoneCheckFailed   = errors.New("zone check failed")
	ErrBackupFailed      = errors.New("backup failed")
	ErrWriteFailed       = errors.New("zone file write failed")
	ErrReloadFailed      = errors.New("reload failed")
	ErrRollbackFailed    = errors.New("rollback failed")
	ErrSnapshotNotFound  = errors.New("snapshot not found")
)

// Reason codes returned to clients.
const (
	ReasonBackupFailed     = "BackupFailed"
	ReasonWriteFailed      = "WriteFailed"
	ReasonReloadFailed     = "ReloadFailed"
	ReasonRollbackFailed   = "RollbackFailed"
	ReasonDuplicateRecord  = "DuplicateRecord"
	ReasonNotFound         = "NotFound"
	ReasonInvalidDomain    = "InvalidDomain"
	ReasonInvalidIP        = "InvalidIP"
	ReasonMalformedRequest = "MalformedRequest"
	ReasonSerialOverflow   = "SerialOverflow"
	ReasonZoneCheckFailed  = "ZoneCheckFailed"
	ReasonUnknownZone      = "UnknownZone"
	ReasonInternal         = "Internal"
)

// reasons is ordered: RollbackFailed wraps ReloadFailed and must win.
var reasons = []struct {
	err    error
	reason string
}{
	{ErrRollbackFailed, ReasonRollbackFailed},
	{ErrReloadFailed, ReasonReloadFailed},
	{ErrBackupFailed, ReasonBackupFailed},
	{ErrWriteFailed, ReasonWriteFailed},
	{ErrRecordExists, ReasonDuplicateRecord},
	{ErrRecordNotFound, ReasonNotFound},
	{ErrSnapshotNotFound, ReasonNotFound},
	{ErrInvalidName, ReasonInvalidDomain},
	{ErrInvalidIP, ReasonInvalidIP},
	{ErrMalformedRequest, ReasonMalformedRequest},
	{ErrInvalidRecordType, ReasonMalformedRequest},
	{ErrProtectedRecord, ReasonMalformedRequest},
	{ErrSerialOverflow, ReasonSerialOverflow},
	{ErrZoneCheckFailed, ReasonZoneCheckFailed},
	{ErrUnknownZone, ReasonUnknownZone},
}

// Reason maps an error chain onto the machine-readable reason code.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ReasonInternal
}
