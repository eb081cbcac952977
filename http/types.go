package http

import "jabberwocky238/bindzone/internal/types"

// AddRecordRequest is the request body for POST /dns/add.
type AddRecordRequest struct {
	Zone   string           `json:"zone"`
	Domain string           `json:"domain" binding:"required"`
	Type   types.RecordType `json:"type" binding:"required"`
	Value  string           `json:"value" binding:"required"`
	TTL    *uint32          `json:"ttl"`
}

// DeleteRecordRequest is the request body for POST /dns/delete. Value, when
// set, pins the record to delete among several with the same name and type.
type DeleteRecordRequest struct {
	Zone   string           `json:"zone"`
	Domain string           `json:"domain" binding:"required"`
	Type   types.RecordType `json:"type" binding:"required"`
	Value  string           `json:"value"`
}

// UpdateRecordRequest is the request body for POST /dns/update. The record
// is selected by domain, type and optionally value; the New* fields
// replace what is set.
type UpdateRecordRequest struct {
	Zone     string           `json:"zone"`
	Domain   string           `json:"domain" binding:"required"`
	Type     types.RecordType `json:"type" binding:"required"`
	Value    string           `json:"value"`
	NewType  types.RecordType `json:"new_type"`
	NewValue string           `json:"new_value"`
	TTL      *uint32          `json:"ttl"`
}

// RestoreRequest is the request body for POST /dns/restore.
type RestoreRequest struct {
	Zone     string `json:"zone"`
	Snapshot string `json:"snapshot" binding:"required"`
}

// ResultView is the client view of a completed write.
type ResultView struct {
	Zone     string `json:"zone"`
	State    string `json:"state"`
	Serial   uint32 `json:"serial,omitempty"`
	Snapshot string `json:"snapshot,omitempty"`
	Added    int    `json:"added"`
	Updated  int    `json:"updated"`
	Deleted  int    `json:"deleted"`
}
