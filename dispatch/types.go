// Package dispatch validates management requests and maps them onto zone
// store mutations. It also serves the line-oriented TCP JSON protocol.
package dispatch

import (
	"jabberwocky238/bindzone/internal/types"
)

// Action names a management operation.
type Action string

const (
	ActionAdd    Action = "add_domain"
	ActionDelete Action = "delete_domain"
	ActionUpdate Action = "update_domain"
	ActionList   Action = "list_domains"
)

// Request is one management request.
type Request struct {
	Action Action  `json:"action"`
	Domain string  `json:"domain,omitempty"`
	IP     string  `json:"ip,omitempty"`
	Zone   string  `json:"zone,omitempty"` // empty selects the default zone
	TTL    *uint32 `json:"ttl,omitempty"`
}

// Response statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Response is the reply to a Request.
type Response struct {
	Status  string              `json:"status"`
	Message string              `json:"message"`
	Reason  string              `json:"reason,omitempty"`
	Domains []types.DomainEntry `json:"domains,omitzero"`
}

// OK reports whether the response is a success.
func (r Response) OK() bool { return r.Status == StatusSuccess }

func success(msg string) Response {
	return Response{Status: StatusSuccess, Message: msg}
}

func failure(err error) Response {
	return Response{Status: StatusError, Message: err.Error(), Reason: types.Reason(err)}
}
