package http

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/miekg/dns"

	"jabberwocky238/bindzone/backup"
	"jabberwocky238/bindzone/dispatch"
	"jabberwocky238/bindzone/internal/types"
	"jabberwocky238/bindzone/storage"
)

// RecordView is the JSON form of one zone record.
type RecordView struct {
	Zone  string           `json:"zone"`
	Name  string           `json:"name"`
	TTL   *uint32          `json:"ttl,omitempty"`
	Type  types.RecordType `json:"type"`
	Value string           `json:"value"`
}

// SnapshotView is the JSON form of one backup.
type SnapshotView struct {
	Name string `json:"name"`
	Time string `json:"time"`
	Size int64  `json:"size,omitempty"`
}

// DNSHandler handles record CRUD over every registered zone.
type DNSHandler struct {
	zones      *storage.Registry
	dispatcher *dispatch.Dispatcher
}

// NewDNSHandler creates a DNSHandler.
func NewDNSHandler(zones *storage.Registry, d *dispatch.Dispatcher) *DNSHandler {
	return &DNSHandler{zones: zones, dispatcher: d}
}

// Dispatch handles POST /api/v1/dispatch. It accepts the same JSON request
// as the TCP listener and answers with the same response body; the HTTP
// status follows the failure reason.
func (h *DNSHandler) Dispatch(c *gin.Context) {
	var req dispatch.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dispatch.Response{
			Status:  dispatch.StatusError,
			Message: "invalid request body: " + err.Error(),
			Reason:  types.ReasonMalformedRequest,
		})
		return
	}
	resp := h.dispatcher.Handle(c.Request.Context(), req)
	status := http.StatusOK
	if !resp.OK() {
		status = statusFor(resp.Reason)
	}
	c.JSON(status, resp)
}

// Add handles POST /dns/add.
func (h *DNSHandler) Add(c *gin.Context) {
	var req AddRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	store, name, err := h.resolve(req.Zone, req.Domain)
	if err != nil {
		FailErr(c, err)
		return
	}
	rec := types.Record{Name: name, TTL: req.TTL, Type: recordType(req.Type), Data: req.Value}
	res, err := store.Add(c.Request.Context(), rec)
	if err != nil {
		FailErr(c, err)
		return
	}
	OK(c, resultView(res))
}

// Delete handles POST /dns/delete.
func (h *DNSHandler) Delete(c *gin.Context) {
	var req DeleteRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	store, name, err := h.resolve(req.Zone, req.Domain)
	if err != nil {
		FailErr(c, err)
		return
	}
	sel := types.Selector{Name: name, Types: []types.RecordType{recordType(req.Type)}, Data: req.Value}
	res, err := store.Delete(c.Request.Context(), sel)
	if err != nil {
		FailErr(c, err)
		return
	}
	OK(c, resultView(res))
}

// Update handles POST /dns/update.
func (h *DNSHandler) Update(c *gin.Context) {
	var req UpdateRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.NewType == "" && req.NewValue == "" && req.TTL == nil {
		Fail(c, http.StatusBadRequest, "nothing to update")
		return
	}

	store, name, err := h.resolve(req.Zone, req.Domain)
	if err != nil {
		FailErr(c, err)
		return
	}
	sel := types.Selector{Name: name, Types: []types.RecordType{recordType(req.Type)}, Data: req.Value}
	fields := types.RecordFields{Type: recordType(req.NewType), Data: req.NewValue, TTL: req.TTL}
	res, err := store.Update(c.Request.Context(), sel, fields)
	if err != nil {
		FailErr(c, err)
		return
	}
	OK(c, resultView(res))
}

// List handles GET /dns/list with optional zone, domain and type filters.
// Without a zone every registered zone is listed.
func (h *DNSHandler) List(c *gin.Context) {
	engines := h.zones.Engines()
	if zone := c.Query("zone"); zone != "" {
		e, err := h.zones.Lookup(zone)
		if err != nil {
			FailErr(c, err)
			return
		}
		engines = []*storage.Engine{e}
	}

	var filter []types.RecordType
	if rt := c.Query("type"); rt != "" {
		filter = append(filter, recordType(types.RecordType(rt)))
	}
	domain := types.NormalizeName(c.Query("domain"))

	views := make([]RecordView, 0)
	for _, e := range engines {
		recs, err := e.Records(c.Request.Context(), filter...)
		if err != nil {
			FailErr(c, err)
			return
		}
		for _, r := range recs {
			if domain != "" && r.FQDN != domain {
				continue
			}
			views = append(views, RecordView{Zone: e.Zone(), Name: r.FQDN, TTL: r.TTL, Type: r.Type, Value: r.Data})
		}
	}
	OK(c, views)
}

// Get handles GET /dns/get?domain=...&type=... and returns the records of
// one name from the zone that holds it.
func (h *DNSHandler) Get(c *gin.Context) {
	domain := c.Query("domain")
	if domain == "" {
		Fail(c, http.StatusBadRequest, "domain is required")
		return
	}
	store, name, err := h.resolve(c.Query("zone"), domain)
	if err != nil {
		FailErr(c, err)
		return
	}

	var filter []types.RecordType
	if rt := c.Query("type"); rt != "" {
		filter = append(filter, recordType(types.RecordType(rt)))
	}
	recs, err := store.Records(c.Request.Context(), filter...)
	if err != nil {
		FailErr(c, err)
		return
	}

	views := make([]RecordView, 0)
	for _, r := range recs {
		if r.FQDN == name {
			views = append(views, RecordView{Zone: store.Zone(), Name: r.FQDN, TTL: r.TTL, Type: r.Type, Value: r.Data})
		}
	}
	if len(views) == 0 {
		FailErr(c, fmt.Errorf("%s: %w", name, types.ErrRecordNotFound))
		return
	}
	OK(c, views)
}

// Backups handles GET /dns/backups?zone=... and lists snapshots newest
// first.
func (h *DNSHandler) Backups(c *gin.Context) {
	e, err := h.zones.Lookup(c.Query("zone"))
	if err != nil {
		FailErr(c, err)
		return
	}
	snaps, err := e.Snapshots(c.Request.Context())
	if err != nil {
		FailErr(c, err)
		return
	}
	views := make([]SnapshotView, 0, len(snaps))
	for _, s := range snaps {
		views = append(views, SnapshotView{Name: s.Name, Time: s.Time.Format(backup.TimeLayout), Size: s.Size})
	}
	OK(c, views)
}

// Restore handles POST /dns/restore.
func (h *DNSHandler) Restore(c *gin.Context) {
	var req RestoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	e, err := h.zones.Lookup(req.Zone)
	if err != nil {
		FailErr(c, err)
		return
	}
	res, err := e.Restore(c.Request.Context(), req.Snapshot)
	if err != nil {
		FailErr(c, err)
		return
	}
	OK(c, resultView(res))
}

// resolve picks the zone for domain: the named one, or else the most
// specific registered zone containing it.
func (h *DNSHandler) resolve(zone, domain string) (storage.ZoneStore, string, error) {
	name := types.NormalizeName(domain)
	if name == "" {
		return nil, "", fmt.Errorf("domain is required: %w", types.ErrMalformedRequest)
	}
	if _, ok := dns.IsDomainName(name); !ok {
		return nil, "", fmt.Errorf("%q: %w", domain, types.ErrInvalidName)
	}

	if zone == "" {
		e, err := h.zones.ForName(name)
		if err != nil {
			return nil, "", err
		}
		return e, name, nil
	}
	e, err := h.zones.Lookup(zone)
	if err != nil {
		return nil, "", err
	}
	if !storage.InZone(name, e.Zone()) {
		return nil, "", fmt.Errorf("%s is outside zone %s: %w", name, e.Zone(), types.ErrInvalidName)
	}
	return e, name, nil
}

func recordType(rt types.RecordType) types.RecordType {
	return types.RecordType(strings.ToUpper(strings.TrimSpace(string(rt))))
}

func resultView(res *storage.Result) ResultView {
	return ResultView{
		Zone:     res.Zone,
		State:    res.State.String(),
		Serial:   res.Serial,
		Snapshot: res.Snapshot.Name,
		Added:    len(res.Changes.Added),
		Updated:  len(res.Changes.Updated),
		Deleted:  len(res.Changes.Deleted),
	}
}
