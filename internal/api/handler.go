// Package api exposes the object hierarchy over HTTP: chi routes, the
// {"data","permissions"} envelope, conditional-write headers, and sync
// filters on plural endpoints.
package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"shelfstore/internal/domain"
	"shelfstore/internal/middleware"
	"shelfstore/internal/service/resource"
)

// Handler serves the resource endpoints.
type Handler struct {
	svc    *resource.Service
	logger *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(svc *resource.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// payload is the request envelope. Both keys are optional; an empty body is
// equivalent to {"data": {}}.
type payload struct {
	Data        map[string]interface{} `json:"data"`
	Permissions map[string][]string    `json:"permissions"`
}

// decodePayload parses the request body. Writable attribute maps never carry
// the reserved id and last_modified keys; a mismatched id in a PUT body is
// rejected rather than silently overridden, and POST bodies (urlID empty)
// must not carry an id at all since the server generates one.
func decodePayload(r *http.Request, urlID string) (*payload, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return nil, domain.ErrValidation("read request body: %v", err)
	}

	p := &payload{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, p); err != nil {
			return nil, domain.ErrValidation("invalid JSON body: %v", err)
		}
	}
	if p.Data == nil {
		p.Data = map[string]interface{}{}
	}

	if bodyID, ok := p.Data["id"]; ok {
		if urlID == "" {
			return nil, domain.ErrValidation("id cannot be set in the body of a creation request; use PUT to choose an id")
		}
		s, isString := bodyID.(string)
		if !isString || s != urlID {
			return nil, domain.ErrValidation("body id does not match URL id")
		}
		delete(p.Data, "id")
	}
	delete(p.Data, "last_modified")

	return p, nil
}

// parseConditions reads If-Match / If-None-Match. Only "*" is supported for
// If-None-Match; anything else there, or a malformed If-Match ETag, is a 400.
func parseConditions(r *http.Request) (resource.Conditions, error) {
	var cond resource.Conditions

	if v := r.Header.Get("If-None-Match"); v != "" {
		if v != "*" {
			return cond, domain.ErrValidation("If-None-Match only supports *")
		}
		cond.IfNoneMatchAny = true
	}

	if v := r.Header.Get("If-Match"); v != "" {
		ts, err := domain.ParseETag(v)
		if err != nil {
			return cond, domain.ErrValidation("invalid If-Match header: %v", err)
		}
		cond.IfMatch = &ts
	}

	return cond, nil
}

// parseFilter reads the listing query string: _since and _before timestamp
// bounds, _limit, and any remaining parameter as an attribute equality
// filter. Numeric filter values compare as numbers.
func parseFilter(r *http.Request) (domain.Filter, error) {
	f := domain.Filter{}
	for key, values := range r.URL.Query() {
		if len(values) == 0 {
			continue
		}
		value := values[0]
		switch key {
		case "_since", "_before":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return f, domain.ErrValidation("invalid %s value %q", key, value)
			}
			if key == "_since" {
				f.Since = &ts
			} else {
				f.Before = &ts
			}
		case "_limit":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return f, domain.ErrValidation("invalid _limit value %q", value)
			}
			f.Limit = n
		default:
			if f.Fields == nil {
				f.Fields = map[string]interface{}{}
			}
			if n, err := strconv.ParseFloat(value, 64); err == nil {
				f.Fields[key] = n
			} else {
				f.Fields[key] = value
			}
		}
	}
	return f, nil
}

// objectBody builds the data half of the response envelope.
func objectBody(obj *domain.Object) map[string]interface{} {
	if obj.Deleted {
		return map[string]interface{}{
			"id":            obj.ID,
			"last_modified": obj.LastModified,
			"deleted":       true,
		}
	}
	out := make(map[string]interface{}, len(obj.Data)+2)
	for k, v := range obj.Data {
		out[k] = v
	}
	out["id"] = obj.ID
	out["last_modified"] = obj.LastModified
	return out
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeObject renders a single object with its ETag.
func writeObject(w http.ResponseWriter, status int, obj *domain.Object, acl domain.ACL) {
	w.Header().Set("ETag", domain.ETag(obj.LastModified))
	body := map[string]interface{}{"data": objectBody(obj)}
	if acl != nil {
		body["permissions"] = acl
	}
	writeJSON(w, status, body)
}

// scope extracts the resource coordinates from the route. The plural flag
// marks collection endpoints, which have no trailing id.
func scope(r *http.Request, t domain.ResourceType, plural bool) (parentID, id string) {
	switch t {
	case domain.ResourceBucket:
		parentID, id = "", chi.URLParam(r, "bucket")
	case domain.ResourceCollection:
		parentID = "/buckets/" + chi.URLParam(r, "bucket")
		id = chi.URLParam(r, "collection")
	case domain.ResourceGroup:
		parentID = "/buckets/" + chi.URLParam(r, "bucket")
		id = chi.URLParam(r, "id")
	case domain.ResourceRecord:
		parentID = "/buckets/" + chi.URLParam(r, "bucket") + "/collections/" + chi.URLParam(r, "collection")
		id = chi.URLParam(r, "id")
	}
	if plural {
		id = ""
	}
	return parentID, id
}

// getObject handles GET on an object endpoint.
func (h *Handler) getObject(t domain.ResourceType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parentID, id := scope(r, t, false)
		identity := middleware.IdentityFromContext(r.Context())

		obj, acl, err := h.svc.Get(r.Context(), identity, t, parentID, id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeObject(w, http.StatusOK, obj, acl)
	}
}

// putObject handles PUT: create or replace under a client-chosen id.
func (h *Handler) putObject(t domain.ResourceType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parentID, id := scope(r, t, false)
		identity := middleware.IdentityFromContext(r.Context())

		p, err := decodePayload(r, id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		cond, err := parseConditions(r)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		obj, acl, created, err := h.svc.Put(r.Context(), identity, t, parentID, id, p.Data, domain.ACL(p.Permissions), cond)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeObject(w, status, obj, acl)
	}
}

// patchObject handles PATCH: merge top-level attributes into an existing
// object.
func (h *Handler) patchObject(t domain.ResourceType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parentID, id := scope(r, t, false)
		identity := middleware.IdentityFromContext(r.Context())

		p, err := decodePayload(r, id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		cond, err := parseConditions(r)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		obj, acl, err := h.svc.Patch(r.Context(), identity, t, parentID, id, p.Data, domain.ACL(p.Permissions), cond)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeObject(w, http.StatusOK, obj, acl)
	}
}

// deleteObject handles DELETE on an object endpoint, returning the tombstone.
func (h *Handler) deleteObject(t domain.ResourceType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parentID, id := scope(r, t, false)
		identity := middleware.IdentityFromContext(r.Context())

		cond, err := parseConditions(r)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		tomb, err := h.svc.Delete(r.Context(), identity, t, parentID, id, cond)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeObject(w, http.StatusOK, tomb, nil)
	}
}

// listObjects handles GET on a plural endpoint. The ETag reflects the scope
// timestamp, so clients can resume sync from the listing.
func (h *Handler) listObjects(t domain.ResourceType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parentID, _ := scope(r, t, true)
		identity := middleware.IdentityFromContext(r.Context())

		f, err := parseFilter(r)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		objs, ts, err := h.svc.List(r.Context(), identity, t, parentID, f)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		items := make([]map[string]interface{}, 0, len(objs))
		live := 0
		for _, obj := range objs {
			items = append(items, objectBody(obj))
			if !obj.Deleted {
				live++
			}
		}

		w.Header().Set("ETag", domain.ETag(ts))
		w.Header().Set("Total-Records", strconv.Itoa(live))
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": items})
	}
}

// createObject handles POST on a plural endpoint: a new object under a
// server-generated id.
func (h *Handler) createObject(t domain.ResourceType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parentID, _ := scope(r, t, true)
		identity := middleware.IdentityFromContext(r.Context())

		p, err := decodePayload(r, "")
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		obj, acl, err := h.svc.Create(r.Context(), identity, t, parentID, p.Data, domain.ACL(p.Permissions))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeObject(w, http.StatusCreated, obj, acl)
	}
}

// deleteObjects handles DELETE on a plural endpoint: tombstone everything in
// the scope matching the filter.
func (h *Handler) deleteObjects(t domain.ResourceType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parentID, _ := scope(r, t, true)
		identity := middleware.IdentityFromContext(r.Context())

		f, err := parseFilter(r)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		deleted, err := h.svc.DeleteAll(r.Context(), identity, t, parentID, f)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": deleted})
	}
}

// hello is the server index: name, version, and the caller's resolved
// identity.
func (h *Handler) hello(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{
			"project_name":     "shelfstore",
			"project_version":  version,
			"http_api_version": "1.0",
		}
		if identity := middleware.IdentityFromContext(r.Context()); identity != "" {
			body["user"] = map[string]interface{}{"id": identity}
		}
		writeJSON(w, http.StatusOK, body)
	}
}

// heartbeat reports backend liveness.
func (h *Handler) heartbeat(check func(r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := check(r); err != nil {
			h.logger.Error("heartbeat failed",
				"request_id", middleware.RequestIDFromContext(r.Context()),
				"error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"storage": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"storage": true})
	}
}
