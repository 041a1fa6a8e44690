package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"chainspace.org/internal/audit"
	"chainspace.org/internal/obs"
	"chainspace.org/internal/space"
)

type createSpaceRequest struct {
	Code string `json:"code"`
}

type approveRequest struct {
	Capacity uint64 `json:"capacity"`
}

type meteredRequest struct {
	AuthorizationID string `json:"authorization_id"`
}

type addDelegateRequest struct {
	Delegate        string `json:"delegate"`
	Role            string `json:"role"`
	AuthorizationID string `json:"authorization_id"`
}

type removeDelegateRequest struct {
	RemoveAuthorizationID string `json:"remove_authorization_id"`
	AuthorizationID       string `json:"authorization_id"`
}

type capacityRequest struct {
	Capacity uint64 `json:"capacity"`
}

type subspaceRequest struct {
	Code     string `json:"code"`
	Capacity uint64 `json:"capacity"`
}

type authorizeRequest struct {
	AuthorizationID string `json:"authorization_id"`
	Profile         string `json:"profile"`
	Entries         uint16 `json:"entries"`
}

type releaseRequest struct {
	Entries uint16 `json:"entries"`
}

func (a *API) handleSpacesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createSpace(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

// handleSpaceResource dispatches /v1/spaces/{id} and its sub-resources.
func (a *API) handleSpaceResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/spaces/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	id, rest, _ := strings.Cut(path, "/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "space not found")
		return
	}

	switch rest {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getSpace(w, r, id)
	case "approve":
		a.post(w, r, func() { a.approveSpace(w, r, id) })
	case "archive":
		a.post(w, r, func() { a.archiveSpace(w, r, id) })
	case "restore":
		a.post(w, r, func() { a.restoreSpace(w, r, id) })
	case "capacity":
		a.post(w, r, func() { a.updateCapacity(w, r, id) })
	case "capacity/reset":
		a.post(w, r, func() { a.resetCount(w, r, id) })
	case "approval/revoke":
		a.post(w, r, func() { a.approvalRevoke(w, r, id) })
	case "approval/restore":
		a.post(w, r, func() { a.approvalRestore(w, r, id) })
	case "subspaces":
		a.post(w, r, func() { a.createSubspace(w, r, id) })
	case "usage/release":
		a.post(w, r, func() { a.releaseUsage(w, r, id) })
	case "delegates":
		switch r.Method {
		case http.MethodGet:
			a.listDelegates(w, r, id)
		case http.MethodPost:
			a.addDelegate(w, r, id)
		case http.MethodDelete:
			a.removeDelegate(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
		}
	default:
		if who, ok := strings.CutPrefix(rest, "delegates/"); ok && who != "" {
			if r.Method != http.MethodGet {
				methodNotAllowed(w, r, http.MethodGet)
				return
			}
			a.checkDelegate(w, r, id, who)
			return
		}
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) post(w http.ResponseWriter, r *http.Request, fn func()) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	fn()
}

func (a *API) handleAuthorizationResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/authorizations/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	grant, err := a.spaces.GetAuthorization(r.Context(), id)
	if err != nil {
		handleSpaceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

func (a *API) createSpace(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.requireCaller(w, r)
	if !ok {
		return
	}
	var req createSpaceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.spaces.Create(r.Context(), caller, req.Code)
	obs.ObserveSpaceOperation(string(space.ActionCreate), err)
	if err != nil {
		handleSpaceError(w, r, err)
		return
	}

	audit.LogEvent(r.Context(), "space.create", map[string]any{
		"space":         res.SpaceID,
		"authorization": res.AuthorizationID,
	})
	w.Header().Set("Location", "/v1/spaces/"+res.SpaceID)
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) getSpace(w http.ResponseWriter, r *http.Request, id string) {
	d, err := a.spaces.GetSpace(r.Context(), id)
	if err != nil {
		handleSpaceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) approveSpace(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := a.requireCaller(w, r)
	if !ok {
		return
	}
	var req approveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	err := a.spaces.Approve(r.Context(), caller, id, req.Capacity)
	obs.ObserveSpaceOperation(string(space.ActionApprove), err)
	if err != nil {
		handleSpaceError(w, r, err)
		return
	}
	audit.LogEvent(r.Context(), "space.approve", map[string]any{
		"space":    id,
		"capacity": req.Capacity,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "approved"})
}

func (a *API) archiveSpace(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := a.requireCaller(w, r)
	if !ok {
		return
	}
	var req meteredRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	err := a.spaces.Archive(r.Context(), caller, id, req.AuthorizationID)
	obs.ObserveSpaceOperation(string(space.ActionArchive), err)
	if err != nil {
		handleSpaceError(w, r, err)
		return
	}
	audit.LogEvent(r.Context(), "space.archive", map[string]any{"space": id})
	writeJSON(w, http.StatusOK, map[string]any{"status": "archived"})
}

func (a *API) restoreSpace(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := a.requireCaller(w, r)
	if !ok {
		return
	}
	var req meteredRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	err := a.spaces.Restore(r.Context(), caller, id, req.AuthorizationID)
	obs.ObserveSpaceOperation(string(space.ActionRestore), err)
	if err != nil {
		handleSpaceError(w, r, err)
		return
	}
	audit.LogEvent(r.Context(), "space.restore", map[string]any{"space": id})
	writeJSON(w, http.StatusOK, map[string]any{"status": "restored"})
}

func (a *API) listDelegates(w http.ResponseWriter, r *http.Request, id string) {
	registry, err := a.spaces.Delegates(r.Context(), id)
	if err != nil {
		handleSpaceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"space":     id,
		"delegates": registry,
	})
}

func (a *API) checkDelegate(w http.ResponseWriter, r *http.Request, id, who string) {
	member, err := a.spaces.IsADelegate(r.Context(), id, who)
	if err != nil {
		handleSpaceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"space":       id,
		"delegate":    who,
		"is_delegate": member,
	})
}

func (a *API) addDelegate(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := a.requireCaller(w, r)
	if !ok {
		return
	}
	var req addDelegateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var (
		grantID string
		err     error
	)
	switch req.Role {
	case "", "assert":
		grantID, err = a.spaces.AddDelegate(r.Context(), caller, id, req.Delegate, req.AuthorizationID)
	case "admin":
		grantID, err = a.spaces.AddAdminDelegate(r.Context(), caller, id, req.Delegate, req.AuthorizationID)
	case "delegate":
		grantID, err = a.spaces.AddDelegator(r.Context(), caller, id, req.Delegate, req.AuthorizationID)
	default:
		writeError(w, r, http.StatusBadRequest, "role must be one of assert, delegate, admin")
		return
	}
	obs.ObserveSpaceOperation(string(space.ActionAuthorization), err)
	if err != nil {
		handleSpaceError(w, r, err)
		return
	}

	audit.LogEvent(r.Context(), "space.delegate.add", map[string]any{
		"space":         id,
		"delegate":      req.Delegate,
		"role":          req.Role,
		"authorization": grantID,
	})
	writeJSON(w, http.StatusCreated, map[string]any{"authorization_id": grantID})
}

func (a *API) removeDelegate(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := a.requireCaller(w, r)
	if !ok {
		return
	}
	var req removeDelegateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	err := a.spaces.RemoveDelegate(r.Context(), caller, id, req.RemoveAuthorizationID, req.AuthorizationID)
	obs.ObserveSpaceOperation(string(space.ActionDeauthorization), err)
	if err != nil {
		handleSpaceError(w, r, err)
		return
	}
	audit.LogEvent(r.Context(), "space.delegate.remove", map[string]any{
		"space":         id,
		"authorization": req.RemoveAuthorizationID,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "removed"})
}

// updateCapacity routes to the top-level or sub-space path based on the
// record's parent linkage; the two carry different authority rules.
func (a *API) updateCapacity(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := a.requireCaller(w, r)
	if !ok {
		return
	}
	var req capacityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	d, err := a.spaces.GetSpace(r.Context(), id)
	if err != nil {
		handleSpaceError(w, r, err)
		return
	}
	if d.IsSubSpace(id) {
		err = a.spaces.UpdateTransactionCapacitySub(r.Context(), caller, id, req.Capacity)
	} else {
		err = a.spaces.UpdateTransactionCapacity(r.Context(), caller, id, req.Capacity)
	}
	obs.ObserveSpaceOperation(string(space.ActionCapacityUpdate), err)
	if err != nil {
		handleSpaceError(w, r, err)
		return
	}
	audit.LogEvent(r.Context(), "space.capacity.update", map[string]any{
		"space":    id,
		"capacity": req.Capacity,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "updated"})
}

func (a *API) resetCount(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := a.requireCaller(w, r)
	if !ok {
		return
	}
	err := a.spaces.ResetTransactionCount(r.Context(), caller, id)
	obs.ObserveSpaceOperation(string(space.ActionCapacityReset), err)
	if err != nil {
		handleSpaceError(w, r, err)
		return
	}
	audit.LogEvent(r.Context(), "space.capacity.reset", map[string]any{"space": id})
	writeJSON(w, http.StatusOK, map[string]any{"status": "reset"})
}

func (a *API) approvalRevoke(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := a.requireCaller(w, r)
	if !ok {
		return
	}
	err := a.spaces.ApprovalRevoke(r.Context(), caller, id)
	obs.ObserveSpaceOperation(string(space.ActionApprovalRevoke), err)
	if err != nil {
		handleSpaceError(w, r, err)
		return
	}
	audit.LogEvent(r.Context(), "space.approval.revoke", map[string]any{"space": id})
	writeJSON(w, http.StatusOK, map[string]any{"status": "revoked"})
}

func (a *API) approvalRestore(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := a.requireCaller(w, r)
	if !ok {
		return
	}
	err := a.spaces.ApprovalRestore(r.Context(), caller, id)
	obs.ObserveSpaceOperation(string(space.ActionApprovalRestore), err)
	if err != nil {
		handleSpaceError(w, r, err)
		return
	}
	audit.LogEvent(r.Context(), "space.approval.restore", map[string]any{"space": id})
	writeJSON(w, http.StatusOK, map[string]any{"status": "restored"})
}

func (a *API) createSubspace(w http.ResponseWriter, r *http.Request, parentID string) {
	caller, ok := a.requireCaller(w, r)
	if !ok {
		return
	}
	var req subspaceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.spaces.SubspaceCreate(r.Context(), caller, req.Code, req.Capacity, parentID)
	obs.ObserveSpaceOperation(string(space.ActionSubspaceCreate), err)
	if err != nil {
		handleSpaceError(w, r, err)
		return
	}
	audit.LogEvent(r.Context(), "space.subspace.create", map[string]any{
		"parent":        parentID,
		"space":         res.SpaceID,
		"authorization": res.AuthorizationID,
		"capacity":      req.Capacity,
	})
	w.Header().Set("Location", "/v1/spaces/"+res.SpaceID)
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) releaseUsage(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.requireCaller(w, r); !ok {
		return
	}
	var req releaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.spaces.ReleaseUsage(r.Context(), id, req.Entries); err != nil {
		handleSpaceError(w, r, err)
		return
	}
	audit.LogEvent(r.Context(), "space.usage.release", map[string]any{
		"space":   id,
		"entries": req.Entries,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "released"})
}

// handleAuthorize validates a grant for a pending state transition and
// meters the attempt against the space quota.
func (a *API) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := a.requireCaller(w, r)
	if !ok {
		return
	}
	var req authorizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var (
		spaceID string
		err     error
	)
	switch req.Profile {
	case "", "assert":
		if req.Entries > 1 {
			spaceID, err = a.spaces.EnsureAuthorizationBatch(r.Context(), req.AuthorizationID, caller, req.Entries)
		} else {
			spaceID, err = a.spaces.EnsureAuthorization(r.Context(), req.AuthorizationID, caller)
		}
	case "admin":
		spaceID, err = a.spaces.EnsureAuthorizationAdmin(r.Context(), req.AuthorizationID, caller)
	case "delegator":
		spaceID, err = a.spaces.EnsureAuthorizationDelegator(r.Context(), req.AuthorizationID, caller)
	default:
		writeError(w, r, http.StatusBadRequest, "profile must be one of assert, admin, delegator")
		return
	}
	if err != nil {
		handleSpaceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"space_id": spaceID})
}

func (a *API) requireCaller(w http.ResponseWriter, r *http.Request) (string, bool) {
	caller := a.caller(r)
	if caller == "" {
		writeError(w, r, http.StatusUnauthorized, "caller identity is required")
		return "", false
	}
	return caller, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleSpaceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, space.ErrInvalidInput),
		errors.Is(err, space.ErrInvalidIdentifierLength):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, space.ErrUnauthorizedOperation):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, space.ErrSpaceNotFound),
		errors.Is(err, space.ErrAuthorizationNotFound),
		errors.Is(err, space.ErrDelegateNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, space.ErrSpaceAlreadyAnchored),
		errors.Is(err, space.ErrDelegateAlreadyAdded),
		errors.Is(err, space.ErrArchivedSpace),
		errors.Is(err, space.ErrSpaceNotArchived),
		errors.Is(err, space.ErrSpaceAlreadyApproved),
		errors.Is(err, space.ErrSpaceNotApproved):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, space.ErrCapacityLimitExceeded),
		errors.Is(err, space.ErrCapacityLessThanUsage),
		errors.Is(err, space.ErrSpaceDelegatesLimitExceeded),
		errors.Is(err, space.ErrTypeCapacityOverflow):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestID(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
