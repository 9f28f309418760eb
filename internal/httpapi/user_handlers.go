package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gautier900/NodeSQL/internal/auth"
)

type roleRequest struct {
	Role string `json:"role"`
}

type grantRequest struct {
	Resource string `json:"ressource"`
	Action   string `json:"action"`
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	page, err := parseIntQuery(r, "page", 1)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseIntQuery(r, "limit", 10)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.gate.ListUsers(r.Context(), page, limit)
	if err != nil {
		writeGateError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var upd auth.UserUpdate
	if err := decodeJSON(r, &upd); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.gate.UpdateUser(r.Context(), chi.URLParam(r, "id"), upd)
	if err != nil {
		writeGateError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "user updated",
		"user":    user,
	})
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.IdentityFromContext(r.Context())
	deleted, err := a.gate.DeleteUser(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeGateError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "user deleted",
		"user":    deleted,
	})
}

func (a *API) handleUserPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.gate.ListPermissions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeGateError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (a *API) handleUserPermissionCheck(w http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "resource")
	action := chi.URLParam(r, "action")
	ok, err := a.gate.HasPermission(r.Context(), chi.URLParam(r, "id"), resource, action)
	if err != nil {
		writeGateError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ressource":      resource,
		"action":         action,
		"has_permission": ok,
	})
}

// handleLoginHistory serves the caller's own history, or anyone's with users:read.
func (a *API) handleLoginHistory(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	target := chi.URLParam(r, "id")
	if target != id.UserID {
		if err := a.gate.Authorize(r.Context(), id, auth.ResourceUsers, auth.ActionRead); err != nil {
			writeGateError(w, r, err)
			return
		}
	}
	limit, err := parseIntQuery(r, "limit", 0)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := a.gate.LoginHistory(r.Context(), target, limit)
	if err != nil {
		writeGateError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (a *API) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.gate.AssignRole(r.Context(), chi.URLParam(r, "id"), req.Role); err != nil {
		writeGateError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRemoveRole(w http.ResponseWriter, r *http.Request) {
	if err := a.gate.RemoveRole(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "role")); err != nil {
		writeGateError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGrantPermission(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.gate.GrantPermission(r.Context(), chi.URLParam(r, "role"), req.Resource, req.Action); err != nil {
		writeGateError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRevokePermission(w http.ResponseWriter, r *http.Request) {
	err := a.gate.RevokePermission(r.Context(), chi.URLParam(r, "role"), chi.URLParam(r, "resource"), chi.URLParam(r, "action"))
	if err != nil {
		writeGateError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseIntQuery(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return v, nil
}
