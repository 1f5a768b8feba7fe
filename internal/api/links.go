package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/meteorlabs/kookbridge/internal/domain"
	"github.com/meteorlabs/kookbridge/internal/identity"
	"github.com/meteorlabs/kookbridge/internal/link"
	"github.com/meteorlabs/kookbridge/internal/storage"
)

// handleListLinks returns all link records
func (r *Router) handleListLinks(w http.ResponseWriter, req *http.Request) {
	links, err := r.store.ListLinks(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list links")
		return
	}
	if links == nil {
		links = []domain.LinkRecord{}
	}
	writeJSON(w, http.StatusOK, links)
}

// handleGetLinkByPlayer returns the link record for a player name
func (r *Router) handleGetLinkByPlayer(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("name")
	rec, err := r.links.Record(req.Context(), name)
	if err != nil {
		if errors.Is(err, link.ErrNotLinked) || errors.Is(err, identity.ErrUnresolved) {
			writeError(w, http.StatusNotFound, "player is not linked")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to look up link")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleGetLinkByKook returns the link record for a KOOK account id
func (r *Router) handleGetLinkByKook(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	rec, err := r.store.GetLinkByKookID(req.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "kook account is not linked")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to look up link")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// CreateLinkRequest is the request body for an admin-created link
type CreateLinkRequest struct {
	PlayerName string `json:"player_name"`
	KookID     string `json:"kook_id"`
	KookName   string `json:"kook_name"`
}

// handleCreateLink binds a player to a KOOK account (admin only)
func (r *Router) handleCreateLink(w http.ResponseWriter, req *http.Request) {
	var body CreateLinkRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.PlayerName == "" || body.KookID == "" {
		writeError(w, http.StatusBadRequest, "player_name and kook_id are required")
		return
	}

	rec, err := r.links.Link(req.Context(), body.PlayerName, domain.KookUser{
		ID:   body.KookID,
		Name: body.KookName,
	})
	if err != nil {
		switch {
		case errors.Is(err, link.ErrPlayerLinked):
			writeError(w, http.StatusConflict, "player is already linked")
		case errors.Is(err, link.ErrKookUserLinked):
			writeError(w, http.StatusConflict, "kook account is already linked")
		case errors.Is(err, identity.ErrUnresolved):
			writeError(w, http.StatusBadRequest, "player name could not be resolved")
		default:
			writeError(w, http.StatusInternalServerError, "failed to create link")
		}
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// handleDeleteLinkByPlayer removes a player's link (admin only)
func (r *Router) handleDeleteLinkByPlayer(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("name")
	if err := r.links.Unlink(req.Context(), name); err != nil {
		if errors.Is(err, link.ErrNotLinked) || errors.Is(err, identity.ErrUnresolved) {
			writeError(w, http.StatusNotFound, "player is not linked")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete link")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "link deleted"})
}

// handleDeleteLinkByKook removes a KOOK account's link (admin only)
func (r *Router) handleDeleteLinkByKook(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if err := r.links.UnlinkKook(req.Context(), id); err != nil {
		if errors.Is(err, link.ErrNotLinked) {
			writeError(w, http.StatusNotFound, "kook account is not linked")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete link")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "link deleted"})
}
