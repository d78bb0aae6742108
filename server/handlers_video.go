package server

import (
	"net/http"

	"github.com/onnwee/snapcast/session"
	"github.com/onnwee/snapcast/video"
)

// HandleVideosList serves the global listing: ?query=&filter=&page=&pageSize=.
func (h *Handlers) HandleVideosList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sort, err := video.ParseSortKey(q.Get("filter"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := h.videos.ListVideos(r.Context(), session.UserID(r.Context()), video.ListParams{
		Search:   q.Get("query"),
		Sort:     sort,
		Page:     parseIntQuery(r, "page", 1),
		PageSize: parseIntQuery(r, "pageSize", video.DefaultPageSize),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// HandleUserVideos serves a profile listing: GET /api/users/{id}/videos?query=&filter=.
func (h *Handlers) HandleUserVideos(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sort, err := video.ParseSortKey(q.Get("filter"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.videos.ListByOwner(r.Context(), session.UserID(r.Context()), r.PathValue("id"), q.Get("query"), sort)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleVideoGet returns one video with its owner and counts the view.
func (h *Handlers) HandleVideoGet(w http.ResponseWriter, r *http.Request) {
	item, err := h.videos.GetVideo(r.Context(), session.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// HandleVideoStatus reports the encoding state at the media host.
func (h *Handlers) HandleVideoStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.videos.Status(r.Context(), session.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleVideoDelete removes a video and its remote assets. Owner only.
func (h *Handlers) HandleVideoDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.videos.Delete(r.Context(), session.UserID(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type visibilityRequest struct {
	Visibility string `json:"visibility"`
}

// HandleVideoVisibility switches a video between public and private. Owner only.
func (h *Handlers) HandleVideoVisibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	vis, err := video.ParseVisibility(req.Visibility)
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.videos.SetVisibility(r.Context(), session.UserID(r.Context()), r.PathValue("id"), vis)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type detailsRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// HandleVideoUpdate edits title and description. Owner only.
func (h *Handlers) HandleVideoUpdate(w http.ResponseWriter, r *http.Request) {
	var req detailsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.videos.UpdateDetails(r.Context(), session.UserID(r.Context()), r.PathValue("id"), req.Title, req.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
