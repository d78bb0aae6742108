package server

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/onnwee/snapcast/session"
	"github.com/onnwee/snapcast/video"
)

const multipartMemory = 32 << 20

// HandleUpload runs the full upload pipeline for a multipart form with fields title,
// description, visibility, duration and files video and thumbnail.
func (h *Handlers) HandleUpload(w http.ResponseWriter, r *http.Request) {
	userID := session.UserID(r.Context())
	if userID == "" {
		writeError(w, r, video.ErrUnauthenticated)
		return
	}
	limit := h.cfg.MaxVideoSize + h.cfg.MaxThumbnailSize + 1<<20
	if limit > 1<<20 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, &video.ValidationError{Message: "Upload is too large."})
			return
		}
		writeError(w, r, &video.ValidationError{Message: "Invalid upload form."})
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	req := video.UploadRequest{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Visibility:  r.FormValue("visibility"),
	}
	if d := strings.TrimSpace(r.FormValue("duration")); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil {
			writeError(w, r, &video.ValidationError{Message: "Duration must be a whole number of seconds"})
			return
		}
		req.Duration = n
	}
	var closers []multipart.File
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()
	for field, dst := range map[string]**video.File{"video": &req.Video, "thumbnail": &req.Thumbnail} {
		f, hdr, err := r.FormFile(field)
		if err != nil {
			continue
		}
		closers = append(closers, f)
		*dst = &video.File{Body: f, Name: hdr.Filename, ContentType: hdr.Header.Get("Content-Type"), Size: hdr.Size}
	}

	v, err := h.videos.Upload(r.Context(), userID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

type uploadURLRequest struct {
	Title string `json:"title"`
}

// HandleUploadURL creates the remote video and returns where the browser sends its bytes.
func (h *Handlers) HandleUploadURL(w http.ResponseWriter, r *http.Request) {
	var req uploadURLRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	t, err := h.videos.RequestVideoUpload(r.Context(), session.UserID(r.Context()), req.Title)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// HandleThumbnailURL returns the thumbnail target for an already created remote video.
func (h *Handlers) HandleThumbnailURL(w http.ResponseWriter, r *http.Request) {
	t, err := h.videos.RequestThumbnailUpload(r.Context(), session.UserID(r.Context()), r.PathValue("externalId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// HandleSaveDetails persists a video whose assets the browser already uploaded.
func (h *Handlers) HandleSaveDetails(w http.ResponseWriter, r *http.Request) {
	userID := session.UserID(r.Context())
	if userID == "" {
		writeError(w, r, video.ErrUnauthenticated)
		return
	}
	var d video.Details
	if err := decodeJSON(r, &d); err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.videos.SaveDetails(r.Context(), userID, d)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}
