package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/kenneth/s3-console/internal/apperr"
	"github.com/kenneth/s3-console/internal/credentials"
	"github.com/kenneth/s3-console/internal/response"
	"github.com/kenneth/s3-console/internal/s3"
)

func (h *Handler) handleSaveKeys(w http.ResponseWriter, r *http.Request) {
	var in credentials.Input
	if err := h.decodeJSON(w, r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.creds.Save(r.Context(), userID(r), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, "S3 API keys stored successfully", map[string]any{"user": user})
}

func (h *Handler) handleRemoveKeys(w http.ResponseWriter, r *http.Request) {
	user, err := h.creds.Remove(r.Context(), userID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, "S3 API keys removed successfully", map[string]any{"user": user})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	listing, err := h.buckets.List(r.Context(), userID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, "Content listed successfully", listing)
}

func (h *Handler) handleUploadURLs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Files []s3.UploadRequest `json:"files"`
	}
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	urls, err := h.buckets.UploadURLs(r.Context(), userID(r), req.Files)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, "URLs generated successfully", map[string]any{"signedUrls": urls})
}

func (h *Handler) handleDeleteObject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.buckets.DeleteObject(r.Context(), userID(r), req.Key); err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, "File deleted successfully", nil)
}

func (h *Handler) handleDeletePrefix(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prefix string `json:"prefix"`
	}
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	deleted, err := h.buckets.DeletePrefix(r.Context(), userID(r), req.Prefix)
	if err != nil {
		var upstream *apperr.UpstreamStoreError
		if errors.As(err, &upstream) {
			failed := *upstream
			failed.Message = "Failed to delete folder contents"
			err = &failed
		}
		h.writeError(w, r, err)
		return
	}
	response.OK(w, fmt.Sprintf("%d items deleted successfully", deleted), map[string]any{"deleted": deleted})
}

// handleDownload takes the object key from the "key" query parameter.
func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	url, err := h.buckets.DownloadURL(r.Context(), userID(r), r.URL.Query().Get("key"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, "Signed URL generated successfully", map[string]any{"url": url.URL, "expiresAt": url.ExpiresAt})
}
