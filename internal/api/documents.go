package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mkrale/lore/internal/corpus"
	"github.com/mkrale/lore/internal/indexer"
)

// maxDocumentBody bounds POST /documents bodies (base64-encoded content).
const maxDocumentBody = 16 << 20

type documentsHandler struct {
	store   DocumentStore
	indexer Rebuilder
	logger  *slog.Logger
}

type addDocumentRequest struct {
	Filename    string `json:"filename"`
	Content     string `json:"content"` // base64
	Description string `json:"description"`
}

// mutationResponse answers document add/delete and reindex requests. Success
// distinguishes "corpus changed and index rebuilt" from every partial
// outcome; Message explains failures.
type mutationResponse struct {
	Success     bool                 `json:"success"`
	Message     string               `json:"message,omitempty"`
	Document    *corpus.DocumentInfo `json:"document,omitempty"`
	RecordCount int                  `json:"recordCount"`
	Documents   int                  `json:"documents,omitempty"`
	Skipped     int                  `json:"skipped,omitempty"`
	DurationMS  int64                `json:"durationMs,omitempty"`
}

func (h *documentsHandler) list(w http.ResponseWriter, r *http.Request) {
	docs, err := h.store.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list documents", h.logger)
		return
	}
	if docs == nil {
		docs = []corpus.DocumentInfo{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *documentsHandler) add(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxDocumentBody)

	var req addDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge,
				mutationResponse{Message: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, mutationResponse{Message: "invalid request body"})
		return
	}

	content, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, mutationResponse{Message: "content is not valid base64"})
		return
	}

	doc, err := h.store.Add(req.Filename, content, req.Description)
	if err != nil {
		switch {
		case errors.Is(err, corpus.ErrUnsupportedFormat), errors.Is(err, corpus.ErrEmptyFilename):
			writeJSON(w, http.StatusBadRequest, mutationResponse{Message: err.Error()})
		default:
			h.logger.Error("adding document", "filename", req.Filename, "error", err)
			writeJSON(w, http.StatusInternalServerError, mutationResponse{Message: "failed to store document"})
		}
		return
	}

	res, status, msg := h.rebuild(r, "document stored")
	writeJSON(w, status, mutationResponse{
		Success:     msg == "",
		Message:     msg,
		Document:    &doc,
		RecordCount: res.RecordCount,
	})
}

func (h *documentsHandler) delete(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")

	if err := h.store.Delete(filename); err != nil {
		switch {
		case errors.Is(err, corpus.ErrNotFound):
			writeJSON(w, http.StatusNotFound, mutationResponse{Message: "document not found"})
		case errors.Is(err, corpus.ErrEmptyFilename):
			writeJSON(w, http.StatusBadRequest, mutationResponse{Message: err.Error()})
		default:
			h.logger.Error("deleting document", "filename", filename, "error", err)
			writeJSON(w, http.StatusInternalServerError, mutationResponse{Message: "failed to delete document"})
		}
		return
	}

	res, status, msg := h.rebuild(r, "document deleted")
	writeJSON(w, status, mutationResponse{
		Success:     msg == "",
		Message:     msg,
		RecordCount: res.RecordCount,
	})
}

func (h *documentsHandler) reindex(w http.ResponseWriter, r *http.Request) {
	res, err := h.indexer.ReindexAll(r.Context())
	if err != nil {
		if errors.Is(err, indexer.ErrRebuildInProgress) {
			writeJSON(w, http.StatusConflict, mutationResponse{Message: "rebuild already in progress"})
			return
		}
		h.logger.Error("reindex failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, mutationResponse{Message: "reindex failed"})
		return
	}

	writeJSON(w, http.StatusOK, mutationResponse{
		Success:     true,
		RecordCount: res.RecordCount,
		Documents:   res.Documents,
		Skipped:     res.Skipped,
		DurationMS:  res.Duration.Milliseconds(),
	})
}

// rebuild runs the auto-rebuild after a corpus mutation. The mutation itself
// already succeeded, so failures report the stored state alongside the
// rebuild problem instead of pretending the whole request failed.
func (h *documentsHandler) rebuild(r *http.Request, did string) (indexer.Result, int, string) {
	start := time.Now()
	res, err := h.indexer.ReindexAll(r.Context())
	if err != nil {
		if errors.Is(err, indexer.ErrRebuildInProgress) {
			return res, http.StatusConflict, did + ", but a rebuild is already in progress"
		}
		h.logger.Error("auto-rebuild failed", "error", err, "duration", time.Since(start))
		return res, http.StatusInternalServerError, did + ", but the index rebuild failed"
	}
	return res, http.StatusOK, ""
}
