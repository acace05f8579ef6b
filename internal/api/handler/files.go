package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/Rrens/chatstream/internal/api/response"
	"github.com/Rrens/chatstream/internal/domain"
	"github.com/go-chi/chi/v5"
)

const maxUploadBytes = 100 << 20

// FileStore is the backend's document library
type FileStore interface {
	ListFiles(ctx context.Context) ([]domain.RemoteFile, error)
	UploadFile(ctx context.Context, name string, content io.Reader) (*domain.RemoteFile, error)
	DeleteFile(ctx context.Context, fileID string) error
}

// FileHandler passes document management through to the backend
type FileHandler struct {
	files FileStore
}

// NewFileHandler creates a new file handler
func NewFileHandler(files FileStore) *FileHandler {
	return &FileHandler{files: files}
}

// List returns the uploaded documents
func (h *FileHandler) List(w http.ResponseWriter, r *http.Request) {
	files, err := h.files.ListFiles(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, files)
}

// Upload forwards the multipart "file" field
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		response.BadRequest(w, "no file uploaded")
		return
	}
	defer file.Close()

	uploaded, err := h.files.UploadFile(r.Context(), header.Filename, file)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, uploaded)
}

// Delete removes a document
func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.files.DeleteFile(r.Context(), chi.URLParam(r, "fileID")); err != nil {
		writeError(w, r, err)
		return
	}
	response.NoContent(w)
}
