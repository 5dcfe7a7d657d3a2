package receipt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
)

// maxUploadSize caps one multipart request (all files together).
const maxUploadSize = int64(100 << 20) // 100MB

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// jsonError writes {"error": message} with CORS headers set
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// handleUpload processes every file of a multipart upload as one batch
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorMsg = "Upload is too large. Maximum size is 100MB."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		jsonError(w, "No files were selected. Please choose at least one receipt.", http.StatusBadRequest)
		return
	}

	batch := Batch{
		ClientID:   s.clientID(r),
		ServiceKey: strings.TrimSpace(r.FormValue("user_key")),
		Files:      make([]Upload, 0, len(headers)),
	}
	for _, h := range headers {
		data, err := readFormFile(h)
		if err != nil {
			slog.Error("Error reading file data", "error", err, "filename", h.Filename)
			jsonError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
			return
		}
		batch.Files = append(batch.Files, Upload{Filename: h.Filename, Data: data})
	}

	result, err := s.service.ProcessBatch(r.Context(), batch)
	if err != nil {
		slog.Error("Error processing batch", "client", batch.ClientID, "error", err)
		jsonError(w, "Error processing batch", http.StatusInternalServerError)
		return
	}

	setCORSHeaders(w)
	writeJSON(w, http.StatusCreated, result)
}

func readFormFile(h *multipart.FileHeader) ([]byte, error) {
	f, err := h.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// handleUsage returns today's lookup counts
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := s.service.GetUsage(s.clientID(r))
	if err != nil {
		slog.Error("Error getting usage", "error", err)
		jsonError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

// handleListBatches returns the caller's batches
func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.service.ListBatches(s.clientID(r))
	if err != nil {
		slog.Error("Error listing batches", "error", err)
		jsonError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, batches)
}

// handleGetBatch returns a single batch
func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batch, ok := s.lookupBatch(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (s *Server) lookupBatch(w http.ResponseWriter, r *http.Request) (*BatchResult, bool) {
	batch, err := s.service.GetBatch(s.clientID(r), r.PathValue("id"))
	if errors.Is(err, ErrBatchNotFound) {
		jsonError(w, "Batch not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		slog.Error("Error getting batch", "error", err)
		jsonError(w, "Internal server error", http.StatusInternalServerError)
		return nil, false
	}
	return batch, true
}

// handleArchive streams a zip of the batch's files
func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// Build the archive in memory so a failure can still become an error response.
	var buf bytes.Buffer
	err := s.service.Archive(&buf, s.clientID(r), id)
	if errors.Is(err, ErrBatchNotFound) {
		jsonError(w, "Batch not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Error building archive", "batch", id, "error", err)
		jsonError(w, "Error building archive", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="receipts_%s.zip"`, id))
	buf.WriteTo(w)
}

// handleExport returns the batch report as CSV or XLSX
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := ExportFormat(strings.ToLower(r.URL.Query().Get("format")))
	if format == "" {
		format = FormatCSV
	}
	if format != FormatCSV && format != FormatXLSX {
		jsonError(w, "format must be csv or xlsx", http.StatusBadRequest)
		return
	}

	batch, ok := s.lookupBatch(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := WriteReport(&buf, batch, format); err != nil {
		slog.Error("Error writing report", "batch", batch.ID, "error", err)
		jsonError(w, "Error writing report", http.StatusInternalServerError)
		return
	}

	contentType := "text/csv; charset=utf-8"
	if format == FormatXLSX {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="receipts_%s.%s"`, batch.ID, format))
	buf.WriteTo(w)
}

// handleGetFile returns one stored image
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	kind := FileKind(r.PathValue("kind"))
	if kind != FileRenamed && kind != FileVisualized {
		jsonError(w, "kind must be renamed or visualized", http.StatusBadRequest)
		return
	}

	data, err := s.service.GetFile(s.clientID(r), r.PathValue("id"), kind, r.PathValue("name"))
	if errors.Is(err, ErrBatchNotFound) || errors.Is(err, ErrFileNotFound) {
		jsonError(w, "File not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Error reading file", "error", err)
		jsonError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(data)
}
