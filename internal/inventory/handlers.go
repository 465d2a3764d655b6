package inventory

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/zombor/pantry-tracker/internal/dates"
	"github.com/zombor/pantry-tracker/internal/scanning"
	"github.com/zombor/pantry-tracker/internal/storage"
)

const (
	// maxUploadSize bounds multipart uploads; phone photos are large
	maxUploadSize = int64(50 << 20)
	// maxImportSize bounds imported JSON documents
	maxImportSize = int64(5 << 20)
	// streamKeepAlive is how often an idle event stream sends a comment
	streamKeepAlive = 25 * time.Second
)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeServiceError maps service errors to status codes
func writeServiceError(w http.ResponseWriter, op string, err error) {
	var invalidDate *dates.InvalidDateError
	switch {
	case IsValidation(err):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, storage.ErrItemNotFound), errors.Is(err, ErrNotFound):
		writeError(w, "Not found", http.StatusNotFound)
	case errors.As(err, &invalidDate):
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		slog.Error("Request failed", "op", op, "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// handleStatus reports the storage mode and the signed-in user
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ready := true
	if _, err := s.session.Owner(); err != nil {
		ready = false
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":     s.service.store.Mode().String(),
		"ready":    ready,
		"identity": s.session.Identity(),
		"profile":  s.session.Profile(),
	})
}

// handleListItems returns the user's items with their expiry status
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request, owner Owner) {
	items, err := s.service.ListItems(r.Context(), owner)
	if err != nil {
		writeServiceError(w, "list items", err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// handleAddItem stores a manually entered or reviewed item
func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request, owner Owner) {
	var item NewItem
	if !decodeBody(w, r, &item) {
		return
	}
	view, err := s.service.AddItem(r.Context(), owner, item)
	if err != nil {
		writeServiceError(w, "add item", err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// handleUpdateItem applies a partial update
func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request, owner Owner) {
	var update storage.ItemUpdate
	if !decodeBody(w, r, &update) {
		return
	}
	if err := s.service.UpdateItem(r.Context(), owner, r.PathValue("id"), update); err != nil {
		writeServiceError(w, "update item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAdjustQuantity handles the +/- buttons
func (s *Server) handleAdjustQuantity(w http.ResponseWriter, r *http.Request, owner Owner) {
	var req struct {
		Delta int `json:"delta"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Delta == 0 {
		writeError(w, "delta must not be zero", http.StatusBadRequest)
		return
	}
	quantity, err := s.service.AdjustQuantity(r.Context(), owner, r.PathValue("id"), req.Delta)
	if err != nil {
		writeServiceError(w, "adjust quantity", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"quantity": quantity,
		"deleted":  quantity == 0,
	})
}

// handleDeleteItem deletes an item
func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request, owner Owner) {
	if err := s.service.DeleteItem(r.Context(), owner, r.PathValue("id")); err != nil {
		writeServiceError(w, "delete item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleInventoryStream sends a server-sent event with the full, sorted
// item list on connect and after every change.
func (s *Server) handleInventoryStream(w http.ResponseWriter, r *http.Request, owner Owner) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	// a slow client only ever has the newest snapshot waiting
	latest := make(chan []ItemView, 1)
	unsubscribe, err := s.service.Subscribe(r.Context(), owner, func(items []ItemView) {
		for {
			select {
			case latest <- items:
				return
			default:
			}
			select {
			case <-latest:
			default:
			}
		}
	})
	if err != nil {
		writeServiceError(w, "subscribe", err)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case items := <-latest:
			data, err := json.Marshal(items)
			if err != nil {
				slog.Error("Error encoding snapshot", "error", err)
				return
			}
			if _, err := fmt.Fprintf(w, "event: inventory\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleImport accepts a JSON array as the body or as a multipart "file"
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request, owner Owner) {
	var (
		data []byte
		err  error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxImportSize); err != nil {
			writeError(w, "Error parsing form", http.StatusBadRequest)
			return
		}
		f, _, ferr := r.FormFile("file")
		if ferr != nil {
			writeError(w, "No file was selected. Please choose a JSON file to import.", http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, err = io.ReadAll(io.LimitReader(f, maxImportSize))
	} else {
		data, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportSize))
	}
	if err != nil {
		writeError(w, "Error reading import file", http.StatusBadRequest)
		return
	}

	imported, err := s.service.ImportItems(r.Context(), owner, data)
	if err != nil {
		writeServiceError(w, "import", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"imported": imported,
		"message":  fmt.Sprintf("Imported %d items.", imported),
	})
}

// handleExport downloads the inventory as JSON
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, owner Owner) {
	data, filename, err := s.service.ExportItems(r.Context(), owner)
	if err != nil {
		writeServiceError(w, "export", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Write(data)
}

// handleListExports lists archived exports
func (s *Server) handleListExports(w http.ResponseWriter, r *http.Request, owner Owner) {
	names, err := s.service.ListExports(owner)
	if err != nil {
		writeServiceError(w, "list exports", err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

// handleGetExport downloads an archived export
func (s *Server) handleGetExport(w http.ResponseWriter, r *http.Request, owner Owner) {
	name := r.PathValue("name")
	data, err := s.service.GetExport(owner, name)
	if err != nil {
		writeServiceError(w, "get export", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Write(data)
}

// readImages collects every uploaded "file" part
func readImages(w http.ResponseWriter, r *http.Request) ([]scanning.Image, bool) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorMsg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		writeError(w, errorMsg, http.StatusBadRequest)
		return nil, false
	}

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		writeError(w, "No file was selected. Please choose a file to upload.", http.StatusBadRequest)
		return nil, false
	}

	images := make([]scanning.Image, 0, len(headers))
	for _, header := range headers {
		if header.Size > maxUploadSize {
			writeError(w, "File is too large. Maximum size is 50MB. Please compress or resize your image.", http.StatusBadRequest)
			return nil, false
		}
		f, err := header.Open()
		if err != nil {
			writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
			return nil, false
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			slog.Error("Error reading file data", "error", err, "filename", header.Filename)
			writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
			return nil, false
		}
		images = append(images, scanning.Image{
			Data:        data,
			ContentType: contentTypeOf(header.Header.Get("Content-Type"), header.Filename),
		})
	}
	return images, true
}

// contentTypeOf falls back to the file extension when the browser sent no type
func contentTypeOf(declared, filename string) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleScan analyzes label and date photos for review
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	images, ok := readImages(w, r)
	if !ok {
		return
	}
	result, err := s.service.Scan(r.Context(), images, r.FormValue("prompt"))
	if err != nil {
		if errors.Is(err, scanning.ErrNoImages) {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeError(w, "Failed to analyze images. Please try again.", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleEnqueueScan queues one job per uploaded image
func (s *Server) handleEnqueueScan(w http.ResponseWriter, r *http.Request) {
	images, ok := readImages(w, r)
	if !ok {
		return
	}
	name := r.FormValue("name")

	jobs := make([]ScanJob, 0, len(images))
	for i, img := range images {
		jobName := name
		if jobName != "" && len(images) > 1 {
			jobName = fmt.Sprintf("%s %d", name, i+1)
		}
		job, err := s.queue.Enqueue(jobName, img)
		if err != nil {
			// an upload is queued whole or not at all
			for _, queued := range jobs {
				s.queue.Remove(queued.ID)
			}
			slog.Warn("Scan queue full", "uploaded", len(images), "rolled_back", len(jobs))
			writeError(w, err.Error(), http.StatusTooManyRequests)
			return
		}
		jobs = append(jobs, job)
	}
	writeJSON(w, http.StatusAccepted, jobs)
}

// handleListScanJobs returns all quick-scan jobs
func (s *Server) handleListScanJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.Jobs())
}

// handleDeleteScanJob discards a job
func (s *Server) handleDeleteScanJob(w http.ResponseWriter, r *http.Request) {
	s.queue.Remove(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

// handleSaveScanJob stores a finished job as an item and removes the job
func (s *Server) handleSaveScanJob(w http.ResponseWriter, r *http.Request, owner Owner) {
	id := r.PathValue("id")
	job, err := s.queue.Job(id)
	if err != nil {
		writeServiceError(w, "save scan job", err)
		return
	}
	view, err := s.service.SaveScanJob(r.Context(), owner, job)
	if err != nil {
		writeServiceError(w, "save scan job", err)
		return
	}
	s.queue.Remove(id)
	writeJSON(w, http.StatusCreated, view)
}

// handleResolveDate turns voice-entry text into a date
func (s *Server) handleResolveDate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	date, status, err := s.service.ResolveDate(req.Text)
	if err != nil {
		writeServiceError(w, "resolve date", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":   date,
		"status": status,
	})
}

// handleGetProfile returns the current user's profile
func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request, owner Owner) {
	writeJSON(w, http.StatusOK, s.service.Profile(r.Context(), owner.UserID))
}

// handleSaveProfile saves a new username
func (s *Server) handleSaveProfile(w http.ResponseWriter, r *http.Request, owner Owner) {
	var req storage.UserProfile
	if !decodeBody(w, r, &req) {
		return
	}
	profile, err := s.service.SaveProfile(r.Context(), owner.UserID, req.Username)
	if err != nil {
		writeServiceError(w, "save profile", err)
		return
	}
	s.session.SetProfile(owner.UserID, profile)
	writeJSON(w, http.StatusOK, profile)
}
