package expense

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zombor/pocket-ledger/internal/reconcile"
)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// writeJSON writes a JSON response body
func writeJSON(w http.ResponseWriter, code int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeScanError converts a scan-pipeline failure into the single
// user-facing message the client shows. Every failure leaves the
// application in its pre-scan state.
func writeScanError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrScanInFlight):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "A scan is already in progress. Finish or discard it first.",
		})
	case errors.Is(err, ErrNoActiveScan):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "No scan is awaiting review.",
		})
	case errors.Is(err, reconcile.ErrInvalidFormat):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": "The scanner returned data in an invalid format. Please try again.",
		})
	case errors.Is(err, reconcile.ErrNoValidData):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": "No valid expense items could be read from that receipt. Try a clearer photo.",
		})
	default:
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": "Scanning failed. Please check your connection and try again.",
		})
	}
}

// writeEditError maps a staged-draft edit failure: a missing session
// keeps its scan-pipeline mapping, anything else is a caller mistake.
func writeEditError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNoActiveScan) {
		writeScanError(w, err)
		return
	}
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
}

// handleCalculatorState returns the current calculator state
func (s *Server) handleCalculatorState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Calculator())
}

// handlePressKey applies a keypad token to the calculator
func (s *Server) handlePressKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	state, err := s.service.PressKey(req.Key)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleStartScan handles receipt upload and scanning
func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	// 50MB cap to handle high-resolution phone photos
	maxFormSize := int64(50 << 20)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "Error parsing form. Maximum upload size is 50MB.",
		})
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "No file was selected. Please choose a photo to scan.",
		})
		return
	}
	defer f.Close()

	if header.Size > maxFormSize {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "File is too large. Maximum size is 50MB.",
		})
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "Error reading file. Please try again.",
		})
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = contentTypeFromExtension(header.Filename)
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))

	draft, err := s.service.StartScan(header.Filename, data, contentType)
	if err != nil {
		slog.Error("Error scanning receipt", "filename", header.Filename, "error", err)
		writeScanError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, draft)
}

// contentTypeFromExtension guesses a MIME type for clients that omit it
func contentTypeFromExtension(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
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

// handleGetScan returns the staged draft
func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	draft, err := s.service.ScanDraft()
	if err != nil {
		writeScanError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// handleEditScanItem edits a staged item's description and/or amount
func (s *Server) handleEditScanItem(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		corsError(w, "Invalid item index", http.StatusBadRequest)
		return
	}

	var req struct {
		Description *string `json:"description"`
		Amount      *string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var draft *ScanDraft
	if req.Description != nil {
		draft, err = s.service.SetScanItemDescription(index, *req.Description)
		if err != nil {
			writeEditError(w, err)
			return
		}
	}
	if req.Amount != nil {
		draft, err = s.service.SetScanItemAmount(index, *req.Amount)
		if err != nil {
			writeEditError(w, err)
			return
		}
	}
	if draft == nil {
		corsError(w, "Nothing to edit", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// handleAddScanItem appends a blank item to the staged draft
func (s *Server) handleAddScanItem(w http.ResponseWriter, r *http.Request) {
	draft, err := s.service.AddScanItem()
	if err != nil {
		writeScanError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// handleRemoveScanItem removes an item from the staged draft
func (s *Server) handleRemoveScanItem(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		corsError(w, "Invalid item index", http.StatusBadRequest)
		return
	}
	draft, err := s.service.RemoveScanItem(index)
	if err != nil {
		writeEditError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// handleSetScanCategory edits the staged category
func (s *Server) handleSetScanCategory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	draft, err := s.service.SetScanCategory(req.Category)
	if err != nil {
		writeScanError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// handleConfirmScan commits the staged draft to the ledger
func (s *Server) handleConfirmScan(w http.ResponseWriter, r *http.Request) {
	entry, err := s.service.ConfirmScan()
	if err != nil {
		if errors.Is(err, ErrNoActiveScan) {
			writeScanError(w, err)
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// handleDiscardScan drops the staged draft
func (s *Server) handleDiscardScan(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DiscardScan(); err != nil {
		writeScanError(w, err)
		return
	}
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleListHistory returns all ledger entries, newest first
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.History()
	if err != nil {
		slog.Error("Error listing history", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleExportHistory streams the history as CSV, oldest first
func (s *Server) handleExportHistory(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="history.csv"`)
	if err := s.service.ExportHistoryCSV(w); err != nil {
		slog.Error("Error exporting history", "error", err)
	}
}

// handleEntryImage returns the stored receipt image for an entry
func (s *Server) handleEntryImage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	data, contentType, err := s.service.EntryImage(id)
	if err != nil {
		corsError(w, "Image not found", http.StatusNotFound)
		return
	}
	setCORSHeaders(w)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleAddExpense appends a manual expense entry
func (s *Server) handleAddExpense(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Description string `json:"description"`
		Amount      string `json:"amount"`
		Category    string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	entry, err := s.service.AddExpense(req.Description, req.Amount, req.Category)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// handleListCategories returns the category set
func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.service.Categories()
	if err != nil {
		slog.Error("Error listing categories", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

// handleAddCategory adds a category
func (s *Server) handleAddCategory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	added, err := s.service.AddCategory(req.Name)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	code := http.StatusOK
	if added {
		code = http.StatusCreated
	}
	categories, err := s.service.Categories()
	if err != nil {
		slog.Error("Error listing categories", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, code, categories)
}

// handleDeleteCategory removes a category
func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteCategory(r.PathValue("name")); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleRenameCategory renames a category, cascading into history
func (s *Server) handleRenameCategory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.service.RenameCategory(r.PathValue("name"), req.Name); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	categories, err := s.service.Categories()
	if err != nil {
		slog.Error("Error listing categories", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

// handleGetSettings returns the persisted settings slots
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	theme, err := s.service.Theme()
	if err != nil {
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	view, err := s.service.ActiveView()
	if err != nil {
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"theme":       theme,
		"active_view": view,
	})
}

// handleSetTheme persists the theme
func (s *Server) handleSetTheme(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Theme string `json:"theme"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.service.SetTheme(req.Theme); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleSetActiveView persists the view selector
func (s *Server) handleSetActiveView(w http.ResponseWriter, r *http.Request) {
	var req struct {
		View string `json:"view"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.service.SetActiveView(req.View); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}
