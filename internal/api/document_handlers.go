package api

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/BTreeMap/CareDesk/internal/models"
	"github.com/BTreeMap/CareDesk/internal/semantic"
)

// Upload limits for the drop zone.
const (
	MaxUploadBytes      = models.MaxUploadBytes
	uploadMemoryBytes   = 8 << 20
	uploadOverheadBytes = 1 << 20
)

// textExtensions are parsed even when the browser sends a generic type.
var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".csv": true, ".json": true, ".log": true,
}

// listDocumentsHandler handles GET /api/documents
func (s *Server) listDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	docs, err := s.st.ListDocuments(r.Context(), r.URL.Query().Get("clientId"))
	if err != nil {
		writeStoreError(w, "Server.listDocumentsHandler", err, "Documents not found")
		return
	}
	for i := range docs {
		docs[i].Content = ""
	}
	writeJSONResponse(w, http.StatusOK, models.Success(orEmpty(docs)))
}

// dropZoneUploadHandler handles POST /api/documents/drop-zone-upload
func (s *Server) dropZoneUploadHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes+uploadOverheadBytes)
	if err := r.ParseMultipartForm(uploadMemoryBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			slog.Warn("Server.dropZoneUploadHandler: request too large", "limit", tooLarge.Limit)
			writeJSONResponse(w, http.StatusRequestEntityTooLarge, models.Error("File exceeds the 20 MB limit"))
			return
		}
		slog.Warn("Server.dropZoneUploadHandler: invalid multipart form", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		slog.Warn("Server.dropZoneUploadHandler: missing file field", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing file"))
		return
	}
	defer file.Close()

	if header.Size > MaxUploadBytes {
		slog.Warn("Server.dropZoneUploadHandler: file too large", "file_name", header.Filename, "size", header.Size)
		writeJSONResponse(w, http.StatusRequestEntityTooLarge, models.Error("File exceeds the 20 MB limit"))
		return
	}

	clientID := strings.TrimSpace(r.FormValue("clientId"))
	if clientID != "" {
		if _, err := s.st.GetClient(r.Context(), clientID); err != nil {
			writeStoreError(w, "Server.dropZoneUploadHandler", err, "Client not found")
			return
		}
	}

	data, err := io.ReadAll(io.LimitReader(file, MaxUploadBytes+1))
	if err != nil {
		slog.Error("Server.dropZoneUploadHandler: failed to read upload", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read upload"))
		return
	}

	name := filepath.Base(header.Filename)
	contentType := detectContentType(name, header.Header.Get("Content-Type"), data)
	doc := models.Document{
		ClientID:    clientID,
		FileName:    name,
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
		Source:      models.DocumentSourceDropZone,
		CreatedAt:   s.now().UTC(),
	}
	if isTextUpload(name, contentType) && utf8.Valid(data) {
		doc.Content = string(data)
	}

	created, err := s.st.AddDocument(r.Context(), doc)
	if err != nil {
		writeStoreError(w, "Server.dropZoneUploadHandler", err, "Document not found")
		return
	}

	result := models.UploadResult{FileName: name, Success: true, DocumentID: created.ID}
	if created.Content != "" {
		edges := semantic.ExtractEdges(created.ID, created.Content)
		if err := s.st.AddEdges(r.Context(), edges); err != nil {
			slog.Error("Server.dropZoneUploadHandler: failed to store edges", "document_id", created.ID, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to store document relationships"))
			return
		}
		result.EdgeCount = len(edges)
		result.Message = "Document parsed"
	} else {
		result.Message = "Document stored without text extraction"
	}

	slog.Info("Server.dropZoneUploadHandler: document uploaded", "document_id", created.ID, "content_type", contentType, "edges", result.EdgeCount)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage(result.Message, result))
}

// detectContentType prefers the declared part type, then the extension, then
// content sniffing.
func detectContentType(name, declared string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil {
			return mt
		}
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); byExt != "" {
		if mt, _, err := mime.ParseMediaType(byExt); err == nil {
			return mt
		}
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mt
}

// isTextUpload reports whether an upload should be parsed as text.
func isTextUpload(name, contentType string) bool {
	if strings.HasPrefix(contentType, "text/") || contentType == "application/json" {
		return true
	}
	return textExtensions[strings.ToLower(filepath.Ext(name))]
}
