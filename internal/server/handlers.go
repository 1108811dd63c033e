package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/RnLe/DeepRecall-sub014/internal/blob"
)

var allowedUploadMimes = map[string]bool{
	"text/markdown":   true,
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"image/webp":      true,
}

// uploadMetadata is the client-supplied metadata part of a multipart
// upload. Unknown future fields are preserved nowhere; the echo in the
// response carries only what we understand.
type uploadMetadata struct {
	Role         string   `json:"role"`
	Purpose      string   `json:"purpose,omitempty"`
	WorkID       string   `json:"workId,omitempty"`
	AnnotationID string   `json:"annotationId,omitempty"`
	Title        string   `json:"title,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	DeviceID     string   `json:"deviceId,omitempty"`
}

type blobJSON struct {
	SHA256   string `json:"sha256"`
	Size     int64  `json:"size"`
	Mime     string `json:"mime"`
	Filename string `json:"filename"`
}

type fileJSON struct {
	SHA256    string `json:"sha256"`
	Size      int64  `json:"size"`
	Mime      string `json:"mime"`
	MtimeMS   int64  `json:"mtime_ms"`
	CreatedMS int64  `json:"created_ms"`
	Filename  string `json:"filename"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.maxUpload {
		s.writeError(w, r, &blob.ValidationError{Field: "file", Reason: "file too large", TooLarge: true})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		s.writeError(w, r, uploadSizeError(err))
		return
	}

	var meta uploadMetadata
	if raw := r.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			s.writeError(w, r, blob.NewValidationError("metadata", fmt.Sprintf("invalid JSON: %v", err)))
			return
		}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, blob.NewValidationError("file", "missing file part"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, r, uploadSizeError(err))
		return
	}

	mime := header.Header.Get("Content-Type")
	if !allowedUploadMimes[mime] {
		s.writeError(w, r, blob.NewValidationError("file", fmt.Sprintf("unsupported mime type %q", mime)))
		return
	}

	res, err := s.service.StoreBlob(r.Context(), data, header.Filename, mime, meta.Role, meta.DeviceID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"blob":     blobJSON{SHA256: res.SHA256, Size: res.Size, Mime: mime, Filename: header.Filename},
		"metadata": meta,
	})
}

// uploadSizeError turns a MaxBytesReader failure into the 413 shape and
// leaves everything else as a plain validation error.
func uploadSizeError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return &blob.ValidationError{Field: "file", Reason: "file too large", TooLarge: true}
	}
	return blob.NewValidationError("file", fmt.Sprintf("reading upload: %v", err))
}

func (s *Server) handleCreateMarkdown(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content      string   `json:"content"`
		Title        string   `json:"title"`
		AnnotationID string   `json:"annotationId,omitempty"`
		WorkID       string   `json:"workId,omitempty"`
		Tags         []string `json:"tags,omitempty"`
		DeviceID     string   `json:"deviceId,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, filename, err := s.service.CreateMarkdownBlob(r.Context(), req.Content, req.Title, req.DeviceID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"blob": blobJSON{SHA256: res.SHA256, Size: res.Size, Mime: "text/markdown", Filename: filename},
		"metadata": map[string]any{
			"title":        req.Title,
			"annotationId": req.AnnotationID,
			"workId":       req.WorkID,
			"tags":         req.Tags,
		},
	})
}

func (s *Server) handleGetBlob(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("sha256")

	rc, b, err := s.service.FetchBlob(r.Context(), hash)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", b.Mime)
	w.Header().Set("Content-Length", strconv.FormatInt(b.Size, 10))
	// Content is addressed by its hash, so it can never change under
	// this URL.
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Error("streaming blob", "sha256", blob.ShortID(hash), "error", err)
	}
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	blobs, err := s.service.ListFiles()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	files := make([]fileJSON, 0, len(blobs))
	for _, b := range blobs {
		files = append(files, fileJSON{
			SHA256:    b.SHA256,
			Size:      b.Size,
			Mime:      b.Mime,
			MtimeMS:   b.MtimeMS,
			CreatedMS: b.CreatedMS,
			Filename:  b.Filename,
		})
	}
	s.writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleWriteBlob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SHA256      string `json:"sha256"`
		Size        int64  `json:"size"`
		Mime        string `json:"mime"`
		Filename    string `json:"filename"`
		DeviceID    string `json:"deviceId"`
		LocalPath   string `json:"localPath,omitempty"`
		PageCount   *int64 `json:"pageCount,omitempty"`
		ImageWidth  *int64 `json:"imageWidth,omitempty"`
		ImageHeight *int64 `json:"imageHeight,omitempty"`
		LineCount   *int64 `json:"lineCount,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !validSHA256(req.SHA256) {
		s.writeError(w, r, blob.NewValidationError("sha256", "must be 64 hex characters"))
		return
	}
	if req.DeviceID == "" {
		req.DeviceID = s.deviceID
	}

	meta := &blob.CoordinationMeta{
		SHA256:   req.SHA256,
		Size:     req.Size,
		Mime:     req.Mime,
		Filename: req.Filename,
		ExtractedMetadata: blob.ExtractedMetadata{
			PageCount:   req.PageCount,
			ImageWidth:  req.ImageWidth,
			ImageHeight: req.ImageHeight,
			LineCount:   req.LineCount,
		},
	}
	if err := s.syncer.CreateBlobCoordination(r.Context(), meta, req.DeviceID, req.LocalPath); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleSyncBlob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SHA256   string `json:"sha256"`
		DeviceID string `json:"deviceId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !validSHA256(req.SHA256) {
		s.writeError(w, r, blob.NewValidationError("sha256", "must be 64 hex characters"))
		return
	}
	if req.DeviceID == "" {
		req.DeviceID = s.deviceID
	}

	if err := s.syncer.SyncBlob(r.Context(), req.SHA256, req.DeviceID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "sha256": req.SHA256})
}

func (s *Server) handleAdminBlobs(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.ListFilesWithPaths()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	type adminBlobJSON struct {
		fileJSON
		Health string `json:"health"`
		Path   string `json:"path,omitempty"`
	}
	out := make([]adminBlobJSON, 0, len(records))
	for _, rec := range records {
		out = append(out, adminBlobJSON{
			fileJSON: fileJSON{
				SHA256:    rec.SHA256,
				Size:      rec.Size,
				Mime:      rec.Mime,
				MtimeMS:   rec.MtimeMS,
				CreatedMS: rec.CreatedMS,
				Filename:  rec.Filename,
			},
			Health: string(rec.Health),
			Path:   rec.Path,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"blobs": out})
}

func (s *Server) handleDeleteBlob(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteBlob(r.PathValue("hash")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleRenameBlob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filename string `json:"filename"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.service.RenameBlob(r.PathValue("hash"), req.Filename); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.Stats()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"totalBlobs": report.TotalBlobs,
		"healthy":    report.Healthy,
		"missing":    report.Missing,
		"modified":   report.Modified,
		"relocated":  report.Relocated,
		"totalSize":  report.TotalSize,
	})
}

func validSHA256(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}
