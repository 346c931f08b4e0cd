package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/CareDesk/internal/dropzone"
	"github.com/BTreeMap/CareDesk/internal/models"
	"github.com/BTreeMap/CareDesk/internal/toast"
)

// maxFormMemory is how much of a multipart upload is held in memory before
// spilling to temporary files.
const maxFormMemory = 32 << 20

// Upload form bounds. The body may carry maxUploadFiles files at the
// per-file limit plus form overhead.
const (
	maxUploadFiles      = 10
	uploadOverheadBytes = 1 << 20
)

// splitTags turns a comma separated field into trimmed, non-empty tags.
func splitTags(s string) []string {
	tags := []string{}
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// returnPath returns the form's "return" field when it is a local path.
func returnPath(r *http.Request, fallback string) string {
	p := r.FormValue("return")
	if p == "" || !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") {
		return fallback
	}
	return p
}

func withClient(path, clientID string) string {
	if clientID == "" {
		return path
	}
	return path + "?clientId=" + url.QueryEscape(clientID)
}

// noteFromForm reads a progress note from a posted form. sessionDate is a
// yyyy-mm-dd date in the console location; empty means today.
func (s *Server) noteFromForm(r *http.Request) (models.ProgressNote, error) {
	n := models.ProgressNote{
		ClientID:  r.FormValue("clientId"),
		Content:   strings.TrimSpace(r.FormValue("content")),
		RiskLevel: models.RiskLevel(r.FormValue("riskLevel")),
		Tags:      splitTags(r.FormValue("tags")),
	}
	if n.RiskLevel == "" {
		n.RiskLevel = models.RiskLow
	}
	if v := r.FormValue("progressRating"); v != "" {
		rating, err := strconv.Atoi(v)
		if err != nil {
			return n, fmt.Errorf("progress rating must be a number: %w", models.ErrInvalidProgress)
		}
		n.ProgressRating = rating
	}
	if v := r.FormValue("sessionDate"); v != "" {
		d, err := time.ParseInLocation("2006-01-02", v, s.loc)
		if err != nil {
			return n, fmt.Errorf("invalid session date %q: %w", v, models.ErrMissingSessionDate)
		}
		n.SessionDate = d
	} else {
		n.SessionDate = s.now().In(s.loc)
	}
	return n, nil
}

// createClientAction handles POST /clients
func (s *Server) createClientAction(w http.ResponseWriter, r *http.Request) {
	in := models.Client{
		Name:   strings.TrimSpace(r.FormValue("name")),
		Email:  strings.TrimSpace(r.FormValue("email")),
		Phone:  strings.TrimSpace(r.FormValue("phone")),
		Status: models.ClientStatus(r.FormValue("status")),
		Tags:   splitTags(r.FormValue("tags")),
	}
	if in.Status == "" {
		in.Status = models.ClientStatusActive
	}
	var created models.Client
	t := toast.Mutate(r.Context(), func(ctx context.Context) error {
		var err error
		created, err = s.api.CreateClient(ctx, in)
		return err
	}, toast.MutateOpts{Success: "Client added", SuccessMessage: in.Name, Failure: "Could not add client"})
	if t.Kind != toast.KindSuccess {
		s.redirect(w, r, "/clients", t)
		return
	}
	s.redirect(w, r, "/clients/"+url.PathEscape(created.ID), t)
}

// deleteClientAction handles POST /clients/{id}/delete
func (s *Server) deleteClientAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t := toast.Mutate(r.Context(), func(ctx context.Context) error {
		return s.api.DeleteClient(ctx, id)
	}, toast.MutateOpts{Success: "Client deleted", Failure: "Could not delete client"})
	if t.Kind != toast.KindSuccess {
		s.redirect(w, r, "/clients/"+url.PathEscape(id), t)
		return
	}
	s.redirect(w, r, "/clients", t)
}

// generateLongitudinalAction handles POST /clients/{id}/longitudinal/generate
func (s *Server) generateLongitudinalAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t := toast.Mutate(r.Context(), func(ctx context.Context) error {
		_, err := s.api.GenerateLongitudinal(ctx, id)
		return err
	}, toast.MutateOpts{Success: "Longitudinal analysis generated", Failure: "Analysis failed"})
	s.redirect(w, r, "/clients/"+url.PathEscape(id), t)
}

// createNoteAction handles POST /progress-notes
func (s *Server) createNoteAction(w http.ResponseWriter, r *http.Request) {
	n, err := s.noteFromForm(r)
	back := returnPath(r, withClient("/progress-notes", n.ClientID))
	if err != nil {
		s.redirect(w, r, back, toast.Failure("Could not save note", err))
		return
	}
	t := toast.Mutate(r.Context(), func(ctx context.Context) error {
		_, err := s.api.CreateProgressNote(ctx, n)
		return err
	}, toast.MutateOpts{Success: "Progress note saved", Failure: "Could not save note"})
	s.redirect(w, r, back, t)
}

// deleteNoteAction handles POST /progress-notes/{id}/delete
func (s *Server) deleteNoteAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t := toast.Mutate(r.Context(), func(ctx context.Context) error {
		return s.api.DeleteProgressNote(ctx, id)
	}, toast.MutateOpts{Success: "Progress note deleted", Failure: "Could not delete note"})
	s.redirect(w, r, returnPath(r, "/progress-notes"), t)
}

// tagNoteAction handles POST /progress-notes/{id}/ai-tags
func (s *Server) tagNoteAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var tagged models.ProgressNote
	t := toast.Mutate(r.Context(), func(ctx context.Context) error {
		var err error
		tagged, err = s.api.TagProgressNote(ctx, id)
		return err
	}, toast.MutateOpts{Success: "AI tags added", Failure: "Tagging failed"})
	if t.Kind == toast.KindSuccess {
		t.Message = strings.Join(tagged.AITags, ", ")
	}
	s.redirect(w, r, returnPath(r, "/progress-notes"), t)
}

// draftNoteAction handles POST /interactive-notes/draft
func (s *Server) draftNoteAction(w http.ResponseWriter, r *http.Request) {
	clientID := r.FormValue("clientId")
	view, failed := s.interactiveView(r, clientID)
	view.SessionNotes = r.FormValue("sessionNotes")

	draft, err := s.api.DraftNote(r.Context(), models.NoteDraftRequest{ClientID: clientID, SessionNotes: view.SessionNotes})
	if err != nil {
		failed = append(failed, toast.Failure("Draft failed", err))
		s.render(w, r, http.StatusOK, "interactive_notes", "Note creator", view, failed...)
		return
	}
	view.Draft = &DraftView{
		Content:        draft.Content,
		RiskLevel:      draft.RiskLevel,
		ProgressRating: draft.ProgressRating,
		Tags:           strings.Join(draft.Tags, ", "),
		Badge:          models.RiskBadge(draft.RiskLevel),
	}
	failed = append(failed, toast.Success("Draft ready", "Review the note before saving."))
	s.render(w, r, http.StatusOK, "interactive_notes", "Note creator", view, failed...)
}

// saveDraftAction handles POST /interactive-notes/save
func (s *Server) saveDraftAction(w http.ResponseWriter, r *http.Request) {
	n, err := s.noteFromForm(r)
	if err != nil {
		s.redirect(w, r, withClient("/interactive-notes", n.ClientID), toast.Failure("Could not save note", err))
		return
	}
	t := toast.Mutate(r.Context(), func(ctx context.Context) error {
		_, err := s.api.CreateProgressNote(ctx, n)
		return err
	}, toast.MutateOpts{Success: "Progress note saved", Failure: "Could not save note"})
	if t.Kind != toast.KindSuccess {
		s.redirect(w, r, withClient("/interactive-notes", n.ClientID), t)
		return
	}
	s.redirect(w, r, withClient("/progress-notes", n.ClientID), t)
}

// syncCalendarAction handles POST /calendar-sync/sync
func (s *Server) syncCalendarAction(w http.ResponseWriter, r *http.Request) {
	var res models.SyncResult
	t := toast.Mutate(r.Context(), func(ctx context.Context) error {
		var err error
		res, err = s.api.SyncCalendar(ctx)
		return err
	}, toast.MutateOpts{Success: "Calendar synced", Failure: "Calendar sync failed"})
	if t.Kind == toast.KindSuccess {
		t.Message = fmt.Sprintf("Imported %d, skipped %d", res.Imported, res.Skipped)
	}
	s.redirect(w, r, "/calendar-sync", t)
}

// syncDriveAction handles POST /drop-zone/drive/sync
func (s *Server) syncDriveAction(w http.ResponseWriter, r *http.Request) {
	var res models.SyncResult
	t := toast.Mutate(r.Context(), func(ctx context.Context) error {
		var err error
		res, err = s.api.SyncDrive(ctx)
		return err
	}, toast.MutateOpts{Success: "Drive synced", Failure: "Drive sync failed"})
	if t.Kind == toast.KindSuccess {
		t.Message = fmt.Sprintf("Imported %d, skipped %d", res.Imported, res.Skipped)
	}
	s.redirect(w, r, "/drop-zone", t)
}

// uploadAction handles POST /drop-zone/upload. Every file posted under
// "files" is forwarded to the backend; each result is reported. Files over
// the per-file limit are reported as failures and never forwarded.
func (s *Server) uploadAction(w http.ResponseWriter, r *http.Request) {
	limit := s.uploader.MaxFileBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadFiles*limit+uploadOverheadBytes)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			slog.Warn("Server.uploadAction: upload too large", "limit", tooLarge.Limit)
			s.redirect(w, r, "/drop-zone", toast.Warning("Upload too large",
				fmt.Sprintf("Send at most %d files of up to %d MB each.", maxUploadFiles, limit>>20)))
			return
		}
		slog.Warn("Server.uploadAction: invalid upload form", "error", err)
		s.redirect(w, r, "/drop-zone", toast.Failure("Upload failed", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		s.redirect(w, r, "/drop-zone", toast.Warning("No files selected", "Choose one or more files to upload."))
		return
	}
	files := make([]dropzone.File, 0, len(headers))
	for _, fh := range headers {
		files = append(files, dropzone.File{Name: fh.Filename, Size: fh.Size, Open: func() (io.ReadCloser, error) { return fh.Open() }})
	}

	results := s.uploader.Upload(r.Context(), r.FormValue("clientId"), files)
	for _, res := range results {
		if res.Success {
			s.toasts.Push(toast.Success("Uploaded "+res.FileName, res.Message))
			continue
		}
		s.toasts.Push(toast.Toast{Kind: toast.KindError, Title: "Upload failed: " + res.FileName, Message: res.Message})
	}
	http.Redirect(w, r, "/drop-zone", http.StatusSeeOther)
}
