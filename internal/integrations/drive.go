package integrations

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/BTreeMap/CareDesk/internal/models"
	"github.com/BTreeMap/CareDesk/internal/semantic"
	"github.com/BTreeMap/CareDesk/internal/store"
	"google.golang.org/api/drive/v3"
)

// Drive sync settings.
const (
	DriveCallbackPath     = "/api/drive/callback"
	driveExternalIDPrefix = "drive:"
	drivePageSize         = 25
	driveTextQuery        = "(mimeType='text/plain' or mimeType='text/markdown' or mimeType='text/csv') and trashed=false"
	driveFileFields       = "files(id,name,mimeType,size,modifiedTime)"
	// MaxDriveFileBytes bounds downloaded file size.
	MaxDriveFileBytes = 5 << 20
)

// DriveProvider talks to Google Drive on behalf of the practice.
type DriveProvider struct {
	*provider
}

// NewDriveProvider creates a drive provider.
func NewDriveProvider(st store.Store, opts ...Option) *DriveProvider {
	return &DriveProvider{provider: newProvider(models.IntegrationDrive, ScopeDriveReadOnly, DriveCallbackPath, st, opts...)}
}

// Status reports the Drive connection state.
func (d *DriveProvider) Status(ctx context.Context) (models.DriveStatus, error) {
	integ, err := d.store.GetIntegration(ctx, models.IntegrationDrive)
	if errors.Is(err, store.ErrNotFound) {
		return models.DriveStatus{Connected: false}, nil
	}
	if err != nil {
		return models.DriveStatus{}, err
	}
	return models.DriveStatus{Connected: true, Account: integ.Account, LastSync: integ.LastSync}, nil
}

// service returns a Drive API client authorised with the stored token.
func (d *DriveProvider) service(ctx context.Context) (*drive.Service, models.Integration, error) {
	hc, integ, err := d.client(ctx)
	if err != nil {
		return nil, integ, err
	}
	svc, err := drive.NewService(ctx, d.apiOptions(hc, "drive/v3/")...)
	if err != nil {
		return nil, integ, fmt.Errorf("create drive service: %w", err)
	}
	return svc, integ, nil
}

// Complete finishes the OAuth flow and records the Drive user's email.
func (d *DriveProvider) Complete(ctx context.Context, state, code string) error {
	tok, err := d.exchange(ctx, state, code)
	if err != nil {
		return err
	}
	if err := d.save(ctx, tok, "", nil); err != nil {
		return err
	}
	svc, integ, err := d.service(ctx)
	if err != nil {
		return err
	}
	about, err := svc.About.Get().Fields("user(emailAddress)").Context(ctx).Do()
	if err != nil {
		slog.Warn("DriveProvider.Complete: could not read account", "error", err)
		return nil
	}
	if about.User != nil {
		integ.Account = about.User.EmailAddress
	}
	return d.store.SaveIntegration(ctx, integ)
}

// RecentTextFiles lists the most recently modified plain-text files.
func (d *DriveProvider) RecentTextFiles(ctx context.Context) ([]*drive.File, error) {
	svc, _, err := d.service(ctx)
	if err != nil {
		return nil, err
	}
	return listTextFiles(ctx, svc)
}

func listTextFiles(ctx context.Context, svc *drive.Service) ([]*drive.File, error) {
	list, err := svc.Files.List().
		Q(driveTextQuery).
		OrderBy("modifiedTime desc").
		PageSize(drivePageSize).
		Fields(driveFileFields).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("list drive files: %w", err)
	}
	return list.Files, nil
}

func download(ctx context.Context, svc *drive.Service, fileID string) ([]byte, error) {
	resp, err := svc.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", fileID, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, MaxDriveFileBytes))
}

// Sync imports recent Drive text files as documents and extracts their
// semantic edges. Files imported before are skipped.
func (d *DriveProvider) Sync(ctx context.Context, now time.Time) (models.SyncResult, error) {
	svc, _, err := d.service(ctx)
	if err != nil {
		return models.SyncResult{}, err
	}
	files, err := listTextFiles(ctx, svc)
	if err != nil {
		return models.SyncResult{}, err
	}
	var res models.SyncResult
	for _, f := range files {
		if f.Size > MaxDriveFileBytes {
			res.Skipped++
			continue
		}
		content, err := download(ctx, svc, f.Id)
		if err != nil {
			slog.Warn("DriveProvider.Sync: download failed", "file_id", f.Id, "error", err)
			res.Skipped++
			continue
		}
		doc, err := d.store.AddDocument(ctx, models.Document{
			FileName:    f.Name,
			ContentType: f.MimeType,
			SizeBytes:   int64(len(content)),
			Content:     string(content),
			Source:      models.DocumentSourceDrive,
			ExternalID:  driveExternalIDPrefix + f.Id,
		})
		if errors.Is(err, store.ErrConflict) {
			res.Skipped++
			continue
		}
		if err != nil {
			return res, fmt.Errorf("import drive file %s: %w", f.Id, err)
		}
		if err := d.store.AddEdges(ctx, semantic.ExtractEdges(doc.ID, doc.Content)); err != nil {
			return res, fmt.Errorf("store edges for %s: %w", doc.ID, err)
		}
		res.Imported++
	}
	if err := d.markSynced(ctx, now); err != nil {
		slog.Warn("DriveProvider.Sync: failed to record sync time", "error", err)
	}
	slog.Info("DriveProvider.Sync: drive synced", "imported", res.Imported, "skipped", res.Skipped)
	return res, nil
}
