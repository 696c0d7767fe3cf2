package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/codebuildervaibhav/audio-relay/internal/types"
)

const folderMimeType = "application/vnd.google-apps.folder"

// DriveClient archives transcripts to Google Drive
type DriveClient struct {
	service    *drive.Service
	folderName string
	folderID   string
}

// NewDriveClient builds a client from an OAuth client secret and a
// previously authorized token file. There is no interactive flow: a
// missing token is an error.
func NewDriveClient(ctx context.Context, credentialsFile, tokenFile, folderName string) (*DriveClient, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	tok, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read token file %s: %w", tokenFile, err)
	}

	srv, err := drive.NewService(ctx, option.WithHTTPClient(config.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Drive service: %w", err)
	}

	dc := &DriveClient{
		service:    srv,
		folderName: folderName,
	}

	if err := dc.ensureFolder(ctx); err != nil {
		return nil, err
	}

	return dc, nil
}

// tokenFromFile retrieves a token from a local file
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// ensureFolder finds or creates the root folder
func (dc *DriveClient) ensureFolder(ctx context.Context) error {
	id, err := dc.findOrCreateFolder(ctx, dc.folderName, "")
	if err != nil {
		return fmt.Errorf("unable to prepare folder %q: %w", dc.folderName, err)
	}
	dc.folderID = id
	return nil
}

// Archive uploads the transcript text plus a metadata sidecar into a dated
// folder and returns a link to the text file.
func (dc *DriveClient) Archive(ctx context.Context, title string, tr types.Transcript) (string, error) {
	now := time.Now()
	folderID, err := dc.ensureDateFolder(ctx, now)
	if err != nil {
		return "", err
	}

	baseFilename := fmt.Sprintf("%s_%s", now.Format("20060102_150405"), sanitizeFilename(title))

	txtFile := &drive.File{
		Name:     baseFilename + ".txt",
		Parents:  []string{folderID},
		MimeType: "text/plain",
	}
	created, err := dc.service.Files.Create(txtFile).Context(ctx).
		Media(strings.NewReader(tr.Text)).Fields("id").Do()
	if err != nil {
		return "", fmt.Errorf("failed to upload transcript: %w", err)
	}

	metadata := map[string]interface{}{
		"task_id":    tr.ID,
		"title":      title,
		"language":   tr.DetectedLanguage,
		"word_count": len(strings.Fields(tr.Text)),
		"created_at": tr.CreatedAt,
	}
	metaJSON, _ := json.MarshalIndent(metadata, "", "  ")

	metaFile := &drive.File{
		Name:     baseFilename + "_meta.json",
		Parents:  []string{folderID},
		MimeType: "application/json",
	}
	if _, err := dc.service.Files.Create(metaFile).Context(ctx).
		Media(bytes.NewReader(metaJSON)).Do(); err != nil {
		return "", fmt.Errorf("failed to upload metadata: %w", err)
	}

	return fmt.Sprintf("https://drive.google.com/file/d/%s/view", created.Id), nil
}

// ensureDateFolder creates nested year/month/day folders
func (dc *DriveClient) ensureDateFolder(ctx context.Context, t time.Time) (string, error) {
	parent := dc.folderID
	for _, name := range []string{
		fmt.Sprintf("%d", t.Year()),
		fmt.Sprintf("%02d", t.Month()),
		fmt.Sprintf("%02d", t.Day()),
	} {
		id, err := dc.findOrCreateFolder(ctx, name, parent)
		if err != nil {
			return "", err
		}
		parent = id
	}
	return parent, nil
}

// findOrCreateFolder finds or creates a folder; an empty parentID searches
// the whole drive.
func (dc *DriveClient) findOrCreateFolder(ctx context.Context, name, parentID string) (string, error) {
	query := fmt.Sprintf("name='%s' and mimeType='%s' and trashed=false",
		strings.ReplaceAll(name, "'", `\'`), folderMimeType)
	if parentID != "" {
		query += fmt.Sprintf(" and '%s' in parents", parentID)
	}

	r, err := dc.service.Files.List().Context(ctx).Q(query).Spaces("drive").Fields("files(id)").Do()
	if err != nil {
		return "", err
	}

	if len(r.Files) > 0 {
		return r.Files[0].Id, nil
	}

	folder := &drive.File{
		Name:     name,
		MimeType: folderMimeType,
	}
	if parentID != "" {
		folder.Parents = []string{parentID}
	}

	file, err := dc.service.Files.Create(folder).Context(ctx).Fields("id").Do()
	if err != nil {
		return "", err
	}

	return file.Id, nil
}
