package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"
)

const (
	driveAPIBase    = "https://www.googleapis.com/drive/v3"
	driveUploadBase = "https://www.googleapis.com/upload/drive/v3"
	folderMimeType  = "application/vnd.google-apps.folder"
	csvMimeType     = "text/csv"
	entryFields     = "id,name,modifiedTime,size"
)

// DriveStore implements Store against the Google Drive v3 REST API with
// a bearer access token. Obtaining and refreshing the token is the
// operator's concern.
type DriveStore struct {
	client     *retryablehttp.Client
	token      string
	apiBase    string
	uploadBase string
}

// DriveOption tweaks the store, mainly for tests.
type DriveOption func(*DriveStore)

// WithDriveEndpoints points the store at alternate API hosts.
func WithDriveEndpoints(apiBase, uploadBase string) DriveOption {
	return func(s *DriveStore) {
		s.apiBase = apiBase
		s.uploadBase = uploadBase
	}
}

func NewDriveStore(token string, opts ...DriveOption) *DriveStore {
	retryClient := retryablehttp.NewClient()
	retryClient.Logger = log.New(io.Discard, "", 0)
	retryClient.RetryMax = 3
	retryClient.HTTPClient.Timeout = 60 * time.Second

	s := &DriveStore{
		client:     retryClient,
		token:      token,
		apiBase:    driveAPIBase,
		uploadBase: driveUploadBase,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *DriveStore) FindByName(ctx context.Context, folderID, name string) (*Entry, error) {
	q := fmt.Sprintf("name='%s' and '%s' in parents and trashed=false", escapeQueryValue(name), folderID)
	files, err := s.listFiles(ctx, q, "files("+entryFields+")")
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}
	entry := parseEntry(files[0])
	return &entry, nil
}

func (s *DriveStore) Create(ctx context.Context, folderID, name string, data []byte) (*Entry, error) {
	metadata := map[string]interface{}{
		"name":    name,
		"parents": []string{folderID},
	}
	body, contentType, err := multipartUpload(metadata, data)
	if err != nil {
		return nil, err
	}

	u := s.uploadBase + "/files?uploadType=multipart&fields=" + url.QueryEscape(entryFields)
	respBody, err := s.do(ctx, "POST", u, contentType, body)
	if err != nil {
		return nil, err
	}
	entry := parseEntry(gjson.ParseBytes(respBody))
	return &entry, nil
}

func (s *DriveStore) Replace(ctx context.Context, id string, data []byte) (*Entry, error) {
	u := s.uploadBase + "/files/" + url.PathEscape(id) + "?uploadType=media&fields=" + url.QueryEscape(entryFields)
	respBody, err := s.do(ctx, "PATCH", u, csvMimeType, data)
	if err != nil {
		return nil, err
	}
	entry := parseEntry(gjson.ParseBytes(respBody))
	return &entry, nil
}

func (s *DriveStore) EnsureFolder(ctx context.Context, parentID, name string) (string, error) {
	q := fmt.Sprintf("name='%s' and mimeType='%s' and '%s' in parents and trashed=false",
		escapeQueryValue(name), folderMimeType, parentID)
	files, err := s.listFiles(ctx, q, "files(id,name)")
	if err != nil {
		return "", err
	}
	if len(files) > 0 {
		return files[0].Get("id").String(), nil
	}

	payload, err := json.Marshal(map[string]interface{}{
		"name":     name,
		"mimeType": folderMimeType,
		"parents":  []string{parentID},
	})
	if err != nil {
		return "", err
	}
	respBody, err := s.do(ctx, "POST", s.apiBase+"/files?fields=id", "application/json", payload)
	if err != nil {
		return "", err
	}
	return gjson.GetBytes(respBody, "id").String(), nil
}

func (s *DriveStore) FolderStats(ctx context.Context, folderID string) (Stats, error) {
	q := fmt.Sprintf("'%s' in parents and trashed=false", folderID)
	files, err := s.listFiles(ctx, q, "files(name,size,mimeType)")
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	for _, f := range files {
		if f.Get("mimeType").String() == folderMimeType {
			continue
		}
		stats.TotalFiles++
		stats.TotalSize += f.Get("size").Int()
		if strings.HasSuffix(f.Get("name").String(), ".csv") {
			stats.CSVFiles++
		}
	}
	return stats, nil
}

// listFiles runs a files.list query and follows nextPageToken until the
// result set is exhausted.
func (s *DriveStore) listFiles(ctx context.Context, query, fileFields string) ([]gjson.Result, error) {
	var files []gjson.Result
	pageToken := ""
	for {
		v := url.Values{}
		v.Set("q", query)
		v.Set("fields", "nextPageToken,"+fileFields)
		v.Set("pageSize", "1000")
		if pageToken != "" {
			v.Set("pageToken", pageToken)
		}
		body, err := s.do(ctx, "GET", s.apiBase+"/files?"+v.Encode(), "", nil)
		if err != nil {
			return nil, err
		}
		files = append(files, gjson.GetBytes(body, "files").Array()...)
		pageToken = gjson.GetBytes(body, "nextPageToken").String()
		if pageToken == "" {
			return files, nil
		}
	}
}

func (s *DriveStore) do(ctx context.Context, method, u, contentType string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnreachable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrRemoteUnreachable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: drive api returned %d: %s", ErrRemoteUnreachable, resp.StatusCode, truncate(respBody, 200))
	}
	return respBody, nil
}

func parseEntry(v gjson.Result) Entry {
	entry := Entry{
		ID:   v.Get("id").String(),
		Name: v.Get("name").String(),
		Size: v.Get("size").Int(),
	}
	// A malformed or absent modifiedTime leaves ModTime zero; the
	// reconciler treats that as a degraded comparison.
	if ts := v.Get("modifiedTime").String(); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			entry.ModTime = t.UTC()
		}
	}
	return entry
}

func multipartUpload(metadata map[string]interface{}, data []byte) (body []byte, contentType string, err error) {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json; charset=UTF-8")
	part, err := mw.CreatePart(metaHeader)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(meta); err != nil {
		return nil, "", err
	}

	mediaHeader := textproto.MIMEHeader{}
	mediaHeader.Set("Content-Type", csvMimeType)
	part, err = mw.CreatePart(mediaHeader)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}

	return buf.Bytes(), "multipart/related; boundary=" + mw.Boundary(), nil
}

// escapeQueryValue escapes single quotes and backslashes for Drive
// query string literals.
func escapeQueryValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

var _ Store = (*DriveStore)(nil)
