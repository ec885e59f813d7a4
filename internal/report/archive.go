package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ArchiveError wraps a failed upload. Archival sits downstream of the
// analysis result, so callers treat this class of error as non-fatal: the
// rendered document survives and the upload can be retried on its own.
type ArchiveError struct {
	Op     string
	Status int
	Err    error
}

func (e *ArchiveError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("archive %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("archive %s: %v", e.Op, e.Err)
}

func (e *ArchiveError) Unwrap() error { return e.Err }

// ArchiverConfig configures the pinning client.
type ArchiverConfig struct {
	Endpoint string // pinning service upload URL
	Gateway  string // public gateway host used to build ContentURL
	APIKey   string
	Timeout  time.Duration
}

// DefaultArchiverConfig returns defaults for the public pinning service.
func DefaultArchiverConfig(apiKey string) ArchiverConfig {
	return ArchiverConfig{
		Endpoint: "https://api.pinata.cloud/pinning/pinFileToIPFS",
		Gateway:  "gateway.pinata.cloud",
		APIKey:   apiKey,
		Timeout:  60 * time.Second,
	}
}

// Archiver uploads rendered reports to an IPFS pinning service.
type Archiver struct {
	endpoint   string
	gateway    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewArchiver creates an archiver.
func NewArchiver(cfg ArchiverConfig, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Gateway == "" {
		cfg.Gateway = "gateway.pinata.cloud"
	}
	return &Archiver{
		endpoint:   cfg.Endpoint,
		gateway:    cfg.Gateway,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
}

// Archive uploads the rendered document as a markdown file and returns the
// artifact with its content ID and gateway URL filled in. On failure the
// returned artifact still carries the rendered document so the caller keeps
// a usable report.
func (a *Archiver) Archive(ctx context.Context, document, subjectName string) (Artifact, error) {
	artifact := Artifact{RenderedDocument: document}

	if a.apiKey == "" {
		return artifact, &ArchiveError{Op: "upload", Err: fmt.Errorf("pinning API key not configured")}
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", archiveFilename(subjectName))
	if err != nil {
		return artifact, &ArchiveError{Op: "encode", Err: err}
	}
	if _, err := part.Write([]byte(document)); err != nil {
		return artifact, &ArchiveError{Op: "encode", Err: err}
	}

	meta, err := json.Marshal(map[string]string{"name": archiveFilename(subjectName)})
	if err != nil {
		return artifact, &ArchiveError{Op: "encode", Err: err}
	}
	if err := writer.WriteField("pinataMetadata", string(meta)); err != nil {
		return artifact, &ArchiveError{Op: "encode", Err: err}
	}
	if err := writer.Close(); err != nil {
		return artifact, &ArchiveError{Op: "encode", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, &body)
	if err != nil {
		return artifact, &ArchiveError{Op: "upload", Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return artifact, &ArchiveError{Op: "upload", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return artifact, &ArchiveError{Op: "upload", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return artifact, &ArchiveError{
			Op:     "upload",
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%s", strings.TrimSpace(string(respBody))),
		}
	}

	var pin pinResponse
	if err := json.Unmarshal(respBody, &pin); err != nil {
		return artifact, &ArchiveError{Op: "upload", Err: fmt.Errorf("parse response: %w", err)}
	}
	if pin.IpfsHash == "" {
		return artifact, &ArchiveError{Op: "upload", Err: fmt.Errorf("response missing content hash")}
	}

	artifact.ContentID = pin.IpfsHash
	artifact.ContentURL = fmt.Sprintf("https://%s/ipfs/%s", a.gateway, pin.IpfsHash)

	a.logger.Info("report archived",
		zap.String("cid", artifact.ContentID),
		zap.Int("bytes", len(document)))
	return artifact, nil
}

// archiveFilename derives a stable upload filename from the subject name.
func archiveFilename(subjectName string) string {
	name := strings.TrimSpace(subjectName)
	if name == "" {
		name = "report"
	}
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_':
			return r
		default:
			return '-'
		}
	}, name)
	return name + "-audit.md"
}
