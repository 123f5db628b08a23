// Package upload submits result artifacts to the external test-management service using
// its initiate, upload and track protocol.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/batchpilot/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const acceptedExtension = ".json"

var (
	// ErrUnsupportedFormat rejects artifacts that are not JSON before the protocol starts.
	ErrUnsupportedFormat = errors.New("upload accepts only .json artifacts")
	// ErrEmptyArtifact rejects a missing or empty artifact.
	ErrEmptyArtifact = errors.New("upload artifact is empty")
	// ErrInitiateFailed ends a job whose initiate request was refused or malformed.
	ErrInitiateFailed = errors.New("upload initiation failed")
	// ErrUploadFailed ends a job whose artifact transfer was refused.
	ErrUploadFailed = errors.New("artifact upload failed")
	// ErrTrackFailed ends a job whose import was reported as failed or whose polling was interrupted.
	ErrTrackFailed = errors.New("result import failed")
)

type initiateRequest struct {
	Format     string `json:"format"`
	AttachFile bool   `json:"attachFile"`
	IsZip      bool   `json:"isZip"`
}

type initiateResponse struct {
	URL        string `json:"url"`
	TrackingID string `json:"trackingId"`
}

type trackResponse struct {
	ProcessStatus string `json:"processStatus"`
	ImportStatus  string `json:"importStatus"`
}

// Client drives upload jobs.
type Client struct {
	cfg    config.UploadConfig
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a client. A nil httpClient gets one bounded by cfg.RequestTimeout.
func NewClient(cfg config.UploadConfig, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger.Named("upload")}
}

// Upload runs the protocol for the artifact at path. A disabled client returns (nil, nil).
// Validation errors are returned before any request is made. A job that ends Failed is
// returned together with an error wrapping the sentinel of the failing phase; TimedOut is
// only logged.
func (c *Client) Upload(ctx context.Context, path string) (*Job, error) {
	if !c.cfg.Enabled {
		c.logger.Info("Result upload disabled; skipping", zap.String("artifact", path))
		return nil, nil
	}

	content, err := readArtifact(path)
	if err != nil {
		return nil, err
	}

	job := &Job{Artifact: path, Phase: PhaseInitiated}
	log := c.logger.With(zap.String("artifact", filepath.Base(path)))
	log.Info("Starting result upload", zap.Int("bytes", len(content)))

	if err := c.initiate(ctx, job); err != nil {
		job.fail(err.Error())
		log.Error("Upload initiation failed", zap.Error(err))
		return job, fmt.Errorf("%w: %v", ErrInitiateFailed, err)
	}
	log = log.With(zap.String("tracking_id", job.TrackingID))

	if err := c.send(ctx, job, content); err != nil {
		job.fail(err.Error())
		log.Error("Artifact upload failed", zap.Error(err))
		return job, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	c.track(ctx, job, log)
	switch job.Phase {
	case PhaseSucceeded:
		log.Info("Result import completed", zap.Int("attempts", job.Attempts))
		return job, nil
	case PhaseTimedOut:
		log.Warn("Import still pending after maximum polling attempts; check it manually",
			zap.Int("attempts", job.Attempts))
		return job, nil
	default:
		log.Error("Result import failed",
			zap.String("process_status", job.ProcessStatus),
			zap.String("import_status", job.ImportStatus),
			zap.String("reason", job.Reason))
		return job, fmt.Errorf("%w: %s", ErrTrackFailed, job.Reason)
	}
}

func readArtifact(path string) ([]byte, error) {
	if !strings.EqualFold(filepath.Ext(path), acceptedExtension) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload artifact: %w", err)
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyArtifact, filepath.Base(path))
	}
	return content, nil
}

// authorize adds only the credentials that are configured.
func (c *Client) authorize(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("apiKey", c.cfg.APIKey)
	}
	if c.cfg.Username != "" && c.cfg.Password != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func isSuccess(status int) bool { return status >= 200 && status < 300 }

func (c *Client) initiate(ctx context.Context, job *Job) error {
	format := c.cfg.Format
	if format == "" {
		format = "cucumber"
	}
	payload, err := json.Marshal(initiateRequest{Format: format, AttachFile: true})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.InitiateURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	status, body, err := c.do(req)
	if err != nil {
		return err
	}
	if !isSuccess(status) {
		return fmt.Errorf("unexpected status %d: %s", status, truncate(body))
	}

	var resp initiateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("malformed initiate response: %w", err)
	}
	if strings.TrimSpace(resp.TrackingID) == "" {
		return errors.New("initiate response carries no trackingId")
	}

	job.TrackingID = strings.TrimSpace(resp.TrackingID)
	job.UploadURL = strings.TrimSpace(resp.URL)
	if job.UploadURL == "" {
		if strings.TrimSpace(c.cfg.FallbackUploadURL) == "" {
			return errors.New("initiate response carries no upload url and fallback_upload_url is not configured")
		}
		job.UploadURL = withTrackingID(c.cfg.FallbackUploadURL, job.TrackingID)
		c.logger.Info("Initiate response carries no upload url; using fallback", zap.String("url", job.UploadURL))
	}
	return job.advance(PhaseUploading)
}

func (c *Client) send(ctx context.Context, job *Job, content []byte) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(job.Artifact))
	if err != nil {
		return err
	}
	if _, err := part.Write(content); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.UploadURL, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	status, respBody, err := c.do(req)
	if err != nil {
		return err
	}
	if !isSuccess(status) {
		return fmt.Errorf("unexpected status %d: %s", status, truncate(respBody))
	}
	return job.advance(PhaseTracking)
}

// track polls until a terminal status pair or until MaxAttempts polls have been made.
// The first poll is immediate, later ones are paced at PollInterval.
func (c *Client) track(ctx context.Context, job *Job, log *zap.Logger) {
	trackURL := withTrackingID(c.cfg.TrackURL, job.TrackingID)
	limiter := rate.NewLimiter(rate.Every(c.cfg.PollInterval), 1)

	for job.Attempts < c.cfg.MaxAttempts {
		if err := limiter.Wait(ctx); err != nil {
			job.fail(fmt.Sprintf("polling interrupted: %v", err))
			return
		}
		job.Attempts++

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, trackURL, nil)
		if err != nil {
			job.fail(err.Error())
			return
		}
		status, body, err := c.do(req)
		if err != nil {
			if ctx.Err() != nil {
				job.fail(fmt.Sprintf("polling interrupted: %v", ctx.Err()))
				return
			}
			log.Warn("Status poll failed", zap.Int("attempt", job.Attempts), zap.Error(err))
			continue
		}
		if !isSuccess(status) {
			log.Warn("Status poll returned an error status", zap.Int("attempt", job.Attempts), zap.Int("status", status))
			continue
		}

		var resp trackResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			log.Warn("Malformed status response; still processing", zap.Int("attempt", job.Attempts), zap.Error(err))
			continue
		}
		job.ProcessStatus, job.ImportStatus = resp.ProcessStatus, resp.ImportStatus

		switch trackVerdict(resp.ProcessStatus, resp.ImportStatus) {
		case PhaseSucceeded:
			_ = job.advance(PhaseSucceeded)
			return
		case PhaseFailed:
			job.fail(fmt.Sprintf("import failed (processStatus=%s, importStatus=%s)", resp.ProcessStatus, resp.ImportStatus))
			return
		default:
			log.Info("Import in progress",
				zap.Int("attempt", job.Attempts),
				zap.Int("max_attempts", c.cfg.MaxAttempts),
				zap.String("process_status", resp.ProcessStatus),
				zap.String("import_status", resp.ImportStatus))
		}
	}
	_ = job.advance(PhaseTimedOut)
}

func withTrackingID(base, trackingID string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base + "?trackingId=" + url.QueryEscape(trackingID)
	}
	q := u.Query()
	q.Set("trackingId", trackingID)
	u.RawQuery = q.Encode()
	return u.String()
}

func truncate(b []byte) string {
	const max = 512
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
