// Package generation talks to the generation backend. Every submission shape reduces to the same
// pipeline: submit, poll the job on a fixed cadence until it reaches a terminal status, then
// download the result.
package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"fotobudka/internal/domain"
	"fotobudka/internal/gateway"
	"fotobudka/internal/infra"
	"fotobudka/internal/metrics"
)

// DefaultPollInterval is the cadence between status polls.
const DefaultPollInterval = 2500 * time.Millisecond

// ErrPollAttemptsExhausted is returned when a configured attempt limit runs out before the job
// reaches a terminal status.
var ErrPollAttemptsExhausted = errors.New("generation: job still running after the maximum number of polls")

// Backend is the subset of the gateway the client depends on.
type Backend interface {
	Do(ctx context.Context, method, path string, body any, useAuth bool, out any) error
	DoMultipart(ctx context.Context, path string, fields []gateway.Field, file *gateway.FilePart, useAuth bool, out any) error
	Download(ctx context.Context, rawURL string, useAuth bool) ([]byte, error)
	DownloadTo(ctx context.Context, rawURL string, useAuth bool, w io.Writer) (int64, error)
}

// Options configures the client.
type Options struct {
	Backend      Backend
	PollInterval time.Duration
	// MaxPollAttempts bounds polling; zero polls until a terminal status or cancellation.
	MaxPollAttempts int
	// TempDir receives streamed video downloads; empty means os.TempDir.
	TempDir string
	Metrics *metrics.Metrics
	Logger  *infra.Logger
}

// Client performs generation calls.
type Client struct {
	backend      Backend
	pollInterval time.Duration
	maxAttempts  int
	tempDir      string
	metrics      *metrics.Metrics
	logger       *infra.Logger
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	if opts.Backend == nil {
		return nil, errors.New("generation: backend is required")
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if opts.MaxPollAttempts < 0 {
		return nil, errors.New("generation: max poll attempts must not be negative")
	}
	return &Client{
		backend:      opts.Backend,
		pollInterval: interval,
		maxAttempts:  opts.MaxPollAttempts,
		tempDir:      opts.TempDir,
		metrics:      opts.Metrics,
		logger:       infra.OrDiscard(opts.Logger),
	}, nil
}

// PollInterval returns the configured cadence.
func (c *Client) PollInterval() time.Duration {
	return c.pollInterval
}

// SubmitNanoBanana submits a prompt, optionally conditioned on one image.
func (c *Client) SubmitNanoBanana(ctx context.Context, prompt string, image *Media) (Submission, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Submission{}, errors.New("generation: prompt is required")
	}
	var file *gateway.FilePart
	if image != nil {
		file = filePart("images", *image)
	}
	return c.submitMultipart(ctx, "nanobanana", pathNanoBanana, []gateway.Field{{Name: "prompt", Value: prompt}}, file)
}

// SubmitPhotoEffect applies a photo effect template to photo.
func (c *Client) SubmitPhotoEffect(ctx context.Context, templateID int, photo Media) (Submission, error) {
	return c.submitTemplate(ctx, "photo effect", pathPhotoEffect, templateID, photo)
}

// SubmitVideoEffect turns photo into a video using a template. The endpoint usually answers
// once the file is ready, so the submission often already carries the result.
func (c *Client) SubmitVideoEffect(ctx context.Context, templateID int, photo Media) (Submission, error) {
	return c.submitTemplate(ctx, "video effect", pathVideoEffect, templateID, photo)
}

// SubmitTextToVideo submits a prompt-only video generation.
func (c *Client) SubmitTextToVideo(ctx context.Context, req TextToVideoRequest) (Submission, error) {
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		return Submission{}, errors.New("generation: prompt is required")
	}
	var resp jobResponse
	if err := c.backend.Do(ctx, http.MethodPost, pathTextToVideo, req, true, &resp); err != nil {
		return Submission{}, c.wrap(ctx, "submit text to video", err)
	}
	return c.accepted("text to video", resp)
}

// SubmitVideoEnhance upscales video by the given multiplier.
func (c *Client) SubmitVideoEnhance(ctx context.Context, video Media, upscale int) (Submission, error) {
	if upscale < 1 {
		return Submission{}, errors.New("generation: upscale multiplier must be at least 1")
	}
	fields := []gateway.Field{{Name: "upscale_factor", Value: strconv.Itoa(upscale)}}
	return c.submitMultipart(ctx, "video enhance", pathVideoEnhance, fields, filePart("video", video))
}

func (c *Client) submitTemplate(ctx context.Context, op, path string, templateID int, photo Media) (Submission, error) {
	if templateID <= 0 {
		return Submission{}, fmt.Errorf("generation: invalid template id %d", templateID)
	}
	if len(photo.Data) == 0 {
		return Submission{}, errors.New("generation: photo is required")
	}
	fields := []gateway.Field{{Name: "template_id", Value: strconv.Itoa(templateID)}}
	return c.submitMultipart(ctx, op, path, fields, filePart("photo", photo))
}

func (c *Client) submitMultipart(ctx context.Context, op, path string, fields []gateway.Field, file *gateway.FilePart) (Submission, error) {
	var resp jobResponse
	if err := c.backend.DoMultipart(ctx, path, fields, file, true, &resp); err != nil {
		return Submission{}, c.wrap(ctx, "submit "+op, err)
	}
	return c.accepted(op, resp)
}

func (c *Client) accepted(op string, resp jobResponse) (Submission, error) {
	sub := resp.submission()
	if sub.ID == "" && sub.Result == "" {
		return Submission{}, &gateway.DecodingError{Err: fmt.Errorf("%s response carries neither id nor result", op)}
	}
	c.logger.Debug().
		Str("remote_job_id", sub.ID).
		Str("status", sub.Status).
		Msgf("generation: %s submitted", op)
	return sub, nil
}

// Await resolves a submission to its result reference, polling when the submission is not
// already terminal.
func (c *Client) Await(ctx context.Context, sub Submission) (string, error) {
	if result, done, err := classify(sub); done {
		return result, err
	}
	if sub.ID == "" {
		return "", &gateway.DecodingError{Err: errors.New("non-terminal submission without job id")}
	}
	return c.Poll(ctx, sub.ID)
}

// Poll waits one interval, queries the job and repeats until a terminal status. Cancelling ctx
// aborts the wait immediately with an error matching domain.ErrCancelled.
func (c *Client) Poll(ctx context.Context, jobID string) (string, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return "", errors.New("generation: job id is required")
	}
	timer := time.NewTimer(c.pollInterval)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return "", cancelled(ctx.Err())
		case <-timer.C:
		}

		var resp jobResponse
		if err := c.backend.Do(ctx, http.MethodGet, pathStatus+url.PathEscape(jobID), nil, true, &resp); err != nil {
			return "", c.wrap(ctx, "poll "+jobID, err)
		}
		sub := resp.submission()
		c.metrics.Poll(sub.Status)
		if result, done, err := classify(sub); done {
			c.logger.Debug().
				Str("remote_job_id", jobID).
				Str("status", sub.Status).
				Int("attempt", attempt).
				Msg("generation: job reached terminal status")
			return result, err
		}
		if c.maxAttempts > 0 && attempt >= c.maxAttempts {
			return "", ErrPollAttemptsExhausted
		}
		timer.Reset(c.pollInterval)
	}
}

// classify maps a status to its terminal outcome. done is false for non-terminal statuses.
func classify(sub Submission) (result string, done bool, err error) {
	switch sub.Status {
	case StatusCompleted, StatusFinished:
		if sub.Result == "" {
			return "", true, domain.ErrDownloadFailed
		}
		return sub.Result, true, nil
	case StatusError, StatusFailed:
		return "", true, &domain.GenerationFailedError{Message: sub.Error}
	default:
		return "", false, nil
	}
}

// Download fetches a result reference. Absolute URLs are fetched directly without credentials;
// anything else is a file name served by the authenticated file endpoint.
func (c *Client) Download(ctx context.Context, ref string) ([]byte, error) {
	target, useAuth, err := resolveResult(ref)
	if err != nil {
		return nil, err
	}
	data, err := c.backend.Download(ctx, target, useAuth)
	if err != nil {
		return nil, c.wrapDownload(ctx, err)
	}
	if len(data) == 0 {
		return nil, domain.ErrDownloadFailed
	}
	return data, nil
}

// DownloadToFile streams a result reference into a new temporary file and returns its path.
// The caller owns the file.
func (c *Client) DownloadToFile(ctx context.Context, ref, pattern string) (string, error) {
	target, useAuth, err := resolveResult(ref)
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp(c.tempDir, pattern)
	if err != nil {
		return "", fmt.Errorf("generation: create temp file: %w", err)
	}
	n, err := c.backend.DownloadTo(ctx, target, useAuth, f)
	closeErr := f.Close()
	if err == nil && n == 0 {
		err = domain.ErrDownloadFailed
	}
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", c.wrapDownload(ctx, err)
	}
	return f.Name(), nil
}

func resolveResult(ref string) (string, bool, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false, domain.ErrDownloadFailed
	}
	if gateway.IsAbsoluteURL(ref) {
		return ref, false, nil
	}
	name := strings.TrimPrefix(strings.TrimLeft(ref, "/"), strings.TrimLeft(pathFile, "/"))
	return pathFile + url.PathEscape(name), true, nil
}

// GenerateNanoBanana runs the full pipeline for a prompt and returns the image bytes.
func (c *Client) GenerateNanoBanana(ctx context.Context, prompt string, image *Media) ([]byte, error) {
	sub, err := c.SubmitNanoBanana(ctx, prompt, image)
	if err != nil {
		return nil, err
	}
	ref, err := c.Await(ctx, sub)
	if err != nil {
		return nil, err
	}
	return c.Download(ctx, ref)
}

// GeneratePhotoEffect runs the full photo effect pipeline and returns the result bytes.
func (c *Client) GeneratePhotoEffect(ctx context.Context, templateID int, photo Media) ([]byte, error) {
	sub, err := c.SubmitPhotoEffect(ctx, templateID, photo)
	if err != nil {
		return nil, err
	}
	ref, err := c.Await(ctx, sub)
	if err != nil {
		return nil, err
	}
	return c.Download(ctx, ref)
}

// GenerateVideoEffectFile runs the video effect pipeline and streams the result into a temporary
// file whose path is returned. The caller owns the file.
func (c *Client) GenerateVideoEffectFile(ctx context.Context, templateID int, photo Media) (string, error) {
	sub, err := c.SubmitVideoEffect(ctx, templateID, photo)
	if err != nil {
		return "", err
	}
	ref, err := c.Await(ctx, sub)
	if err != nil {
		return "", err
	}
	return c.DownloadToFile(ctx, ref, "effect-*.mp4")
}

// GenerateTextToVideo runs the full text-to-video pipeline and returns a temporary file path.
func (c *Client) GenerateTextToVideo(ctx context.Context, req TextToVideoRequest) (string, error) {
	sub, err := c.SubmitTextToVideo(ctx, req)
	if err != nil {
		return "", err
	}
	ref, err := c.Await(ctx, sub)
	if err != nil {
		return "", err
	}
	return c.DownloadToFile(ctx, ref, "txt2video-*.mp4")
}

// EnhanceVideo runs the upscale pipeline and returns a temporary file path.
func (c *Client) EnhanceVideo(ctx context.Context, video Media, upscale int) (string, error) {
	sub, err := c.SubmitVideoEnhance(ctx, video, upscale)
	if err != nil {
		return "", err
	}
	ref, err := c.Await(ctx, sub)
	if err != nil {
		return "", err
	}
	return c.DownloadToFile(ctx, ref, "enhanced-*.mp4")
}

func (c *Client) wrap(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return cancelled(ctx.Err())
	}
	return fmt.Errorf("generation: %s: %w", op, err)
}

// wrapDownload marks any failure to obtain a reported result as ErrDownloadFailed while
// keeping the cause inspectable.
func (c *Client) wrapDownload(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return cancelled(ctx.Err())
	}
	if errors.Is(err, domain.ErrDownloadFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrDownloadFailed, err)
}

func cancelled(cause error) error {
	return fmt.Errorf("%w: %w", domain.ErrCancelled, cause)
}

func filePart(field string, m Media) *gateway.FilePart {
	return &gateway.FilePart{
		FieldName:   field,
		FileName:    m.FileName,
		ContentType: m.ContentType,
		Data:        m.Data,
	}
}
