package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

const (
	DefaultChunkSize      = int64(10 << 20)
	DefaultThreshold      = int64(50 << 20)
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = time.Second
	DefaultMaxRestarts    = 1
)

// Progress is reported after every chunk the server acknowledged
type Progress struct {
	UploadedBytes int64
	TotalBytes    int64
	Percentage    int
	CurrentChunk  int
	TotalChunks   int
}

// Result describes a finished upload
type Result struct {
	UploadID string `json:"uploadId"`
	VideoURL string `json:"videoUrl"`
	FileKey  string `json:"fileKey"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	MimeType string `json:"mimeType"`
	Checksum string `json:"checksum"`
}

// Options tunes an Uploader; zero values fall back to the defaults
type Options struct {
	Token          string
	ChunkSize      int64
	// Threshold is the largest file sent as a single chunk
	Threshold      int64
	MaxAttempts    int
	InitialBackoff time.Duration
	// MaxRestarts bounds restarts from init after the server lost the
	// session; negative disables restarts
	MaxRestarts    int
	HTTPClient     *http.Client
	OnProgress     func(Progress)
}

// Uploader drives the chunked upload protocol against one server
type Uploader struct {
	baseURL string
	opts    Options
	http    *http.Client
}

// New creates an uploader for the server at baseURL
func New(baseURL string, opts Options) *Uploader {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultInitialBackoff
	}
	switch {
	case opts.MaxRestarts == 0:
		opts.MaxRestarts = DefaultMaxRestarts
	case opts.MaxRestarts < 0:
		opts.MaxRestarts = 0
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}

	return &Uploader{
		baseURL: strings.TrimSuffix(baseURL, "/") + "/api/upload",
		opts:    opts,
		http:    httpClient,
	}
}

// UploadFile uploads the file at path
func (u *Uploader) UploadFile(ctx context.Context, path, mimeType string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return u.Upload(ctx, f, info.Size(), filepath.Base(path), mimeType)
}

// Upload sends size bytes from src. If the server loses the session the
// whole protocol restarts from init, at most MaxRestarts times.
func (u *Uploader) Upload(ctx context.Context, src io.ReaderAt, size int64, fileName, mimeType string) (*Result, error) {
	if size <= 0 {
		return nil, fmt.Errorf("cannot upload empty file")
	}

	chunkSize := u.opts.ChunkSize
	if size <= u.opts.Threshold {
		chunkSize = size
	}
	plan := uploadPlan{
		src:         src,
		size:        size,
		chunkSize:   chunkSize,
		totalChunks: int((size + chunkSize - 1) / chunkSize),
		fileName:    fileName,
		mimeType:    mimeType,
	}

	progress := &progressTracker{notify: u.opts.OnProgress}
	for restart := 0; ; restart++ {
		result, err := u.run(ctx, plan, progress)
		if errors.Is(err, ErrSessionLost) && restart < u.opts.MaxRestarts {
			log.Warn().Err(err).Int("restart", restart+1).Msg("Upload session lost, restarting")
			continue
		}
		return result, err
	}
}

type uploadPlan struct {
	src         io.ReaderAt
	size        int64
	chunkSize   int64
	totalChunks int
	fileName    string
	mimeType    string
}

// progressTracker reports only bytes beyond the highest mark already reported,
// so a restarted upload never moves the percentage backwards
type progressTracker struct {
	notify func(Progress)
	mark   int64
}

func (t *progressTracker) report(plan uploadPlan, uploaded int64, index int) {
	if t.notify == nil || uploaded <= t.mark {
		return
	}
	t.mark = uploaded
	t.notify(Progress{
		UploadedBytes: uploaded,
		TotalBytes:    plan.size,
		Percentage:    int(math.Round(100 * float64(uploaded) / float64(plan.size))),
		CurrentChunk:  index + 1,
		TotalChunks:   plan.totalChunks,
	})
}

func (p uploadPlan) chunkBounds(index int) (int64, int64) {
	start := int64(index) * p.chunkSize
	end := start + p.chunkSize
	if end > p.size {
		end = p.size
	}
	return start, end
}

func (u *Uploader) run(ctx context.Context, plan uploadPlan, progress *progressTracker) (*Result, error) {
	uploadID, err := u.initSession(ctx, plan)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("upload_id", uploadID).Int("total_chunks", plan.totalChunks).Msg("Upload session created")

	var uploaded int64
	for index := 0; index < plan.totalChunks; index++ {
		n, err := u.sendChunkWithRetry(ctx, uploadID, plan, index)
		if err != nil {
			return nil, u.abort(ctx, uploadID, index, err)
		}

		uploaded += n
		progress.report(plan, uploaded, index)
	}

	result, err := u.completeWithRetry(ctx, uploadID)
	if apiErr, ok := asIncomplete(err); ok {
		log.Warn().Str("upload_id", uploadID).Ints("missing", apiErr.Missing).Msg("Server reported missing chunks, resending")
		for _, index := range apiErr.Missing {
			if index < 0 || index >= plan.totalChunks {
				continue
			}
			if _, err := u.sendChunkWithRetry(ctx, uploadID, plan, index); err != nil {
				return nil, u.abort(ctx, uploadID, index, err)
			}
		}
		result, err = u.completeWithRetry(ctx, uploadID)
	}
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %v", ErrSessionLost, err)
		}
		return nil, fmt.Errorf("failed to complete upload: %w", err)
	}
	return result, nil
}

// abort cancels the server session after a chunk failure that retries did not fix
func (u *Uploader) abort(ctx context.Context, uploadID string, index int, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %v", ErrSessionLost, err)
	}
	if cerr := u.Cancel(context.WithoutCancel(ctx), uploadID); cerr != nil {
		log.Warn().Err(cerr).Str("upload_id", uploadID).Msg("Failed to cancel upload")
	}
	return fmt.Errorf("%w: chunk %d: %v", ErrChunkFailed, index, err)
}

func (u *Uploader) retry(ctx context.Context, what string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = u.opts.InitialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = u.opts.InitialBackoff << u.opts.MaxAttempts

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.retryable() {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(u.opts.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Debug().Err(err).Dur("wait", wait).Msgf("Retrying %s", what)
		}),
	)
	return err
}

func (u *Uploader) initSession(ctx context.Context, plan uploadPlan) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"fileName":    plan.fileName,
		"fileSize":    plan.size,
		"mimeType":    plan.mimeType,
		"totalChunks": plan.totalChunks,
	})
	if err != nil {
		return "", err
	}

	var resp struct {
		UploadID string `json:"uploadId"`
	}
	err = u.retry(ctx, "init", func() error {
		return u.do(ctx, http.MethodPost, "/init", "application/json", bytes.NewReader(body), &resp)
	})
	if err != nil {
		return "", fmt.Errorf("failed to initialize upload: %w", err)
	}
	return resp.UploadID, nil
}

func (u *Uploader) sendChunkWithRetry(ctx context.Context, uploadID string, plan uploadPlan, index int) (int64, error) {
	start, end := plan.chunkBounds(index)
	data := make([]byte, end-start)
	if _, err := io.ReadFull(io.NewSectionReader(plan.src, start, end-start), data); err != nil {
		return 0, fmt.Errorf("failed to read chunk %d: %w", index, err)
	}

	err := u.retry(ctx, fmt.Sprintf("chunk %d", index), func() error {
		return u.sendChunk(ctx, uploadID, index, data)
	})
	return int64(len(data)), err
}

func (u *Uploader) sendChunk(ctx context.Context, uploadID string, index int, data []byte) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("chunk", fmt.Sprintf("chunk-%d", index))
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	path := fmt.Sprintf("/%s/chunk/%d", uploadID, index)
	return u.do(ctx, http.MethodPost, path, writer.FormDataContentType(), &buf, nil)
}

func (u *Uploader) completeWithRetry(ctx context.Context, uploadID string) (*Result, error) {
	var result Result
	err := u.retry(ctx, "complete", func() error {
		return u.do(ctx, http.MethodPost, "/"+uploadID+"/complete", "", nil, &result)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Cancel discards the server-side session
func (u *Uploader) Cancel(ctx context.Context, uploadID string) error {
	return u.do(ctx, http.MethodDelete, "/"+uploadID, "", nil, nil)
}

func (u *Uploader) do(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, u.baseURL+path, body)
	if err != nil {
		return backoff.Permanent(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if u.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+u.opts.Token)
	}

	resp, err := u.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var envelope struct {
			Error         string `json:"error"`
			Code          string `json:"code"`
			Received      *int   `json:"received"`
			Total         *int   `json:"total"`
			MissingChunks []int  `json:"missingChunks"`
		}
		if json.Unmarshal(payload, &envelope) == nil && envelope.Error != "" {
			apiErr.Message = envelope.Error
			apiErr.Code = envelope.Code
			apiErr.Received = envelope.Received
			apiErr.Total = envelope.Total
			apiErr.Missing = envelope.MissingChunks
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
