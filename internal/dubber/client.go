package dubber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"overdub/internal/segment"
)

// Client talks to the external voice-generation service: it turns a dubbing
// script into an ordered segment list with synthesized audio assets. The
// generation side is rate-limited upstream; this client only submits and
// polls.
type Client struct {
	apiURL    string
	apiKey    string
	outputDir string // shared volume mount point for generated assets
	http      *http.Client
}

// NewClient creates a dubbing service client.
func NewClient(apiURL, apiKey, outputDir string) *Client {
	return &Client{
		apiURL:    apiURL,
		apiKey:    apiKey,
		outputDir: outputDir,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

// Line is one scripted narration cue to synthesize.
type Line struct {
	StartTime float64 `json:"start_time"`
	Text      string  `json:"text"`
}

// GenerateRequest contains parameters for a dubbing job.
type GenerateRequest struct {
	Title       string `json:"title"`
	Script      []Line `json:"script"`
	Voice       string `json:"voice"`
	Language    string `json:"language"`
	AudioFormat string `json:"audio_format"`
}

type submitResp struct {
	Data struct {
		TaskID string `json:"task_id"`
	} `json:"data"`
	Code  int    `json:"code"`
	Error string `json:"error"`
}

type queryResp struct {
	Data []taskResult `json:"data"`
	Code int          `json:"code"`
}

type taskResult struct {
	TaskID string `json:"task_id"`
	Status int    `json:"status"` // 0=running, 1=success, 2=failed
	Result string `json:"result"` // JSON string: the segment list
}

// WaitForHealthy blocks until the dubbing service responds to health checks.
func (c *Client) WaitForHealthy(ctx context.Context) error {
	log.Println("Waiting for dubbing service to be ready...")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		resp, err := c.http.Get(c.apiURL + "/health")
		if err == nil && resp.StatusCode == http.StatusOK {
			resp.Body.Close()
			log.Println("Dubbing service is healthy")
			return nil
		}
		if resp != nil {
			resp.Body.Close()
		}

		log.Println("Dubbing service not ready, retrying in 5s...")
		time.Sleep(5 * time.Second)
	}
}

// Generate submits a dubbing job and returns the task ID.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.apiURL+"/release_task", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("submit task: %w", err)
	}
	defer resp.Body.Close()

	var result submitResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if result.Code != 200 {
		return "", fmt.Errorf("API error (code %d): %s", result.Code, result.Error)
	}

	return result.Data.TaskID, nil
}

// PollUntilDone polls for task completion, returning the validated segment
// list with resolvable audio asset references.
func (c *Client) PollUntilDone(ctx context.Context, taskID string, interval time.Duration) ([]segment.Segment, error) {
	reqBody, _ := json.Marshal(map[string][]string{
		"task_id_list": {taskID},
	})

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", c.apiURL+"/query_result", bytes.NewReader(reqBody))
		if err != nil {
			return nil, fmt.Errorf("create poll request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.http.Do(httpReq)
		if err != nil {
			log.Printf("Poll error: %v, retrying...", err)
			time.Sleep(interval)
			continue
		}

		var result queryResp
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			resp.Body.Close()
			log.Printf("Decode error: %v, retrying...", err)
			time.Sleep(interval)
			continue
		}
		resp.Body.Close()

		if len(result.Data) == 0 {
			time.Sleep(interval)
			continue
		}

		task := result.Data[0]
		switch task.Status {
		case 1: // success
			return parseSegments(task.Result)
		case 2: // failed
			return nil, fmt.Errorf("generation failed for task %s", taskID)
		default: // still running
			time.Sleep(interval)
		}
	}
}

// parseSegments decodes the result JSON and validates the ordering contract
// before the list ever reaches the engine.
func parseSegments(resultJSON string) ([]segment.Segment, error) {
	var segs []segment.Segment
	if err := json.Unmarshal([]byte(resultJSON), &segs); err != nil {
		return nil, fmt.Errorf("parse segment list: %w", err)
	}
	if err := segment.Validate(segs); err != nil {
		return nil, fmt.Errorf("generated segment list: %w", err)
	}
	return segs, nil
}

// ResolveAsset turns an audio asset reference into a local file path. Local
// paths pass through; service references are checked against the shared
// output volume first, then downloaded over HTTP as a fallback.
func (c *Client) ResolveAsset(ref string) (string, error) {
	if _, err := os.Stat(ref); err == nil {
		return ref, nil
	}

	// Service references look like "/v1/audio?path=outputs/task_xxx/0.wav"
	if u, err := url.Parse(ref); err == nil {
		if relPath := u.Query().Get("path"); relPath != "" {
			localPath := filepath.Join(c.outputDir, relPath)
			if _, err := os.Stat(localPath); err == nil {
				return localPath, nil
			}
		}
	}

	return c.downloadAsset(ref)
}

// downloadAsset fetches the audio asset from the service and saves it
// locally.
func (c *Client) downloadAsset(ref string) (string, error) {
	resp, err := c.http.Get(c.apiURL + ref)
	if err != nil {
		return "", fmt.Errorf("download asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download asset: status %d", resp.StatusCode)
	}

	tmpFile, err := os.CreateTemp("", "overdub-*.audio")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	if _, err := io.Copy(tmpFile, resp.Body); err != nil {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return "", fmt.Errorf("write asset: %w", err)
	}

	tmpFile.Close()
	return tmpFile.Name(), nil
}
