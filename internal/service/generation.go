package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

type JobState string

const (
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

type JobStatus struct {
	State     JobState
	ResultURL string
	Detail    string
}

// GenerationClient abstracts the script-to-video provider. The core polls it;
// a push callback path feeds the same sub-state machine.
type GenerationClient interface {
	StartJob(ctx context.Context, script string) (string, error)
	GetStatus(ctx context.Context, jobID string) (JobStatus, error)
}

// HTTPGenerationClient talks to the provider's REST API.
type HTTPGenerationClient struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func NewHTTPGenerationClient(baseURL, apiKey string) *HTTPGenerationClient {
	return &HTTPGenerationClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

type startJobRequest struct {
	Script string `json:"script"`
}

type startJobResponse struct {
	Data struct {
		JobID string `json:"job_id"`
	} `json:"data"`
	Error string `json:"error"`
}

type jobStatusResponse struct {
	Data struct {
		Status   string `json:"status"`
		VideoURL string `json:"video_url"`
		Detail   string `json:"detail"`
	} `json:"data"`
	Error string `json:"error"`
}

func (c *HTTPGenerationClient) StartJob(ctx context.Context, script string) (string, error) {
	body, err := json.Marshal(startJobRequest{Script: script})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v2/video/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.APIKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("generation start: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("generation start: status %d: %s", resp.StatusCode, string(raw))
	}
	var out startJobResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("generation start: decode: %w", err)
	}
	if out.Data.JobID == "" {
		return "", fmt.Errorf("generation start: empty job id (%s)", out.Error)
	}
	return out.Data.JobID, nil
}

func (c *HTTPGenerationClient) GetStatus(ctx context.Context, jobID string) (JobStatus, error) {
	u := fmt.Sprintf("%s/v1/video_status?job_id=%s", c.BaseURL, url.QueryEscape(jobID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return JobStatus{}, err
	}
	req.Header.Set("X-Api-Key", c.APIKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return JobStatus{}, fmt.Errorf("generation status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return JobStatus{}, fmt.Errorf("generation status: status %d", resp.StatusCode)
	}
	var out jobStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return JobStatus{}, fmt.Errorf("generation status: decode: %w", err)
	}
	switch out.Data.Status {
	case "completed":
		return JobStatus{State: JobCompleted, ResultURL: out.Data.VideoURL}, nil
	case "failed":
		return JobStatus{State: JobFailed, Detail: out.Data.Detail}, nil
	default:
		return JobStatus{State: JobProcessing}, nil
	}
}
