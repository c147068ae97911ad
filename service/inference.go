package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Prosperrrr/jexi/config"
	"github.com/Prosperrrr/jexi/model"
)

// InferenceClient talks to the model-server sidecar over HTTP. One endpoint
// per capability, audio posted as the raw request body, results in a JSON
// envelope. It implements every adapter interface.
type InferenceClient struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
}

func NewInferenceClient(cfg *config.InferenceConfig) *InferenceClient {
	return &InferenceClient{
		baseURL:  cfg.BaseURL,
		apiToken: cfg.APIToken,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// inferenceEnvelope is the common response wrapper from the model server.
type inferenceEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

func (c *InferenceClient) post(ctx context.Context, path, filename string, audio []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(audio))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Accept", "application/json")
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}
	if filename != "" {
		req.Header.Set("X-Filename", filename)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrAdapterFailure, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %s: read response: %v", ErrAdapterFailure, path, err)
	}

	if resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusUnsupportedMediaType {
		return fmt.Errorf("%w: %s rejected input", ErrInvalidAudio, path)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s: status %d: %s", ErrAdapterFailure, path, resp.StatusCode, truncate(body, 200))
	}

	var env inferenceEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%w: %s: decode response: %v", ErrAdapterFailure, path, err)
	}
	if env.Code != 0 {
		return fmt.Errorf("%w: %s: code %d: %s", ErrAdapterFailure, path, env.Code, env.Message)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: %s: decode data: %v", ErrAdapterFailure, path, err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func (c *InferenceClient) Classify(ctx context.Context, audio []byte, filename string) (*Classification, error) {
	var data struct {
		DetectedType   string             `json:"detected_type"`
		Confidence     float64            `json:"confidence"`
		TopPredictions []model.Prediction `json:"top_predictions"`
	}
	if err := c.post(ctx, "/classify", filename, audio, &data); err != nil {
		return nil, err
	}

	detected := model.ContentType(data.DetectedType)
	if !detected.Valid() {
		detected = model.ContentTypeUnknown
	}
	return &Classification{
		DetectedType:   detected,
		Confidence:     data.Confidence,
		TopPredictions: data.TopPredictions,
	}, nil
}

func (c *InferenceClient) Separate(ctx context.Context, audio []byte) (map[string][]byte, error) {
	var data struct {
		Stems map[string]string `json:"stems"`
	}
	if err := c.post(ctx, "/separate", "", audio, &data); err != nil {
		return nil, err
	}

	stems := make(map[string][]byte, len(data.Stems))
	for name, encoded := range data.Stems {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: /separate: stem %s: %v", ErrAdapterFailure, name, err)
		}
		stems[name] = raw
	}
	return stems, nil
}

func (c *InferenceClient) Transcribe(ctx context.Context, audio []byte) (*model.Transcript, error) {
	var data model.Transcript
	if err := c.post(ctx, "/transcribe", "", audio, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

func (c *InferenceClient) Denoise(ctx context.Context, audio []byte) ([]byte, error) {
	return c.audioCall(ctx, "/denoise", audio)
}

func (c *InferenceClient) Enhance(ctx context.Context, audio []byte) ([]byte, error) {
	return c.audioCall(ctx, "/enhance", audio)
}

func (c *InferenceClient) audioCall(ctx context.Context, path string, audio []byte) ([]byte, error) {
	var data struct {
		Audio string `json:"audio"`
	}
	if err := c.post(ctx, path, "", audio, &data); err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(data.Audio)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: decode audio: %v", ErrAdapterFailure, path, err)
	}
	return raw, nil
}

func (c *InferenceClient) Analyze(ctx context.Context, audio []byte) (*AudioFeatures, error) {
	var data struct {
		Key        string `json:"key"`
		BPM        int    `json:"bpm"`
		Duration   string `json:"duration"`
		SampleRate int    `json:"sample_rate"`
	}
	if err := c.post(ctx, "/analyze", "", audio, &data); err != nil {
		return nil, err
	}
	return &AudioFeatures{
		Key:        data.Key,
		BPM:        data.BPM,
		Duration:   data.Duration,
		SampleRate: data.SampleRate,
	}, nil
}

// AdaptersFromClient wires one inference client into every capability slot.
func AdaptersFromClient(c *InferenceClient) Adapters {
	return Adapters{
		Classifier:    c,
		StemSeparator: c,
		Transcriber:   c,
		NoiseReducer:  c,
		Analyzer:      c,
		Enhancer:      c,
	}
}
