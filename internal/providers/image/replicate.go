package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gallery/internal/infra"
)

const (
	defaultReplicateBaseURL = "https://api.replicate.com/v1"
	// SDXL pinned version, matching the model key "replicate:sdxl".
	defaultSDXLVersion = "7762fd07cf82c948538e41f63f77d685e02b063e37e496e96eefd46c929f9bdc"
)

// ReplicateOptions configures the Replicate adapter.
type ReplicateOptions struct {
	APIToken   string
	BaseURL    string
	Version    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// ReplicateGenerator invokes Replicate's prediction API in blocking mode and
// downloads the produced image. It holds no per-call state.
type ReplicateGenerator struct {
	apiToken   string
	baseURL    string
	version    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *infra.Logger
}

func NewReplicateGenerator(opts ReplicateOptions) *ReplicateGenerator {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultReplicateBaseURL
	}
	version := opts.Version
	if version == "" {
		version = defaultSDXLVersion
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &ReplicateGenerator{
		apiToken:   opts.APIToken,
		baseURL:    baseURL,
		version:    version,
		timeout:    timeout,
		httpClient: httpClient,
		logger:     opts.Logger,
	}
}

type replicatePredictionRequest struct {
	Version string         `json:"version"`
	Input   map[string]any `json:"input"`
}

type replicatePredictionResponse struct {
	ID     string   `json:"id"`
	Status string   `json:"status"`
	Output []string `json:"output"`
	Error  string   `json:"error"`
}

func (g *ReplicateGenerator) Generate(ctx context.Context, req GenerateRequest) (Result, error) {
	if g.apiToken == "" {
		return Result{}, Permanent("replicate api token not configured", nil)
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	input := map[string]any{
		"prompt":      req.Prompt,
		"width":       dimensionOrDefault(req.Width),
		"height":      dimensionOrDefault(req.Height),
		"num_outputs": 1,
	}
	if len(req.InputImage) > 0 {
		input["image"] = "data:image/png;base64," + base64.StdEncoding.EncodeToString(req.InputImage)
		input["strength"] = 0.8
	}

	body, err := json.Marshal(replicatePredictionRequest{Version: g.version, Input: input})
	if err != nil {
		return Result{}, Permanent("encode prediction request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/predictions", bytes.NewReader(body))
	if err != nil {
		return Result{}, Permanent("build prediction request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.apiToken)
	httpReq.Header.Set("Content-Type", "application/json")
	// Blocking mode: Replicate holds the connection until the prediction
	// settles or the wait window lapses.
	httpReq.Header.Set("Prefer", "wait")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, Transient("prediction call failed", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, "prediction"); err != nil {
		io.Copy(io.Discard, resp.Body)
		return Result{}, err
	}

	var prediction replicatePredictionResponse
	if err := json.NewDecoder(resp.Body).Decode(&prediction); err != nil {
		return Result{}, Transient("decode prediction response", err)
	}
	switch prediction.Status {
	case "succeeded":
	case "failed", "canceled":
		return Result{}, Permanent(fmt.Sprintf("prediction %s: %s", prediction.Status, prediction.Error), nil)
	default:
		return Result{}, Transient(fmt.Sprintf("prediction still %s after wait window", prediction.Status), nil)
	}
	if len(prediction.Output) == 0 {
		return Result{}, Transient("prediction produced no output", nil)
	}

	data, err := g.download(ctx, prediction.Output[0])
	if err != nil {
		return Result{}, err
	}
	if g.logger != nil {
		g.logger.Debug().Str("prediction_id", prediction.ID).Int("bytes", len(data)).Msg("replicate: prediction downloaded")
	}
	return Result{
		Data:   data,
		Format: "png",
		Metadata: map[string]any{
			"provider":      "replicate",
			"prediction_id": prediction.ID,
			"version":       g.version,
			"output_url":    prediction.Output[0],
		},
	}, nil
}

func (g *ReplicateGenerator) download(ctx context.Context, url string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, Permanent("build download request", err)
	}
	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, Transient("download generated image", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, Transient(fmt.Sprintf("download returned status %d", resp.StatusCode), nil)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient("read downloaded image", err)
	}
	return data, nil
}

func classifyStatus(status int, op string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return Transient(fmt.Sprintf("%s rate limited", op), nil)
	case status >= 500:
		return Transient(fmt.Sprintf("%s returned status %d", op, status), nil)
	default:
		return Permanent(fmt.Sprintf("%s returned status %d", op, status), nil)
	}
}

func dimensionOrDefault(v int) int {
	if v <= 0 {
		return 1024
	}
	return v
}

var _ Generator = (*ReplicateGenerator)(nil)
