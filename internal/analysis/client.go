package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Gemini REST wire types, trimmed to what this client sends and reads.
type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

// geminiGenerationConfig pins sampling. Temperature, topP, topK and
// candidateCount carry no omitempty on purpose: the zero values ARE the
// deterministic configuration and must go over the wire.
type geminiGenerationConfig struct {
	Temperature      float64                `json:"temperature"`
	TopP             float64                `json:"topP"`
	TopK             int                    `json:"topK"`
	CandidateCount   int                    `json:"candidateCount"`
	MaxOutputTokens  int                    `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string                 `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]interface{} `json:"responseSchema,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// Config configures the analysis client.
type Config struct {
	APIKey          string
	BaseURL         string
	Model           string
	Timeout         time.Duration
	MaxAttempts     int           // total attempts including the first
	BackoffBase     time.Duration // first retry delay, doubled per attempt
	MaxOutputTokens int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:          apiKey,
		BaseURL:         "https://generativelanguage.googleapis.com/v1beta",
		Model:           "gemini-2.0-flash",
		Timeout:         2 * time.Minute,
		MaxAttempts:     3,
		BackoffBase:     2 * time.Second,
		MaxOutputTokens: 8192,
	}
}

// Client calls the structured-output reasoning endpoint.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	maxAttempts int
	backoffBase time.Duration
	maxTokens   int
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewClient creates an analysis client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	return &Client{
		apiKey:      cfg.APIKey,
		baseURL:     cfg.BaseURL,
		model:       cfg.Model,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		maxTokens:   cfg.MaxOutputTokens,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		logger:      logger,
	}
}

// ValidateRequest applies the local preconditions: non-empty source under the
// size ceiling. Called before any network activity.
func ValidateRequest(sourceText string) error {
	if strings.TrimSpace(sourceText) == "" {
		return ErrEmptySource
	}
	if len(sourceText) > MaxSourceChars {
		return ErrSourceTooLarge
	}
	return nil
}

// Analyze sends the source text for structured analysis and returns the
// validated result. Transient failures (429, 5xx, empty candidates) are
// retried up to MaxAttempts with exponential backoff starting at BackoffBase;
// non-retryable failures abort immediately with no backoff. The returned
// Result has SeverityCounts recomputed from Findings.
func (c *Client) Analyze(ctx context.Context, sourceText string) (*Result, error) {
	if err := ValidateRequest(sourceText); err != nil {
		return nil, err
	}
	if c.apiKey == "" {
		return nil, &ServiceError{Op: "request", Retryable: false, Err: fmt.Errorf("API key not configured")}
	}

	reqBody := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: sourceText}}},
		},
		SystemInstruction: &geminiContent{
			Parts: []geminiPart{{Text: systemPrompt}},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:      0,
			TopP:             0,
			TopK:             1,
			CandidateCount:   1,
			MaxOutputTokens:  c.maxTokens,
			ResponseMimeType: "application/json",
			ResponseSchema:   resultSchema(),
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	start := time.Now()
	c.logger.Debug("analyze request",
		zap.String("model", c.model),
		zap.Int("source_len", len(sourceText)))

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.backoffBase << uint(attempt-1)
			c.logger.Warn("retrying analysis request",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		result, err := c.attempt(ctx, url, jsonData)
		if err == nil {
			c.logger.Info("analysis completed",
				zap.Duration("elapsed", time.Since(start)),
				zap.Int("findings", len(result.Findings)))
			return result, nil
		}
		if !IsRetryable(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// attempt performs one request/parse cycle.
func (c *Client) attempt(ctx context.Context, url string, body []byte) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &ServiceError{Op: "request", Retryable: false, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &ServiceError{Op: "request", Retryable: false, Err: ctx.Err()}
		}
		return nil, &ServiceError{Op: "request", Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ServiceError{Op: "response", Retryable: true, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to parsing
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &ServiceError{
			Op:        "request",
			Status:    resp.StatusCode,
			Retryable: true,
			Err:       fmt.Errorf("%s", strings.TrimSpace(string(respBody))),
		}
	default:
		// 4xx other than 429, including the payload-too-large class: never
		// retried, the same request would fail the same way.
		return nil, &ServiceError{
			Op:        "request",
			Status:    resp.StatusCode,
			Retryable: false,
			Err:       fmt.Errorf("%s", strings.TrimSpace(string(respBody))),
		}
	}

	var envelope geminiResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, &ServiceError{Op: "response", Retryable: true, Err: fmt.Errorf("parse envelope: %w", err)}
	}
	if envelope.Error != nil {
		return nil, &ServiceError{
			Op:        "response",
			Status:    envelope.Error.Code,
			Retryable: true,
			Err:       fmt.Errorf("API error: %s", envelope.Error.Message),
		}
	}

	text, stopReason := candidateText(&envelope)
	if text == "" {
		return nil, &ServiceError{
			Op:         "response",
			StopReason: stopReason,
			Retryable:  true,
			Err:        fmt.Errorf("no completion returned"),
		}
	}

	parsed, err := c.parseResult(text)
	if err != nil {
		return nil, err
	}

	result := &Result{
		SubjectName:    parsed.ContractName,
		ScoreHint:      clampScore(parsed.SecurityScore),
		Assessment:     parsed.OverallAssessment,
		Findings:       parsed.Vulnerabilities,
		SeverityCounts: Aggregate(parsed.Vulnerabilities, c.logger),
	}
	return result, nil
}

// parseResult decodes the structured payload, running the repair pass on a
// parse failure. A payload that stays unparseable after repair is a
// non-retryable failure carrying the original parse error.
func (c *Client) parseResult(text string) (*serviceResult, error) {
	var parsed serviceResult
	origErr := json.Unmarshal([]byte(text), &parsed)
	if origErr == nil {
		return &parsed, nil
	}

	repaired, ok := Repair(text, c.logger)
	if ok {
		if err := json.Unmarshal([]byte(repaired), &parsed); err == nil {
			c.logger.Info("structured output repaired", zap.Int("original_len", len(text)))
			return &parsed, nil
		}
	}

	return nil, &ServiceError{
		Op:        "parse",
		Retryable: false,
		Err:       fmt.Errorf("structured output invalid after repair: %w", origErr),
	}
}

// candidateText joins the text parts of the first candidate.
func candidateText(resp *geminiResponse) (string, string) {
	if len(resp.Candidates) == 0 {
		return "", ""
	}
	cand := resp.Candidates[0]
	var b strings.Builder
	for _, part := range cand.Content.Parts {
		b.WriteString(part.Text)
	}
	return strings.TrimSpace(b.String()), cand.FinishReason
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
