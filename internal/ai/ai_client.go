package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	openaigo "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"go.uber.org/zap"
)

// ErrAIGenerationFailed - ошибка при генерации ответа AI
var ErrAIGenerationFailed = errors.New("ошибка генерации текста AI")

// Типы клиентов
const (
	ClientTypeOpenAI = "openai"
	ClientTypeOllama = "ollama"
)

var (
	aiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dungeon_ai_requests_total",
			Help: "Total number of requests to the AI API.",
		},
		[]string{"model", "status", "component"},
	)
	aiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dungeon_ai_request_duration_seconds",
			Help:    "Histogram of AI API request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model", "component"},
	)
	aiPromptTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dungeon_ai_prompt_tokens",
			Help:    "Histogram of prompt token counts.",
			Buckets: prometheus.LinearBuckets(250, 250, 20),
		},
		[]string{"model", "component"},
	)
	aiCompletionTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dungeon_ai_completion_tokens",
			Help:    "Histogram of completion token counts.",
			Buckets: prometheus.LinearBuckets(100, 100, 20),
		},
		[]string{"model", "component"},
	)
)

// ResponseSchema - JSON-схема структурированного ответа.
type ResponseSchema struct {
	Name   string
	Schema jsonschema.Definition
}

// GenerationParams - параметры генерации. Указатели отличают 0 от отсутствия значения.
type GenerationParams struct {
	Model       string // пустая строка - модель клиента по умолчанию
	Temperature *float64
	MaxTokens   *int
	TopP        *float64
	Schema      *ResponseSchema
}

// UsageInfo содержит информацию об использовании токенов
type UsageInfo struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// AIClient интерфейс для взаимодействия с AI API
type AIClient interface {
	// GenerateText генерирует ответ на основе системного промта и ввода.
	// component используется только как метка метрик ("strategy", "composer").
	GenerateText(ctx context.Context, component string, systemPrompt string, userInput string, params GenerationParams) (string, UsageInfo, error)
}

// ClientConfig - настройки транспорта LLM.
type ClientConfig struct {
	Type    string
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// --- OpenAI Client Implementation ---

// openAIClient реализует AIClient с использованием go-openai (OpenAI-совместимые API, в т.ч. OpenRouter)
type openAIClient struct {
	client *openaigo.Client
	model  string
	logger *zap.Logger
}

func (c *openAIClient) GenerateText(ctx context.Context, component string, systemPrompt string, userInput string, params GenerationParams) (string, UsageInfo, error) {
	usage := UsageInfo{}
	model := pickModel(params.Model, c.model)
	log := c.logger.With(zap.String("model", model), zap.String("component", component))

	if strings.TrimSpace(systemPrompt) == "" {
		aiRequestsTotal.With(prometheus.Labels{"model": model, "status": "error", "component": component}).Inc()
		return "", usage, fmt.Errorf("%w: системный промт пуст", ErrAIGenerationFailed)
	}

	messages := []openaigo.ChatCompletionMessage{
		{Role: openaigo.ChatMessageRoleSystem, Content: systemPrompt},
	}
	if userInput != "" {
		messages = append(messages, openaigo.ChatCompletionMessage{Role: openaigo.ChatMessageRoleUser, Content: userInput})
	}

	req := openaigo.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32Val(params.Temperature),
		MaxTokens:   intVal(params.MaxTokens),
		TopP:        float32Val(params.TopP),
	}
	if params.Schema != nil {
		schema := params.Schema.Schema
		req.ResponseFormat = &openaigo.ChatCompletionResponseFormat{
			Type: openaigo.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openaigo.ChatCompletionResponseFormatJSONSchema{
				Name:   params.Schema.Name,
				Schema: &schema,
			},
		}
	}

	startTime := time.Now()
	log.Debug("Sending AI request", zap.Int("system_prompt_bytes", len(systemPrompt)), zap.Int("user_input_bytes", len(userInput)))

	resp, err := c.client.CreateChatCompletion(ctx, req)
	duration := time.Since(startTime)
	if err != nil {
		log.Warn("AI API error", zap.Duration("duration", duration), zap.Error(err))
		aiRequestsTotal.With(prometheus.Labels{"model": model, "status": "error", "component": component}).Inc()
		return "", usage, fmt.Errorf("%w: %v", ErrAIGenerationFailed, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		log.Warn("AI API returned empty response", zap.Duration("duration", duration))
		aiRequestsTotal.With(prometheus.Labels{"model": model, "status": "error_empty_response", "component": component}).Inc()
		return "", usage, fmt.Errorf("%w: получен пустой ответ", ErrAIGenerationFailed)
	}

	aiRequestsTotal.With(prometheus.Labels{"model": model, "status": "success", "component": component}).Inc()
	aiRequestDuration.With(prometheus.Labels{"model": model, "component": component}).Observe(duration.Seconds())

	if resp.Usage.TotalTokens > 0 {
		usage = UsageInfo{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
		observeUsage(model, component, usage)
	}
	log.Debug("AI response received", zap.Duration("duration", duration), zap.Int("total_tokens", usage.TotalTokens))
	return resp.Choices[0].Message.Content, usage, nil
}

// --- Ollama Client Implementation ---

// ollamaClient реализует AIClient с использованием ollama/api
type ollamaClient struct {
	client  *api.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// newOllamaClient создает новый клиент для взаимодействия с Ollama
func newOllamaClient(cfg ClientConfig, logger *zap.Logger) (AIClient, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}

	// api.NewClient требует URL без суффикса /v1
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/v1")
	baseURL = strings.TrimSuffix(baseURL, "/")
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга Ollama Base URL '%s': %w", baseURL, err)
	}

	logger.Info("Ollama client created", zap.String("base_url", baseURL), zap.String("model", cfg.Model), zap.Duration("timeout", cfg.Timeout))
	return &ollamaClient{
		client:  api.NewClient(parsedURL, httpClient),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

func (c *ollamaClient) GenerateText(ctx context.Context, component string, systemPrompt string, userInput string, params GenerationParams) (string, UsageInfo, error) {
	usage := UsageInfo{}
	model := pickModel(params.Model, c.model)
	log := c.logger.With(zap.String("model", model), zap.String("component", component))

	if strings.TrimSpace(systemPrompt) == "" {
		aiRequestsTotal.With(prometheus.Labels{"model": model, "status": "error", "component": component}).Inc()
		return "", usage, fmt.Errorf("%w: системный промт пуст", ErrAIGenerationFailed)
	}

	messages := []api.Message{{Role: "system", Content: systemPrompt}}
	if userInput != "" {
		messages = append(messages, api.Message{Role: "user", Content: userInput})
	}

	options := map[string]interface{}{}
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.MaxTokens != nil {
		options["num_predict"] = *params.MaxTokens
	}

	stream := false
	req := &api.ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   &stream,
		Options:  options,
	}
	if params.Schema != nil {
		schema := params.Schema.Schema
		format, err := json.Marshal(&schema)
		if err != nil {
			return "", usage, fmt.Errorf("%w: schema marshal: %v", ErrAIGenerationFailed, err)
		}
		req.Format = format
	}

	requestCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		requestCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	startTime := time.Now()
	var resp api.ChatResponse
	err := c.client.Chat(requestCtx, req, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	duration := time.Since(startTime)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn("Ollama API timeout", zap.Duration("timeout", c.timeout), zap.Error(err))
		} else {
			log.Warn("Ollama API error", zap.Duration("duration", duration), zap.Error(err))
		}
		aiRequestsTotal.With(prometheus.Labels{"model": model, "status": "error", "component": component}).Inc()
		return "", usage, fmt.Errorf("%w: %v", ErrAIGenerationFailed, err)
	}
	if resp.Message.Content == "" {
		log.Warn("Ollama API returned empty response", zap.Duration("duration", duration))
		aiRequestsTotal.With(prometheus.Labels{"model": model, "status": "error_empty_response", "component": component}).Inc()
		return "", usage, fmt.Errorf("%w: получен пустой ответ", ErrAIGenerationFailed)
	}

	aiRequestsTotal.With(prometheus.Labels{"model": model, "status": "success", "component": component}).Inc()
	aiRequestDuration.With(prometheus.Labels{"model": model, "component": component}).Observe(duration.Seconds())

	usage = UsageInfo{
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
		TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
	}
	if usage.TotalTokens > 0 {
		observeUsage(model, component, usage)
	}
	return resp.Message.Content, usage, nil
}

// --- Factory Function ---

// NewAIClient создает клиент в зависимости от типа в конфигурации
func NewAIClient(cfg ClientConfig, logger *zap.Logger) (AIClient, error) {
	logger = logger.Named("AIClient")
	switch strings.ToLower(cfg.Type) {
	case ClientTypeOpenAI, "":
		openaiConfig := openaigo.DefaultConfig(cfg.APIKey)
		openaiConfig.BaseURL = cfg.BaseURL
		openaiConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
		logger.Info("OpenAI client created", zap.String("base_url", cfg.BaseURL), zap.String("model", cfg.Model), zap.Duration("timeout", cfg.Timeout))
		return &openAIClient{
			client: openaigo.NewClientWithConfig(openaiConfig),
			model:  cfg.Model,
			logger: logger,
		}, nil
	case ClientTypeOllama:
		return newOllamaClient(cfg, logger)
	default:
		return nil, fmt.Errorf("неизвестный тип AI клиента: '%s'", cfg.Type)
	}
}

func observeUsage(model, component string, usage UsageInfo) {
	aiPromptTokens.With(prometheus.Labels{"model": model, "component": component}).Observe(float64(usage.PromptTokens))
	aiCompletionTokens.With(prometheus.Labels{"model": model, "component": component}).Observe(float64(usage.CompletionTokens))
}

func pickModel(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}

func float32Val(f64 *float64) float32 {
	if f64 == nil {
		return 0 // 0 - API подставит значение по умолчанию
	}
	return float32(*f64)
}

func intVal(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}
