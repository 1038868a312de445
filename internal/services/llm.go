package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aistory-app/aistory/backend/internal/config"
	"github.com/aistory-app/aistory/backend/internal/models"
	"github.com/aistory-app/aistory/backend/pkg/logger"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ollama/ollama/api"
	"github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"
	"google.golang.org/genai"
	"gorm.io/gorm"
)

var ErrNoLLMConfig = errors.New("no LLM configuration available")

// Completion is one LLM answer together with what it cost.
type Completion struct {
	Content          string
	ConfigName       string
	Provider         string // ledger provider label
	Model            string
	PromptTokens     int
	CompletionTokens int
	RealCost         decimal.Decimal
}

// TextGenerator produces text for a project, trying configured models in order.
type TextGenerator interface {
	Generate(ctx context.Context, project *models.Project, prompt string) (*Completion, error)
}

type LLMService struct {
	db     *gorm.DB
	config *config.OpenAIConfig
}

func NewLLMService(db *gorm.DB, cfg *config.OpenAIConfig) *LLMService {
	return &LLMService{db: db, config: cfg}
}

// Generate walks the project's model, the default, then every other active
// config until one answers.
func (s *LLMService) Generate(ctx context.Context, project *models.Project, prompt string) (*Completion, error) {
	llmConfigs := s.getOrderedLLMConfigs(ctx, project)
	if len(llmConfigs) == 0 {
		return nil, ErrNoLLMConfig
	}

	var lastErr error
	for i := range llmConfigs {
		llmConfig := &llmConfigs[i]
		logger.Infof("[LLM] Attempting %d/%d: %s (model: %s)", i+1, len(llmConfigs), llmConfig.Name, llmConfig.Model)

		completion, err := s.callLLM(ctx, llmConfig, prompt)
		if err == nil {
			completion.ConfigName = llmConfig.Name
			completion.Provider = ledgerProvider(llmConfig.Provider)
			completion.Model = llmConfig.Model
			completion.RealCost = llmConfig.TokenCost(completion.PromptTokens, completion.CompletionTokens)
			return completion, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		logger.Warnf("[LLM] %s failed: %v, trying next...", llmConfig.Name, err)
	}

	return nil, fmt.Errorf("all LLMs failed, last error: %w", lastErr)
}

func (s *LLMService) getOrderedLLMConfigs(ctx context.Context, project *models.Project) []models.LLMConfig {
	db := s.db.WithContext(ctx)
	var configs []models.LLMConfig

	if project != nil && project.LLMConfigID != nil {
		var projectConfig models.LLMConfig
		if err := db.Where("id = ? AND is_active = ?", *project.LLMConfigID, true).First(&projectConfig).Error; err == nil {
			configs = append(configs, projectConfig)
		}
	}

	var defaultConfig models.LLMConfig
	if err := db.Where("is_default = ? AND is_active = ?", true, true).First(&defaultConfig).Error; err == nil {
		if len(configs) == 0 || configs[0].ID != defaultConfig.ID {
			configs = append(configs, defaultConfig)
		}
	}

	var backupConfigs []models.LLMConfig
	existingIDs := make(map[uint]bool)
	for _, c := range configs {
		existingIDs[c.ID] = true
	}
	db.Where("is_active = ?", true).Order("id ASC").Find(&backupConfigs)
	for _, c := range backupConfigs {
		if !existingIDs[c.ID] {
			configs = append(configs, c)
		}
	}

	if len(configs) == 0 && s.config != nil && s.config.APIKey != "" {
		configs = append(configs, models.LLMConfig{
			Name:     "fallback",
			Provider: models.ProviderOpenAI,
			BaseURL:  s.config.BaseURL,
			APIKey:   s.config.APIKey,
			Model:    s.config.Model,
		})
	}

	return configs
}

// ledgerProvider maps an LLM config provider to the provider label used on
// credit transactions and in the pricing catalog.
func ledgerProvider(provider string) string {
	switch provider {
	case models.ProviderAnthropic:
		return "claude-sdk"
	case "":
		return models.ProviderOpenAI
	default:
		return provider
	}
}

func (s *LLMService) callLLM(ctx context.Context, llmConfig *models.LLMConfig, prompt string) (*Completion, error) {
	switch llmConfig.Provider {
	case models.ProviderAnthropic:
		return s.callAnthropic(ctx, llmConfig, prompt)
	case models.ProviderOllama:
		return s.callOllama(ctx, llmConfig, prompt)
	case models.ProviderGemini:
		return s.callGemini(ctx, llmConfig, prompt)
	case models.ProviderAzure:
		return s.callAzure(ctx, llmConfig, prompt)
	default:
		// openai and other OpenAI-compatible services
		return s.callOpenAI(ctx, llmConfig, prompt)
	}
}

func temperatureOf(llmConfig *models.LLMConfig) float32 {
	if llmConfig.Temperature > 0 {
		return float32(llmConfig.Temperature)
	}
	return 0.7
}

func (s *LLMService) callOpenAI(ctx context.Context, llmConfig *models.LLMConfig, prompt string) (*Completion, error) {
	clientConfig := openai.DefaultConfig(llmConfig.APIKey)
	if llmConfig.BaseURL != "" {
		clientConfig.BaseURL = llmConfig.BaseURL
	}
	return chatCompletion(ctx, openai.NewClientWithConfig(clientConfig), llmConfig, prompt, "OpenAI")
}

// callAzure uses Model as the deployment name; BaseURL is
// https://{resource-name}.openai.azure.com
func (s *LLMService) callAzure(ctx context.Context, llmConfig *models.LLMConfig, prompt string) (*Completion, error) {
	clientConfig := openai.DefaultAzureConfig(llmConfig.APIKey, llmConfig.BaseURL)
	return chatCompletion(ctx, openai.NewClientWithConfig(clientConfig), llmConfig, prompt, "Azure OpenAI")
}

func chatCompletion(ctx context.Context, client *openai.Client, llmConfig *models.LLMConfig, prompt, label string) (*Completion, error) {
	req := openai.ChatCompletionRequest{
		Model: llmConfig.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: temperatureOf(llmConfig),
	}
	if llmConfig.MaxTokens > 0 {
		req.MaxTokens = llmConfig.MaxTokens
	}

	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s API error: %w", label, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from %s", label)
	}

	return &Completion{
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

func (s *LLMService) callAnthropic(ctx context.Context, llmConfig *models.LLMConfig, prompt string) (*Completion, error) {
	opts := []option.RequestOption{option.WithAPIKey(llmConfig.APIKey)}
	if llmConfig.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(llmConfig.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	maxTokens := int64(llmConfig.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 2048
	}

	model := llmConfig.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}

	resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("Anthropic API error: %w", err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &Completion{
		Content:          content.String(),
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}, nil
}

func (s *LLMService) callOllama(ctx context.Context, llmConfig *models.LLMConfig, prompt string) (*Completion, error) {
	baseURL := llmConfig.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama base URL: %w", err)
	}
	client := api.NewClient(u, http.DefaultClient)

	model := llmConfig.Model
	if model == "" {
		model = "llama3"
	}

	stream := false
	completion := &Completion{}
	var content strings.Builder
	err = client.Chat(ctx, &api.ChatRequest{
		Model: model,
		Messages: []api.Message{
			{Role: "user", Content: prompt},
		},
		Stream: &stream,
		Options: map[string]interface{}{
			"temperature": temperatureOf(llmConfig),
		},
	}, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		if resp.Done {
			completion.PromptTokens = resp.PromptEvalCount
			completion.CompletionTokens = resp.EvalCount
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Ollama API error: %w", err)
	}

	completion.Content = content.String()
	return completion, nil
}

func (s *LLMService) callGemini(ctx context.Context, llmConfig *models.LLMConfig, prompt string) (*Completion, error) {
	clientConfig := &genai.ClientConfig{
		APIKey:  llmConfig.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if llmConfig.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: llmConfig.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("Gemini client error: %w", err)
	}

	model := llmConfig.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}

	resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		return nil, fmt.Errorf("Gemini API error: %w", err)
	}

	completion := &Completion{Content: resp.Text()}
	if resp.UsageMetadata != nil {
		completion.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		completion.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return completion, nil
}
