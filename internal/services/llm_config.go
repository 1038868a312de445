package services

import (
	"errors"
	"strings"

	"github.com/aistory-app/aistory/backend/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrLLMConfigNotFound  = errors.New("llm config not found")
	ErrUnknownLLMProvider = errors.New("unknown llm provider")
	ErrNegativeTokenPrice = errors.New("token prices must not be negative")
)

type LLMConfigService struct {
	db *gorm.DB
}

func NewLLMConfigService(db *gorm.DB) *LLMConfigService {
	return &LLMConfigService{db: db}
}

type LLMConfigListRequest struct {
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Name     string `form:"name"`
	Provider string `form:"provider"`
	IsActive *bool  `form:"is_active"`
}

type LLMConfigListResponse struct {
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	Items    []models.LLMConfig `json:"items"`
}

// Token prices are USD per 1000 tokens and decide the real cost recorded
// for every completion served by the config.
type CreateLLMConfigRequest struct {
	Name             string          `json:"name" binding:"required"`
	Provider         string          `json:"provider"`
	BaseURL          string          `json:"base_url"`
	APIKey           string          `json:"api_key"`
	Model            string          `json:"model" binding:"required"`
	MaxTokens        int             `json:"max_tokens"`
	Temperature      float64         `json:"temperature"`
	InputPricePer1K  decimal.Decimal `json:"input_price_per_1k"`
	OutputPricePer1K decimal.Decimal `json:"output_price_per_1k"`
	IsDefault        bool            `json:"is_default"`
	IsActive         *bool           `json:"is_active"`
}

type UpdateLLMConfigRequest struct {
	Name             string           `json:"name"`
	Provider         string           `json:"provider"`
	BaseURL          *string          `json:"base_url"`
	APIKey           string           `json:"api_key"`
	Model            string           `json:"model"`
	MaxTokens        *int             `json:"max_tokens"`
	Temperature      *float64         `json:"temperature"`
	InputPricePer1K  *decimal.Decimal `json:"input_price_per_1k"`
	OutputPricePer1K *decimal.Decimal `json:"output_price_per_1k"`
	IsDefault        *bool            `json:"is_default"`
	IsActive         *bool            `json:"is_active"`
}

func validLLMProvider(provider string) bool {
	switch provider {
	case models.ProviderOpenAI, models.ProviderAzure, models.ProviderAnthropic, models.ProviderGemini, models.ProviderOllama:
		return true
	}
	return false
}

func (s *LLMConfigService) List(req *LLMConfigListRequest) (*LLMConfigListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 10
	}

	var configs []models.LLMConfig
	var total int64

	query := s.db.Model(&models.LLMConfig{})

	if req.Name != "" {
		query = query.Where("name LIKE ? OR model LIKE ?", "%"+req.Name+"%", "%"+req.Name+"%")
	}
	if req.Provider != "" {
		query = query.Where("provider = ?", req.Provider)
	}
	if req.IsActive != nil {
		query = query.Where("is_active = ?", *req.IsActive)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	offset := (req.Page - 1) * req.PageSize
	if err := query.Offset(offset).Limit(req.PageSize).Order("is_default DESC, id ASC").Find(&configs).Error; err != nil {
		return nil, err
	}

	for i := range configs {
		configs[i].APIKeyMask = configs[i].MaskAPIKey()
	}

	return &LLMConfigListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    configs,
	}, nil
}

func (s *LLMConfigService) GetByID(id uint) (*models.LLMConfig, error) {
	var config models.LLMConfig
	if err := s.db.First(&config, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLLMConfigNotFound
		}
		return nil, err
	}
	config.APIKeyMask = config.MaskAPIKey()
	return &config, nil
}

func (s *LLMConfigService) Create(req *CreateLLMConfigRequest) (*models.LLMConfig, error) {
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if provider == "" {
		provider = models.ProviderOpenAI
	}
	if !validLLMProvider(provider) {
		return nil, ErrUnknownLLMProvider
	}
	if req.InputPricePer1K.IsNegative() || req.OutputPricePer1K.IsNegative() {
		return nil, ErrNegativeTokenPrice
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = 2048
	}
	if req.Temperature == 0 {
		req.Temperature = 0.7
	}

	config := models.LLMConfig{
		Name:             req.Name,
		Provider:         provider,
		BaseURL:          req.BaseURL,
		APIKey:           req.APIKey,
		Model:            req.Model,
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		InputPricePer1K:  req.InputPricePer1K,
		OutputPricePer1K: req.OutputPricePer1K,
		IsDefault:        req.IsDefault,
		IsActive:         true,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if req.IsDefault {
			if err := tx.Model(&models.LLMConfig{}).Where("is_default = ?", true).Update("is_default", false).Error; err != nil {
				return err
			}
		}
		if err := tx.Create(&config).Error; err != nil {
			return err
		}
		// is_active has a database default of true, so false is written after insert
		if req.IsActive != nil && !*req.IsActive {
			config.IsActive = false
			return tx.Model(&config).Update("is_active", false).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	config.APIKeyMask = config.MaskAPIKey()
	return &config, nil
}

func (s *LLMConfigService) Update(id uint, req *UpdateLLMConfigRequest) (*models.LLMConfig, error) {
	var config models.LLMConfig
	if err := s.db.First(&config, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLLMConfigNotFound
		}
		return nil, err
	}

	updates := make(map[string]interface{})

	if req.Name != "" {
		updates["name"] = req.Name
	}
	if req.Provider != "" {
		provider := strings.ToLower(strings.TrimSpace(req.Provider))
		if !validLLMProvider(provider) {
			return nil, ErrUnknownLLMProvider
		}
		updates["provider"] = provider
	}
	if req.BaseURL != nil {
		updates["base_url"] = *req.BaseURL
	}
	if req.APIKey != "" {
		updates["api_key"] = req.APIKey
	}
	if req.Model != "" {
		updates["model"] = req.Model
	}
	if req.MaxTokens != nil {
		updates["max_tokens"] = *req.MaxTokens
	}
	if req.Temperature != nil {
		updates["temperature"] = *req.Temperature
	}
	if req.InputPricePer1K != nil {
		if req.InputPricePer1K.IsNegative() {
			return nil, ErrNegativeTokenPrice
		}
		updates["input_price_per_1k"] = *req.InputPricePer1K
	}
	if req.OutputPricePer1K != nil {
		if req.OutputPricePer1K.IsNegative() {
			return nil, ErrNegativeTokenPrice
		}
		updates["output_price_per_1k"] = *req.OutputPricePer1K
	}
	if req.IsDefault != nil {
		updates["is_default"] = *req.IsDefault
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if req.IsDefault != nil && *req.IsDefault {
			if err := tx.Model(&models.LLMConfig{}).Where("is_default = ? AND id <> ?", true, id).Update("is_default", false).Error; err != nil {
				return err
			}
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(&config).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}

	return s.GetByID(id)
}

func (s *LLMConfigService) Delete(id uint) error {
	result := s.db.Delete(&models.LLMConfig{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrLLMConfigNotFound
	}
	return nil
}

// GetActive lists active configs in fallback order, default first.
func (s *LLMConfigService) GetActive() ([]models.LLMConfig, error) {
	var configs []models.LLMConfig
	if err := s.db.Where("is_active = ?", true).Order("is_default DESC, id ASC").Find(&configs).Error; err != nil {
		return nil, err
	}
	for i := range configs {
		configs[i].APIKeyMask = configs[i].MaskAPIKey()
	}
	return configs, nil
}
