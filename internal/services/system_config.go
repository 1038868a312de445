package services

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aistory-app/aistory/backend/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrUnknownConfigKey   = errors.New("unknown system config key")
	ErrInvalidConfigValue = errors.New("invalid system config value")
)

type SystemConfigService struct {
	db *gorm.DB
}

func NewSystemConfigService(db *gorm.DB) *SystemConfigService {
	return &SystemConfigService{db: db}
}

func (s *SystemConfigService) Get(key string) (string, error) {
	var cfg models.SystemConfig
	if err := s.db.Where(&models.SystemConfig{Key: key}).First(&cfg).Error; err != nil {
		return "", err
	}
	return cfg.Value, nil
}

func (s *SystemConfigService) GetWithDefault(key, defaultValue string) string {
	value, err := s.Get(key)
	if err != nil {
		return defaultValue
	}
	return value
}

func (s *SystemConfigService) GetInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s.GetWithDefault(key, "")))
	if err != nil {
		return defaultValue
	}
	return n
}

func (s *SystemConfigService) GetBool(key string, defaultValue bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s.GetWithDefault(key, "")))
	if err != nil {
		return defaultValue
	}
	return b
}

func (s *SystemConfigService) Set(key, value string) error {
	var cfg models.SystemConfig
	err := s.db.Where(&models.SystemConfig{Key: key}).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cfg = models.SystemConfig{
			Key:   key,
			Value: value,
		}
		return s.db.Create(&cfg).Error
	}
	if err != nil {
		return err
	}
	return s.db.Model(&cfg).Update("value", value).Error
}

func (s *SystemConfigService) GetByGroup(group string) ([]models.SystemConfig, error) {
	var configs []models.SystemConfig
	if err := s.db.Where(&models.SystemConfig{Group: group}).Order("id ASC").Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

func (s *SystemConfigService) List() ([]models.SystemConfig, error) {
	var configs []models.SystemConfig
	if err := s.db.Order("id ASC").Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

// BatchUpdate sets existing keys after checking every value against the
// key's declared type. Nothing is written if one value is invalid.
func (s *SystemConfigService) BatchUpdate(values map[string]string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		for key, value := range values {
			var cfg models.SystemConfig
			if err := tx.Where(&models.SystemConfig{Key: key}).First(&cfg).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: %s", ErrUnknownConfigKey, key)
				}
				return err
			}
			if err := checkConfigValue(cfg.Type, value); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidConfigValue, key, err)
			}
			if err := tx.Model(&cfg).Update("value", value).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func checkConfigValue(typ, value string) error {
	var err error
	switch typ {
	case "int":
		_, err = strconv.Atoi(value)
	case "bool":
		_, err = strconv.ParseBool(value)
	case "decimal":
		_, err = decimal.NewFromString(value)
	}
	return err
}
