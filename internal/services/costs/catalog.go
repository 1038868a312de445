package costs

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Operation types used on the ledger.
const (
	OperationImage     = "image"
	OperationVideo     = "video"
	OperationVoiceover = "voiceover"
	OperationScene     = "scene"
	OperationCharacter = "character"
	OperationMusic     = "music"
	OperationPrompt    = "prompt"
)

// Fixed credit prices for single-step actions.
const (
	SceneGeneration     int64 = 2
	CharacterGeneration int64 = 5
	PromptEnhancement   int64 = 1
)

//go:embed pricing.yaml
var defaultPricing []byte

type rawCatalog struct {
	Version       int                           `yaml:"version"`
	Images        rawImages                     `yaml:"images"`
	Video         rawVideo                      `yaml:"video"`
	Voiceover     rawVoiceover                  `yaml:"voiceover"`
	Music         rawMusic                      `yaml:"music"`
	GPUSecondRate float64                       `yaml:"gpu_second_rate"`
	RealCosts     map[string]map[string]float64 `yaml:"real_costs"`
}

type rawImages struct {
	DefaultResolution string           `yaml:"default_resolution"`
	Credits           map[string]int64 `yaml:"credits"`
}

type rawVideo struct {
	Buckets []VideoBucket `yaml:"buckets"`
}

type rawVoiceover struct {
	CreditsPer1KChars int64 `yaml:"credits_per_1k_chars"`
}

type rawMusic struct {
	Credits int64 `yaml:"credits"`
}

type VideoBucket struct {
	Seconds int   `yaml:"seconds" json:"seconds"`
	Credits int64 `yaml:"credits" json:"credits"`
}

// Catalog is an immutable price list. All lookups are pure and safe for
// concurrent use.
type Catalog struct {
	defaultResolution string
	imageCredits      map[string]int64
	videoBuckets      []VideoBucket
	voiceoverPer1K    int64
	musicCredits      int64
	gpuSecondRate     decimal.Decimal
	realCosts         map[string]map[string]decimal.Decimal
}

// CostEstimate echoes the inputs of EstimateCost with the unit and total
// real cost.
type CostEstimate struct {
	Operation string          `json:"operation"`
	Provider  string          `json:"provider"`
	Quantity  int             `json:"quantity"`
	Cost      decimal.Decimal `json:"cost"`
	TotalCost decimal.Decimal `json:"total_cost"`
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the catalog compiled from the embedded pricing.yaml.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Parse(defaultPricing)
		if err != nil {
			panic(fmt.Sprintf("embedded pricing catalog: %v", err))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// Load reads a pricing file, or returns the embedded catalog when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var raw rawCatalog
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse pricing: %w", err)
	}
	return compile(raw)
}

func compile(raw rawCatalog) (*Catalog, error) {
	c := &Catalog{
		defaultResolution: strings.ToLower(raw.Images.DefaultResolution),
		imageCredits:      make(map[string]int64, len(raw.Images.Credits)),
		voiceoverPer1K:    raw.Voiceover.CreditsPer1KChars,
		musicCredits:      raw.Music.Credits,
		gpuSecondRate:     decimal.NewFromFloat(raw.GPUSecondRate),
		realCosts:         make(map[string]map[string]decimal.Decimal, len(raw.RealCosts)),
	}

	for res, credits := range raw.Images.Credits {
		if credits < 0 {
			return nil, fmt.Errorf("image credits for %q must be >= 0", res)
		}
		c.imageCredits[strings.ToLower(res)] = credits
	}
	if _, ok := c.imageCredits[c.defaultResolution]; !ok {
		return nil, fmt.Errorf("default resolution %q has no image price", raw.Images.DefaultResolution)
	}

	c.videoBuckets = append(c.videoBuckets, raw.Video.Buckets...)
	sort.Slice(c.videoBuckets, func(i, j int) bool {
		return c.videoBuckets[i].Seconds < c.videoBuckets[j].Seconds
	})
	for _, b := range c.videoBuckets {
		if b.Seconds <= 0 || b.Credits < 0 {
			return nil, fmt.Errorf("invalid video bucket %+v", b)
		}
	}

	if c.voiceoverPer1K < 0 || c.musicCredits < 0 || raw.GPUSecondRate < 0 {
		return nil, fmt.Errorf("prices must be >= 0")
	}

	for op, providers := range raw.RealCosts {
		m := make(map[string]decimal.Decimal, len(providers))
		for provider, cost := range providers {
			if cost < 0 {
				return nil, fmt.Errorf("real cost for %s/%s must be >= 0", op, provider)
			}
			m[provider] = decimal.NewFromFloat(cost)
		}
		c.realCosts[op] = m
	}

	return c, nil
}

// GetActionCost returns the real dollar cost of one unit of operation on
// provider. Unknown operations and providers cost 0.
func (c *Catalog) GetActionCost(operation, provider string) decimal.Decimal {
	if cost, ok := c.realCosts[operation][provider]; ok {
		return cost
	}
	return decimal.Zero
}

// EstimateCost multiplies the unit cost by quantity. A negative quantity is
// treated as 0.
func (c *Catalog) EstimateCost(operation, provider string, quantity int) CostEstimate {
	if quantity < 0 {
		quantity = 0
	}
	unit := c.GetActionCost(operation, provider)
	return CostEstimate{
		Operation: operation,
		Provider:  provider,
		Quantity:  quantity,
		Cost:      unit,
		TotalCost: unit.Mul(decimal.NewFromInt(int64(quantity))),
	}
}

// GetImageCreditCost prices an image by resolution. Unknown resolutions are
// priced as the default resolution.
func (c *Catalog) GetImageCreditCost(resolution string) int64 {
	if credits, ok := c.imageCredits[strings.ToLower(strings.TrimSpace(resolution))]; ok {
		return credits
	}
	return c.imageCredits[c.defaultResolution]
}

// GetVideoCreditCost rounds the duration up to the next bucket. Past the
// largest bucket the price grows linearly with its per-second rate.
func (c *Catalog) GetVideoCreditCost(durationSeconds int) int64 {
	if len(c.videoBuckets) == 0 {
		return 0
	}
	if durationSeconds <= 0 {
		return c.videoBuckets[0].Credits
	}
	for _, b := range c.videoBuckets {
		if durationSeconds <= b.Seconds {
			return b.Credits
		}
	}
	last := c.videoBuckets[len(c.videoBuckets)-1]
	return int64(math.Ceil(float64(durationSeconds) * float64(last.Credits) / float64(last.Seconds)))
}

// GetVoiceoverCreditCost charges per started block of 1000 characters.
func (c *Catalog) GetVoiceoverCreditCost(characterCount int) int64 {
	blocks := int64((characterCount + 999) / 1000)
	if blocks < 1 {
		blocks = 1
	}
	return blocks * c.voiceoverPer1K
}

func (c *Catalog) GetMusicCreditCost() int64 {
	return c.musicCredits
}

// CreditCost returns the fixed credit price of single-step operations and
// the default-resolution image price for image-like operations.
func (c *Catalog) CreditCost(operation string) (int64, bool) {
	switch operation {
	case OperationScene:
		return SceneGeneration, true
	case OperationCharacter:
		return CharacterGeneration, true
	case OperationPrompt:
		return PromptEnhancement, true
	case OperationImage:
		return c.GetImageCreditCost(c.defaultResolution), true
	case OperationMusic:
		return c.musicCredits, true
	}
	return 0, false
}

// ModalGPUCost converts GPU seconds on the self-hosted image workers to dollars.
func (c *Catalog) ModalGPUCost(gpuSeconds float64) decimal.Decimal {
	if gpuSeconds <= 0 {
		return decimal.Zero
	}
	return c.gpuSecondRate.Mul(decimal.NewFromFloat(gpuSeconds)).Round(6)
}

// Providers lists the providers with a known real cost for operation, sorted.
func (c *Catalog) Providers(operation string) []string {
	providers := make([]string, 0, len(c.realCosts[operation]))
	for p := range c.realCosts[operation] {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	return providers
}
