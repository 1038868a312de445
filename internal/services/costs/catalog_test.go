package costs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
)

func TestGetImageCreditCost(t *testing.T) {
	c := Default()
	tests := []struct {
		resolution string
		expected   int64
	}{
		{"1k", 27},
		{"hd", 27},
		{"2k", 27},
		{"4k", 48},
		{"4K", 48},
		{"", 27},
		{"8k", 27},
	}

	for _, tt := range tests {
		if got := c.GetImageCreditCost(tt.resolution); got != tt.expected {
			t.Errorf("GetImageCreditCost(%q) = %d, expected %d", tt.resolution, got, tt.expected)
		}
	}
}

func TestGetImageCreditCost_Deterministic(t *testing.T) {
	c := Default()
	for i := 0; i < 3; i++ {
		if c.GetImageCreditCost("4k") != 48 {
			t.Fatal("4k price changed between calls")
		}
	}
}

func TestGetActionCost(t *testing.T) {
	c := Default()
	tests := []struct {
		operation string
		provider  string
		expected  string
	}{
		{OperationImage, "gemini", "0.24"},
		{OperationVideo, "kie", "0.1"},
		{OperationImage, "unknown-provider", "0"},
		{"hologram", "gemini", "0"},
		{OperationMusic, "", "0"},
	}

	for _, tt := range tests {
		got := c.GetActionCost(tt.operation, tt.provider)
		if !got.Equal(decimal.RequireFromString(tt.expected)) {
			t.Errorf("GetActionCost(%q, %q) = %s, expected %s", tt.operation, tt.provider, got, tt.expected)
		}
	}
}

func TestEstimateCost(t *testing.T) {
	c := Default()

	est := c.EstimateCost(OperationImage, "gemini", 3)
	if est.Operation != OperationImage || est.Provider != "gemini" || est.Quantity != 3 {
		t.Errorf("inputs not echoed: %+v", est)
	}
	if !est.TotalCost.Equal(decimal.RequireFromString("0.72")) {
		t.Errorf("TotalCost = %s, expected 0.72", est.TotalCost)
	}

	zero := c.EstimateCost(OperationImage, "gemini", 0)
	if !zero.TotalCost.IsZero() {
		t.Errorf("TotalCost for quantity 0 = %s, expected 0", zero.TotalCost)
	}
	if !zero.Cost.Equal(decimal.RequireFromString("0.24")) {
		t.Errorf("unit Cost should still be reported, got %s", zero.Cost)
	}

	negative := c.EstimateCost(OperationImage, "gemini", -4)
	if negative.Quantity != 0 || !negative.TotalCost.IsZero() {
		t.Errorf("negative quantity should clamp to 0, got %+v", negative)
	}

	unknown := c.EstimateCost(OperationVideo, "nobody", 10)
	if !unknown.TotalCost.IsZero() {
		t.Errorf("unknown provider TotalCost = %s, expected 0", unknown.TotalCost)
	}
}

func TestGetVideoCreditCost(t *testing.T) {
	c := Default()
	tests := []struct {
		seconds  int
		expected int64
	}{
		{0, 20},
		{3, 20},
		{5, 20},
		{6, 40},
		{10, 40},
		{15, 60},
		{12, 48},
	}

	for _, tt := range tests {
		if got := c.GetVideoCreditCost(tt.seconds); got != tt.expected {
			t.Errorf("GetVideoCreditCost(%d) = %d, expected %d", tt.seconds, got, tt.expected)
		}
	}
}

func TestGetVoiceoverCreditCost(t *testing.T) {
	c := Default()
	tests := []struct {
		chars    int
		expected int64
	}{
		{0, 5},
		{1, 5},
		{1000, 5},
		{1001, 10},
		{4500, 25},
	}

	for _, tt := range tests {
		if got := c.GetVoiceoverCreditCost(tt.chars); got != tt.expected {
			t.Errorf("GetVoiceoverCreditCost(%d) = %d, expected %d", tt.chars, got, tt.expected)
		}
	}
}

func TestCreditCost(t *testing.T) {
	c := Default()
	if got, ok := c.CreditCost(OperationScene); !ok || got != 2 {
		t.Errorf("scene = %d, %v; expected 2, true", got, ok)
	}
	if got, ok := c.CreditCost(OperationPrompt); !ok || got != PromptEnhancement {
		t.Errorf("prompt = %d, %v", got, ok)
	}
	if _, ok := c.CreditCost("hologram"); ok {
		t.Error("unknown operation should not have a fixed price")
	}
}

func TestModalGPUCost(t *testing.T) {
	c := Default()
	if got := c.ModalGPUCost(100); !got.Equal(decimal.RequireFromString("0.1097")) {
		t.Errorf("ModalGPUCost(100) = %s, expected 0.1097", got)
	}
	if got := c.ModalGPUCost(-5); !got.IsZero() {
		t.Errorf("ModalGPUCost(-5) = %s, expected 0", got)
	}
}

func TestImageDimensions(t *testing.T) {
	tests := []struct {
		aspect     string
		resolution string
		w, h       int
	}{
		{"16:9", "2k", 1664, 928},
		{"9:16", "hd", 928, 1664},
		{"1:1", "4k", 2656, 2656},
		{"21:9", "2k", 1328, 1328},
	}

	for _, tt := range tests {
		w, h := ImageDimensions(tt.aspect, tt.resolution)
		if w != tt.w || h != tt.h {
			t.Errorf("ImageDimensions(%q, %q) = %dx%d, expected %dx%d", tt.aspect, tt.resolution, w, h, tt.w, tt.h)
		}
	}
}

func TestLoad(t *testing.T) {
	c, err := Load("")
	if err != nil || c != Default() {
		t.Fatalf("Load(\"\") should return the embedded catalog, err = %v", err)
	}

	path := filepath.Join(t.TempDir(), "pricing.yaml")
	content := `
images:
  default_resolution: 2k
  credits: {2k: 30, 4k: 60}
real_costs:
  image:
    gemini: 0.5
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	custom, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if custom.GetImageCreditCost("4k") != 60 {
		t.Errorf("custom 4k price = %d, expected 60", custom.GetImageCreditCost("4k"))
	}
	if !custom.GetActionCost(OperationImage, "gemini").Equal(decimal.RequireFromString("0.5")) {
		t.Error("custom real cost not loaded")
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not yaml", "images: [oops"},
		{"missing default price", "images:\n  default_resolution: 8k\n  credits: {2k: 27}\n"},
		{"negative real cost", "images:\n  default_resolution: 2k\n  credits: {2k: 27}\nreal_costs:\n  image: {gemini: -1}\n"},
		{"bad bucket", "images:\n  default_resolution: 2k\n  credits: {2k: 27}\nvideo:\n  buckets: [{seconds: 0, credits: 5}]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
