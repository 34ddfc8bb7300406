package models

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LLMModel describes one upstream model the backend knows how to price and
// whether it accepts image input.
type LLMModel struct {
	Name                 string  `yaml:"name"`
	Vision               bool    `yaml:"vision"`
	PromptPricePer1K     float64 `yaml:"prompt_price_per_1k"`
	CompletionPricePer1K float64 `yaml:"completion_price_per_1k"`
}

type ModelCatalog struct {
	Models []LLMModel `yaml:"models"`
}

func DefaultModelCatalog() *ModelCatalog {
	return &ModelCatalog{
		Models: []LLMModel{
			{Name: "gpt-3.5-turbo", PromptPricePer1K: 0.0005, CompletionPricePer1K: 0.0015},
			{Name: "gpt-3.5-turbo-instruct", PromptPricePer1K: 0.0015, CompletionPricePer1K: 0.002},
			{Name: "gpt-4", PromptPricePer1K: 0.03, CompletionPricePer1K: 0.06},
			{Name: "gpt-4o", Vision: true, PromptPricePer1K: 0.0025, CompletionPricePer1K: 0.01},
			{Name: "gpt-4o-mini", Vision: true, PromptPricePer1K: 0.00015, CompletionPricePer1K: 0.0006},
			{Name: "gpt-4-vision-preview", Vision: true, PromptPricePer1K: 0.01, CompletionPricePer1K: 0.03},
		},
	}
}

// LoadModelCatalog reads a YAML catalog from path.
func LoadModelCatalog(path string) (*ModelCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model catalog: %w", err)
	}
	var catalog ModelCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse model catalog: %w", err)
	}
	for i, m := range catalog.Models {
		if m.Name == "" {
			return nil, fmt.Errorf("model catalog entry %d has no name", i)
		}
		if m.PromptPricePer1K < 0 || m.CompletionPricePer1K < 0 {
			return nil, fmt.Errorf("model %s has a negative price", m.Name)
		}
	}
	return &catalog, nil
}

func (c *ModelCatalog) lookup(name string) (LLMModel, bool) {
	if c == nil {
		return LLMModel{}, false
	}
	for _, m := range c.Models {
		if m.Name == name {
			return m, true
		}
	}
	return LLMModel{}, false
}

func (c *ModelCatalog) SupportsVision(name string) bool {
	m, ok := c.lookup(name)
	return ok && m.Vision
}

// EstimateCost returns nil when the model has no price entry.
func (c *ModelCatalog) EstimateCost(name string, promptTokens, completionTokens int) *float64 {
	m, ok := c.lookup(name)
	if !ok || (m.PromptPricePer1K == 0 && m.CompletionPricePer1K == 0) {
		return nil
	}
	cost := float64(promptTokens)/1000*m.PromptPricePer1K + float64(completionTokens)/1000*m.CompletionPricePer1K
	return &cost
}
