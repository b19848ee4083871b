package config

import (
	"fmt"
	"os"

	"dcaengine/internal/core"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// assetSpec is the YAML-facing shape of an AssetConfig seed entry. Using a
// dedicated struct (rather than yaml tags on core.AssetConfig directly)
// keeps the persisted domain type free of serialization concerns, matching
// the teacher's convention of a dedicated config struct layer
// (market_maker/internal/config/config.go's ExchangeConfig/TradingConfig)
// separate from the runtime domain model.
type assetSpec struct {
	Symbol                  string  `yaml:"symbol"`
	Enabled                 bool    `yaml:"enabled"`
	BaseOrderAmount         float64 `yaml:"base_order_amount"`
	SafetyOrderAmount       float64 `yaml:"safety_order_amount"`
	MaxSafetyOrders         int     `yaml:"max_safety_orders"`
	SafetyOrderDeviationPct float64 `yaml:"safety_order_deviation_pct"`
	TakeProfitPct           float64 `yaml:"take_profit_pct"`
	TTPEnabled              bool    `yaml:"ttp_enabled"`
	TTPDeviationPct         float64 `yaml:"ttp_deviation_pct"`
	CooldownSeconds         int64   `yaml:"cooldown_seconds"`
}

type assetsFile struct {
	Assets []assetSpec `yaml:"assets"`
}

// LoadAssetConfigs reads the declarative per-asset seed file (spec.md §6 —
// "Optional notification sink" aside, the per-asset definitions are the
// only config the teacher's YAML layer is a natural fit for; credentials
// and toggles stay in the environment per Config.Load).
func LoadAssetConfigs(path string) ([]*core.AssetConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read assets file: %w", err)
	}

	var parsed assetsFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse assets file: %w", err)
	}

	assets := make([]*core.AssetConfig, 0, len(parsed.Assets))
	for _, a := range parsed.Assets {
		if a.Symbol == "" {
			return nil, ValidationError{Field: "assets[].symbol", Message: "required"}
		}
		if a.MaxSafetyOrders < 0 {
			return nil, ValidationError{Field: "assets[].max_safety_orders", Value: a.MaxSafetyOrders, Message: "must be >= 0"}
		}
		assets = append(assets, &core.AssetConfig{
			Symbol:                  a.Symbol,
			Enabled:                 a.Enabled,
			BaseOrderAmount:         decimal.NewFromFloat(a.BaseOrderAmount),
			SafetyOrderAmount:       decimal.NewFromFloat(a.SafetyOrderAmount),
			MaxSafetyOrders:         a.MaxSafetyOrders,
			SafetyOrderDeviationPct: decimal.NewFromFloat(a.SafetyOrderDeviationPct),
			TakeProfitPct:           decimal.NewFromFloat(a.TakeProfitPct),
			TTPEnabled:              a.TTPEnabled,
			TTPDeviationPct:         decimal.NewFromFloat(a.TTPDeviationPct),
			CooldownSeconds:         a.CooldownSeconds,
			LastSellPrice:           decimal.Zero,
		})
	}
	return assets, nil
}
