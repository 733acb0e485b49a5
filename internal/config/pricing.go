package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// TierConfig is a single price band in a pricing rule config file.
type TierConfig struct {
	MinQuantity  float64  `mapstructure:"minQuantity" json:"min_quantity"`
	MaxQuantity  *float64 `mapstructure:"maxQuantity" json:"max_quantity"`
	PricePerUnit float64  `mapstructure:"pricePerUnit" json:"price_per_unit"`
	FlatFee      float64  `mapstructure:"flatFee" json:"flat_fee"`
}

// PackageConfig is a bundle price in a pricing rule config file.
type PackageConfig struct {
	Quantity     float64  `mapstructure:"quantity" json:"quantity"`
	Price        float64  `mapstructure:"price" json:"price"`
	OveragePrice *float64 `mapstructure:"overagePrice" json:"overage_price"`
}

// DiscountConfig is a volume discount in a pricing rule config file.
type DiscountConfig struct {
	MinQuantity        float64 `mapstructure:"minQuantity" json:"min_quantity"`
	DiscountPercentage float64 `mapstructure:"discountPercentage" json:"discount_percentage"`
}

// RuleConfig declares one pricing rule. Model is one of flat_rate,
// per_unit, tiered, graduated or package; custom rules are registered in
// code, not config.
type RuleConfig struct {
	Metric       string           `mapstructure:"metric" json:"metric"`
	Model        string           `mapstructure:"model" json:"model"`
	Category     string           `mapstructure:"category" json:"category"`
	ResourceType string           `mapstructure:"resourceType" json:"resource_type"`
	PricePerUnit float64          `mapstructure:"pricePerUnit" json:"price_per_unit"`
	FlatFee      float64          `mapstructure:"flatFee" json:"flat_fee"`
	MinimumCost  float64          `mapstructure:"minimumCost" json:"minimum_cost"`
	MaximumCost  *float64         `mapstructure:"maximumCost" json:"maximum_cost"`
	Tiers        []TierConfig     `mapstructure:"tiers" json:"tiers"`
	Package      *PackageConfig   `mapstructure:"package" json:"package"`
	Discounts    []DiscountConfig `mapstructure:"discounts" json:"discounts"`
}

// PricingConfig is the content of the pricing.yml file.
type PricingConfig struct {
	Rules []RuleConfig `mapstructure:"rules" json:"rules"`
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		Rules: []RuleConfig{
			{Metric: "api_call", Model: "per_unit", PricePerUnit: 0.001},
			{Metric: "token", Model: "graduated", Tiers: []TierConfig{
				{MinQuantity: 0, MaxQuantity: floatPtr(1_000_000), PricePerUnit: 0.00001},
				{MinQuantity: 1_000_000, PricePerUnit: 0.000008},
			}},
			{Metric: "storage", Model: "per_unit", PricePerUnit: 0.023},
		},
	}
}

func floatPtr(v float64) *float64 { return &v }

// PricingConfigHolder exposes the current pricing file config and swaps
// it atomically when the file changes on disk.
type PricingConfigHolder struct {
	current atomic.Value // holds PricingConfig
}

func NewPricingConfigHolder(cfg Config) (*PricingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	for _, path := range cfg.PricingConfigPaths {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix("METERING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	usingDefaults := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		usingDefaults = true
	}

	holder := &PricingConfigHolder{}
	if usingDefaults {
		holder.current.Store(DefaultPricingConfig())
		return holder, nil
	}

	var pricing PricingConfig
	if err := v.UnmarshalKey("pricing", &pricing); err != nil {
		return nil, err
	}
	if err := validatePricingConfig(pricing); err != nil {
		return nil, err
	}
	holder.current.Store(pricing)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PricingConfig
		if err := v.UnmarshalKey("pricing", &updated); err != nil {
			log.Printf("[pricing-config] reload failed: %v", err)
			return
		}
		if err := validatePricingConfig(updated); err != nil {
			log.Printf("[pricing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[pricing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PricingConfigHolder) Get() PricingConfig {
	return h.current.Load().(PricingConfig)
}

func validatePricingConfig(cfg PricingConfig) error {
	for _, rule := range cfg.Rules {
		if strings.TrimSpace(rule.Metric) == "" {
			return errors.New("pricing.rules: metric cannot be empty")
		}
		if strings.TrimSpace(rule.Model) == "" {
			return errors.New("pricing.rules: model cannot be empty")
		}
	}
	return nil
}
