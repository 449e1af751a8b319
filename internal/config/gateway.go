package config

import (
	"time"

	"github.com/spf13/viper"
)

// GatewayConfig holds the mobile-money provider settings. It is built
// once at startup and handed to the adapter explicitly; nothing in the
// gateway package reads process-wide state.
type GatewayConfig struct {
	BaseURL       string
	SecretKey     string
	OperatorRefID string
	Timeout       time.Duration
}

// SettlementConfig holds tunables for the settlement engine.
type SettlementConfig struct {
	PurchaseRetries int
}

// LoadGatewayConfig returns gateway configuration with defaults.
func LoadGatewayConfig() *GatewayConfig {
	viper.SetDefault("gateway.base_url", "https://api.paychangu.com")
	viper.SetDefault("gateway.timeout", 15*time.Second)

	return &GatewayConfig{
		BaseURL:       viper.GetString("gateway.base_url"),
		SecretKey:     viper.GetString("gateway.secret_key"),
		OperatorRefID: viper.GetString("gateway.operator_ref_id"),
		Timeout:       viper.GetDuration("gateway.timeout"),
	}
}

// LoadSettlementConfig returns settlement engine configuration with defaults.
func LoadSettlementConfig() *SettlementConfig {
	viper.SetDefault("settlement.purchase_retries", 3)

	return &SettlementConfig{
		PurchaseRetries: viper.GetInt("settlement.purchase_retries"),
	}
}
