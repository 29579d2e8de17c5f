package types

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Settings holds every tunable the decision engine uses. Defaults reproduce
// the reference tuning; operators override individual values from a YAML
// file. Zero values are filled in from defaults on load, so a partial file
// only overrides what it names.
type Settings struct {
	// Storage dynamics.
	MaxStorage        float64 `yaml:"max_storage" json:"max_storage"`
	MinStorage        float64 `yaml:"min_storage" json:"min_storage"`
	ChargeTau         float64 `yaml:"charge_tau" json:"charge_tau"`
	DischargeTau      float64 `yaml:"discharge_tau" json:"discharge_tau"`
	DT                float64 `yaml:"dt" json:"dt"`
	ChargeEfficiency  float64 `yaml:"charge_efficiency" json:"charge_efficiency"`
	DischargeEff      float64 `yaml:"discharge_efficiency" json:"discharge_efficiency"`
	StorageDecay      float64 `yaml:"storage_decay" json:"storage_decay"`
	MaxChargeRate     float64 `yaml:"max_charge_rate" json:"max_charge_rate"`
	SolarCoefficient  float64 `yaml:"solar_coefficient" json:"solar_coefficient"`
	SolarSunThreshold int     `yaml:"solar_sun_threshold" json:"solar_sun_threshold"`

	// Forecast features.
	ForecastHorizons []int `yaml:"forecast_horizons" json:"forecast_horizons"`
	ForecastWindow   int   `yaml:"forecast_window" json:"forecast_window"`
	MomentumLag      int   `yaml:"momentum_lag" json:"momentum_lag"`
	RSIPeriod        int   `yaml:"rsi_period" json:"rsi_period"`
	SunTrendWindow   int   `yaml:"sun_trend_window" json:"sun_trend_window"`

	// Deferrable scheduling.
	SchedulerWeights   SchedulerWeights `yaml:"scheduler_weights" json:"scheduler_weights"`
	SchedulerCapacity  float64          `yaml:"scheduler_capacity" json:"scheduler_capacity"`
	MinSlotEnergy      float64          `yaml:"min_slot_energy" json:"min_slot_energy"`
	AllocationHeadroom float64          `yaml:"allocation_headroom" json:"allocation_headroom"`

	// Buy decision.
	BuyWeights         BuyWeights `yaml:"buy_weights" json:"buy_weights"`
	BuyScoreThreshold  float64    `yaml:"buy_score_threshold" json:"buy_score_threshold"`
	BuyUrgencyOverride float64    `yaml:"buy_urgency_override" json:"buy_urgency_override"`

	// Sell decision.
	SellWeights         SellWeights `yaml:"sell_weights" json:"sell_weights"`
	SellSpreadThreshold float64     `yaml:"sell_spread_threshold" json:"sell_spread_threshold"`
	MaxSellPerTick      float64     `yaml:"max_sell_per_tick" json:"max_sell_per_tick"`

	// Dynamic storage target bounds, as fractions of MaxStorage.
	TargetFloorFrac   float64 `yaml:"target_floor_frac" json:"target_floor_frac"`
	TargetCeilingFrac float64 `yaml:"target_ceiling_frac" json:"target_ceiling_frac"`

	PriceHistoryLen int `yaml:"price_history_len" json:"price_history_len"`
}

// SchedulerWeights are the composite-score weights for placing deferrable
// load into future ticks. Lower scores are better ticks.
type SchedulerWeights struct {
	BuyPrice       float64 `yaml:"buy_price" json:"buy_price"`
	Forecast       float64 `yaml:"forecast" json:"forecast"`
	SunDeficit     float64 `yaml:"sun_deficit" json:"sun_deficit"`
	DemandConflict float64 `yaml:"demand_conflict" json:"demand_conflict"`
	Volatility     float64 `yaml:"volatility" json:"volatility"`
	Momentum       float64 `yaml:"momentum" json:"momentum"`
	RSI            float64 `yaml:"rsi" json:"rsi"`
	SpreadVsMA     float64 `yaml:"spread_vs_ma" json:"spread_vs_ma"`
}

// BuyWeights score whether to buy grid energy into storage this tick.
type BuyWeights struct {
	Urgency        float64 `yaml:"urgency" json:"urgency"`
	Price          float64 `yaml:"price" json:"price"`
	Forecast       float64 `yaml:"forecast" json:"forecast"`
	Volatility     float64 `yaml:"volatility" json:"volatility"`
	RSI            float64 `yaml:"rsi" json:"rsi"`
	Momentum       float64 `yaml:"momentum" json:"momentum"`
	DemandPressure float64 `yaml:"demand_pressure" json:"demand_pressure"`
}

// SellWeights score whether to sell stored energy back to the grid.
type SellWeights struct {
	Excess       float64 `yaml:"excess" json:"excess"`
	Spread       float64 `yaml:"spread" json:"spread"`
	Forecast     float64 `yaml:"forecast" json:"forecast"`
	PricePremium float64 `yaml:"price_premium" json:"price_premium"`
	SunDeficit   float64 `yaml:"sun_deficit" json:"sun_deficit"`
}

// DefaultSettings returns the reference tuning.
func DefaultSettings() Settings {
	return Settings{
		MaxStorage:        50,
		MinStorage:        0,
		ChargeTau:         4,
		DischargeTau:      4,
		DT:                1,
		ChargeEfficiency:  0.8,
		DischargeEff:      0.8,
		StorageDecay:      0.9995,
		MaxChargeRate:     6.25,
		SolarCoefficient:  0.032,
		SolarSunThreshold: 5,

		ForecastHorizons: []int{1, 2, 3, 5, 8, 12, 20},
		ForecastWindow:   20,
		MomentumLag:      5,
		RSIPeriod:        14,
		SunTrendWindow:   5,

		SchedulerWeights: SchedulerWeights{
			BuyPrice:       0.35,
			Forecast:       0.15,
			SunDeficit:     0.20,
			DemandConflict: 0.12,
			Volatility:     0.08,
			Momentum:       0.05,
			RSI:            0.03,
			SpreadVsMA:     0.02,
		},
		SchedulerCapacity:  12,
		MinSlotEnergy:      0.1,
		AllocationHeadroom: 1.1,

		BuyWeights: BuyWeights{
			Urgency:        0.30,
			Price:          0.25,
			Forecast:       0.20,
			Volatility:     0.10,
			RSI:            0.05,
			Momentum:       0.05,
			DemandPressure: 0.05,
		},
		BuyScoreThreshold:  0.6,
		BuyUrgencyOverride: 1.5,

		SellWeights: SellWeights{
			Excess:       0.35,
			Spread:       0.25,
			Forecast:     0.20,
			PricePremium: 0.15,
			SunDeficit:   0.05,
		},
		SellSpreadThreshold: 1.5,
		MaxSellPerTick:      8.0,

		TargetFloorFrac:   0.15,
		TargetCeilingFrac: 0.85,

		PriceHistoryLen: 10,
	}
}

// LoadSettings reads a YAML overrides file on top of the defaults. An empty
// path returns the defaults unchanged.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	if path == "" {
		return s, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("reading settings file: %w", err)
	}
	if err := yaml.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("parsing settings file %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// Validate rejects settings that would make the dynamics nonsensical.
func (s Settings) Validate() error {
	if s.MaxStorage <= s.MinStorage {
		return fmt.Errorf("max_storage %f must exceed min_storage %f", s.MaxStorage, s.MinStorage)
	}
	if s.ChargeTau <= 0 || s.DischargeTau <= 0 {
		return fmt.Errorf("charge_tau and discharge_tau must be > 0")
	}
	if s.DT <= 0 {
		return fmt.Errorf("dt must be > 0")
	}
	for name, v := range map[string]float64{
		"charge_efficiency":    s.ChargeEfficiency,
		"discharge_efficiency": s.DischargeEff,
		"storage_decay":        s.StorageDecay,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("%s must be in (0,1], got %f", name, v)
		}
	}
	if s.MaxChargeRate <= 0 {
		return fmt.Errorf("max_charge_rate must be > 0")
	}
	if s.ForecastWindow < 2 {
		return fmt.Errorf("forecast_window must be >= 2")
	}
	if len(s.ForecastHorizons) == 0 {
		return fmt.Errorf("forecast_horizons must not be empty")
	}
	if s.TargetFloorFrac < 0 || s.TargetCeilingFrac > 1 || s.TargetFloorFrac >= s.TargetCeilingFrac {
		return fmt.Errorf("target fraction bounds invalid: floor %f ceiling %f", s.TargetFloorFrac, s.TargetCeilingFrac)
	}
	if s.PriceHistoryLen < 1 {
		return fmt.Errorf("price_history_len must be >= 1")
	}
	return nil
}
