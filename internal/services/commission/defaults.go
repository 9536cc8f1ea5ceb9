package commission

import (
	"fmt"

	"github.com/clinicref/backend/internal/models"
)

// Defaults are the parameters applied to establishments without stored configuration.
type Defaults struct {
	UnitRate               float64
	BonusInterval          int
	BonusValue             float64
	Milestone35Value       float64
	Milestone50Value       float64
	Milestone75Value       float64
	ConsultantBonusEnabled bool
	ManagerBonusEnabled    bool
}

// DefaultSettings returns the documented fallback parameters.
func DefaultSettings() Defaults {
	return Defaults{
		UnitRate:               750,
		BonusInterval:          7,
		BonusValue:             750,
		Milestone35Value:       5000,
		Milestone50Value:       10000,
		Milestone75Value:       15000,
		ConsultantBonusEnabled: true,
		ManagerBonusEnabled:    true,
	}
}

// Validate checks the defaults against the configuration invariants.
func (d Defaults) Validate() error {
	if d.UnitRate < 0 || d.BonusValue < 0 || d.Milestone35Value < 0 || d.Milestone50Value < 0 || d.Milestone75Value < 0 {
		return fmt.Errorf("%w: default amounts must not be negative", ErrInvalidConfig)
	}
	if d.BonusInterval < 1 {
		return fmt.Errorf("%w: default bonus interval must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// Config builds the configuration used when establishmentCode has none stored.
func (d Defaults) Config(establishmentCode string) *models.EstablishmentCommissionConfig {
	return &models.EstablishmentCommissionConfig{
		EstablishmentCode:       establishmentCode,
		ConsultantUnitRate:      d.UnitRate,
		ConsultantBonusInterval: d.BonusInterval,
		ConsultantBonusValue:    d.BonusValue,
		ConsultantBonusEnabled:  d.ConsultantBonusEnabled,
		Milestone35Value:        d.Milestone35Value,
		Milestone50Value:        d.Milestone50Value,
		Milestone75Value:        d.Milestone75Value,
		ManagerBonusEnabled:     d.ManagerBonusEnabled,
	}
}

// effectiveConfig applies defaults to a stored configuration. A missing or zero
// interval takes the default interval; negative amounts are rejected.
func (d Defaults) effectiveConfig(establishmentCode string, stored *models.EstablishmentCommissionConfig) (*models.EstablishmentCommissionConfig, error) {
	if stored == nil {
		return d.Config(establishmentCode), nil
	}

	cfg := *stored
	cfg.EstablishmentCode = establishmentCode
	if cfg.ConsultantUnitRate < 0 || cfg.ConsultantBonusValue < 0 ||
		cfg.Milestone35Value < 0 || cfg.Milestone50Value < 0 || cfg.Milestone75Value < 0 {
		return nil, fmt.Errorf("%w: negative amount for establishment %s", ErrInvalidConfig, establishmentCode)
	}
	if cfg.ConsultantBonusInterval < 1 {
		cfg.ConsultantBonusInterval = d.BonusInterval
	}
	return &cfg, nil
}
