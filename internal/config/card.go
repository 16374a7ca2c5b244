package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jkaberg/jkbms-reactor/internal/entities"
	"github.com/spf13/viper"
)

// ErrInvalidCard is wrapped by every card validation failure.
var ErrInvalidCard = errors.New("invalid card config")

// Cell layouts.
const (
	CellLayoutIncremental = "incremental"
	CellLayoutBankMode    = "bankMode"
)

// Panel layouts.
const (
	LayoutDefault     = "default"
	LayoutCoreReactor = "core-reactor"
)

// Delta voltage display units.
const (
	UnitVolt      = "V"
	UnitMillivolt = "mV"
)

// Card is the user-editable panel definition. Field names follow the keys of
// the original Lovelace card so existing YAML can be reused.
type Card struct {
	Title             string            `mapstructure:"title" json:"title"`
	Prefix            string            `mapstructure:"prefix" json:"prefix"`
	CellCount         int               `mapstructure:"cellCount" json:"cellCount"`
	CellColumns       int               `mapstructure:"cellColumns" json:"cellColumns"`
	CellLayout        string            `mapstructure:"cellLayout" json:"cellLayout"`
	Layout            string            `mapstructure:"layout" json:"layout"`
	DeltaVoltageUnit  string            `mapstructure:"deltaVoltageUnit" json:"deltaVoltageUnit"`
	TempSensorsCount  int               `mapstructure:"tempSensorsCount" json:"tempSensorsCount"`
	HasHeater         string            `mapstructure:"hasHeater" json:"hasHeater"`
	SparklineMinRange float64           `mapstructure:"sparklineMinRange" json:"sparklineMinRange"`
	Entities          map[string]string `mapstructure:"entities" json:"entities,omitempty"`
}

func setCardDefaults(v *viper.Viper) {
	v.SetDefault("title", "")
	v.SetDefault("prefix", "jk_bms")
	v.SetDefault("cellCount", 16)
	v.SetDefault("cellColumns", 2)
	v.SetDefault("cellLayout", CellLayoutIncremental)
	v.SetDefault("layout", LayoutCoreReactor)
	v.SetDefault("deltaVoltageUnit", UnitVolt)
	v.SetDefault("tempSensorsCount", 2)
	v.SetDefault("hasHeater", "0")
	v.SetDefault("sparklineMinRange", 1.0)
}

// DefaultCard returns the card used when no config file is given.
func DefaultCard() *Card {
	v := viper.New()
	setCardDefaults(v)
	c := &Card{}
	// Defaults only; decoding cannot fail.
	_ = v.Unmarshal(c)
	return c
}

// LoadCard reads a YAML (or any viper-supported format) card definition from
// path. An empty path yields DefaultCard.
func LoadCard(path string) (*Card, error) {
	v := viper.New()
	setCardDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read card config %s: %w", path, err)
		}
	}

	c := &Card{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal card config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the card against the ranges the card editor allows.
func (c *Card) Validate() error {
	if c.CellCount < 2 || c.CellCount > entities.MaxCells {
		return fmt.Errorf("%w: cellCount %d outside 2..%d", ErrInvalidCard, c.CellCount, entities.MaxCells)
	}
	if c.CellColumns < 1 || c.CellColumns > 8 {
		return fmt.Errorf("%w: cellColumns %d outside 1..8", ErrInvalidCard, c.CellColumns)
	}
	if c.CellLayout != CellLayoutIncremental && c.CellLayout != CellLayoutBankMode {
		return fmt.Errorf("%w: cellLayout %q must be %s or %s", ErrInvalidCard, c.CellLayout, CellLayoutIncremental, CellLayoutBankMode)
	}
	if c.Layout != LayoutDefault && c.Layout != LayoutCoreReactor {
		return fmt.Errorf("%w: layout %q must be %s or %s", ErrInvalidCard, c.Layout, LayoutDefault, LayoutCoreReactor)
	}
	if c.DeltaVoltageUnit != UnitVolt && c.DeltaVoltageUnit != UnitMillivolt {
		return fmt.Errorf("%w: deltaVoltageUnit %q must be V or mV", ErrInvalidCard, c.DeltaVoltageUnit)
	}
	if c.TempSensorsCount < 0 || c.TempSensorsCount > entities.MaxTempSensors {
		return fmt.Errorf("%w: tempSensorsCount %d outside 0..%d", ErrInvalidCard, c.TempSensorsCount, entities.MaxTempSensors)
	}
	if c.HasHeater != "0" && c.HasHeater != "1" {
		return fmt.Errorf("%w: hasHeater %q must be \"0\" or \"1\"", ErrInvalidCard, c.HasHeater)
	}
	if c.SparklineMinRange < 0 {
		return fmt.Errorf("%w: sparklineMinRange must not be negative", ErrInvalidCard)
	}

	var unknown []string
	for k := range c.Entities {
		if !entities.Known(entities.Key(k)) {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: unknown entity keys: %s", ErrInvalidCard, strings.Join(unknown, ", "))
	}
	return nil
}

// Heater reports whether the pack has a heater switch.
func (c *Card) Heater() bool { return c.HasHeater == "1" }

// Resolver returns the entity resolver for this card.
func (c *Card) Resolver() entities.Resolver {
	return entities.NewResolver(c.Prefix, c.Entities)
}
