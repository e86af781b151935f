package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"altanian/internal/game"

	"gopkg.in/yaml.v3"
)

// LoadBalance returns the default balance overlaid with the YAML file at
// path. An empty path yields the defaults.
func LoadBalance(path string) (game.Balance, error) {
	b := game.DefaultBalance()
	if path == "" {
		return b, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return b, fmt.Errorf("read balance file: %w", err)
	}
	return ParseBalance(raw)
}

func ParseBalance(raw []byte) (game.Balance, error) {
	b := game.DefaultBalance()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&b); err != nil && !errors.Is(err, io.EOF) {
		return game.DefaultBalance(), fmt.Errorf("parse balance: %w", err)
	}
	if err := mergeGeneratorCosts(raw, &b); err != nil {
		return game.DefaultBalance(), err
	}
	if err := validateBalance(b); err != nil {
		return game.DefaultBalance(), err
	}
	return b, nil
}

// mergeGeneratorCosts re-applies each generator_costs entry over the
// default cost for that generator. yaml.v3 decodes map values from zero, so
// without this an entry that names only energy would clear the rest.
func mergeGeneratorCosts(raw []byte, b *game.Balance) error {
	var overlay struct {
		GeneratorCosts map[string]map[string]float64 `yaml:"generator_costs"`
	}
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return fmt.Errorf("parse balance: %w", err)
	}
	defaults := game.DefaultBalance().GeneratorCosts
	if b.GeneratorCosts == nil {
		b.GeneratorCosts = defaults
	}
	for kind, fields := range overlay.GeneratorCosts {
		c := defaults[kind]
		for field, v := range fields {
			switch field {
			case "energy":
				c.Energy = v
			case "altanerite":
				c.Altanerite = v
			case "homainionite":
				c.Homainionite = v
			}
		}
		b.GeneratorCosts[kind] = c
	}
	return nil
}

func validateBalance(b game.Balance) error {
	for name, v := range map[string]float64{
		"base_energy_per_sec":           b.BaseEnergyPerSec,
		"solar_energy_per_sec":          b.SolarEnergyPerSec,
		"reactor_energy_per_sec":        b.ReactorEnergyPerSec,
		"miner_altanerite_per_sec":      b.MinerAltaneritePerSec,
		"miner_homainionite_per_sec":    b.MinerHomainionitePerSec,
		"ship_upgrade_energy_per_level": b.ShipUpgradeEnergyPerLevel,
		"travel_cost_per_ship":          b.TravelCostPerShip,
		"richness_per_system":           b.RichnessPerSystem,
		"fm_alex_per_second":            b.FMAlexPerSecond,
		"fm_energy_per_alex":            b.FMEnergyPerAlex,
	} {
		if v < 0 {
			return fmt.Errorf("balance %s must not be negative", name)
		}
	}
	for kind, c := range b.GeneratorCosts {
		switch kind {
		case game.GeneratorSolarPanels, game.GeneratorReactors, game.GeneratorMiners:
		default:
			return fmt.Errorf("balance generator_costs: unknown generator %q", kind)
		}
		if c.Energy < 0 || c.Altanerite < 0 || c.Homainionite < 0 {
			return fmt.Errorf("balance generator_costs.%s must not be negative", kind)
		}
	}
	if b.ClickPower < 1 {
		return fmt.Errorf("balance click_power must be at least 1")
	}
	if b.ShipUpgradeAltaneriteDivisor < 1 {
		return fmt.Errorf("balance ship_upgrade_altanerite_divisor must be at least 1")
	}
	if b.LootBucket <= 0 {
		return fmt.Errorf("balance loot_bucket must be positive")
	}
	return nil
}
