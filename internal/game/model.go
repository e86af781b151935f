package game

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	SchemaVersion = 1

	HomeSystemName = "Zwamsha"
	HomeGalaxyName = "Altanian Expanse"

	MaxNationNameLen = 48
	MaxHarvestBatch  = 25

	// Jobs within this much energy of zero count as finished.
	energyEpsilon = 1e-9
)

// Taxonomy. Every error returned by the game layer wraps exactly one of these.
var (
	ErrNotStarted            = errors.New("game not started")
	ErrInvalidInput          = errors.New("invalid input")
	ErrInsufficientResources = errors.New("insufficient resources")
	ErrIllegalState          = errors.New("illegal state")
	ErrStorageUnavailable    = errors.New("storage unavailable")
	ErrTxConflict            = errors.New("transaction conflict, please retry")
)

var (
	ErrInvalidType   = fmt.Errorf("%w: unknown generator type", ErrInvalidInput)
	ErrInvalidJob    = fmt.Errorf("%w: invalid crafting job", ErrInvalidInput)
	ErrUnknownPlanet = fmt.Errorf("%w: unknown planet", ErrInvalidInput)
	ErrInvalidTarget = fmt.Errorf("%w: invalid travel target", ErrInvalidInput)

	ErrInsufficientEnergy      = fmt.Errorf("%w: insufficient energy", ErrInsufficientResources)
	ErrInsufficientAlexandrite = fmt.Errorf("%w: insufficient alexandrite", ErrInsufficientResources)

	ErrAlreadyBuilt   = fmt.Errorf("%w: ship already built", ErrIllegalState)
	ErrNoShip         = fmt.Errorf("%w: no ship", ErrIllegalState)
	ErrAlreadyInSpace = fmt.Errorf("%w: already in space", ErrIllegalState)
	ErrNotInSpace     = fmt.Errorf("%w: not in space", ErrIllegalState)
	ErrNotOnPlanet    = fmt.Errorf("%w: not on a planet", ErrIllegalState)
	ErrWrongPlanet    = fmt.Errorf("%w: wrong planet", ErrIllegalState)
	ErrRangeTooLow    = fmt.Errorf("%w: ship range too low", ErrIllegalState)
)

var blockedNameFragments = []string{
	"admin",
	"moderator",
	"support",
	"shit",
	"fuck",
	"bitch",
	"nazi",
}

// Cost is a bundle of resources an action consumes.
type Cost struct {
	Energy       float64 `json:"energy,omitempty" yaml:"energy"`
	Altanerite   float64 `json:"altanerite,omitempty" yaml:"altanerite"`
	Homainionite float64 `json:"homainionite,omitempty" yaml:"homainionite"`
}

// Balance holds every tunable game constant. DefaultBalance matches the
// shipped game; a YAML file may override any subset.
type Balance struct {
	BaseEnergyPerSec        float64 `yaml:"base_energy_per_sec"`
	SolarEnergyPerSec       float64 `yaml:"solar_energy_per_sec"`
	ReactorEnergyPerSec     float64 `yaml:"reactor_energy_per_sec"`
	MinerAltaneritePerSec   float64 `yaml:"miner_altanerite_per_sec"`
	MinerHomainionitePerSec float64 `yaml:"miner_homainionite_per_sec"`

	GeneratorCosts map[string]Cost `yaml:"generator_costs"`
	ShipBuildCost  Cost            `yaml:"ship_build_cost"`

	ShipUpgradeEnergyPerLevel    float64 `yaml:"ship_upgrade_energy_per_level"`
	ShipUpgradeAltaneriteDivisor int     `yaml:"ship_upgrade_altanerite_divisor"`

	TravelCostPerShip float64 `yaml:"travel_cost_per_ship"`
	RichnessPerSystem float64 `yaml:"richness_per_system"`

	ClickPower      int     `yaml:"click_power"`
	FMAlexPerSecond float64 `yaml:"fm_alex_per_second"`
	FMEnergyPerAlex float64 `yaml:"fm_energy_per_alex"`

	LootBucket time.Duration `yaml:"loot_bucket"`
}

func DefaultBalance() Balance {
	return Balance{
		BaseEnergyPerSec:        2,
		SolarEnergyPerSec:       1.5,
		ReactorEnergyPerSec:     8,
		MinerAltaneritePerSec:   0.3,
		MinerHomainionitePerSec: 0.08,
		GeneratorCosts: map[string]Cost{
			GeneratorSolarPanels: {Energy: 50},
			GeneratorReactors:    {Energy: 300, Altanerite: 5},
			GeneratorMiners:      {Energy: 100},
		},
		ShipBuildCost:                Cost{Energy: 500, Altanerite: 10},
		ShipUpgradeEnergyPerLevel:    500,
		ShipUpgradeAltaneriteDivisor: 2,
		TravelCostPerShip:            100,
		RichnessPerSystem:            0.15,
		ClickPower:                   1,
		FMAlexPerSecond:              0.05,
		FMEnergyPerAlex:              40,
		LootBucket:                   10 * time.Minute,
	}
}

// UpgradeCost is the price of taking a ship from level to level+1.
func (b Balance) UpgradeCost(level int) Cost {
	div := b.ShipUpgradeAltaneriteDivisor
	if div <= 0 {
		div = 2
	}
	return Cost{
		Energy:     float64(level) * b.ShipUpgradeEnergyPerLevel,
		Altanerite: float64(level / div),
	}
}

// TravelCost is the energy a jump of distance systems costs a fleet of fleetSize.
func (b Balance) TravelCost(fleetSize, distance int) float64 {
	if distance < 1 {
		distance = 1
	}
	if fleetSize < 1 {
		fleetSize = 1
	}
	return b.TravelCostPerShip * float64(fleetSize) * float64(distance)
}

func (b Balance) Richness(systemIndex int) float64 {
	if systemIndex <= 0 {
		return 1
	}
	return 1 + float64(systemIndex)*b.RichnessPerSystem
}

func (b Balance) lootBucket(now time.Time) int64 {
	secs := int64(b.LootBucket / time.Second)
	if secs <= 0 {
		secs = 600
	}
	return now.Unix() / secs
}

// checkAffordable reports the first resource r cannot cover.
func checkAffordable(r Resources, c Cost) error {
	switch {
	case r.Energy < c.Energy:
		return fmt.Errorf("%w: need %s energy, have %s", ErrInsufficientResources, formatAmount(c.Energy), formatAmount(r.Energy))
	case r.Altanerite < c.Altanerite:
		return fmt.Errorf("%w: need %s altanerite, have %s", ErrInsufficientResources, formatAmount(c.Altanerite), formatAmount(r.Altanerite))
	case r.Homainionite < c.Homainionite:
		return fmt.Errorf("%w: need %s homainionite, have %s", ErrInsufficientResources, formatAmount(c.Homainionite), formatAmount(r.Homainionite))
	}
	return nil
}

func (r *Resources) deduct(c Cost) {
	r.Energy = clampZero(r.Energy - c.Energy)
	r.Altanerite = clampZero(r.Altanerite - c.Altanerite)
	r.Homainionite = clampZero(r.Homainionite - c.Homainionite)
}

func formatAmount(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.2f", v)
}

func clampZero(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return v
}

func clampPct(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func validateNationName(name string) error {
	clean := strings.TrimSpace(name)
	if clean == "" {
		return fmt.Errorf("%w: nation name is required", ErrInvalidInput)
	}
	if len(clean) > MaxNationNameLen {
		return fmt.Errorf("%w: nation name too long (max %d chars)", ErrInvalidInput, MaxNationNameLen)
	}
	lower := strings.ToLower(clean)
	for _, fragment := range blockedNameFragments {
		if strings.Contains(lower, fragment) {
			return fmt.Errorf("%w: nation name contains blocked content", ErrInvalidInput)
		}
	}
	return nil
}
