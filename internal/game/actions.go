package game

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Action handlers validate everything before they touch the ledger, so a
// returned error always means l is unchanged.

func Click(l *Ledger) {
	l.Resources.Energy += float64(l.ClickPower)
}

func BuyGenerator(l *Ledger, b Balance, kind string) error {
	kind = strings.TrimSpace(kind)
	cost, ok := b.GeneratorCosts[kind]
	slot := l.Generators.slot(kind)
	if !ok || slot == nil {
		return fmt.Errorf("%w %q", ErrInvalidType, kind)
	}
	if err := checkAffordable(l.Resources, cost); err != nil {
		return err
	}
	l.Resources.deduct(cost)
	*slot++
	return nil
}

func BuildShip(l *Ledger, b Balance) error {
	if l.Ship.HasShip {
		return ErrAlreadyBuilt
	}
	if err := checkAffordable(l.Resources, b.ShipBuildCost); err != nil {
		return err
	}
	l.Resources.deduct(b.ShipBuildCost)
	l.Ship = Ship{HasShip: true, Level: 1, Range: 1}
	return nil
}

func UpgradeShip(l *Ledger, b Balance) error {
	if !l.Ship.HasShip {
		return ErrNoShip
	}
	cost := b.UpgradeCost(l.Ship.Level)
	if err := checkAffordable(l.Resources, cost); err != nil {
		return err
	}
	l.Resources.deduct(cost)
	l.Ship.Level++
	l.Ship.Range++
	return nil
}

func Launch(l *Ledger) error {
	if !l.Ship.HasShip {
		return ErrNoShip
	}
	if l.Location.Mode == ModeSpace {
		return ErrAlreadyInSpace
	}
	l.Location.Mode = ModeSpace
	return nil
}

// Land puts the ship down on planetName, or back on the last planet when
// planetName is empty.
func Land(l *Ledger, b Balance, planetName string) error {
	if l.Location.Mode != ModeSpace {
		return ErrNotInSpace
	}
	target, err := resolvePlanet(l, b, planetName)
	if err != nil {
		return err
	}
	l.Location.Planet = target
	l.Location.Mode = ModePlanet
	return nil
}

// TravelToPlanet moves to another planet of the current system. From space
// it lands; from the surface it needs a ship to hop.
func TravelToPlanet(l *Ledger, b Balance, planetName string) error {
	if strings.TrimSpace(planetName) == "" {
		return fmt.Errorf("%w: planet is required", ErrUnknownPlanet)
	}
	if l.Location.Mode == ModeSpace {
		return Land(l, b, planetName)
	}
	if !l.Ship.HasShip {
		return ErrNoShip
	}
	target, err := resolvePlanet(l, b, planetName)
	if err != nil {
		return err
	}
	l.Location.Planet = target
	return nil
}

func resolvePlanet(l *Ledger, b Balance, planetName string) (string, error) {
	planetName = strings.TrimSpace(planetName)
	if planetName == "" {
		return l.Location.Planet, nil
	}
	sys := GenerateSystem(l.Seed, l.SystemIndex, b)
	if _, ok := sys.Planet(planetName); !ok {
		return "", fmt.Errorf("%w %q in %s", ErrUnknownPlanet, planetName, sys.Star.Name)
	}
	return planetName, nil
}

// Harvest rolls loot on the current planet and credits it.
func Harvest(l *Ledger, b Balance, planetName string, now time.Time) (Gain, error) {
	if l.Location.Mode != ModePlanet {
		return Gain{}, ErrNotOnPlanet
	}
	planetName = strings.TrimSpace(planetName)
	if planetName != "" && planetName != l.Location.Planet {
		return Gain{}, fmt.Errorf("%w: on %q, not %q", ErrWrongPlanet, l.Location.Planet, planetName)
	}
	sys := GenerateSystem(l.Seed, l.SystemIndex, b)
	planet, ok := sys.Planet(l.Location.Planet)
	if !ok {
		planet = sys.Planets[0]
	}
	gain := rollLoot(l.Seed, sys, planet, b.lootBucket(now), l.Harvests)
	grant(l, gain)
	l.Harvests++
	return gain, nil
}

func resolveTravelTarget(l *Ledger, req TravelRequest) (int, error) {
	if req.TargetIndex != nil {
		if *req.TargetIndex < 0 {
			return 0, fmt.Errorf("%w: target index must be >= 0", ErrInvalidTarget)
		}
		return *req.TargetIndex, nil
	}
	switch strings.ToLower(strings.TrimSpace(req.Direction)) {
	case "next", "forward", "out", "+1":
		return l.SystemIndex + 1, nil
	case "prev", "previous", "back", "in", "-1":
		if l.SystemIndex == 0 {
			return 0, fmt.Errorf("%w: already at the home system", ErrInvalidTarget)
		}
		return l.SystemIndex - 1, nil
	case "":
		return 0, fmt.Errorf("%w: direction or targetIndex is required", ErrInvalidTarget)
	default:
		return 0, fmt.Errorf("%w: unknown direction %q", ErrInvalidTarget, req.Direction)
	}
}

// QuoteTravel reports cost and feasibility without mutating anything. An
// unresolvable target, or the current system, is reported as the current
// system with rangeOk false.
func QuoteTravel(l Ledger, b Balance, req TravelRequest) TravelQuote {
	target, err := resolveTravelTarget(&l, req)
	reachable := err == nil && target != l.SystemIndex
	if err != nil {
		target = l.SystemIndex
	}
	distance := absInt(target - l.SystemIndex)
	cost := b.TravelCost(l.Fleet.Size(), distance)
	return TravelQuote{
		Current:  l.SystemIndex,
		Target:   target,
		Distance: distance,
		Cost:     cost,
		InSpace:  l.Location.Mode == ModeSpace,
		RangeOK:  reachable && l.Ship.HasShip && distance <= l.Ship.Range,
		EnergyOK: l.Resources.Energy >= cost,
	}
}

func Travel(l *Ledger, b Balance, req TravelRequest) (TravelQuote, error) {
	if !l.Ship.HasShip {
		return TravelQuote{}, ErrNoShip
	}
	if l.Location.Mode != ModeSpace {
		return TravelQuote{}, ErrNotInSpace
	}
	target, err := resolveTravelTarget(l, req)
	if err != nil {
		return TravelQuote{}, err
	}
	if target == l.SystemIndex {
		return TravelQuote{}, fmt.Errorf("%w: already in system %d", ErrInvalidTarget, target)
	}
	q := QuoteTravel(*l, b, TravelRequest{TargetIndex: &target})
	if !q.RangeOK {
		return q, fmt.Errorf("%w: distance %d exceeds range %d", ErrRangeTooLow, q.Distance, l.Ship.Range)
	}
	if !q.EnergyOK {
		return q, fmt.Errorf("%w: need %s, have %s", ErrInsufficientEnergy, formatAmount(q.Cost), formatAmount(l.Resources.Energy))
	}
	sys := GenerateSystem(l.Seed, target, b)
	l.Resources.Energy = clampZero(l.Resources.Energy - q.Cost)
	l.SystemIndex = target
	l.Location.System = sys.Star.Name
	l.Location.Planet = sys.Planets[0].Name
	return q, nil
}

func Craft(l *Ledger, kind string, energyRequired float64) error {
	kind = strings.TrimSpace(kind)
	if !itemKeyRE.MatchString(kind) {
		return fmt.Errorf("%w: bad item type %q", ErrInvalidJob, kind)
	}
	if !(energyRequired > 0) || math.IsInf(energyRequired, 0) {
		return fmt.Errorf("%w: energyRequired must be > 0", ErrInvalidJob)
	}
	l.CraftingQueue = append(l.CraftingQueue, CraftJob{Type: kind, RemainingEnergy: energyRequired})
	return nil
}

// CancelCraft removes the job at index. Out-of-range indexes are ignored.
func CancelCraft(l *Ledger, index int) {
	if index < 0 || index >= len(l.CraftingQueue) {
		return
	}
	l.CraftingQueue = append(l.CraftingQueue[:index:index], l.CraftingQueue[index+1:]...)
}

func AllocateEnergy(l *Ledger, pct float64) {
	l.EnergyAllocation.CraftingPct = clampPct(pct)
}

// FuelManipulator moves alexandrite from the inventory into the FM buffer.
func FuelManipulator(l *Ledger, amount float64) error {
	if !(amount > 0) || math.IsInf(amount, 0) {
		return fmt.Errorf("%w: amount must be > 0", ErrInvalidInput)
	}
	if l.Inventory.Alexandrite < amount {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientAlexandrite, formatAmount(amount), formatAmount(l.Inventory.Alexandrite))
	}
	l.Inventory.Alexandrite -= amount
	l.FM.FuelBuffer += amount
	return nil
}

func SetAutoFuel(l *Ledger, on bool) {
	l.FM.AutoFuel = on
}

func SaveFleet(l *Ledger, in FleetUpdate) {
	count := func(dst *int, src *int) {
		if src != nil {
			*dst = max(0, *src)
		}
	}
	group := func(dst *UnitGroup, src *UnitGroup) {
		if src != nil {
			*dst = UnitGroup{Count: max(0, src.Count), Level: max(1, src.Level)}
		}
	}
	count(&l.Fleet.MainShips, in.MainShips)
	count(&l.Fleet.CommShips, in.CommShips)
	count(&l.Fleet.SurveillanceShips, in.SurveillanceShips)
	count(&l.Fleet.SupportWings, in.SupportWings)
	group(&l.Fleet.AlexandriteArmy, in.AlexandriteArmy)
	group(&l.Fleet.TopazTroopers, in.TopazTroopers)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
