package game

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"lukechampine.com/blake3"
)

// DecodeLedger turns a stored document into the canonical Ledger. Current
// documents decode directly; anything older or malformed goes through the
// lenient v0 path, which coerces shapes instead of failing. Only bytes that
// are not a JSON object at all are rejected.
func DecodeLedger(raw []byte) (Ledger, error) {
	var probe struct {
		SchemaVersion int `json:"schemaVersion"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil && probe.SchemaVersion >= SchemaVersion {
		var l Ledger
		if err := json.Unmarshal(raw, &l); err == nil {
			return l, nil
		}
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Ledger{}, fmt.Errorf("decode ledger: %w", err)
	}
	if doc == nil {
		return Ledger{}, fmt.Errorf("decode ledger: document is null")
	}
	return migrateV0(doc), nil
}

// migrateV0 reads a loosely shaped document field by field.
func migrateV0(doc map[string]any) Ledger {
	var l Ledger
	l.SchemaVersion = SchemaVersion
	l.UserID = str(doc["userId"], str(doc["user_id"], ""))
	l.NationName = str(doc["nationName"], str(doc["nation_name"], ""))

	res := obj(doc["resources"])
	l.Resources = Resources{
		Energy:       num(pick(res, doc, "energy")),
		Altanerite:   num(pick(res, doc, "altanerite")),
		Homainionite: num(pick(res, doc, "homainionite")),
	}

	inv := obj(doc["inventory"])
	for k, v := range inv {
		l.Inventory.Set(k, num(v))
	}

	gens := obj(doc["generators"])
	l.Generators = Generators{
		SolarPanels: int(num(pick(gens, doc, "solarPanels"))),
		Reactors:    int(num(pick(gens, doc, "reactors"))),
		Miners:      int(num(pick(gens, doc, "miners"))),
	}

	fleet := obj(doc["fleet"])
	l.Fleet = Fleet{
		MainShips:         int(num(fleet["mainShips"])),
		CommShips:         int(num(fleet["commShips"])),
		SurveillanceShips: int(num(fleet["surveillanceShips"])),
		SupportWings:      int(num(fleet["supportWings"])),
		AlexandriteArmy:   unitGroup(fleet["alexandriteArmy"]),
		TopazTroopers:     unitGroup(fleet["topazTroopers"]),
	}

	ship := obj(doc["ship"])
	l.Ship = Ship{
		HasShip: truthy(ship["hasShip"]),
		Level:   int(num(ship["level"])),
		Range:   int(num(ship["range"])),
	}

	loc := obj(doc["location"])
	l.Location = Location{
		Galaxy: str(loc["galaxy"], ""),
		System: str(loc["system"], ""),
		Planet: str(loc["planet"], ""),
		Mode:   Mode(strings.ToLower(str(loc["mode"], ""))),
	}
	l.SystemIndex = int(num(doc["systemIndex"]))
	l.Seed = int64(num(doc["seed"]))

	alloc := doc["energyAllocation"]
	if m, ok := alloc.(map[string]any); ok {
		l.EnergyAllocation.CraftingPct = num(m["craftingPct"])
	} else {
		l.EnergyAllocation.CraftingPct = num(pick(nil, doc, "craftingPct"))
	}

	if items, ok := doc["craftingQueue"].([]any); ok {
		for _, it := range items {
			job := obj(it)
			l.CraftingQueue = append(l.CraftingQueue, CraftJob{
				Type:            str(job["type"], ""),
				RemainingEnergy: num(job["remainingEnergy"]),
			})
		}
	}

	fm := obj(doc["fm"])
	l.FM = FrequencyManipulator{
		FuelBuffer:    num(fm["fuelBuffer"]),
		AutoFuel:      truthy(fm["autoFuel"]),
		AlexPerSecond: num(fm["alexPerSecond"]),
		EnergyPerAlex: num(fm["energyPerAlex"]),
	}
	l.ClickPower = int(num(doc["clickPower"]))
	l.Harvests = int64(num(doc["harvests"]))
	l.LastTickAt = timestamp(doc["lastTickAt"])
	l.CreatedAt = timestamp(doc["createdAt"])
	l.UpdatedAt = timestamp(doc["updatedAt"])
	return l
}

// Normalize fills defaults and clamps every quantity into range. It is
// idempotent and runs before every read or mutation.
func Normalize(l *Ledger, b Balance) {
	l.SchemaVersion = SchemaVersion
	l.Resources.Energy = clampZero(l.Resources.Energy)
	l.Resources.Altanerite = clampZero(l.Resources.Altanerite)
	l.Resources.Homainionite = clampZero(l.Resources.Homainionite)
	l.Inventory.clampNegatives()

	l.Generators.SolarPanels = max(0, l.Generators.SolarPanels)
	l.Generators.Reactors = max(0, l.Generators.Reactors)
	l.Generators.Miners = max(0, l.Generators.Miners)

	SaveFleet(l, FleetUpdate{
		MainShips:         &l.Fleet.MainShips,
		CommShips:         &l.Fleet.CommShips,
		SurveillanceShips: &l.Fleet.SurveillanceShips,
		SupportWings:      &l.Fleet.SupportWings,
		AlexandriteArmy:   &l.Fleet.AlexandriteArmy,
		TopazTroopers:     &l.Fleet.TopazTroopers,
	})

	l.Ship.Level = max(0, l.Ship.Level)
	l.Ship.Range = max(0, l.Ship.Range)
	if l.Ship.HasShip && l.Ship.Level < 1 {
		l.Ship.Level = 1
	}
	if l.Ship.HasShip && l.Ship.Range < 1 {
		l.Ship.Range = 1
	}

	if l.Seed == 0 {
		l.Seed = SeedFromUserID(l.UserID)
	}
	l.SystemIndex = max(0, l.SystemIndex)
	sys := GenerateSystem(l.Seed, l.SystemIndex, b)
	if l.Location.Galaxy == "" {
		l.Location.Galaxy = HomeGalaxyName
	}
	l.Location.System = sys.Star.Name
	if _, ok := sys.Planet(l.Location.Planet); !ok {
		l.Location.Planet = sys.Planets[0].Name
	}
	if l.Location.Mode != ModePlanet && l.Location.Mode != ModeSpace {
		l.Location.Mode = ModePlanet
	}
	if l.Location.Mode == ModeSpace && !l.Ship.HasShip {
		l.Location.Mode = ModePlanet
	}

	l.EnergyAllocation.CraftingPct = clampPct(l.EnergyAllocation.CraftingPct)
	queue := make([]CraftJob, 0, len(l.CraftingQueue))
	for _, job := range l.CraftingQueue {
		job.Type = strings.TrimSpace(job.Type)
		if !itemKeyRE.MatchString(job.Type) || !(job.RemainingEnergy > energyEpsilon) || math.IsInf(job.RemainingEnergy, 0) {
			continue
		}
		queue = append(queue, job)
	}
	l.CraftingQueue = queue

	l.FM.FuelBuffer = clampZero(l.FM.FuelBuffer)
	if !(l.FM.AlexPerSecond > 0) {
		l.FM.AlexPerSecond = b.FMAlexPerSecond
	}
	if !(l.FM.EnergyPerAlex > 0) {
		l.FM.EnergyPerAlex = b.FMEnergyPerAlex
	}
	if l.ClickPower < 1 {
		l.ClickPower = max(1, b.ClickPower)
	}
	if l.Harvests < 0 {
		l.Harvests = 0
	}
	if l.LastTickAt.IsZero() {
		l.LastTickAt = l.UpdatedAt
	}
}

// SeedFromUserID derives a stable seed for documents that never stored one.
func SeedFromUserID(userID string) int64 {
	sum := blake3.Sum256([]byte("altanian-seed:" + userID))
	seed := int64(binary.LittleEndian.Uint64(sum[:8]) & math.MaxInt32)
	if seed == 0 {
		seed = 1
	}
	return seed
}

func obj(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// pick prefers the nested value and falls back to a flattened top-level key.
func pick(nested, top map[string]any, key string) any {
	if v, ok := nested[key]; ok {
		return v
	}
	return top[key]
}

// num coerces numbers, numeric strings, bools and {count: n} objects.
func num(v any) float64 {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0
		}
		return t
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		return f
	case bool:
		if t {
			return 1
		}
		return 0
	case map[string]any:
		for _, k := range []string{"count", "amount", "value"} {
			if c, ok := t[k]; ok {
				return num(c)
			}
		}
	}
	return 0
}

func str(v any, fallback string) string {
	if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	return fallback
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(t))
		return b
	}
	return num(v) != 0
}

func unitGroup(v any) UnitGroup {
	if m, ok := v.(map[string]any); ok {
		return UnitGroup{Count: int(num(m["count"])), Level: int(num(m["level"]))}
	}
	return UnitGroup{Count: int(num(v)), Level: 1}
}

// timestamp accepts RFC 3339 strings and unix milliseconds.
func timestamp(v any) time.Time {
	switch t := v.(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts.UTC()
		}
		if ms, err := strconv.ParseInt(t, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC()
		}
	case float64:
		if t > 0 {
			return time.UnixMilli(int64(t)).UTC()
		}
	}
	return time.Time{}
}
