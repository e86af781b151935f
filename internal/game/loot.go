package game

import "math"

type lootEntry struct {
	key    string
	weight float64
	// rare entries have their weight multiplied by the system richness.
	rare bool
}

var lootTables = map[PlanetType][]lootEntry{
	PlanetHome: {
		{key: string(Wood), weight: 5},
		{key: string(Stone), weight: 4},
		{key: keyAltanerite, weight: 2},
		{key: string(Alexandrite), weight: 1, rare: true},
	},
	PlanetRock: {
		{key: string(Stone), weight: 5},
		{key: string(Iron), weight: 3},
		{key: string(Copper), weight: 2},
		{key: string(Alexandrite), weight: 0.5, rare: true},
	},
	PlanetGas: {
		{key: string(Fuel), weight: 5},
		{key: string(Plastic), weight: 3},
		{key: string(Glass), weight: 2},
	},
	PlanetIce: {
		{key: string(Glass), weight: 4},
		{key: string(Fuel), weight: 2},
		{key: string(Stone), weight: 2},
		{key: string(Alexandrite), weight: 0.5, rare: true},
	},
	PlanetAltanerite: {
		{key: keyAltanerite, weight: 5},
		{key: string(Stone), weight: 2},
		{key: string(Alexandrite), weight: 1, rare: true},
	},
	PlanetHomainionite: {
		{key: keyHomainionite, weight: 4},
		{key: string(Copper), weight: 2},
		{key: string(Iron), weight: 2, rare: true},
	},
}

// rollLoot draws one harvest result. Weights drift with the time bucket and
// the draw itself advances with the player's harvest counter, so the result
// is a pure function of its inputs.
func rollLoot(seed int64, sys System, p Planet, bucket, harvests int64) Gain {
	table := lootTables[p.Type]
	if len(table) == 0 {
		table = lootTables[PlanetRock]
	}
	drift := newLCG(seed ^ (p.LootSeed + bucket*7919))
	weights := make([]float64, len(table))
	total := 0.0
	for i, e := range table {
		w := e.weight
		if e.rare {
			w *= sys.Richness
		}
		w *= 0.75 + 0.5*drift.next()
		weights[i] = w
		total += w
	}

	draw := newLCG(seed + p.LootSeed*31 + harvests*104729 + bucket)
	pick := draw.next() * total
	chosen := table[len(table)-1]
	for i, w := range weights {
		if pick < w {
			chosen = table[i]
			break
		}
		pick -= w
	}
	amount := 1 + math.Floor(draw.next()*(1+sys.Richness/2))
	return Gain{Key: chosen.key, Amount: amount}
}

// grant credits a loot key to resources or inventory.
func grant(l *Ledger, g Gain) {
	switch g.Key {
	case keyEnergy:
		l.Resources.Energy += g.Amount
	case keyAltanerite:
		l.Resources.Altanerite += g.Amount
	case keyHomainionite:
		l.Resources.Homainionite += g.Amount
	default:
		l.Inventory.Add(g.Key, g.Amount)
	}
}
