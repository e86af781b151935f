package game

import (
	"encoding/json"
	"regexp"
	"sort"
)

type Material string

const (
	Wood          Material = "wood"
	Stone         Material = "stone"
	Iron          Material = "iron"
	Copper        Material = "copper"
	Plastic       Material = "plastic"
	Glass         Material = "glass"
	Alexandrite   Material = "alexandrite"
	Fuel          Material = "fuel"
	RefinedIron   Material = "refinedIron"
	RefinedCopper Material = "refinedCopper"
	RefinedGlass  Material = "refinedGlass"
)

// Materials lists every known inventory slot in display order.
var Materials = []Material{
	Wood, Stone, Iron, Copper, Plastic, Glass, Alexandrite, Fuel,
	RefinedIron, RefinedCopper, RefinedGlass,
}

// Resource keys a loot roll may name instead of a material.
const (
	keyEnergy       = "energy"
	keyAltanerite   = "altanerite"
	keyHomainionite = "homainionite"
)

var itemKeyRE = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,31}$`)

// Inventory holds a count per material. Keys outside Materials land in
// Extra so documents written by newer clients survive a round trip.
type Inventory struct {
	Wood          float64
	Stone         float64
	Iron          float64
	Copper        float64
	Plastic       float64
	Glass         float64
	Alexandrite   float64
	Fuel          float64
	RefinedIron   float64
	RefinedCopper float64
	RefinedGlass  float64

	Extra map[string]float64
}

func (inv *Inventory) slot(m Material) *float64 {
	switch m {
	case Wood:
		return &inv.Wood
	case Stone:
		return &inv.Stone
	case Iron:
		return &inv.Iron
	case Copper:
		return &inv.Copper
	case Plastic:
		return &inv.Plastic
	case Glass:
		return &inv.Glass
	case Alexandrite:
		return &inv.Alexandrite
	case Fuel:
		return &inv.Fuel
	case RefinedIron:
		return &inv.RefinedIron
	case RefinedCopper:
		return &inv.RefinedCopper
	case RefinedGlass:
		return &inv.RefinedGlass
	}
	return nil
}

// Get returns the count for key, zero when absent.
func (inv Inventory) Get(key string) float64 {
	if p := inv.slot(Material(key)); p != nil {
		return *p
	}
	return inv.Extra[key]
}

func (inv *Inventory) Set(key string, v float64) {
	v = clampZero(v)
	if p := inv.slot(Material(key)); p != nil {
		*p = v
		return
	}
	if inv.Extra == nil {
		inv.Extra = make(map[string]float64)
	}
	inv.Extra[key] = v
}

func (inv *Inventory) Add(key string, delta float64) {
	inv.Set(key, inv.Get(key)+delta)
}

func (inv Inventory) clone() Inventory {
	out := inv
	if inv.Extra != nil {
		out.Extra = make(map[string]float64, len(inv.Extra))
		for k, v := range inv.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

func (inv *Inventory) clampNegatives() {
	for _, m := range Materials {
		p := inv.slot(m)
		*p = clampZero(*p)
	}
	for k, v := range inv.Extra {
		if !itemKeyRE.MatchString(k) {
			delete(inv.Extra, k)
			continue
		}
		inv.Extra[k] = clampZero(v)
	}
}

// Keys returns known materials followed by sorted extra keys.
func (inv Inventory) Keys() []string {
	out := make([]string, 0, len(Materials)+len(inv.Extra))
	for _, m := range Materials {
		out = append(out, string(m))
	}
	extra := make([]string, 0, len(inv.Extra))
	for k := range inv.Extra {
		extra = append(extra, k)
	}
	sort.Strings(extra)
	return append(out, extra...)
}

func (inv Inventory) MarshalJSON() ([]byte, error) {
	flat := make(map[string]float64, len(Materials)+len(inv.Extra))
	for k, v := range inv.Extra {
		flat[k] = v
	}
	for _, m := range Materials {
		flat[string(m)] = *inv.slot(m)
	}
	return json.Marshal(flat)
}

func (inv *Inventory) UnmarshalJSON(raw []byte) error {
	var flat map[string]float64
	if err := json.Unmarshal(raw, &flat); err != nil {
		return err
	}
	*inv = Inventory{}
	for k, v := range flat {
		inv.Set(k, v)
	}
	return nil
}
