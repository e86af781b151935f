package game

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"lukechampine.com/blake3"
)

// Digest fingerprints a ledger so REST and push clients can tell whether
// they are looking at the same state.
func Digest(l Ledger) string {
	raw, err := json.Marshal(l)
	if err != nil {
		return ""
	}
	sum := blake3.Sum256(raw)
	return hex.EncodeToString(sum[:16])
}

func NewSnapshot(l Ledger, b Balance) Snapshot {
	return Snapshot{
		Game:   l,
		Rates:  ProductionRates(l.Generators, b),
		Digest: Digest(l),
	}
}

// StoryView is the lore presentation of a ledger. It is derived, never stored.
type StoryView struct {
	Nation  string   `json:"nation"`
	Title   string   `json:"title"`
	Chapter string   `json:"chapter"`
	Lines   []string `json:"lines"`
}

var chapterNames = []string{
	"The Zwamsha Awakening",
	"First Light Beyond",
	"The Outer Reaches",
	"Conqueror of Stars",
}

func Story(l Ledger, b Balance) StoryView {
	rates := ProductionRates(l.Generators, b)
	total := l.Generators.SolarPanels + l.Generators.Reactors + l.Generators.Miners

	title := "Settler"
	switch {
	case l.SystemIndex >= 5 || l.Ship.Level >= 5:
		title = "Conqueror"
	case l.Ship.HasShip:
		title = "Voyager"
	case total >= 10:
		title = "Governor"
	case total >= 3:
		title = "Steward"
	}

	chapter := min(len(chapterNames)-1, (l.SystemIndex+2)/3)
	if l.SystemIndex == 0 {
		chapter = 0
	}

	nation := l.NationName
	if nation == "" {
		nation = "The nameless colony"
	}
	lines := []string{
		fmt.Sprintf("%s draws %s energy from the void every second.", nation, formatAmount(roundTo(rates.EnergyPerSec, 2))),
	}
	if total == 0 {
		lines = append(lines, "No generator hums yet; the colony lives on starlight alone.")
	} else {
		lines = append(lines, fmt.Sprintf("%d solar arrays, %d reactors and %d miners stand on %s.",
			l.Generators.SolarPanels, l.Generators.Reactors, l.Generators.Miners, l.Location.Planet))
	}
	if l.Ship.HasShip {
		where := "rests on " + l.Location.Planet
		if l.Location.Mode == ModeSpace {
			where = "drifts above " + l.Location.System
		}
		lines = append(lines, fmt.Sprintf("A level %d vessel with range %d %s.", l.Ship.Level, l.Ship.Range, where))
	}
	if n := len(l.CraftingQueue); n > 0 {
		kinds := make([]string, 0, n)
		for _, j := range l.CraftingQueue {
			kinds = append(kinds, j.Type)
		}
		lines = append(lines, fmt.Sprintf("The forges work on %s.", strings.Join(kinds, ", ")))
	}
	if l.FM.FuelBuffer > 0 || l.FM.AutoFuel {
		lines = append(lines, "The Frequency Manipulator sings on alexandrite.")
	}
	return StoryView{
		Nation:  nation,
		Title:   title,
		Chapter: fmt.Sprintf("Chapter %d: %s", chapter+1, chapterNames[chapter]),
		Lines:   lines,
	}
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
