package game

import (
	"fmt"
	"math"
)

type PlanetType string

const (
	PlanetAltanerite   PlanetType = "altanerite"
	PlanetHomainionite PlanetType = "homainionite"
	PlanetGas          PlanetType = "gas"
	PlanetIce          PlanetType = "ice"
	PlanetRock         PlanetType = "rock"
	// PlanetHome types the fixed Zwamsha worlds' shared loot table.
	PlanetHome PlanetType = "home"
)

var generatedPlanetTypes = []PlanetType{PlanetAltanerite, PlanetHomainionite, PlanetGas, PlanetIce, PlanetRock}

type Star struct {
	Name  string `json:"name"`
	Class string `json:"class"`
}

type Planet struct {
	Name     string     `json:"name"`
	Type     PlanetType `json:"type"`
	Biome    PlanetType `json:"biome"`
	Size     int        `json:"size"`
	Distance float64    `json:"distance"`
	LootSeed int64      `json:"lootSeed"`
}

type System struct {
	Index    int      `json:"index"`
	Star     Star     `json:"star"`
	Planets  []Planet `json:"planets"`
	Richness float64  `json:"richness"`
}

// Planet looks a planet up by name.
func (s System) Planet(name string) (Planet, bool) {
	for _, p := range s.Planets {
		if p.Name == name {
			return p, true
		}
	}
	return Planet{}, false
}

// lcg is a 32-bit linear congruential generator (Numerical Recipes constants).
type lcg struct {
	state uint32
}

func newLCG(seed int64) *lcg {
	return &lcg{state: uint32(seed) ^ uint32(uint64(seed)>>32)}
}

// next returns a value in [0, 1).
func (g *lcg) next() float64 {
	g.state = g.state*1664525 + 1013904223
	return float64(g.state) / 4294967296.0
}

func (g *lcg) intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(g.next() * float64(n))
}

// zwamsha is the fixed home system every player starts in.
var zwamsha = System{
	Index:    0,
	Star:     Star{Name: HomeSystemName, Class: "K"},
	Richness: 1,
	Planets: []Planet{
		{Name: "Altania", Type: PlanetHome, Biome: PlanetRock, Size: 3, Distance: 1.0, LootSeed: 1101},
		{Name: "Veyra", Type: PlanetHome, Biome: PlanetGas, Size: 5, Distance: 2.2, LootSeed: 2203},
		{Name: "Kethis", Type: PlanetHome, Biome: PlanetIce, Size: 2, Distance: 3.1, LootSeed: 3307},
		{Name: "Orun", Type: PlanetHome, Biome: PlanetAltanerite, Size: 4, Distance: 4.4, LootSeed: 4409},
	},
}

var (
	starPrefixes = []string{"Ka", "Vel", "Tor", "Shi", "Ny", "Ast", "Qu", "Zer", "Ori", "Elu", "Mar", "Dra"}
	starSuffixes = []string{"thar", "ron", "vex", "lune", "dor", "mira", "kesh", "zun", "phos", "tal"}
	starClasses  = []string{"O", "B", "A", "F", "G", "K", "M"}
	romanNumeral = []string{"I", "II", "III", "IV", "V", "VI", "VII", "VIII"}
)

// GenerateSystem is a pure function of (seed, index). Index 0 is Zwamsha.
func GenerateSystem(seed int64, index int, b Balance) System {
	if index <= 0 {
		out := zwamsha
		out.Planets = append([]Planet(nil), zwamsha.Planets...)
		return out
	}
	rng := newLCG(seed + int64(index)*10007)
	star := Star{
		Name:  starPrefixes[rng.intn(len(starPrefixes))] + starSuffixes[rng.intn(len(starSuffixes))],
		Class: starClasses[rng.intn(len(starClasses))],
	}
	count := 4 + rng.intn(5)
	planets := make([]Planet, 0, count)
	distance := 0.0
	for i := 0; i < count; i++ {
		kind := generatedPlanetTypes[rng.intn(len(generatedPlanetTypes))]
		distance += 0.6 + rng.next()*1.8
		planets = append(planets, Planet{
			Name:     fmt.Sprintf("%s %s", star.Name, romanNumeral[i]),
			Type:     kind,
			Biome:    kind,
			Size:     1 + rng.intn(6),
			Distance: math.Round(distance*100) / 100,
			LootSeed: int64(rng.next() * 1e9),
		})
	}
	return System{
		Index:    index,
		Star:     star,
		Planets:  planets,
		Richness: b.Richness(index),
	}
}
