package game

import "time"

type Mode string

const (
	ModePlanet Mode = "planet"
	ModeSpace  Mode = "space"
)

const (
	GeneratorSolarPanels = "solarPanels"
	GeneratorReactors    = "reactors"
	GeneratorMiners      = "miners"
)

// Ledger is the whole persisted economy of one player.
type Ledger struct {
	SchemaVersion    int                  `json:"schemaVersion"`
	UserID           string               `json:"userId"`
	NationName       string               `json:"nationName"`
	Resources        Resources            `json:"resources"`
	Inventory        Inventory            `json:"inventory"`
	Generators       Generators           `json:"generators"`
	Fleet            Fleet                `json:"fleet"`
	Ship             Ship                 `json:"ship"`
	Location         Location             `json:"location"`
	SystemIndex      int                  `json:"systemIndex"`
	Seed             int64                `json:"seed"`
	EnergyAllocation EnergyAllocation     `json:"energyAllocation"`
	CraftingQueue    []CraftJob           `json:"craftingQueue"`
	FM               FrequencyManipulator `json:"fm"`
	ClickPower       int                  `json:"clickPower"`
	Harvests         int64                `json:"harvests"`
	LastTickAt       time.Time            `json:"lastTickAt"`
	CreatedAt        time.Time            `json:"createdAt"`
	UpdatedAt        time.Time            `json:"updatedAt"`
}

type Resources struct {
	Energy       float64 `json:"energy"`
	Altanerite   float64 `json:"altanerite"`
	Homainionite float64 `json:"homainionite"`
}

type Generators struct {
	SolarPanels int `json:"solarPanels"`
	Reactors    int `json:"reactors"`
	Miners      int `json:"miners"`
}

func (g *Generators) slot(kind string) *int {
	switch kind {
	case GeneratorSolarPanels:
		return &g.SolarPanels
	case GeneratorReactors:
		return &g.Reactors
	case GeneratorMiners:
		return &g.Miners
	}
	return nil
}

type UnitGroup struct {
	Count int `json:"count"`
	Level int `json:"level"`
}

// Fleet is declarative; only its size feeds travel cost.
type Fleet struct {
	MainShips         int       `json:"mainShips"`
	CommShips         int       `json:"commShips"`
	SurveillanceShips int       `json:"surveillanceShips"`
	SupportWings      int       `json:"supportWings"`
	AlexandriteArmy   UnitGroup `json:"alexandriteArmy"`
	TopazTroopers     UnitGroup `json:"topazTroopers"`
}

// Size counts hulls that travel with the ship. An empty fleet is the ship alone.
func (f Fleet) Size() int {
	n := f.MainShips + f.CommShips + f.SurveillanceShips + f.SupportWings
	if n < 1 {
		return 1
	}
	return n
}

type Ship struct {
	HasShip bool `json:"hasShip"`
	Level   int  `json:"level"`
	Range   int  `json:"range"`
}

type Location struct {
	Galaxy string `json:"galaxy"`
	System string `json:"system"`
	Planet string `json:"planet"`
	Mode   Mode   `json:"mode"`
}

type EnergyAllocation struct {
	CraftingPct float64 `json:"craftingPct"`
}

type CraftJob struct {
	Type            string  `json:"type"`
	RemainingEnergy float64 `json:"remainingEnergy"`
}

// FrequencyManipulator burns alexandrite into energy over time.
type FrequencyManipulator struct {
	FuelBuffer    float64 `json:"fuelBuffer"`
	AutoFuel      bool    `json:"autoFuel"`
	AlexPerSecond float64 `json:"alexPerSecond"`
	EnergyPerAlex float64 `json:"energyPerAlex"`
}

// Clone returns a copy sharing no mutable state with l.
func (l Ledger) Clone() Ledger {
	out := l
	out.Inventory = l.Inventory.clone()
	if l.CraftingQueue != nil {
		out.CraftingQueue = append(make([]CraftJob, 0, len(l.CraftingQueue)), l.CraftingQueue...)
	}
	return out
}

// NewLedger builds the starting ledger of a fresh player.
func NewLedger(userID, nationName string, seed int64, now time.Time, b Balance) Ledger {
	home := GenerateSystem(seed, 0, b)
	l := Ledger{
		SchemaVersion: SchemaVersion,
		UserID:        userID,
		NationName:    nationName,
		Fleet: Fleet{
			AlexandriteArmy: UnitGroup{Level: 1},
			TopazTroopers:   UnitGroup{Level: 1},
		},
		Location: Location{
			Galaxy: HomeGalaxyName,
			System: home.Star.Name,
			Planet: home.Planets[0].Name,
			Mode:   ModePlanet,
		},
		Seed:          seed,
		CraftingQueue: []CraftJob{},
		FM: FrequencyManipulator{
			AlexPerSecond: b.FMAlexPerSecond,
			EnergyPerAlex: b.FMEnergyPerAlex,
		},
		ClickPower: b.ClickPower,
		LastTickAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return l
}

// Snapshot is what every read and mutation hands back to clients.
type Snapshot struct {
	Game   Ledger `json:"game"`
	Rates  Rates  `json:"rates"`
	Digest string `json:"digest"`
}

type Gain struct {
	Key    string  `json:"key"`
	Amount float64 `json:"amount"`
}

type TravelRequest struct {
	Direction   string `json:"direction,omitempty"`
	TargetIndex *int   `json:"targetIndex,omitempty"`
}

type TravelQuote struct {
	Current  int     `json:"current"`
	Target   int     `json:"target"`
	Distance int     `json:"distance"`
	Cost     float64 `json:"cost"`
	InSpace  bool    `json:"inSpace"`
	RangeOK  bool    `json:"rangeOk"`
	EnergyOK bool    `json:"energyOk"`
}

// FleetUpdate overwrites only the fields that are set.
type FleetUpdate struct {
	MainShips         *int       `json:"mainShips,omitempty"`
	CommShips         *int       `json:"commShips,omitempty"`
	SurveillanceShips *int       `json:"surveillanceShips,omitempty"`
	SupportWings      *int       `json:"supportWings,omitempty"`
	AlexandriteArmy   *UnitGroup `json:"alexandriteArmy,omitempty"`
	TopazTroopers     *UnitGroup `json:"topazTroopers,omitempty"`
}
