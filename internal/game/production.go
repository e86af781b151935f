package game

// Rates is per-second passive production.
type Rates struct {
	EnergyPerSec       float64 `json:"energyPerSec"`
	AltaneritePerSec   float64 `json:"altaneritePerSec"`
	HomainionitePerSec float64 `json:"homainionitePerSec"`
}

// ProductionRates is a pure function of generator counts. The energy
// baseline applies even with no generators built.
func ProductionRates(g Generators, b Balance) Rates {
	return Rates{
		EnergyPerSec:       b.BaseEnergyPerSec + float64(g.SolarPanels)*b.SolarEnergyPerSec + float64(g.Reactors)*b.ReactorEnergyPerSec,
		AltaneritePerSec:   float64(g.Miners) * b.MinerAltaneritePerSec,
		HomainionitePerSec: float64(g.Miners) * b.MinerHomainionitePerSec,
	}
}
