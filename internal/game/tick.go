package game

import (
	"math"
	"time"
)

// TickReport describes what one Advance call changed.
type TickReport struct {
	ElapsedSeconds  float64  `json:"elapsedSeconds"`
	ProducedEnergy  float64  `json:"producedEnergy"`
	FMEnergy        float64  `json:"fmEnergy"`
	AlexandriteUsed float64  `json:"alexandriteUsed"`
	Altanerite      float64  `json:"altanerite"`
	Homainionite    float64  `json:"homainionite"`
	CraftingEnergy  float64  `json:"craftingEnergy"`
	Completed       []string `json:"completed,omitempty"`
}

// Advance brings l from LastTickAt up to now. Order matters: production,
// frequency manipulator, minerals, crafting diversion, then the timestamp.
// A second call with the same now changes nothing but LastTickAt.
func Advance(l *Ledger, now time.Time, b Balance) TickReport {
	var rep TickReport
	elapsed := 0.0
	if !l.LastTickAt.IsZero() {
		elapsed = math.Max(0, now.Sub(l.LastTickAt).Seconds())
	}
	rep.ElapsedSeconds = elapsed
	if elapsed > 0 {
		rates := ProductionRates(l.Generators, b)

		rep.ProducedEnergy = elapsed * rates.EnergyPerSec
		l.Resources.Energy += rep.ProducedEnergy

		rep.AlexandriteUsed, rep.FMEnergy = burnFrequencyManipulator(l, elapsed)
		l.Resources.Energy += rep.FMEnergy

		rep.Altanerite = elapsed * rates.AltaneritePerSec
		rep.Homainionite = elapsed * rates.HomainionitePerSec
		l.Resources.Altanerite += rep.Altanerite
		l.Resources.Homainionite += rep.Homainionite

		budget := rep.ProducedEnergy * clampPct(l.EnergyAllocation.CraftingPct) / 100
		rep.CraftingEnergy, rep.Completed = drainCraftingQueue(l, budget)
		l.Resources.Energy = clampZero(l.Resources.Energy - rep.CraftingEnergy)
	}
	l.LastTickAt = now
	return rep
}

func burnFrequencyManipulator(l *Ledger, elapsed float64) (alex, energy float64) {
	want := l.FM.AlexPerSecond * elapsed
	if want <= 0 {
		return 0, 0
	}
	switch {
	case l.FM.FuelBuffer > 0:
		alex = math.Min(l.FM.FuelBuffer, want)
		l.FM.FuelBuffer = clampZero(l.FM.FuelBuffer - alex)
	case l.FM.AutoFuel:
		alex = math.Min(l.Inventory.Alexandrite, want)
		l.Inventory.Alexandrite = clampZero(l.Inventory.Alexandrite - alex)
	}
	return alex, alex * l.FM.EnergyPerAlex
}

// drainCraftingQueue spends budget on jobs front to back and credits one
// unit per finished job, to resources for resource keys and to inventory
// otherwise. It returns the energy actually spent.
func drainCraftingQueue(l *Ledger, budget float64) (spent float64, completed []string) {
	queue := l.CraftingQueue
	for len(queue) > 0 && budget > energyEpsilon {
		job := &queue[0]
		take := math.Min(budget, job.RemainingEnergy)
		job.RemainingEnergy -= take
		budget -= take
		spent += take
		if job.RemainingEnergy > energyEpsilon {
			break
		}
		grant(l, Gain{Key: job.Type, Amount: 1})
		completed = append(completed, job.Type)
		queue = queue[1:]
	}
	l.CraftingQueue = append(make([]CraftJob, 0, len(queue)), queue...)
	return spent, completed
}
