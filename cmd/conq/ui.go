package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	cl "altanian/internal/cli"
	"altanian/internal/game"

	"github.com/fatih/color"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
	muted       = color.New(color.FgHiBlack)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func renderState(out cl.GameResponse) error {
	l := out.Game
	accent.Printf("\n== %s ==\n", strings.ToUpper(nonEmpty(l.NationName, "unnamed nation")))
	muted.Printf("%s / %s / %s (%s)  system #%d\n",
		l.Location.Galaxy, l.Location.System, l.Location.Planet, l.Location.Mode, l.SystemIndex)
	if err := renderResources(l); err != nil {
		return err
	}
	fmt.Printf("%-14s %s/s energy  %s/s altanerite  %s/s homainionite\n", "RATES",
		formatAmount(out.Rates.EnergyPerSec),
		formatAmount(out.Rates.AltaneritePerSec),
		formatAmount(out.Rates.HomainionitePerSec))
	fmt.Printf("%-14s solar=%d reactors=%d miners=%d\n", "GENERATORS",
		l.Generators.SolarPanels, l.Generators.Reactors, l.Generators.Miners)
	if err := renderShip(l); err != nil {
		return err
	}
	renderInventory(l.Inventory)
	if len(l.CraftingQueue) > 0 {
		if err := renderQueue(l); err != nil {
			return err
		}
	}
	muted.Printf("digest %s\n\n", out.Digest)
	return nil
}

func renderResources(l game.Ledger) error {
	fmt.Printf("%-14s %s energy  %s altanerite  %s homainionite\n", "RESOURCES",
		colorizeAmount(l.Resources.Energy),
		colorizeAmount(l.Resources.Altanerite),
		colorizeAmount(l.Resources.Homainionite))
	return nil
}

func renderShip(l game.Ledger) error {
	if !l.Ship.HasShip {
		fmt.Printf("%-14s %s\n", "SHIP", muted.Sprint("none"))
		return nil
	}
	fmt.Printf("%-14s level %d, range %d, %s at %s\n", "SHIP",
		l.Ship.Level, l.Ship.Range, l.Location.Mode, nonEmpty(l.Location.Planet, l.Location.System))
	return nil
}

func renderInventory(inv game.Inventory) {
	parts := make([]string, 0)
	for _, k := range inv.Keys() {
		if v := inv.Get(k); v > 0 {
			parts = append(parts, fmt.Sprintf("%s=%s", k, formatAmount(v)))
		}
	}
	if len(parts) == 0 {
		fmt.Printf("%-14s %s\n", "INVENTORY", muted.Sprint("empty"))
		return
	}
	fmt.Printf("%-14s %s\n", "INVENTORY", strings.Join(parts, " "))
}

func renderQueue(l game.Ledger) error {
	accent.Printf("CRAFTING (%s%% of new energy)\n", formatAmount(l.EnergyAllocation.CraftingPct))
	if len(l.CraftingQueue) == 0 {
		printInfo("  queue empty")
		return nil
	}
	for i, j := range l.CraftingQueue {
		fmt.Printf("  %2d  %-16s %12s energy left\n", i, truncate(j.Type, 16), formatAmount(j.RemainingEnergy))
	}
	return nil
}

func renderFleet(l game.Ledger) error {
	f := l.Fleet
	accent.Println("\n== FLEET ==")
	fmt.Printf("%-20s %d\n", "main ships", f.MainShips)
	fmt.Printf("%-20s %d\n", "comm ships", f.CommShips)
	fmt.Printf("%-20s %d\n", "surveillance ships", f.SurveillanceShips)
	fmt.Printf("%-20s %d\n", "support wings", f.SupportWings)
	fmt.Printf("%-20s %d (level %d)\n", "alexandrite army", f.AlexandriteArmy.Count, f.AlexandriteArmy.Level)
	fmt.Printf("%-20s %d (level %d)\n", "topaz troopers", f.TopazTroopers.Count, f.TopazTroopers.Level)
	muted.Printf("travel fleet size %d\n\n", f.Size())
	return nil
}

func renderSystem(sys game.System) error {
	accent.Printf("\n== %s (class %s) ==\n", sys.Star.Name, sys.Star.Class)
	muted.Printf("system #%d  richness x%s\n", sys.Index, formatAmount(sys.Richness))
	fmt.Printf("%-22s %-14s %-14s %6s %10s\n", "PLANET", "TYPE", "BIOME", "SIZE", "DISTANCE")
	for _, p := range sys.Planets {
		fmt.Printf("%-22s %-14s %-14s %6d %10s\n",
			truncate(p.Name, 22), p.Type, p.Biome, p.Size, formatAmount(p.Distance))
	}
	fmt.Println()
	return nil
}

func renderQuote(q game.TravelQuote) error {
	accent.Printf("\n== JUMP %d -> %d ==\n", q.Current, q.Target)
	fmt.Printf("%-10s %d\n", "distance", q.Distance)
	fmt.Printf("%-10s %s energy\n", "cost", formatAmount(q.Cost))
	fmt.Printf("%-10s %s\n", "in space", yesNo(q.InSpace))
	fmt.Printf("%-10s %s\n", "range", yesNo(q.RangeOK))
	fmt.Printf("%-10s %s\n\n", "energy", yesNo(q.EnergyOK))
	return nil
}

func renderStory(s game.StoryView) error {
	accent.Printf("\n%s, %s\n", s.Nation, s.Title)
	muted.Println(s.Chapter)
	for _, line := range s.Lines {
		fmt.Println("  " + line)
	}
	fmt.Println()
	return nil
}

func yesNo(ok bool) string {
	if ok {
		return success.Sprint("ok")
	}
	return danger.Sprint("no")
}

func colorizeAmount(v float64) string {
	text := formatAmount(v)
	if v > 0 {
		return success.Sprint(text)
	}
	return neutral.Sprint(text)
}

func formatAmount(v float64) string {
	text := strconv.FormatFloat(v, 'f', 2, 64)
	whole, frac, _ := strings.Cut(text, ".")
	n, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return text
	}
	out := comma(n)
	if n == 0 && strings.HasPrefix(whole, "-") {
		out = "-" + out
	}
	if frac == "00" {
		return out
	}
	return out + "." + frac
}

func comma(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	b.WriteString(sign)
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		if len(s) > pre {
			b.WriteByte(',')
		}
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
