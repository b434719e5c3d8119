package telegram

import (
	"fmt"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/tenere/internal/conversation"
	"github.com/MikeSquared-Agency/tenere/internal/dispatcher"
	"github.com/MikeSquared-Agency/tenere/internal/ledger"
)

const helpText = `Log a fill-up by answering a few questions, or send it in one go: "1000km 40L 60€".
/fill starts a new entry
/cancel drops the entry in progress
/skip leaves out the cost
/economy [days] shows fuel economy
/history [n] lists the latest fills`

var questions = map[dispatcher.Kind]string{
	dispatcher.KindAskOdometer:   "What does the odometer read (km)?",
	dispatcher.KindAskFuelVolume: "How many litres did you fill?",
	dispatcher.KindAskFuelCost:   "What did it cost (€)? Send skip if you don't know.",
	dispatcher.KindAskFullTank:   "Did you fill the tank up? (yes/no)",
}

// Render turns an instruction into message text.
func Render(in dispatcher.Instruction) string {
	var sb strings.Builder

	if in.Expired {
		sb.WriteString("Your unfinished entry timed out and was discarded.\n")
	}
	if in.Clarify && in.Reason != "" {
		fmt.Fprintf(&sb, "Sorry, I didn't get that: %s.\n", in.Reason)
	}

	switch in.Kind {
	case dispatcher.KindAskOdometer, dispatcher.KindAskFuelVolume, dispatcher.KindAskFuelCost, dispatcher.KindAskFullTank:
		sb.WriteString(questions[in.Kind])
	case dispatcher.KindAskConfirm:
		fmt.Fprintf(&sb, "Save %s? (yes/no)", draftLine(in.Draft))
	case dispatcher.KindCommitted:
		if in.Entry != nil {
			fmt.Fprintf(&sb, "Fuelled %s.", entryLine(*in.Entry))
		} else {
			sb.WriteString("Saved.")
		}
	case dispatcher.KindRejected:
		fmt.Fprintf(&sb, "Not saved: %s. Let's start over.\n%s", in.Reason, questions[dispatcher.KindAskOdometer])
	case dispatcher.KindCancelled:
		if in.Reason != "" {
			fmt.Fprintf(&sb, "Nothing changed, %s.", in.Reason)
		} else {
			sb.WriteString("Cancelled, nothing was saved.")
		}
	case dispatcher.KindFailed:
		fmt.Fprintf(&sb, "Could not save right now: %s.", in.Reason)
		if in.Draft != nil {
			fmt.Fprintf(&sb, "\nSave %s? (yes/no)", draftLine(in.Draft))
		}
	case dispatcher.KindEconomy:
		sb.WriteString(economyText(in.Economy))
	case dispatcher.KindHistory:
		sb.WriteString(historyText(in.History))
	default:
		sb.WriteString(helpText)
	}
	return sb.String()
}

func fillLine(volume float64, cost *float64, odometer float64) string {
	if cost != nil {
		return fmt.Sprintf("%.2fL, %.2f€ @ %.0fkm", volume, *cost, odometer)
	}
	return fmt.Sprintf("%.2fL @ %.0fkm", volume, odometer)
}

func tankWord(full bool) string {
	if full {
		return "full tank"
	}
	return "partial fill"
}

func entryLine(e ledger.Entry) string {
	return fmt.Sprintf("%s (%s), %s", fillLine(e.FuelVolume, e.FuelCost, e.Odometer), e.Timestamp.Format(time.DateOnly), tankWord(e.FullTank))
}

func draftLine(f *conversation.Fields) string {
	if f == nil || f.FuelVolume == nil || f.Odometer == nil {
		return "this entry"
	}
	line := fillLine(*f.FuelVolume, f.FuelCost, *f.Odometer)
	if f.FullTank != nil {
		line += ", " + tankWord(*f.FullTank)
	}
	return line
}

func economyText(res *ledger.EconomyResult) string {
	if res == nil || !res.Sufficient {
		n := 0
		if res != nil {
			n = res.FullTankFills
		}
		return fmt.Sprintf("Not enough data yet: economy needs two full-tank fills, found %d.", n)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s to %s: %.0f km on %.2f L\n",
		res.From.Format(time.DateOnly), res.To.Format(time.DateOnly), res.Distance, res.Volume)
	fmt.Fprintf(&sb, "%.2f km/L", res.DistancePerVolume)
	if res.VolumePer100 != nil {
		fmt.Fprintf(&sb, " (%.2f L/100km)", *res.VolumePer100)
	}
	if res.Cost > 0 {
		fmt.Fprintf(&sb, "\nCost %.2f€", res.Cost)
		if !res.CostComplete {
			sb.WriteString(" (some fills have no cost)")
		}
	}
	return sb.String()
}

func historyText(entries []ledger.Entry) string {
	if len(entries) == 0 {
		return "No fills recorded yet."
	}
	var sb strings.Builder
	for i, e := range entries {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(entryLine(e))
	}
	return sb.String()
}
