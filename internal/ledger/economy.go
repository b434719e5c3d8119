package ledger

import "time"

// Segment is the run between two consecutive full-tank fills.
type Segment struct {
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Distance float64   `json:"distance"`
	Volume   float64   `json:"volume"`
	Economy  float64   `json:"distance_per_volume"`
}

// EconomyResult is the derived fuel economy of an owner. When Sufficient
// is false fewer than two full-tank fills were found and every numeric
// field is meaningless.
type EconomyResult struct {
	Sufficient    bool      `json:"sufficient"`
	FullTankFills int       `json:"full_tank_fills"`
	From          time.Time `json:"from,omitzero"`
	To            time.Time `json:"to,omitzero"`
	Distance      float64   `json:"distance"`
	Volume        float64   `json:"volume"`

	// DistancePerVolume is distance units per volume unit, e.g. km/L.
	DistancePerVolume float64 `json:"distance_per_volume"`

	// VolumePer100 is volume per 100 distance units, e.g. L/100km. Nil
	// when no distance was travelled.
	VolumePer100 *float64 `json:"volume_per_100,omitempty"`

	// Cost sums the known costs of the run. CostComplete is false when at
	// least one entry in the run has no cost recorded.
	Cost         float64 `json:"cost"`
	CostComplete bool    `json:"cost_complete"`

	Segments []Segment `json:"segments,omitempty"`
}

// ComputeEconomy derives fuel economy from entries sorted by timestamp.
// The run starts at the first full-tank fill and ends at the last one;
// fuel of the opening fill is not counted because it was burnt before the
// run began.
func ComputeEconomy(entries []Entry) EconomyResult {
	var full []int
	for i, e := range entries {
		if e.FullTank {
			full = append(full, i)
		}
	}

	res := EconomyResult{FullTankFills: len(full)}
	if len(full) < 2 {
		return res
	}

	first, last := full[0], full[len(full)-1]
	res.Sufficient = true
	res.From = entries[first].Timestamp
	res.To = entries[last].Timestamp
	res.Distance = entries[last].Odometer - entries[first].Odometer
	res.CostComplete = true

	for i := first + 1; i <= last; i++ {
		res.Volume += entries[i].FuelVolume
		if cost, ok := entries[i].Cost(); ok {
			res.Cost += cost
		} else {
			res.CostComplete = false
		}
	}
	res.DistancePerVolume = res.Distance / res.Volume
	if res.Distance > 0 {
		per100 := res.Volume / res.Distance * 100
		res.VolumePer100 = &per100
	}

	for k := 1; k < len(full); k++ {
		a, b := full[k-1], full[k]
		seg := Segment{
			From:     entries[a].Timestamp,
			To:       entries[b].Timestamp,
			Distance: entries[b].Odometer - entries[a].Odometer,
		}
		for i := a + 1; i <= b; i++ {
			seg.Volume += entries[i].FuelVolume
		}
		seg.Economy = seg.Distance / seg.Volume
		res.Segments = append(res.Segments, seg)
	}
	return res
}
