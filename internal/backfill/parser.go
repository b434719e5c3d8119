package backfill

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Record is one historical fill read from an export.
type Record struct {
	Line       int
	Date       time.Time
	Odometer   float64
	FuelVolume float64
	FuelCost   *float64
	FullTank   *bool
}

// legacyDoc is a document of the original bot's history collection as
// written by mongoexport. Values the bot could not parse were stored as
// NaN.
type legacyDoc struct {
	Date     time.Time `bson:"date"`
	Km       float64   `bson:"km"`
	Litres   float64   `bson:"litres"`
	EUR      *float64  `bson:"EUR"`
	FullTank *bool     `bson:"full_tank"`
}

// ParseHistoryFile reads a mongoexport JSONL file (relaxed or canonical
// extended JSON). Lines that cannot be decoded are returned as errors in
// bad, keyed by line number.
func ParseHistoryFile(path string) (records []Record, bad map[int]error, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()
	return ParseHistory(f)
}

func ParseHistory(r io.Reader) (records []Record, bad map[int]error, err error) {
	bad = make(map[int]error)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var doc legacyDoc
		if err := bson.UnmarshalExtJSON([]byte(text), false, &doc); err != nil {
			bad[line] = err
			continue
		}
		if doc.Date.IsZero() {
			bad[line] = fmt.Errorf("missing date")
			continue
		}
		if math.IsNaN(doc.Km) || math.IsNaN(doc.Litres) {
			bad[line] = fmt.Errorf("odometer or volume not recorded")
			continue
		}

		rec := Record{
			Line:       line,
			Date:       doc.Date.UTC(),
			Odometer:   doc.Km,
			FuelVolume: doc.Litres,
			FullTank:   doc.FullTank,
		}
		if doc.EUR != nil && !math.IsNaN(*doc.EUR) {
			cost := *doc.EUR
			rec.FuelCost = &cost
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scan: %w", err)
	}
	return records, bad, nil
}
