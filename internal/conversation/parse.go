package conversation

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrParse marks input that could not be understood in the current state.
var ErrParse = errors.New("conversation: input not understood")

// ParseError describes why an input was not accepted. It matches ErrParse.
type ParseError struct {
	State  State
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("conversation: %s: cannot use %q: %s", e.State, e.Input, e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrParse }

var (
	odometerUnits = []string{"kilometres", "kilometers", "km"}
	volumeUnits   = []string{"litres", "liters", "litraa", "litre", "liter", "ltr", "l"}
	costUnits     = []string{"euroa", "euros", "euro", "eur", "€", "e"}

	yesWords    = []string{"y", "yes", "ok", "k", "kyllä", "kylla", "joo", "true", "1", "full", "täysi", "taysi", "👍"}
	noWords     = []string{"n", "no", "e", "ei", "false", "0", "partial", "vajaa", "👎"}
	skipWords   = []string{"skip", "/skip", "-", "ohita", "none"}
	cancelWords = []string{"/cancel", "cancel", "/peru", "peru", "stop"}

	plainNumber = regexp.MustCompile(`^-?\d+(\.\d*)?$`)

	compoundKm     = regexp.MustCompile(`(?i)(\d+[,.]?\d*)\s*km`)
	compoundLitres = regexp.MustCompile(`(?i)(\d+[,.]?\d*)\s*l`)
	compoundEuros  = regexp.MustCompile(`(?i)(\d+[,.]?\d*)\s*(?:€|e)`)
)

// ParseNumber reads a decimal number that may use a comma as the decimal
// separator and may carry one of the given unit suffixes, e.g. "40,5 L".
func ParseNumber(input string, units ...string) (float64, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	for _, u := range units {
		if strings.HasSuffix(s, u) {
			s = strings.TrimSpace(strings.TrimSuffix(s, u))
			break
		}
	}
	s = strings.ReplaceAll(s, ",", ".")
	if !plainNumber.MatchString(s) {
		return 0, fmt.Errorf("%q is not a number", input)
	}
	return strconv.ParseFloat(s, 64)
}

// ParseYesNo reads an affirmative or negative answer.
func ParseYesNo(input string) (bool, error) {
	s := normalize(input)
	if containsWord(yesWords, s) {
		return true, nil
	}
	if containsWord(noWords, s) {
		return false, nil
	}
	return false, fmt.Errorf("%q is neither yes nor no", input)
}

// IsSkip reports whether input asks to leave an optional field empty.
func IsSkip(input string) bool {
	return containsWord(skipWords, normalize(input))
}

// IsCancel reports whether input aborts the conversation.
func IsCancel(input string) bool {
	return containsWord(cancelWords, normalize(input))
}

// Compound holds the values found in a single-message entry such as
// "1000km 40L 60€". Odometer and FuelVolume are always set.
type Compound struct {
	Odometer   float64
	FuelVolume float64
	FuelCost   *float64
}

// ParseCompound extracts unit-suffixed values from free text. It only
// succeeds when both a kilometre and a litre value are present.
func ParseCompound(input string) (Compound, bool) {
	km, ok := suffixed(compoundKm, input)
	if !ok {
		return Compound{}, false
	}
	// Remove the kilometre match so "km" cannot be read as a litre suffix.
	rest := compoundKm.ReplaceAllString(input, " ")
	litres, ok := suffixed(compoundLitres, rest)
	if !ok {
		return Compound{}, false
	}
	c := Compound{Odometer: km, FuelVolume: litres}
	rest = compoundLitres.ReplaceAllString(rest, " ")
	if euros, ok := suffixed(compoundEuros, rest); ok {
		c.FuelCost = &euros
	}
	return c, true
}

func suffixed(re *regexp.Regexp, input string) (float64, bool) {
	m := re.FindStringSubmatch(input)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func normalize(input string) string {
	s := strings.ToLower(strings.TrimSpace(input))
	return strings.TrimRight(s, ".!")
}

func containsWord(words []string, s string) bool {
	for _, w := range words {
		if s == w {
			return true
		}
	}
	return false
}
