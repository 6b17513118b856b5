package thermal

import "codeberg.org/mutker/otnpmon/internal/errors"

// Level is one fan control step. Up is the inlet temperature above which
// the fans move to the next level; Down is the temperature at or below
// which fans on the next level fall back to this one. Zero disables either.
type Level struct {
	Name string
	Rate int
	Up   float64
	Down float64
}

// DefaultLevels is the stock fan curve.
var DefaultLevels = []Level{
	{Name: "S0", Rate: 30, Up: 30, Down: 0},
	{Name: "S1", Rate: 40, Up: 35, Down: 33},
	{Name: "S2", Rate: 50, Up: 40, Down: 38},
	{Name: "S3", Rate: 65, Up: 45, Down: 43},
	{Name: "S4", Rate: 80, Up: 50, Down: 48},
	{Name: "S5", Rate: 100, Up: 0, Down: 0},
}

func validateLevels(levels []Level) error {
	errFactory := errors.New()
	if len(levels) < 2 {
		return errFactory.WithMessage(ErrInvalidLevels, "at least two levels are required")
	}
	for i := 1; i < len(levels); i++ {
		if levels[i].Rate <= levels[i-1].Rate {
			return errFactory.WithData(ErrInvalidLevels, levels[i].Name)
		}
	}
	if top := levels[len(levels)-1]; top.Rate > 100 {
		return errFactory.WithData(ErrInvalidLevels, top.Name)
	}
	return nil
}

// levelOf maps a commanded rate onto the highest level not above it.
func levelOf(levels []Level, rate int) int {
	level := 0
	for i, l := range levels {
		if l.Rate <= rate {
			level = i
		}
	}
	return level
}

// nextLevel moves at most one step per call. Downshift uses the lower
// level's threshold so the two directions never trigger at the same
// temperature.
func nextLevel(levels []Level, level int, temp float64) int {
	if level > 0 {
		if down := levels[level-1].Down; down > 0 && temp <= down {
			return level - 1
		}
	}
	if up := levels[level].Up; up > 0 && temp > up && level < len(levels)-1 {
		return level + 1
	}
	return level
}
