package valuation

import (
	"time"

	"github.com/sgrimes/folio/internal/models"
)

// periodStart resolves a performance period string to its inclusive start
// date relative to now. The zero time means "from the beginning" (ALL).
func periodStart(period string, now time.Time) (time.Time, error) {
	today := models.DateOf(now)

	switch period {
	case "1D":
		return today.AddDate(0, 0, -1), nil
	case "3D":
		return today.AddDate(0, 0, -3), nil
	case "5D":
		return today.AddDate(0, 0, -5), nil
	case "1W":
		return today.AddDate(0, 0, -7), nil
	case "1M":
		return today.AddDate(0, -1, 0), nil
	case "3M":
		return today.AddDate(0, -3, 0), nil
	case "6M":
		return today.AddDate(0, -6, 0), nil
	case "YTD":
		return time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, time.UTC), nil
	case "1Y":
		return today.AddDate(-1, 0, 0), nil
	case "3Y":
		return today.AddDate(-3, 0, 0), nil
	case "5Y":
		return today.AddDate(-5, 0, 0), nil
	case "ALL":
		return time.Time{}, nil
	default:
		return time.Time{}, &models.ValidationError{Field: "period", Reason: "unknown period " + period}
	}
}
