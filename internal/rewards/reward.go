// Package rewards projects a consultant's annual earnings and rejects new
// consultation requests that would push the projection over the cap.
package rewards

import "time"

// Reward is what the consultant keeps from fee after the platform cut.
// The cut is rounded half up in integer arithmetic.
func Reward(feeInYen, platformFeeRateInPercentage int64) int64 {
	if feeInYen <= 0 {
		return 0
	}
	cut := (feeInYen*platformFeeRateInPercentage + 50) / 100
	return feeInYen - cut
}

// FiscalYear returns the half-open [start, end) window containing now.
func FiscalYear(now time.Time, startMonth int, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	if startMonth < 1 || startMonth > 12 {
		startMonth = 1
	}
	local := now.In(loc)
	start := time.Date(local.Year(), time.Month(startMonth), 1, 0, 0, 0, 0, loc)
	if local.Before(start) {
		start = start.AddDate(-1, 0, 0)
	}
	return start, start.AddDate(1, 0, 0)
}
