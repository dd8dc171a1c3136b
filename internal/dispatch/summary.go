package dispatch

// Summarize aggregates results in a single pass.
func Summarize(results []SendResult) DispatchSummary {
	summary := DispatchSummary{
		Total:          len(results),
		ErrorBreakdown: make(map[string]int),
	}

	for _, res := range results {
		if res.Status == StatusSuccess {
			summary.Succeeded++
			continue
		}
		summary.Failed++
		code := res.ErrorCode
		if code == "" {
			code = "UNKNOWN"
		}
		summary.ErrorBreakdown[code]++
	}

	summary.SuccessRatePercent = percent(summary.Succeeded, summary.Total)
	return summary
}
