package framebus

// CalculateDropRate returns the fraction (0.0 to 1.0) of deliveries that
// were dropped across all viewers, or 0 before any delivery.
func CalculateDropRate(stats BusStats) float64 {
	return ratio(stats.TotalDropped, stats.TotalSent)
}

// CalculateSubscriberDropRate is CalculateDropRate for one viewer. Unknown
// viewers report 0.
func CalculateSubscriberDropRate(stats BusStats, subscriberID string) float64 {
	sub, ok := stats.Subscribers[subscriberID]
	if !ok {
		return 0
	}
	return ratio(sub.Dropped, sub.Sent)
}

func ratio(dropped, sent uint64) float64 {
	total := sent + dropped
	if total == 0 {
		return 0
	}
	return float64(dropped) / float64(total)
}
