package sync

// MaybeSweep purges expired correlations at most once per calendar date.
// It returns the new watermark and how many entries were purged; when the
// watermark already equals today nothing happens.
func MaybeSweep(today, watermark Date, c *Correlations) (Date, int) {
	if !watermark.IsZero() && !watermark.Before(today) {
		return watermark, 0
	}

	return today, c.PurgeExpired(today)
}
