package commission

// CrossedTiers returns how many multiples of interval are passed when a cumulative
// count grows from prior to prior+increment. Negative inputs count as zero and an
// interval below one crosses nothing.
func CrossedTiers(prior, increment, interval int) int {
	if interval < 1 {
		return 0
	}
	if prior < 0 {
		prior = 0
	}
	if increment < 0 {
		increment = 0
	}
	return (prior+increment)/interval - prior/interval
}
