package internal

// ExcessWorkload returns the executors still to request from a cloud for a demand.
// Executors of planned nodes that are not online yet already answer part of the demand.
// maxPending bounds the executors planned across all labels (0 = no bound).
func ExcessWorkload(maxPending, workload, pendingForLabel, pendingTotal int) int {
	excess := workload - pendingForLabel
	if maxPending > 0 {
		excess = min(excess, maxPending-pendingTotal)
	}
	return max(excess, 0)
}
