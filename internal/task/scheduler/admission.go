package scheduler

// admitCount decides how many units from the head of the pending queue may
// start now.
//
// pending holds the weights of the pending units in submission order. The
// result is the length of the longest prefix whose cumulative weight fits in
// capacity - runningWeight. If that prefix is empty and nothing is running,
// the head unit is admitted alone even though it exceeds the budget; this is
// the only way a unit heavier than capacity can ever run, and because it then
// holds more than the whole capacity nothing else is admitted until it ends.
func admitCount(pending []int, runningWeight, runningCount, capacity int) int {
	if len(pending) == 0 {
		return 0
	}
	budget := capacity - runningWeight
	n, sum := 0, 0
	for _, w := range pending {
		if sum+w > budget {
			break
		}
		sum += w
		n++
	}
	if n == 0 && runningCount == 0 {
		return 1
	}
	return n
}
