package audio

// Drain removes all immediately available elements from ch without blocking
// and reports how many were discarded.
func Drain[T any](ch <-chan T) int {
	n := 0
	for {
		select {
		case <-ch:
			n++
		default:
			return n
		}
	}
}
