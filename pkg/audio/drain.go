package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when a synthesis stream is abandoned
// (e.g., after an interruption) but its producer is still running.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
