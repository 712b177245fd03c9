package collab

// dedupWindow remembers the outcome of recently sequenced op ids so retried
// submissions are acknowledged with the original result instead of being
// reapplied. Bounded FIFO: old entries fall out once capacity is reached,
// which matches the short retry horizon the engine is designed for.
type dedupWindow struct {
	capacity int
	order    []string
	results  map[string]SubmitResult
}

func newDedupWindow(capacity int) *dedupWindow {
	if capacity <= 0 {
		capacity = 512
	}
	return &dedupWindow{
		capacity: capacity,
		results:  make(map[string]SubmitResult, capacity),
	}
}

func (w *dedupWindow) get(opID string) (SubmitResult, bool) {
	res, ok := w.results[opID]
	return res, ok
}

func (w *dedupWindow) put(opID string, res SubmitResult) {
	if _, exists := w.results[opID]; exists {
		w.results[opID] = res
		return
	}
	if len(w.order) >= w.capacity {
		oldest := w.order[0]
		w.order = w.order[1:]
		delete(w.results, oldest)
	}
	w.order = append(w.order, opID)
	w.results[opID] = res
}
