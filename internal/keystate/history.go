package keystate

// HistorySize is the number of previous states a machine remembers.
const HistorySize = 10

// history is a fixed-capacity ring of previous states. When full, pushing
// overwrites the oldest entry.
type history struct {
	buf   [HistorySize]State
	start int
	n     int
}

func (h *history) push(s State) {
	if h.n < HistorySize {
		h.buf[(h.start+h.n)%HistorySize] = s
		h.n++
		return
	}
	h.buf[h.start] = s
	h.start = (h.start + 1) % HistorySize
}

// items returns the remembered states, oldest first.
func (h *history) items() []State {
	out := make([]State, h.n)
	for i := 0; i < h.n; i++ {
		out[i] = h.buf[(h.start+i)%HistorySize]
	}
	return out
}
