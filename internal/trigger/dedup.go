package trigger

import "sync"

// LastSpoken remembers the most recent automatically spoken sentence so a
// re-render of the same card is not spoken twice
type LastSpoken struct {
	mu   sync.Mutex
	text string
}

// IsDuplicate reports whether text equals the last recorded sentence
func (l *LastSpoken) IsDuplicate(text string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return text != "" && text == l.text
}

// Record stores text as the last spoken sentence
func (l *LastSpoken) Record(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.text = text
}

// Last returns the last recorded sentence
func (l *LastSpoken) Last() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.text
}
