package speech

import "sync"

// Completion is a one-shot signal that an utterance or clip has ended
type Completion struct {
	once sync.Once
	done chan struct{}
	err  error
}

// NewCompletion creates an unresolved completion
func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Resolved returns a completion that has already ended with err
func Resolved(err error) *Completion {
	c := NewCompletion()
	c.Resolve(err)
	return c
}

// Resolve ends the completion. Only the first call has an effect.
func (c *Completion) Resolve(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Done is closed once the completion resolves
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Err returns the resolution error; it is only meaningful after Done
func (c *Completion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}
