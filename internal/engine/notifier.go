package engine

import (
	"sync"

	"github.com/marchese29/HubitatRulesMCP/internal/condition"
)

// Notifier holds the single-shot fire/timeout rendezvous channels associated
// with one tracked condition instance. At most one writer (the engine)
// closes each channel; any number of readers may select on it.
type Notifier struct {
	cond      condition.Condition
	fireCh    chan struct{}
	timeoutCh chan struct{}

	fireOnce    sync.Once
	timeoutOnce sync.Once
}

func newNotifier(c condition.Condition) *Notifier {
	return &Notifier{
		cond:      c,
		fireCh:    make(chan struct{}),
		timeoutCh: make(chan struct{}),
	}
}

// Condition returns the condition this notifier was created for.
func (n *Notifier) Condition() condition.Condition { return n.cond }

// Fired is closed exactly once, when the condition becomes observably true.
func (n *Notifier) Fired() <-chan struct{} { return n.fireCh }

// TimedOut is closed exactly once, when the condition's timeout elapses
// before it fires.
func (n *Notifier) TimedOut() <-chan struct{} { return n.timeoutCh }

func (n *Notifier) notify()        { n.fireOnce.Do(func() { close(n.fireCh) }) }
func (n *Notifier) notifyTimeout() { n.timeoutOnce.Do(func() { close(n.timeoutCh) }) }
