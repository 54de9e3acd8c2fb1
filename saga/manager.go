// Package saga correlates events across aggregates by business key and
// drives multi-step workflows that react to events with follow-up actions.
package saga

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/eventfold/bank-cqrs-go/account"
	"github.com/eventfold/bank-cqrs-go/eventbus"
	"github.com/eventfold/bank-cqrs-go/eventstore"
)

// Saga describes one workflow. Correlate is the explicit trigger registry
// entry: it decides whether an event belongs to this workflow and extracts
// the instance key from it.
type Saga interface {
	Name() string
	Correlate(e account.Event) (account.ID, bool)
	NewInstance(id account.ID) Instance
}

// Instance holds the state of one running workflow. Advance folds a
// correlated event into that state and reports whether the workflow
// completed. Completed instances are discarded by the manager.
type Instance interface {
	Advance(e eventstore.SequencedEvent) (done bool)
}

type instanceKey struct {
	saga string
	id   account.ID
}

// Manager routes bus events to saga instances. It assumes at-least-once
// delivery: a redelivered event never advances an instance twice and never
// re-triggers a completed workflow's action.
type Manager struct {
	log *logrus.Entry

	mutex    sync.Mutex
	sagas    []Saga
	queue    []eventstore.SequencedEvent
	draining bool

	// Instance state is only touched by the draining goroutine.
	instances map[instanceKey]Instance
	applied   map[instanceKey]int
	completed map[instanceKey]bool
}

func NewManager(log *logrus.Entry) *Manager {
	return &Manager{
		log:       log,
		instances: map[instanceKey]Instance{},
		applied:   map[instanceKey]int{},
		completed: map[instanceKey]bool{},
	}
}

// Register adds a workflow to the trigger registry. All workflows must be
// registered before events start flowing.
func (m *Manager) Register(s Saga) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sagas = append(m.sagas, s)
}

// CanHandle reports whether any registered workflow correlates the event.
func (m *Manager) CanHandle(e account.Event) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, s := range m.sagas {
		if _, ok := s.Correlate(e); ok {
			return true
		}
	}
	return false
}

// Handle implements eventbus.Subscriber. A workflow action may publish a
// follow-up event back onto the bus from inside Handle; the nested call
// queues it and the draining call processes it, instead of recursing into
// the manager.
func (m *Manager) Handle(msg eventbus.Message) {
	m.mutex.Lock()
	m.queue = append(m.queue, msg.Event)
	if m.draining {
		m.mutex.Unlock()
		return
	}
	m.draining = true
	for len(m.queue) > 0 {
		e := m.queue[0]
		m.queue = m.queue[1:]
		m.mutex.Unlock()
		m.process(e)
		m.mutex.Lock()
	}
	m.draining = false
	m.mutex.Unlock()
}

func (m *Manager) process(e eventstore.SequencedEvent) {
	for _, s := range m.sagas {
		id, ok := s.Correlate(e.Event)
		if !ok {
			continue
		}
		m.advance(s, id, e)
	}
}

func (m *Manager) advance(s Saga, id account.ID, e eventstore.SequencedEvent) {
	key := instanceKey{saga: s.Name(), id: id}
	if m.completed[key] {
		return
	}
	// Sequenced events are deduplicated by stream position; bus-only
	// events (seq 0) pass through and must be idempotent by themselves.
	if e.Seq != 0 && e.Seq <= m.applied[key] {
		return
	}

	instance, ok := m.instances[key]
	if !ok {
		instance = s.NewInstance(id)
		m.instances[key] = instance
		m.log.WithFields(logrus.Fields{"saga": s.Name(), "account": id}).Debug("saga instance started")
	}
	if e.Seq != 0 {
		m.applied[key] = e.Seq
	}

	if instance.Advance(e) {
		delete(m.instances, key)
		m.completed[key] = true
		m.log.WithFields(logrus.Fields{"saga": s.Name(), "account": id}).Info("saga completed")
	}
}
