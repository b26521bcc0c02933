package engine

import (
	"sync"

	"github.com/roach88/todosync/internal/queue"
	"github.com/roach88/todosync/internal/reconcile"
	"github.com/roach88/todosync/internal/records"
	"github.com/roach88/todosync/internal/todo"
	"github.com/roach88/todosync/internal/view"
)

// ScriptFunc receives edit scripts synchronously, inside the mutation that
// produced them. It must not block or call back into the engine.
type ScriptFunc func(s reconcile.Script)

// Subscription is a live filtered view that reports every change as an edit
// script. Applying each script in order to Initial yields Current.
type Subscription struct {
	// ID identifies the subscription in logs.
	ID string

	engine *Engine
	handle *view.Handle

	// Channel delivery only; nil for SubscribeFunc subscriptions.
	pending *queue.Queue[reconcile.Script]
	scripts chan reconcile.Script
	stop    chan struct{}

	once sync.Once
}

// Subscribe opens a live view over f. Scripts are delivered on the
// Scripts channel in mutation order.
func (e *Engine) Subscribe(f view.Filter) (*Subscription, error) {
	s := &Subscription{
		pending: queue.New[reconcile.Script](),
		scripts: make(chan reconcile.Script),
		stop:    make(chan struct{}),
	}
	err := e.subscribe(s, f, func(sc reconcile.Script) {
		s.pending.Push(sc)
	})
	if err != nil {
		return nil, err
	}

	go s.pump()
	return s, nil
}

// SubscribeFunc opens a live view over f and calls fn with every non-empty
// edit script.
func (e *Engine) SubscribeFunc(f view.Filter, fn ScriptFunc) (*Subscription, error) {
	s := &Subscription{}
	if err := e.subscribe(s, f, fn); err != nil {
		return nil, err
	}
	return s, nil
}

func (e *Engine) subscribe(s *Subscription, f view.Filter, deliver ScriptFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.closed:
		return &LifecycleError{Code: ErrCodeClosed, Op: "subscribe"}
	case !e.started:
		return &LifecycleError{Code: ErrCodeNotStarted, Op: "subscribe"}
	}

	s.ID = e.ids.Generate()
	s.engine = e
	s.handle = view.Subscribe(e.store, f, view.WithOnChange(func(_ records.Event, prev, next []todo.Todo) {
		script := reconcile.Diff(prev, next)
		if !script.IsEmpty() {
			deliver(script)
		}
	}))
	e.subscriptions[s.ID] = s

	e.logger.Debug("subscription opened", "subscription_id", s.ID, "filter", f.String())
	return nil
}

// pump moves queued scripts onto the unbuffered Scripts channel.
func (s *Subscription) pump() {
	defer close(s.scripts)

	for {
		if script, ok := s.pending.TryPop(); ok {
			select {
			case s.scripts <- script:
				continue
			case <-s.stop:
				return
			}
		}
		if s.pending.Drained() {
			return
		}
		select {
		case <-s.stop:
			return
		case <-s.pending.Wait():
		}
	}
}

// Filter returns the subscription's filter.
func (s *Subscription) Filter() view.Filter {
	return s.handle.Filter()
}

// Initial returns the sequence the view was seeded with.
func (s *Subscription) Initial() []todo.Todo {
	return s.handle.Initial()
}

// Current returns the view's latest sequence.
func (s *Subscription) Current() []todo.Todo {
	return s.handle.Current()
}

// Scripts returns the delivery channel. It is closed once the subscription
// is closed. Returns nil for SubscribeFunc subscriptions.
func (s *Subscription) Scripts() <-chan reconcile.Script {
	if s.scripts == nil {
		return nil
	}
	return s.scripts
}

// Close stops the view. Scripts not yet received are discarded. Close is
// idempotent.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.handle.Close()
		if s.pending != nil {
			s.pending.Close()
			close(s.stop)
		}

		s.engine.mu.Lock()
		delete(s.engine.subscriptions, s.ID)
		s.engine.mu.Unlock()

		s.engine.logger.Debug("subscription closed", "subscription_id", s.ID)
	})
}
