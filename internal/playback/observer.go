package playback

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// Observer receives scheduler events. Callbacks run on a single dispatch
// goroutine in the order the events happened, so an observer may call back
// into the scheduler. Observers must not call Close.
type Observer interface {
	OnState(StateChange)
	OnHighlight(index int)
	OnError(err error)
}

// ObserverFuncs adapts optional functions to Observer.
type ObserverFuncs struct {
	State     func(StateChange)
	Highlight func(int)
	Error     func(error)
}

func (o ObserverFuncs) OnState(c StateChange) {
	if o.State != nil {
		o.State(c)
	}
}

func (o ObserverFuncs) OnHighlight(index int) {
	if o.Highlight != nil {
		o.Highlight(index)
	}
}

func (o ObserverFuncs) OnError(err error) {
	if o.Error != nil {
		o.Error(err)
	}
}

// Messages for the bubbletea reader.

// StateChangedMsg reports a narration state transition.
type StateChangedMsg struct {
	StateChange
}

// HighlightMsg reports a new active word index.
type HighlightMsg struct {
	Index int
}

// PlaybackErrorMsg reports a synthesis or output failure. Playback has
// already stopped when it arrives.
type PlaybackErrorMsg struct {
	Err error
}

// WaitForMessage returns a command that delivers the next message from ch.
func WaitForMessage(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

type eventKind int

const (
	eventState eventKind = iota
	eventHighlight
	eventError
)

type event struct {
	kind   eventKind
	change StateChange
	index  int
	err    error
}

// dispatcher delivers events to observers on its own goroutine so that
// emitting never blocks the scheduler.
type dispatcher struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queue     []event
	observers map[int]Observer
	nextID    int
	closed    bool

	stop chan struct{}
	done chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		observers: make(map[int]Observer),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	go d.loop()
	return d
}

func (d *dispatcher) subscribe(o Observer) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.observers[id] = o
	return func() {
		d.mu.Lock()
		delete(d.observers, id)
		d.mu.Unlock()
	}
}

func (d *dispatcher) emit(e event) {
	d.mu.Lock()
	if !d.closed {
		d.queue = append(d.queue, e)
		d.cond.Signal()
	}
	d.mu.Unlock()
}

func (d *dispatcher) loop() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		batch := d.queue
		d.queue = nil
		observers := make([]Observer, 0, len(d.observers))
		for id := 0; id < d.nextID; id++ {
			if o, ok := d.observers[id]; ok {
				observers = append(observers, o)
			}
		}
		d.mu.Unlock()

		for _, e := range batch {
			for _, o := range observers {
				deliver(o, e)
			}
		}
	}
}

func deliver(o Observer, e event) {
	switch e.kind {
	case eventState:
		o.OnState(e.change)
	case eventHighlight:
		o.OnHighlight(e.index)
	case eventError:
		o.OnError(e.err)
	}
}

// close delivers queued events and stops the dispatch goroutine.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	close(d.stop)
	d.cond.Broadcast()
	d.mu.Unlock()
	<-d.done
}

// channelObserver forwards events as bubbletea messages.
type channelObserver struct {
	ch   chan tea.Msg
	stop <-chan struct{}
}

func (c channelObserver) send(msg tea.Msg) {
	select {
	case c.ch <- msg:
	case <-c.stop:
	}
}

func (c channelObserver) OnState(change StateChange) { c.send(StateChangedMsg{change}) }
func (c channelObserver) OnHighlight(index int)      { c.send(HighlightMsg{Index: index}) }
func (c channelObserver) OnError(err error)          { c.send(PlaybackErrorMsg{Err: err}) }
