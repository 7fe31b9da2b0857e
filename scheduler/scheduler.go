package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gammadia/dockyard/label"
	"github.com/gammadia/dockyard/metrics"
	"github.com/gammadia/dockyard/namegen"
	"github.com/gammadia/dockyard/scheduler/internal"
	"github.com/samber/lo"
)

var ErrStopped = errors.New("scheduler is stopped")

const eventBufferSize = 256

type demand struct {
	label    string
	expr     label.Expression
	workload int
}

type nodeState struct {
	planned   *PlannedNode
	cloud     string
	label     string
	agent     string
	err       error
	plannedAt time.Time
}

// NodeInfo is a snapshot of a node known to the scheduler.
type NodeInfo struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Cloud       string    `json:"cloud"`
	Label       string    `json:"label"`
	Executors   int       `json:"executors"`
	Stage       string    `json:"stage"`
	Agent       string    `json:"agent,omitempty"`
	Error       string    `json:"error,omitempty"`
	PlannedAt   time.Time `json:"plannedAt"`
}

type Scheduler struct {
	name   namegen.ID
	clouds []Cloud
	config Config
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	input        chan demand
	tickRequests chan any
	deferred     chan func()

	queue []demand
	nodes []*nodeState

	listenersMu     sync.Mutex
	listeners       map[chan Event]struct{}
	listenersClosed bool

	stop     chan any
	stopOnce sync.Once
	stopped  chan any
	wg       sync.WaitGroup
}

func New(clouds []Cloud, config Config) *Scheduler {
	name := namegen.Get()
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		name:   name,
		clouds: clouds,
		config: config,
		log:    lo.Ternary(config.Logger != nil, config.Logger, slog.Default()).With("component", "scheduler", "scheduler", name),

		ctx:    ctx,
		cancel: cancel,

		input:        make(chan demand),
		tickRequests: make(chan any, 1),
		deferred:     make(chan func()),

		listeners: make(map[chan Event]struct{}),

		stop:    make(chan any),
		stopped: make(chan any),
	}
}

func (s *Scheduler) Clouds() []Cloud {
	return s.clouds
}

// Demand asks for workload more executors able to run work labelled with expression.
// An empty expression matches any template.
func (s *Scheduler) Demand(expression string, workload int) error {
	expr, err := label.Parse(expression)
	if err != nil {
		return fmt.Errorf("failed to parse label expression: %w", err)
	}
	if workload <= 0 {
		return nil
	}

	select {
	case s.input <- demand{label: label.String(expr), expr: expr, workload: workload}:
		return nil
	case <-s.stop:
		return ErrStopped
	case <-s.stopped:
		return ErrStopped
	}
}

// Nodes returns a snapshot of the planned, online and recently failed nodes.
func (s *Scheduler) Nodes() []NodeInfo {
	result := make(chan []NodeInfo, 1)
	if !s.enqueue(func() {
		result <- lo.Map(s.nodes, func(n *nodeState, _ int) NodeInfo {
			return NodeInfo{
				ID:          n.planned.ID.String(),
				DisplayName: n.planned.DisplayName,
				Cloud:       n.cloud,
				Label:       n.label,
				Executors:   n.planned.Executors,
				Stage:       n.planned.Stage().String(),
				Agent:       n.agent,
				Error:       lo.TernaryF(n.err != nil, func() string { return n.err.Error() }, func() string { return "" }),
				PlannedAt:   n.plannedAt,
			}
		})
	}) {
		return nil
	}
	return <-result
}

// Subscribe returns a channel receiving scheduler events and a function to unsubscribe.
// The channel is closed when the scheduler stops. Slow subscribers miss events.
func (s *Scheduler) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, eventBufferSize)

	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	if s.listenersClosed {
		close(ch)
		return ch, func() {}
	}
	s.listeners[ch] = struct{}{}

	return ch, func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()

		if _, ok := s.listeners[ch]; ok {
			delete(s.listeners, ch)
			close(ch)
		}
	}
}

func (s *Scheduler) broadcast(event Event) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	for ch := range s.listeners {
		select {
		case ch <- event:
		default:
			s.log.Warn("Subscriber is too slow, dropping event", "event", fmt.Sprintf("%T", event))
		}
	}
}

func (s *Scheduler) closeListeners() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	for ch := range s.listeners {
		close(ch)
	}
	clear(s.listeners)
	s.listenersClosed = true
}

// Shutdown stops the event loop and cancels in-flight provisioning.
func (s *Scheduler) Shutdown() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Wait blocks until the event loop has stopped and every cloud has shut down.
func (s *Scheduler) Wait() {
	<-s.stopped
	s.wg.Wait()
	for _, cloud := range s.clouds {
		cloud.Wait()
	}
}

func (s *Scheduler) Run() {
	s.log.Info("Scheduler is running", "clouds", len(s.clouds))

	for {
		select {
		case d := <-s.input:
			s.queue = append(s.queue, d)
			s.requestTick()

		case <-s.tickRequests:
			for len(s.queue) > 0 {
				d := s.queue[0]
				s.queue = s.queue[1:]
				s.processDemand(d)
			}

		case f := <-s.deferred:
			f()

		case <-s.stop:
			s.log.Info("Scheduler is stopping")
			s.cancel()
			for _, cloud := range s.clouds {
				cloud.Shutdown()
			}
			close(s.stopped)
			s.closeListeners()
			return
		}
	}
}

// requestTick requests a tick to be performed as soon as possible
// If a tick is already scheduled, this function does nothing
// This function is safe to call from multiple goroutines
func (s *Scheduler) requestTick() {
	select {
	case s.tickRequests <- nil:
	default:
	}
}

// enqueue runs f on the main scheduler goroutine.
// It reports false if the scheduler stopped before f could be handed over.
func (s *Scheduler) enqueue(f func()) bool {
	select {
	case s.deferred <- f:
		return true
	case <-s.stopped:
		return false
	}
}

// after schedules a function to be executed on the main scheduler goroutine after a delay
func (s *Scheduler) after(d time.Duration, f func()) {
	time.AfterFunc(d, func() {
		s.enqueue(f)
	})
}

func (s *Scheduler) processDemand(d demand) {
	log := s.log.With("label", d.label, "workload", d.workload)

	pendingForLabel, pendingTotal := 0, 0
	for _, n := range s.nodes {
		if !n.planned.Stage().Pending() {
			continue
		}
		pendingTotal += n.planned.Executors
		if n.label == d.label {
			pendingForLabel += n.planned.Executors
		}
	}

	excess := internal.ExcessWorkload(s.config.MaxPendingExecutors, d.workload, pendingForLabel, pendingTotal)
	if excess == 0 {
		log.Debug("Demand already covered by pending nodes", "pending", pendingForLabel)
		metrics.DemandTotal.WithLabelValues("covered").Inc()
		return
	}

	cloud, ok := lo.Find(s.clouds, func(c Cloud) bool {
		return c.CanProvision(d.expr)
	})
	if !ok {
		log.Warn("No cloud can provision for label")
		metrics.DemandTotal.WithLabelValues("unsatisfiable").Inc()
		s.broadcast(EventDemandUnsatisfiable{Label: d.label, Workload: d.workload, Reason: "no matching template"})
		return
	}

	planned := cloud.Provision(s.ctx, d.expr, excess)
	if len(planned) == 0 {
		log.Warn("Cloud did not plan any node", "cloud", cloud.Name(), "excess", excess)
		metrics.DemandTotal.WithLabelValues("unsatisfiable").Inc()
		s.broadcast(EventDemandUnsatisfiable{Label: d.label, Workload: d.workload, Reason: "no capacity"})
		return
	}

	metrics.DemandTotal.WithLabelValues("planned").Inc()
	for _, node := range planned {
		state := &nodeState{
			planned:   node,
			cloud:     cloud.Name(),
			label:     d.label,
			plannedAt: time.Now(),
		}
		s.nodes = append(s.nodes, state)

		log.Info("Node planned", "node", node.ID, "cloud", cloud.Name(), "executors", node.Executors)
		s.broadcast(EventNodePlanned{Node: node.ID.String(), Cloud: cloud.Name(), Label: d.label, Executors: node.Executors})

		s.wg.Add(1)
		go s.watchNode(state)
	}
}

func (s *Scheduler) watchNode(state *nodeState) {
	defer s.wg.Done()

	node := state.planned
	a, err := node.Future.Get(s.ctx)
	if err != nil && s.ctx.Err() != nil && errors.Is(err, s.ctx.Err()) {
		return
	}

	s.enqueue(func() {
		log := s.log.With("node", node.ID, "cloud", state.cloud, "label", state.label)

		if err != nil {
			log.Warn("Node failed to come online", "error", err)
			state.err = err
			s.broadcast(EventNodeFailed{Node: node.ID.String(), Cloud: state.cloud, Label: state.label, Error: err.Error()})

			s.after(s.config.FailedNodeRetention, func() { s.forget(state) })
			return
		}

		log.Info("Node is online", "agent", a.Name)
		state.agent = a.Name
		s.broadcast(EventNodeOnline{Node: node.ID.String(), Cloud: state.cloud, Label: state.label, Agent: a.Name})

		// The agent now belongs to the registry
		s.after(s.config.ConnectedNodeRetention, func() { s.forget(state) })
	})
}

func (s *Scheduler) forget(state *nodeState) {
	s.nodes = lo.Without(s.nodes, state)
}
