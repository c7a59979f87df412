package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

var (
	// ErrAlreadyRegistered is returned when (module, job) is already registered
	ErrAlreadyRegistered = errors.New("job already registered")
	// ErrNotRegistered is returned when (module, job) is unknown
	ErrNotRegistered = errors.New("job not registered")
)

// Definition is the metadata of a module job
type Definition struct {
	Module       string                 `json:"module"`
	Name         string                 `json:"name"`
	HandlerPath  string                 `json:"handler_path"`
	Schedule     *string                `json:"schedule"`
	Timeout      time.Duration          `json:"timeout"`
	Retries      int                    `json:"retries"`
	ConfigSchema map[string]interface{} `json:"config,omitempty"`
}

// Key is the registration key of the definition
func (d Definition) Key() string {
	return Key(d.Module, d.Name)
}

// Key builds the registration key for a module job
func Key(module, job string) string {
	return module + "/" + job
}

// Dispatcher is the execution engine that actually runs job bodies
type Dispatcher interface {
	Dispatch(ctx context.Context, def Definition) error
}

// DispatcherFunc adapts a function to Dispatcher
type DispatcherFunc func(ctx context.Context, def Definition) error

// Dispatch implements Dispatcher
func (f DispatcherFunc) Dispatch(ctx context.Context, def Definition) error {
	return f(ctx, def)
}

type entry struct {
	def     Definition
	cronID  cron.EntryID
	hasCron bool
}

// Scheduler keeps job registrations and fires scheduled jobs through a
// Dispatcher. Jobs without a schedule are registered for on-demand Trigger.
type Scheduler struct {
	mu         sync.RWMutex
	cron       *cron.Cron
	parser     cron.Parser
	dispatcher Dispatcher
	entries    map[string]*entry
	log        logrus.FieldLogger
}

// NewScheduler creates a scheduler. Call Start to begin firing schedules.
func NewScheduler(dispatcher Dispatcher, log logrus.FieldLogger) *Scheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	parser := cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
	cl := cronLogger{log: log.WithField("component", "jobs")}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		parser:     parser,
		dispatcher: dispatcher,
		entries:    make(map[string]*entry),
		log:        log,
	}
}

// Register adds a job. A schedule the cron parser rejects leaves the job
// registered but unscheduled.
func (s *Scheduler) Register(ctx context.Context, def Definition) error {
	if def.Module == "" || def.Name == "" {
		return fmt.Errorf("job module and name are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := def.Key()
	if _, exists := s.entries[key]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, key)
	}

	e := &entry{def: def}
	log := s.log.WithFields(logrus.Fields{"module": def.Module, "job": def.Name})
	if def.Schedule != nil && *def.Schedule != "" {
		schedule, err := s.parser.Parse(*def.Schedule)
		if err != nil {
			log.WithError(err).Warn("Job schedule not understood, job is on-demand only")
		} else {
			e.cronID = s.cron.Schedule(schedule, cron.FuncJob(func() { s.fire(def) }))
			e.hasCron = true
		}
	}
	s.entries[key] = e
	log.WithField("scheduled", e.hasCron).Info("Registered job")
	return nil
}

// Unregister removes a job and its schedule
func (s *Scheduler) Unregister(module, job string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key(module, job)
	e, ok := s.entries[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, key)
	}
	if e.hasCron {
		s.cron.Remove(e.cronID)
	}
	delete(s.entries, key)
	s.log.WithFields(logrus.Fields{"module": module, "job": job}).Info("Unregistered job")
	return nil
}

// Trigger dispatches a registered job immediately and waits for the dispatcher
func (s *Scheduler) Trigger(ctx context.Context, module, job string) error {
	s.mu.RLock()
	e, ok := s.entries[Key(module, job)]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, Key(module, job))
	}
	return s.dispatch(ctx, e.def)
}

// Get returns the definition registered under (module, job)
func (s *Scheduler) Get(module, job string) (Definition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[Key(module, job)]
	if !ok {
		return Definition{}, false
	}
	return e.def, true
}

// List returns every registered definition ordered by key
func (s *Scheduler) List() []Definition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Definition, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// NextRun returns the next scheduled fire time of a job
func (s *Scheduler) NextRun(module, job string) (time.Time, bool) {
	s.mu.RLock()
	e, ok := s.entries[Key(module, job)]
	s.mu.RUnlock()
	if !ok || !e.hasCron {
		return time.Time{}, false
	}
	next := s.cron.Entry(e.cronID).Next
	return next, !next.IsZero()
}

// Start begins firing schedules
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops firing schedules and waits for running dispatches or ctx
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) fire(def Definition) {
	if err := s.dispatch(context.Background(), def); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"module": def.Module, "job": def.Name}).Error("Job dispatch failed")
	}
}

func (s *Scheduler) dispatch(ctx context.Context, def Definition) error {
	if s.dispatcher == nil {
		return fmt.Errorf("no job dispatcher configured")
	}
	if def.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, def.Timeout)
		defer cancel()
	}
	return s.dispatcher.Dispatch(ctx, def)
}

// cronLogger routes cron's internal logging to logrus
type cronLogger struct {
	log logrus.FieldLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(kvFields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).WithFields(kvFields(keysAndValues)).Error(msg)
}

func kvFields(kv []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
