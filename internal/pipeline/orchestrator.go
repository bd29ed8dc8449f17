package pipeline

import (
	"context"
	"log/slog"
	"time"

	"castindex/internal/artifacts"
	"castindex/internal/config"
	"castindex/internal/itemstore"
	"castindex/internal/ledger"
	"castindex/internal/logging"
	"castindex/internal/notifications"
	"castindex/internal/stage"
)

// Resolver finds raw audio for an item whose recorded path is missing.
type Resolver interface {
	Resolve(item itemstore.Item) (string, bool)
}

// Options wires an Orchestrator.
type Options struct {
	Config    *config.Config
	Items     *itemstore.Store
	Ledger    *ledger.Store
	Cache     *artifacts.Cache
	Executors []stage.Executor
	// Stages limits a run to the named stages. Empty means every executor.
	Stages   []stage.Name
	Resolver Resolver
	Notifier notifications.Service
	Logger   *slog.Logger
	Sleeper  func(context.Context, time.Duration) error
	Clock    func() time.Time
}

// Orchestrator drives items through the stage executors one at a time.
type Orchestrator struct {
	cfg       *config.Config
	items     *itemstore.Store
	ledger    *ledger.Store
	cache     *artifacts.Cache
	executors []stage.Executor
	resolver  Resolver
	notifier  notifications.Service
	logger    *slog.Logger
	sleep     func(context.Context, time.Duration) error
	now       func() time.Time
}

// New builds an orchestrator. Executors are put in pipeline order and
// filtered to opts.Stages when it is set.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		cfg:       opts.Config,
		items:     opts.Items,
		ledger:    opts.Ledger,
		cache:     opts.Cache,
		executors: orderExecutors(opts.Executors, opts.Stages),
		resolver:  opts.Resolver,
		notifier:  opts.Notifier,
		logger:    opts.Logger,
		sleep:     opts.Sleeper,
		now:       opts.Clock,
	}
	if o.logger == nil {
		o.logger = logging.NewNop()
	}
	o.logger = logging.NewComponentLogger(o.logger, "pipeline")
	if o.notifier == nil {
		o.notifier = notifications.NewService(nil)
	}
	if o.sleep == nil {
		o.sleep = sleepContext
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Stages returns the stage names this orchestrator runs, in order.
func (o *Orchestrator) Stages() []stage.Name {
	names := make([]stage.Name, 0, len(o.executors))
	for _, exec := range o.executors {
		names = append(names, exec.Name())
	}
	return names
}

func orderExecutors(executors []stage.Executor, only []stage.Name) []stage.Executor {
	byName := make(map[stage.Name]stage.Executor, len(executors))
	for _, exec := range executors {
		if exec != nil {
			byName[exec.Name()] = exec
		}
	}
	allowed := make(map[stage.Name]bool, len(only))
	for _, name := range only {
		allowed[name] = true
	}
	ordered := make([]stage.Executor, 0, len(byName))
	for _, name := range stage.Order() {
		exec, ok := byName[name]
		if !ok {
			continue
		}
		if len(allowed) > 0 && !allowed[name] {
			continue
		}
		ordered = append(ordered, exec)
	}
	return ordered
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
