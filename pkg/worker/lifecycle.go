package worker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/airsync/pkg/clients"
	"github.com/ajitpratap0/airsync/pkg/config"
	"github.com/ajitpratap0/airsync/pkg/errors"
	"github.com/ajitpratap0/airsync/pkg/logger"
	"github.com/ajitpratap0/airsync/pkg/metrics"
	"github.com/ajitpratap0/airsync/pkg/models"
	"github.com/ajitpratap0/airsync/pkg/observability"
	"github.com/ajitpratap0/airsync/pkg/protocol"
	"github.com/ajitpratap0/airsync/pkg/state"
	"github.com/ajitpratap0/airsync/pkg/uploader"
)

// NoEmissionMessage is the error message of the event sent for a unit that exited silently.
const NoEmissionMessage = "Worker has not emitted anything. Exited."

// messageBuffer bounds the relay between a unit and its controller.
const messageBuffer = 256

// Phase is the lifecycle phase of an invocation.
type Phase int

const (
	PhaseRunning Phase = iota
	PhaseSoftTimeoutSignaled
	PhaseHardTimeoutForced
	PhaseWorkerExited
	PhaseResolved
)

func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "running"
	case PhaseSoftTimeoutSignaled:
		return "soft_timeout_signaled"
	case PhaseHardTimeoutForced:
		return "hard_timeout_forced"
	case PhaseWorkerExited:
		return "worker_exited"
	case PhaseResolved:
		return "resolved"
	}
	return "unknown"
}

// Options configures one invocation.
type Options[S any] struct {
	Event        *models.Event
	InitialState S
	// Tasks overrides DefaultTasks per event type
	Tasks                Tasks[S]
	InitialDomainMapping *InitialDomainMapping
	Config               *config.Config
	// Timeout is the requested soft deadline, clamped to Config.Worker.Timeout
	Timeout time.Duration
	// Client is the platform client. A retrying client is built from Config when nil.
	Client *http.Client
	Mirror uploader.Mirror
	Logger *zap.Logger
}

// Result describes how an invocation was resolved.
type Result struct {
	// Phase is the phase that ended the unit: PhaseWorkerExited, PhaseHardTimeoutForced,
	// or PhaseResolved when no unit was started.
	Phase     Phase
	TimedOut  bool
	EventType models.OutputEventType
	// Synthetic is set when the controller sent the event on behalf of the unit
	Synthetic bool
}

// Spawn runs the task of the event in its own goroutine and blocks until the
// invocation is resolved. Exactly one terminal event reaches the platform unless
// a forced termination interrupted a send already on the wire. Spawn never fails:
// transport errors of the synthetic event are logged.
func Spawn[S any](ctx context.Context, opts Options[S]) Result {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = logger.ForEvent(log, opts.Event)

	client := opts.Client
	if client == nil {
		hc := clients.NewHTTPClient(cfg.HTTP, clients.NewRetryPolicy(cfg.Reliability), log)
		defer hc.Close()
		client = hc.Client()
	}

	eventType := opts.Event.Type()
	ctx, span := observability.StartSpan(ctx, "worker.spawn", attribute.String("event_type", string(eventType)))
	defer span.End(nil)

	emitter := protocol.NewEmitter(client, log)

	task, ok := opts.Tasks.lookup(eventType)
	if !ok {
		log.Error("unrecognized event type", zap.String("event_type", string(eventType)))
		data := &models.EventData{Error: &models.ErrorRecord{
			Message: fmt.Sprintf("Unrecognized event type in spawn %s.", eventType),
		}}
		sendSynthetic(ctx, emitter, opts.Event, models.UnknownEventType, data, log)
		return Result{Phase: PhaseResolved, EventType: models.UnknownEventType, Synthetic: true}
	}

	soft := cfg.Worker.SoftTimeout(opts.Timeout)
	c := &controller{
		logger:      log,
		messages:    make(chan message, messageBuffer),
		resolved:    make(chan struct{}),
		softTimeout: make(chan struct{}),
		soft:        soft,
		hard:        cfg.Worker.HardTimeout(soft),
		drain:       cfg.Worker.EmitDrainWindow,
	}

	unitCtx, cancelUnit := context.WithCancel(ctx)
	defer cancelUnit()

	u := &unit[S]{
		opts:                opts,
		task:                task,
		client:              client,
		link:                newChannelLink(c.messages, c.resolved),
		softTimeout:         c.softTimeout,
		controllerLog:       log,
		repoBatchSize:       cfg.Batching.RepoBatchSize,
		attachmentBatchSize: cfg.Batching.AttachmentStreams,
	}
	if !cfg.Worker.LocalDevelopment {
		u.opts.Mirror = nil
	}

	timer := metrics.NewTimer()
	metrics.ActiveWorkers.Inc()
	go u.run(unitCtx)

	log.Info("worker started",
		zap.Duration("soft_timeout", c.soft),
		zap.Duration("hard_timeout", c.hard))

	c.supervise(ctx, cancelUnit)
	metrics.ActiveWorkers.Dec()

	res := Result{Phase: c.phase, TimedOut: c.timedOut, EventType: c.emittedType}
	if c.resolve() {
		synthetic, data := syntheticEvent(eventType, c.timedOut)
		sendSynthetic(ctx, emitter, opts.Event, synthetic, data, log)
		res.EventType = synthetic
		res.Synthetic = true
	}

	metrics.InvocationDuration.WithLabelValues(string(eventType), c.phase.String()).
		Observe(timer.Stop().Seconds())
	log.Info("worker resolved",
		zap.Stringer("phase", c.phase),
		zap.Bool("timed_out", c.timedOut),
		zap.String("terminal_event_type", string(res.EventType)),
		zap.Bool("synthetic", res.Synthetic))
	return res
}

// syntheticEvent picks the event sent for a unit that did not emit.
func syntheticEvent(t models.EventType, timedOut bool) (models.OutputEventType, *models.EventData) {
	errorData := &models.EventData{Error: &models.ErrorRecord{Message: NoEmissionMessage}}
	if timedOut {
		if et, ok := protocol.TimeoutEventType(t); ok {
			if protocol.IsErrorEventType(et) {
				return et, errorData
			}
			return et, nil
		}
	}
	if et, ok := protocol.TerminalErrorEventType(t); ok {
		return et, errorData
	}
	return models.UnknownEventType, errorData
}

func sendSynthetic(ctx context.Context, emitter *protocol.Emitter, event *models.Event, eventType models.OutputEventType, data *models.EventData, log *zap.Logger) {
	if err := emitter.Emit(context.WithoutCancel(ctx), event, eventType, data); err != nil {
		metrics.EmitFailures.WithLabelValues("synthetic").Inc()
		log.Error("failed to emit event on behalf of the worker",
			zap.String("terminal_event_type", string(eventType)),
			zap.Error(err))
		return
	}
	metrics.EventsEmitted.WithLabelValues(string(eventType), metrics.OriginSynthetic).Inc()
}

// controller owns the emission record of one invocation. Only the supervising
// goroutine touches its fields.
type controller struct {
	logger      *zap.Logger
	messages    chan message
	resolved    chan struct{}
	softTimeout chan struct{}
	soft, hard  time.Duration
	drain       time.Duration

	emission    emission
	phase       Phase
	timedOut    bool
	emittedType models.OutputEventType
}

// supervise relays unit messages until the unit exits or is forced to stop. A
// unit that exits while its claimed emission is still being sent is waited for
// until the send settles or the hard timeout forces resolution.
func (c *controller) supervise(ctx context.Context, cancelUnit context.CancelFunc) {
	c.phase = PhaseRunning
	softTimer := time.NewTimer(c.soft)
	defer softTimer.Stop()
	hardTimer := time.NewTimer(c.hard)
	defer hardTimer.Stop()

	softC := softTimer.C
	exited := false
	for {
		select {
		case m := <-c.messages:
			if c.handle(m) {
				exited = true
				c.phase = PhaseWorkerExited
				softC = nil
				if c.emission.state == emissionClaimed {
					c.logger.Info("worker exited with emission in flight, waiting for it to settle")
				}
			}
			if exited && c.emission.state != emissionClaimed {
				return
			}
		case <-softC:
			softC = nil
			c.phase = PhaseSoftTimeoutSignaled
			c.timedOut = true
			c.logger.Warn("soft timeout reached, signaling worker to exit",
				observability.Snapshot().Fields()...)
			close(c.softTimeout)
		case <-hardTimer.C:
			c.logger.Error("hard timeout reached, terminating worker",
				observability.Snapshot().Fields()...)
			c.force(cancelUnit, exited)
			return
		case <-ctx.Done():
			c.logger.Warn("invocation cancelled, terminating worker", zap.Error(ctx.Err()))
			c.force(cancelUnit, exited)
			return
		}
	}
}

// force cancels the unit and waits a bounded time for a claimed send to finish.
func (c *controller) force(cancelUnit context.CancelFunc, exited bool) {
	if !exited {
		c.phase = PhaseHardTimeoutForced
	}
	c.timedOut = true
	cancelUnit()

	if c.emission.state != emissionClaimed {
		return
	}
	c.logger.Info("waiting for emission in flight", zap.Duration("window", c.drain))
	window := time.NewTimer(c.drain)
	defer window.Stop()
	for c.emission.state == emissionClaimed {
		select {
		case m := <-c.messages:
			c.handle(m)
		case <-window.C:
			c.logger.Warn("emission still in flight after drain window")
			return
		}
	}
}

// handle applies one unit message and reports whether the unit exited.
func (c *controller) handle(m message) bool {
	switch m.kind {
	case msgLog:
		logger.Replay(c.logger, m.entry)
	case msgClaim:
		m.reply <- c.emission.apply(claimRequested)
	case msgRelease:
		c.emission.apply(claimReleased)
	case msgEmitted:
		if c.emission.apply(emitConfirmed) {
			c.emittedType = m.eventType
		}
	case msgExit:
		return true
	}
	return false
}

// resolve revokes the unit's rights to emit and reports whether the controller
// has to send the terminal event itself.
func (c *controller) resolve() bool {
	synthetic := c.emission.apply(resolveRequested)
	close(c.resolved)
	c.logger.Debug("resolving invocation",
		zap.Stringer("emission", c.emission.state),
		zap.Bool("synthetic", synthetic))
	return synthetic
}

// unit runs the task. It talks to the controller only through its link.
type unit[S any] struct {
	opts                Options[S]
	task                Task[S]
	client              *http.Client
	link                *channelLink
	softTimeout         <-chan struct{}
	controllerLog       *zap.Logger
	repoBatchSize       int
	attachmentBatchSize int
}

func (u *unit[S]) run(ctx context.Context) {
	defer u.link.send(message{kind: msgExit})

	log := zap.New(logger.NewRelayCore(u.controllerLog.Core(), u.link.log))
	defer func() {
		if r := recover(); r != nil {
			log.Error("worker panicked", zap.Any("panic", r))
		}
	}()

	event := u.opts.Event
	store, err := state.Load(ctx, u.client, event, u.opts.InitialState, log)
	if err != nil {
		log.Error("failed to load state, exiting", zap.Error(err))
		return
	}

	adapter := newAdapter(adapterDeps[S]{
		event:               event,
		client:              u.client,
		store:               store,
		link:                u.link,
		logger:              log,
		repoBatchSize:       u.repoBatchSize,
		attachmentBatchSize: u.attachmentBatchSize,
		mirror:              u.opts.Mirror,
	})

	if event.Type() == models.ExtractionExternalSyncUnitsStart && u.opts.InitialDomainMapping != nil {
		if err := InstallInitialDomainMapping(ctx, u.client, event, u.opts.InitialDomainMapping, log); err != nil {
			log.Error("failed to install initial domain mapping", zap.Error(err))
		}
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errors.Newf(errors.ErrorTypeInternal, "task panicked: %v", r)
			}
		}()
		done <- u.task.Run(ctx, adapter)
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Error("task failed", zap.Error(err))
		}
	case <-u.link.quit:
		log.Warn("emission aborted, exiting")
	case <-u.softTimeout:
		adapter.HandleTimeout()
		if u.task.OnTimeout == nil {
			log.Warn("timeout signaled and no timeout handler registered, exiting")
			return
		}
		if err := u.task.OnTimeout(ctx, adapter); err != nil && !errors.Is(err, ErrAlreadyEmitted) {
			log.Error("timeout handler failed", zap.Error(err))
		}
	case <-ctx.Done():
	}
}
