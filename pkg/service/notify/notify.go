package notify

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/utils/async"
	"github.com/secmon-lab/concierge/pkg/utils/errutil"
	"github.com/secmon-lab/concierge/pkg/utils/logging"
	"golang.org/x/time/rate"
)

// Sink delivers one event to an external destination
type Sink interface {
	Name() string
	Send(ctx context.Context, ev *model.Event) error
}

// Dispatcher is a best-effort Notifier. Notify never blocks: events are
// queued and delivered by a single background loop at a bounded rate.
// Events are dropped when the queue is full.
type Dispatcher struct {
	sinks       []Sink
	queue       chan *model.Event
	limiter     *rate.Limiter
	sendTimeout time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
}

type Option func(*Dispatcher)

// WithQueueSize sets how many undelivered events are buffered
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		d.queue = make(chan *model.Event, n)
	}
}

// WithRate limits deliveries to every interval with the given burst
func WithRate(every time.Duration, burst int) Option {
	return func(d *Dispatcher) {
		d.limiter = rate.NewLimiter(rate.Every(every), burst)
	}
}

func WithSendTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.sendTimeout = timeout
	}
}

func NewDispatcher(sinks []Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sinks:       sinks,
		queue:       make(chan *model.Event, 64),
		limiter:     rate.NewLimiter(rate.Every(time.Second), 5),
		sendTimeout: 10 * time.Second,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify enqueues ev without waiting
func (d *Dispatcher) Notify(ctx context.Context, ev *model.Event) {
	select {
	case d.queue <- ev:
	default:
		logging.From(ctx).Warn("notification queue full, event dropped",
			"kind", ev.Kind,
			"summary", ev.Summary(),
		)
	}
}

// Start begins the delivery loop
func (d *Dispatcher) Start(ctx context.Context) {
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	logging.Default().Info("notification dispatcher starting", "sinks", names)

	async.Dispatch(ctx, d.run)
}

// Stop delivers what is already queued and waits for the loop to end
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	<-d.doneCh
	logging.Default().Info("notification dispatcher stopped")
}

func (d *Dispatcher) run(ctx context.Context) error {
	defer close(d.doneCh)

	for {
		select {
		case ev := <-d.queue:
			d.deliver(ctx, ev)

		case <-d.stopCh:
			for {
				select {
				case ev := <-d.queue:
					d.deliver(ctx, ev)
				default:
					return nil
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev *model.Event) {
	if err := d.limiter.Wait(ctx); err != nil {
		logging.From(ctx).Warn("notification rate wait aborted", "error", err.Error())
		return
	}

	for _, sink := range d.sinks {
		sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		err := sink.Send(sendCtx, ev)
		cancel()
		if err != nil {
			errutil.Handle(ctx, goerr.Wrap(err, "failed to deliver notification",
				goerr.V("sink", sink.Name()),
				goerr.V("kind", ev.Kind),
			), "notification delivery failed")
		}
	}
}
