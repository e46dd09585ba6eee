package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/homegraph/homegraph/internal/config"
	"github.com/homegraph/homegraph/pkg/logger"
)

var droppedEvents = promauto.NewCounter(prometheus.CounterOpts{
	Name: "homegraph_audit_events_dropped_total",
	Help: "Audit events dropped because the queue was full.",
})

// Logger records security events without blocking the request path. Events
// are enqueued on a bounded channel; when the queue is full the oldest event
// is dropped and counted. A single consumer goroutine writes line-delimited
// JSON to a rotating sink and feeds the pattern detector.
type Logger struct {
	queue    chan Event
	done     chan struct{}
	flushed  chan struct{}
	sink     *zap.Logger
	detector *Detector
	log      *slog.Logger
	now      func() time.Time
}

// NewLogger creates an audit logger writing to the configured sink path.
func NewLogger(cfg *config.Config, log *slog.Logger) *Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "" // the event carries its own timestamp
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.Audit.SinkPath,
			MaxSize:    cfg.Audit.MaxSizeMB,
			MaxBackups: cfg.Audit.MaxBackups,
		}),
		zapcore.InfoLevel,
	)

	a := &Logger{
		queue:   make(chan Event, cfg.Audit.QueueSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		sink:    zap.New(core),
		log:     log.With(logger.Scope("audit")),
		now:     time.Now,
	}
	a.detector = NewDetector(cfg.Audit.PatternWindow, cfg.Audit.PatternThreshold, a)
	return a
}

// Record enqueues an event. It never blocks: when the queue is full the
// oldest queued event is dropped to make room.
func (a *Logger) Record(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = a.now().UTC()
	}
	if e.Severity == "" {
		e.Severity = defaultSeverity(e.Event)
	}

	for {
		select {
		case a.queue <- e:
			return
		default:
		}
		select {
		case <-a.queue:
			droppedEvents.Inc()
		default:
		}
	}
}

// Start launches the consumer goroutine.
func (a *Logger) Start() {
	go a.consume()
}

func (a *Logger) consume() {
	defer close(a.flushed)
	for {
		select {
		case e := <-a.queue:
			a.write(e)
		case <-a.done:
			// Drain whatever is queued before exiting.
			for {
				select {
				case e := <-a.queue:
					a.write(e)
				default:
					return
				}
			}
		}
	}
}

func (a *Logger) write(e Event) {
	a.sink.Info(string(e.Event),
		zap.Time("timestamp", e.Timestamp),
		zap.String("event", string(e.Event)),
		zap.String("severity", string(e.Severity)),
		zap.String("client_ip", e.ClientIP),
		zap.String("subject_id", e.SubjectID),
		zap.String("request_info", e.RequestInfo),
		zap.Any("detail", e.Detail),
	)
	a.detector.Observe(e)
}

// Flush stops the consumer after draining the queue and syncs the sink.
func (a *Logger) Flush(ctx context.Context) error {
	close(a.done)
	select {
	case <-a.flushed:
	case <-ctx.Done():
		return ctx.Err()
	}
	// Sync on stdout-backed sinks returns ENOTTY; rotation sinks do not.
	if err := a.sink.Sync(); err != nil {
		a.log.Warn("audit sink sync", logger.Error(err))
	}
	return nil
}

// Sweep prunes the pattern detector's event window. Registered with the
// process scheduler.
func (a *Logger) Sweep() {
	a.detector.Prune(a.now())
}
