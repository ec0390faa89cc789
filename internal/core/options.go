package core

import "wardtrace/internal/engine"

// Option customises a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	logger    Logger
	metrics   MetricsRecorder
	tracer    Tracer
	clock     Clock
	audit     AuditRecorder
	publisher Publisher
	engine    []engine.Option
	newRunID  func() string
}

func defaultOptions() serviceOptions {
	return serviceOptions{
		logger:    noopLogger{},
		metrics:   noopMetricsRecorder{},
		tracer:    noopTracer{},
		clock:     ClockFunc(nil),
		audit:     noopAuditRecorder{},
		publisher: noopPublisher{},
	}
}

// WithLogger sets the service logger.
func WithLogger(logger Logger) Option {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetricsRecorder sets the operation metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer sets the span factory.
func WithTracer(tracer Tracer) Option {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithAuditRecorder sets the audit sink.
func WithAuditRecorder(recorder AuditRecorder) Option {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.audit = recorder
		}
	}
}

// WithPublisher sets the sink notified of each published run.
func WithPublisher(publisher Publisher) Option {
	return func(o *serviceOptions) {
		if publisher != nil {
			o.publisher = publisher
		}
	}
}

// WithEngineOptions forwards detector tuning (parallelism, presence cap).
func WithEngineOptions(opts ...engine.Option) Option {
	return func(o *serviceOptions) {
		o.engine = append(o.engine, opts...)
	}
}

// WithRunIDGenerator overrides run id generation when no snapshot store
// assigns one.
func WithRunIDGenerator(fn func() string) Option {
	return func(o *serviceOptions) {
		if fn != nil {
			o.newRunID = fn
		}
	}
}
