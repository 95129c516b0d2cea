package xrelay

import (
	"context"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// DefaultPattern subscribes to every log topic.
const DefaultPattern = "logs.#"

// RelayBuilder constructs Relay instances (Builder pattern).
type RelayBuilder struct {
	subscriberName string
	subscriberCfg  map[string]any
	subscriberInst Subscriber

	sinkName        string
	sinkCfg         map[string]any
	sinkInst        Sink
	sinkMiddlewares []SinkMiddleware

	codecName string
	codecInst FrameCodec

	pattern   string
	observers []Observer
	logger    *xlog.Logger
	clock     xclock.Clock

	registryCfg RegistryConfig

	persistQueue   int
	persistWorkers int
	storeTimeout   time.Duration

	observerWorkers int
	observerBuffer  int
}

// NewRelayBuilder returns a new builder with sensible defaults.
func NewRelayBuilder() *RelayBuilder {
	return &RelayBuilder{
		codecName:       "text",
		pattern:         DefaultPattern,
		persistQueue:    1024,
		persistWorkers:  1, // one worker keeps store order equal to bus order
		storeTimeout:    5 * time.Second,
		observerWorkers: 4,
		observerBuffer:  1000,
	}
}

func (rb *RelayBuilder) WithSubscriber(name string, cfg map[string]any) *RelayBuilder {
	rb.subscriberName = name
	rb.subscriberCfg = cfg
	return rb
}

// WithSubscriberInstance accepts a ready Subscriber (e.g., from adapter Use()).
func (rb *RelayBuilder) WithSubscriberInstance(s Subscriber) *RelayBuilder {
	rb.subscriberInst = s
	return rb
}

func (rb *RelayBuilder) WithSink(name string, cfg map[string]any) *RelayBuilder {
	rb.sinkName = name
	rb.sinkCfg = cfg
	return rb
}

// WithSinkInstance accepts a ready Sink.
func (rb *RelayBuilder) WithSinkInstance(s Sink) *RelayBuilder {
	rb.sinkInst = s
	return rb
}

// WithSinkMiddleware wraps the sink; RecoverSink is always applied outermost.
func (rb *RelayBuilder) WithSinkMiddleware(mw ...SinkMiddleware) *RelayBuilder {
	rb.sinkMiddlewares = append(rb.sinkMiddlewares, mw...)
	return rb
}

func (rb *RelayBuilder) WithCodec(name string) *RelayBuilder {
	rb.codecName = name
	return rb
}

func (rb *RelayBuilder) WithCodecInstance(c FrameCodec) *RelayBuilder {
	rb.codecInst = c
	return rb
}

func (rb *RelayBuilder) WithPattern(pattern string) *RelayBuilder {
	rb.pattern = pattern
	return rb
}

func (rb *RelayBuilder) WithObserver(obs ...Observer) *RelayBuilder {
	for _, o := range obs {
		if o != nil {
			rb.observers = append(rb.observers, o)
		}
	}
	return rb
}

func (rb *RelayBuilder) WithLogger(l *xlog.Logger) *RelayBuilder {
	rb.logger = l
	return rb
}

func (rb *RelayBuilder) WithClock(c xclock.Clock) *RelayBuilder {
	rb.clock = c
	return rb
}

// WithClientQueue sets the per-connection frame buffer and write timeout.
func (rb *RelayBuilder) WithClientQueue(size int, writeTimeout time.Duration) *RelayBuilder {
	if size > 0 {
		rb.registryCfg.QueueSize = size
	}
	if writeTimeout > 0 {
		rb.registryCfg.WriteTimeout = writeTimeout
	}
	return rb
}

// WithSlowClientTimeout sets how long a broadcast waits on a full client queue
// before evicting that client.
func (rb *RelayBuilder) WithSlowClientTimeout(d time.Duration) *RelayBuilder {
	if d > 0 {
		rb.registryCfg.EnqueueTimeout = d
	}
	return rb
}

// WithMaxConns caps registered connections; 0 means unlimited.
func (rb *RelayBuilder) WithMaxConns(n int) *RelayBuilder {
	if n >= 0 {
		rb.registryCfg.MaxConns = n
	}
	return rb
}

// WithPersistence tunes the persistence queue.
func (rb *RelayBuilder) WithPersistence(queue, workers int, storeTimeout time.Duration) *RelayBuilder {
	if queue > 0 {
		rb.persistQueue = queue
	}
	if workers > 0 {
		rb.persistWorkers = workers
	}
	if storeTimeout > 0 {
		rb.storeTimeout = storeTimeout
	}
	return rb
}

func (rb *RelayBuilder) WithObserverPool(workers, buffer int) *RelayBuilder {
	if workers > 0 {
		rb.observerWorkers = workers
	}
	if buffer > 0 {
		rb.observerBuffer = buffer
	}
	return rb
}

// closeBuilt releases the adapters Build created from factories when a later
// step fails. Instances supplied by the caller stay open.
func (rb *RelayBuilder) closeBuilt(sub Subscriber, sink Sink) {
	ctx := context.Background()
	if sub != nil && rb.subscriberInst == nil {
		_ = sub.Close(ctx)
	}
	if sink != nil && rb.sinkInst == nil && rb.sinkName != "" {
		_ = sink.Close(ctx)
	}
}

// Build validates the configuration and assembles a Relay. Adapters created
// from factories are closed again if a later step fails.
func (rb *RelayBuilder) Build() (*Relay, error) {
	if rb.pattern == "" {
		return nil, ErrInvalidPattern
	}

	var sub Subscriber
	var err error
	switch {
	case rb.subscriberInst != nil:
		sub = rb.subscriberInst
	case rb.subscriberName != "":
		sub, err = NewSubscriber(rb.subscriberName, rb.subscriberCfg)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrNoSubscriberConfigured
	}

	var sink Sink
	switch {
	case rb.sinkInst != nil:
		sink = rb.sinkInst
	case rb.sinkName != "":
		sink, err = NewSink(rb.sinkName, rb.sinkCfg)
		if err != nil {
			rb.closeBuilt(sub, nil)
			return nil, err
		}
	default:
		sink = DiscardSink{}
	}
	mws := append([]SinkMiddleware{RecoverSink()}, rb.sinkMiddlewares...)
	sink = ChainSink(sink, mws...)

	codec := rb.codecInst
	if codec == nil {
		codec, err = NewCodec(rb.codecName)
		if err != nil {
			rb.closeBuilt(sub, sink)
			return nil, err
		}
	}

	clk := rb.clock
	if clk == nil {
		clk = xclock.Default()
	}
	lg := rb.logger
	if lg == nil {
		lg = xlog.Default()
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	baseCtx = InjectAll(baseCtx, lg, clk)

	r := &Relay{
		subscriber:   sub,
		sink:         sink,
		pattern:      rb.pattern,
		clock:        clk,
		logger:       lg,
		storeTimeout: rb.storeTimeout,
		persistQueue: make(chan Message, rb.persistQueue),
		persistOpen:  true,
		observerPool: NewObserverPool(baseCtx, rb.observerWorkers, rb.observerBuffer),
		baseCtx:      baseCtx,
		cancel:       cancel,
		metrics:      &relayMetrics{},
		errCh:        make(chan error, 1),
	}

	regCfg := rb.registryCfg
	regCfg.Codec = codec
	regCfg.Logger = lg
	regCfg.Notify = r.onEvent
	r.registry = NewRegistry(regCfg)

	// Attach logging observer first unless already supplied externally.
	hasLoggingObserver := false
	for _, o := range rb.observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLoggingObserver = true
			break
		}
	}
	if !hasLoggingObserver {
		r.AddObserver(LoggingObserver{Logger: lg})
	}
	for _, o := range rb.observers {
		r.AddObserver(o)
	}

	for i := 0; i < rb.persistWorkers; i++ {
		r.persistWG.Add(1)
		go r.persistWorker()
	}

	return r, nil
}

// New constructs a Relay via Builder and returns a close func for convenience.
func New(init func(b *RelayBuilder)) (*Relay, func() error, error) {
	b := NewRelayBuilder()
	if init != nil {
		init(b)
	}
	r, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() error { return r.Close(context.Background()) }
	return r, closeFn, nil
}
