// Package audit records OTP security events off the request path. Events are
// buffered, enriched in a background worker and fanned out to every
// configured sink. Sink failures are logged and counted, never returned.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mealzee-auth/internal/bucketing"
	"mealzee-auth/internal/encryption"
	"mealzee-auth/internal/metrics"
	"mealzee-auth/internal/models"
	"mealzee-auth/internal/util"
)

const (
	defaultBufferSize = 1024
	maxBatch          = 100
	flushInterval     = time.Second
	sinkTimeout       = 5 * time.Second
)

// Sink persists a batch of enriched events.
type Sink interface {
	Name() string
	Write(ctx context.Context, events []*models.SecurityEvent) error
}

// Event is what callers report; the publisher fills in the rest.
type Event struct {
	Type     string
	Phone    string
	Channel  string
	Provider string
	Kind     models.ErrorKind
	Attempts int
	Degraded bool
	Details  string
	At       time.Time
}

// Emitter is the publishing side used by the service.
type Emitter interface {
	Publish(ev Event)
}

type Publisher struct {
	sinks   []Sink
	enc     *encryption.EncryptionManager
	buckets *bucketing.BucketingManager

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func NewPublisher(sinks []Sink, enc *encryption.EncryptionManager, buckets *bucketing.BucketingManager, bufferSize int) *Publisher {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	p := &Publisher{
		sinks:   sinks,
		enc:     enc,
		buckets: buckets,
		events:  make(chan Event, bufferSize),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish enqueues ev without blocking. When the buffer is full the event is
// dropped and counted.
func (p *Publisher) Publish(ev Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case p.events <- ev:
	default:
		metrics.AuditDropped.Inc()
		util.Warn("Audit buffer full, dropping event", zap.String("event_type", ev.Type))
	}
}

// Close stops intake and waits for buffered events to be written, or for ctx.
func (p *Publisher) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.events)
		p.mu.Unlock()
	})
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher) run() {
	defer close(p.done)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*models.SecurityEvent, 0, maxBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		p.write(batch)
		batch = make([]*models.SecurityEvent, 0, maxBatch)
	}

	for {
		select {
		case ev, ok := <-p.events:
			if !ok {
				flush()
				return
			}
			batch = append(batch, p.enrich(ev))
			if len(batch) >= maxBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (p *Publisher) enrich(ev Event) *models.SecurityEvent {
	assignment := p.buckets.Assign(ev.Phone, ev.At)
	out := &models.SecurityEvent{
		EventID:     uuid.New().String(),
		EventBucket: assignment.EventBucket,
		EventDate:   assignment.DateBucket,
		EventTime:   ev.At.UTC(),
		EventType:   ev.Type,
		PhoneMasked: util.MaskPhone(ev.Phone),
		Channel:     ev.Channel,
		Provider:    ev.Provider,
		Kind:        string(ev.Kind),
		Attempts:    ev.Attempts,
		Degraded:    ev.Degraded,
		Details:     ev.Details,
	}

	if p.enc != nil && ev.Phone != "" {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		sealed, err := p.enc.EncryptField(ctx, ev.Phone)
		cancel()
		if err != nil {
			util.Error("Failed to encrypt phone for audit event", zap.Error(err))
		} else {
			out.PhoneEncrypted = sealed.EncryptedValue
			out.PhoneDEK = sealed.EncryptedDEK
			out.PhoneKeyID = sealed.KeyID
		}
	}
	return out
}

func (p *Publisher) write(batch []*models.SecurityEvent) {
	if len(p.sinks) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	var g errgroup.Group
	for _, sink := range p.sinks {
		sink := sink
		g.Go(func() error {
			if err := sink.Write(ctx, batch); err != nil {
				metrics.AuditSinkErrors.WithLabelValues(sink.Name()).Inc()
				util.Error("Audit sink write failed",
					zap.String("sink", sink.Name()),
					zap.Int("events", len(batch)),
					zap.Error(err))
				return err
			}
			return nil
		})
	}
	_ = g.Wait()
}
