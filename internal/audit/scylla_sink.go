package audit

import (
	"context"
	"errors"

	"github.com/gocql/gocql"

	"mealzee-auth/internal/client"
	"mealzee-auth/internal/models"
)

const (
	scyllaCreateTable = `CREATE TABLE IF NOT EXISTS otp_security_events (
	event_bucket int,
	event_date text,
	event_time timestamp,
	event_id uuid,
	event_type text,
	phone_masked text,
	phone_encrypted text,
	phone_dek text,
	phone_key_id text,
	channel text,
	provider text,
	kind text,
	attempts int,
	degraded boolean,
	details text,
	PRIMARY KEY ((event_bucket, event_date), event_time, event_id)
) WITH CLUSTERING ORDER BY (event_time DESC, event_id ASC)
  AND default_time_to_live = 15552000`

	scyllaInsert = `INSERT INTO otp_security_events (
	event_bucket, event_date, event_time, event_id, event_type, phone_masked,
	phone_encrypted, phone_dek, phone_key_id, channel, provider, kind, attempts, degraded, details
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

// ScyllaSink keeps a per-bucket, per-day ledger of events.
type ScyllaSink struct {
	scylla *client.ScyllaClient
}

func NewScyllaSink(scylla *client.ScyllaClient) *ScyllaSink {
	return &ScyllaSink{scylla: scylla}
}

func (s *ScyllaSink) Name() string { return "scylla" }

func (s *ScyllaSink) EnsureSchema(ctx context.Context) error {
	return s.scylla.Query(ctx, scyllaCreateTable).Exec()
}

func (s *ScyllaSink) Write(ctx context.Context, events []*models.SecurityEvent) error {
	var errs []error
	for _, ev := range events {
		id, err := gocql.ParseUUID(ev.EventID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		q := s.scylla.Query(ctx, scyllaInsert,
			ev.EventBucket, ev.EventDate, ev.EventTime, id, ev.EventType, ev.PhoneMasked,
			ev.PhoneEncrypted, ev.PhoneDEK, ev.PhoneKeyID, ev.Channel, ev.Provider, ev.Kind,
			ev.Attempts, ev.Degraded, ev.Details)
		if err := s.scylla.ExecuteWithRetry(q, 2); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
