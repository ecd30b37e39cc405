package audit

import (
	"context"
	"fmt"

	"mealzee-auth/internal/client"
	"mealzee-auth/internal/models"
)

const clickhouseColumns = `event_id, event_bucket, event_date, event_time, event_type,
	phone_masked, phone_encrypted, phone_dek, phone_key_id, channel, provider, kind, attempts, degraded, details`

// ClickHouseSink appends events for analytics in one batch per flush.
type ClickHouseSink struct {
	ch    *client.ClickHouseClient
	table string
}

func NewClickHouseSink(ch *client.ClickHouseClient, table string) *ClickHouseSink {
	return &ClickHouseSink{ch: ch, table: table}
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

// EnsureSchema creates the events table if missing.
func (s *ClickHouseSink) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	event_id String,
	event_bucket UInt16,
	event_date Date,
	event_time DateTime64(3, 'UTC'),
	event_type LowCardinality(String),
	phone_masked String,
	phone_encrypted String,
	phone_dek String,
	phone_key_id String,
	channel LowCardinality(String),
	provider LowCardinality(String),
	kind LowCardinality(String),
	attempts UInt8,
	degraded Bool,
	details String
) ENGINE = MergeTree
PARTITION BY toYYYYMM(event_date)
ORDER BY (event_type, event_time)
TTL event_date + INTERVAL 180 DAY`, s.table)
	return s.ch.Exec(ctx, ddl)
}

func (s *ClickHouseSink) Write(ctx context.Context, events []*models.SecurityEvent) error {
	query := fmt.Sprintf("INSERT INTO %s (%s)", s.table, clickhouseColumns)
	return s.ch.BatchInsert(ctx, query, clickhouseRows(events))
}

func clickhouseRows(events []*models.SecurityEvent) [][]interface{} {
	rows := make([][]interface{}, 0, len(events))
	for _, ev := range events {
		rows = append(rows, []interface{}{
			ev.EventID,
			uint16(ev.EventBucket),
			ev.EventTime,
			ev.EventTime,
			ev.EventType,
			ev.PhoneMasked,
			ev.PhoneEncrypted,
			ev.PhoneDEK,
			ev.PhoneKeyID,
			ev.Channel,
			ev.Provider,
			ev.Kind,
			uint8(ev.Attempts),
			ev.Degraded,
			ev.Details,
		})
	}
	return rows
}
