package audit

import (
	"context"
	"errors"
	"fmt"

	"mealzee-auth/internal/client"
	"mealzee-auth/internal/models"
)

// ElasticsearchSink indexes events into a daily index for investigation.
type ElasticsearchSink struct {
	es *client.ESClient
}

func NewElasticsearchSink(es *client.ESClient) *ElasticsearchSink {
	return &ElasticsearchSink{es: es}
}

func (s *ElasticsearchSink) Name() string { return "elasticsearch" }

func (s *ElasticsearchSink) Write(ctx context.Context, events []*models.SecurityEvent) error {
	var errs []error
	for _, ev := range events {
		index := fmt.Sprintf("%s-%s", s.es.Index(), ev.EventDate)
		if err := s.es.IndexDocument(ctx, index, ev.EventID, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
