package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"atd/signal-comms/internal/domain"
	"atd/signal-comms/internal/socrata"
)

// ObjectSource lists and reads stored runs. *s3.ResultRepository satisfies it.
type ObjectSource interface {
	ListDay(ctx context.Context, env string, deviceType domain.DeviceType, day time.Time) ([]string, error)
	Download(ctx context.Context, key string) ([]domain.Record, error)
}

// RowUpserter writes rows to a portal dataset. *socrata.Client satisfies it.
type RowUpserter interface {
	Upsert(ctx context.Context, resourceID string, rows []socrata.Row) (socrata.UpsertResult, error)
}

type PublishReport struct {
	Objects int
	Rows    int
	Result  socrata.UpsertResult
}

// Publisher republishes one day of stored runs to the open data portal.
type Publisher struct {
	source ObjectSource
	portal RowUpserter
	log    *slog.Logger
}

func NewPublisher(source ObjectSource, portal RowUpserter, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{source: source, portal: portal, log: log}
}

// PublishDay upserts every run stored for day. Rows are keyed by record id,
// so publishing the same day twice updates rather than duplicates. Rows the
// portal rejects fail the publish once every run has been sent.
func (p *Publisher) PublishDay(ctx context.Context, env string, deviceType domain.DeviceType, day time.Time, resourceID string) (PublishReport, error) {
	var report PublishReport

	keys, err := p.source.ListDay(ctx, env, deviceType, day)
	if err != nil {
		return report, fmt.Errorf("list stored runs: %w", err)
	}

	p.log.Debug("found stored runs", "objects", len(keys), "day", day.Format(time.DateOnly))

	for _, key := range keys {
		rows, err := p.source.Download(ctx, key)
		if err != nil {
			return report, err
		}

		res, err := p.portal.Upsert(ctx, resourceID, socrata.NewRows(rows))
		if err != nil {
			return report, fmt.Errorf("publish %s: %w", key, err)
		}

		report.Objects++
		report.Rows += len(rows)
		report.Result.Created += res.Created
		report.Result.Updated += res.Updated
		report.Result.Errors += res.Errors

		p.log.Info("published run",
			"key", key,
			"rows", len(rows),
			"created", res.Created,
			"updated", res.Updated,
			"errors", res.Errors,
		)
	}

	if report.Result.Errors > 0 {
		return report, fmt.Errorf("portal rejected %d of %d rows", report.Result.Errors, report.Rows)
	}

	return report, nil
}
