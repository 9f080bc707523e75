package repository

import (
	"context"
	"errors"
	"log/slog"

	"atd/signal-comms/internal/domain"
	"atd/signal-comms/internal/repository/kafka"
)

// ResultRepository persists a validated batch. Persisting the same run twice
// must not duplicate records: implementations key records by Record.ID.
type ResultRepository interface {
	Persist(ctx context.Context, batch domain.PublishBatch) (domain.Ack, error)
	Name() string
}

// KafkaResultRepository publishes one message per record, keyed by record id,
// so a compacted topic keeps a single entry per record.
type KafkaResultRepository struct {
	producer *kafka.Producer
	log      *slog.Logger
}

func NewKafkaResultRepository(producer *kafka.Producer, log *slog.Logger) *KafkaResultRepository {
	return &KafkaResultRepository{
		producer: producer,
		log:      log,
	}
}

func (r *KafkaResultRepository) Name() string {
	return "kafka"
}

func (r *KafkaResultRepository) Persist(ctx context.Context, batch domain.PublishBatch) (domain.Ack, error) {
	events := make([]kafka.Event, 0, len(batch.Records))
	for _, record := range batch.Records {
		events = append(events, kafka.Event{
			Key:     record.ID,
			Value:   record,
			Headers: map[string]string{"run_id": batch.RunID, "device_type": string(batch.DeviceType)},
		})
	}

	if err := r.producer.PublishEvents(ctx, events...); err != nil {
		return domain.Ack{}, &domain.SinkError{Sink: r.Name(), RunID: batch.RunID, Err: err}
	}

	r.log.Info("sent results",
		"topic", r.producer.Topic(),
		"run_id", batch.RunID,
		"records", len(events),
	)

	return domain.Ack{Sink: r.Name(), Destination: r.producer.Topic(), Records: len(events)}, nil
}

// MultiResultRepository persists to every configured sink in turn. It fails
// if any sink fails, after trying all of them.
type MultiResultRepository struct {
	repos []ResultRepository
}

func NewMultiResultRepository(repos ...ResultRepository) *MultiResultRepository {
	return &MultiResultRepository{repos: repos}
}

func (m *MultiResultRepository) Names() []string {
	names := make([]string, 0, len(m.repos))
	for _, repo := range m.repos {
		names = append(names, repo.Name())
	}
	return names
}

// PersistAll returns the acks of the sinks that succeeded and a joined error
// for those that failed.
func (m *MultiResultRepository) PersistAll(ctx context.Context, batch domain.PublishBatch) ([]domain.Ack, error) {
	acks := make([]domain.Ack, 0, len(m.repos))
	var errs []error

	for _, repo := range m.repos {
		ack, err := repo.Persist(ctx, batch)
		if err != nil {
			var sinkErr *domain.SinkError
			if !errors.As(err, &sinkErr) {
				err = &domain.SinkError{Sink: repo.Name(), RunID: batch.RunID, Err: err}
			}
			errs = append(errs, err)
			continue
		}
		acks = append(acks, ack)
	}

	return acks, errors.Join(errs...)
}
