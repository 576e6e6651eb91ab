// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/relabs-tech/carlog/core/logger"
)

// eventTopic is the kafka topic all outbox events are published to.
const eventTopic = "carlog.events"

// execer is satisfied by *sql.DB and *sql.Tx. Raising an event inside a
// transaction makes it part of that transaction: the event only becomes
// visible to the publisher when the transaction commits.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// raiseEvent appends an event to the transactional outbox. Payload can be
// nil or any JSON-serializable object.
func (b *Backend) raiseEvent(ctx context.Context, e execer, event, resource, resourceID string, payload interface{}) error {
	data := []byte("{}")
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}
	_, err := e.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s."_event_outbox_"(event_id, event, resource, resource_id, payload, created_at)
VALUES($1, $2, $3, $4, $5, $6);`, b.db.Schema),
		uuid.New(), event, resource, resourceID, data, time.Now().UTC())
	return err
}

// outboxEvent is the kafka wire format of a raised event.
type outboxEvent struct {
	EventID    string          `json:"event_id"`
	Event      string          `json:"event"`
	Resource   string          `json:"resource"`
	ResourceID string          `json:"resource_id"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
}

// eventPublisher drains the outbox into kafka in the background.
type eventPublisher struct {
	backend *Backend
	writer  *kafka.Writer
	closing chan struct{}
	closed  chan struct{}
}

// handleEventOutbox creates the outbox table and, if brokers are
// configured, starts the background publisher. Without brokers events
// still go to the outbox, they are just never drained.
func (b *Backend) handleEventOutbox(brokers []string) {
	_, err := b.db.Exec(fmt.Sprintf(`CREATE extension IF NOT EXISTS "uuid-ossp";
CREATE TABLE IF NOT EXISTS %s."_event_outbox_"
(event_id uuid NOT NULL DEFAULT uuid_generate_v4(),
event varchar NOT NULL,
resource varchar NOT NULL,
resource_id varchar NOT NULL DEFAULT '',
payload json NOT NULL DEFAULT '{}'::jsonb,
created_at timestamp NOT NULL DEFAULT now(),
serial SERIAL,
PRIMARY KEY(event_id)
);`, b.db.Schema))
	if err != nil {
		logger.Default().WithError(err).Fatalln("Error 2370: cannot create event outbox")
	}

	if len(brokers) == 0 {
		return
	}

	p := &eventPublisher{
		backend: b,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        eventTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
		closing: make(chan struct{}),
		closed:  make(chan struct{}),
	}
	b.publisher = p
	go p.run()
}

func (p *eventPublisher) run() {
	defer close(p.closed)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-p.closing:
			return
		case <-ticker.C:
			if err := p.drain(); err != nil {
				logger.Default().WithError(err).Errorln("Error 2371: cannot drain event outbox")
			}
		}
	}
}

// drain publishes and deletes pending events in batches. Concurrent
// publishers skip each other's locked rows.
func (p *eventPublisher) drain() error {
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		n, err := p.drainBatch(ctx)
		cancel()
		if err != nil || n == 0 {
			return err
		}
	}
}

func (p *eventPublisher) drainBatch(ctx context.Context) (int, error) {
	b := p.backend
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		fmt.Sprintf(`SELECT event_id, event, resource, resource_id, payload, created_at
FROM %s."_event_outbox_" ORDER BY serial FOR UPDATE SKIP LOCKED LIMIT 64;`, b.db.Schema))
	if err != nil {
		return 0, err
	}

	var events []outboxEvent
	for rows.Next() {
		var event outboxEvent
		if err := rows.Scan(&event.EventID, &event.Event, &event.Resource,
			&event.ResourceID, &event.Payload, &event.CreatedAt); err != nil {
			rows.Close()
			return 0, err
		}
		events = append(events, event)
	}
	rows.Close()
	if len(events) == 0 {
		return 0, nil
	}

	messages := make([]kafka.Message, len(events))
	for i, event := range events {
		value, err := json.Marshal(event)
		if err != nil {
			return 0, err
		}
		messages[i] = kafka.Message{
			Key:   []byte(event.Resource + "/" + event.ResourceID),
			Value: value,
		}
	}
	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		return 0, err
	}

	for _, event := range events {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s."_event_outbox_" WHERE event_id = $1;`, b.db.Schema),
			event.EventID); err != nil {
			return 0, err
		}
	}
	return len(events), tx.Commit()
}

func (p *eventPublisher) stop() {
	close(p.closing)
	<-p.closed
	p.writer.Close()
}
