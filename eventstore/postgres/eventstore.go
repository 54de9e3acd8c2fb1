package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/eventfold/bank-cqrs-go/account"
	"github.com/eventfold/bank-cqrs-go/eventstore"
)

type EventStore struct {
	db                    *sql.DB
	selectEventsStmt      *sql.Stmt
	selectAllEventsStmt   *sql.Stmt
	selectSnapshotStmt    *sql.Stmt
	selectTransactionStmt *sql.Stmt
}

const (
	appendEventSQL  = "INSERT INTO Event(aggregateId, sequenceNumber, transactionId, eventType, payload) VALUES($1, $2, $3, $4, $5)"
	selectEventsSQL = "SELECT sequenceNumber, eventType, payload FROM Event WHERE aggregateId = $1 AND sequenceNumber > $2 ORDER BY sequenceNumber ASC"

	// Full replay feeds projections at startup. Cross-aggregate order is
	// arbitrary; per-aggregate order is what subscribers rely on.
	selectAllEventsSQL = "SELECT aggregateId, sequenceNumber, eventType, payload FROM Event ORDER BY aggregateId ASC, sequenceNumber ASC"

	storeSnapshotSQL = "INSERT INTO Snapshot(aggregateId, sequenceNumber, eventType, payload) VALUES($1, $2, $3, $4) " +
		"ON CONFLICT (aggregateId) DO UPDATE SET sequenceNumber=$2, eventType=$3, payload=$4"
	selectSnapshotSQL = "SELECT sequenceNumber, eventType, payload FROM Snapshot WHERE aggregateId = $1"

	insertTransactionSQL = "INSERT INTO Transaction(aggregateId, transactionId) VALUES($1, $2)"
	selectTransactionSQL = "SELECT aggregateId FROM Transaction WHERE aggregateId = $1 AND transactionId = $2"
)

func MigrateSchema(db *sql.DB, schemaLocation string) {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Panic(err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+schemaLocation, "event_store", driver)
	if err != nil {
		log.Panic(err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		log.Panic(err)
	}
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{
		db:                    db,
		selectEventsStmt:      prepareStatementOrPanic(db, selectEventsSQL),
		selectAllEventsStmt:   prepareStatementOrPanic(db, selectAllEventsSQL),
		selectSnapshotStmt:    prepareStatementOrPanic(db, selectSnapshotSQL),
		selectTransactionStmt: prepareStatementOrPanic(db, selectTransactionSQL),
	}
}

func prepareStatementOrPanic(db *sql.DB, sql string) *sql.Stmt {
	stmt, err := db.Prepare(sql)
	if err != nil {
		panic(err)
	}
	return stmt
}

func (es *EventStore) Events(ctx context.Context, id account.ID, version int) ([]eventstore.SerializedEvent, error) {
	var events []eventstore.SerializedEvent

	err := sqlSelect(
		ctx,
		es.selectEventsStmt,
		func(rows *sql.Rows) error {
			for rows.Next() {
				event := eventstore.SerializedEvent{AggregateID: id}
				err := rows.Scan(&event.Seq, &event.EventType, &event.Payload)
				if err != nil {
					return err
				}
				events = append(events, event)
			}
			return nil
		},
		id, version,
	)

	return events, err
}

func (es *EventStore) AllEvents(ctx context.Context, handle func(eventstore.SerializedEvent) error) error {
	return sqlSelect(
		ctx,
		es.selectAllEventsStmt,
		func(rows *sql.Rows) error {
			for rows.Next() {
				var event eventstore.SerializedEvent
				if err := rows.Scan(&event.AggregateID, &event.Seq, &event.EventType, &event.Payload); err != nil {
					return err
				}
				if err := handle(event); err != nil {
					return err
				}
			}
			return nil
		},
	)
}

func (es *EventStore) LoadSnapshot(ctx context.Context, id account.ID) (*eventstore.SerializedEvent, error) {
	var snapshot *eventstore.SerializedEvent

	err := sqlSelect(
		ctx,
		es.selectSnapshotStmt,
		func(rows *sql.Rows) error {
			if rows.Next() {
				event := eventstore.SerializedEvent{AggregateID: id}
				err := rows.Scan(&event.Seq, &event.EventType, &event.Payload)
				if err != nil {
					return err
				}
				snapshot = &event
			}
			return nil
		},
		id,
	)

	return snapshot, err
}

func (es *EventStore) TransactionExists(ctx context.Context, id account.ID, txID uuid.UUID) (bool, error) {
	transactionExists := false

	err := sqlSelect(
		ctx,
		es.selectTransactionStmt,
		func(rows *sql.Rows) error {
			transactionExists = rows.Next()
			return nil
		},
		id, txID,
	)

	return transactionExists, err
}

func (es *EventStore) Append(ctx context.Context, events []eventstore.SerializedEvent, snapshots []eventstore.SerializedEvent, txID uuid.UUID) error {
	if err := es.append(ctx, events, snapshots, txID); err != nil {
		return toConcurrentModification(err)
	}
	return nil
}

func (es *EventStore) append(ctx context.Context, events []eventstore.SerializedEvent, snapshots []eventstore.SerializedEvent, txID uuid.UUID) error {
	return es.withTransaction(ctx, func(tx *sql.Tx) error {
		if err := insertEvents(ctx, tx, events, txID); err != nil {
			return err
		}
		if err := insertTransaction(ctx, tx, events, txID); err != nil {
			return err
		}
		if len(snapshots) != 0 {
			if err := updateSnapshots(ctx, tx, snapshots); err != nil {
				return err
			}
		}
		return nil
	})
}

func (es *EventStore) withTransaction(ctx context.Context, doInTx func(tx *sql.Tx) error) error {
	tx, err := es.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := doInTx(tx); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("error while rolling back tx %v, original error %w", rollbackErr, err)
		}
		return err
	}

	return tx.Commit()
}

func sqlSelect(
	ctx context.Context,
	stmt *sql.Stmt,
	rowExtractor func(rows *sql.Rows) error,
	args ...interface{},
) error {
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return err
	}
	defer closeResource(rows)

	if err := rowExtractor(rows); err != nil {
		return err
	}
	return rows.Err()
}

func insertTransaction(ctx context.Context, tx *sql.Tx, events []eventstore.SerializedEvent, txID uuid.UUID) error {
	aggregateIDs := map[account.ID]bool{}
	for _, event := range events {
		aggregateIDs[event.AggregateID] = true
	}
	for aggregateID := range aggregateIDs {
		if _, err := tx.ExecContext(ctx, insertTransactionSQL, aggregateID, txID); err != nil {
			return err
		}
	}
	return nil
}

func insertEvents(ctx context.Context, tx *sql.Tx, events []eventstore.SerializedEvent, txID uuid.UUID) error {
	insertEventsStmt, err := tx.PrepareContext(ctx, appendEventSQL)
	if err != nil {
		return err
	}
	defer closeResource(insertEventsStmt)

	for _, event := range events {
		if _, err := insertEventsStmt.ExecContext(ctx, event.AggregateID, event.Seq, txID, event.EventType, event.Payload); err != nil {
			return err
		}
	}
	return nil
}

func updateSnapshots(ctx context.Context, tx *sql.Tx, snapshots []eventstore.SerializedEvent) error {
	insertSnapshotsStmt, err := tx.PrepareContext(ctx, storeSnapshotSQL)
	if err != nil {
		return err
	}
	defer closeResource(insertSnapshotsStmt)
	for _, snapshot := range snapshots {
		if _, err := insertSnapshotsStmt.ExecContext(ctx, snapshot.AggregateID, snapshot.Seq, snapshot.EventType, snapshot.Payload); err != nil {
			return err
		}
	}
	return nil
}

// The primary key on (aggregateId, sequenceNumber) and on
// (aggregateId, transactionId) is what enforces optimistic concurrency and
// command idempotency - a duplicate insert means somebody else won the race.
func toConcurrentModification(err error) error {
	var e *pq.Error
	if errors.As(err, &e) && e.Code == "23505" {
		return account.ConcurrentModification
	}
	return err
}

func closeResource(c io.Closer) {
	if err := c.Close(); err != nil {
		log.Printf("Could not close resource: %v\n", err)
	}
}
