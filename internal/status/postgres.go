package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/johndosdos/chatterd/internal/database"
	"github.com/johndosdos/chatterd/internal/model"
)

// PostgresStore is a Store backed by the message_statuses tables.
type PostgresStore struct {
	pool *pgxpool.Pool
	db   *database.Queries
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, db: database.New(pool)}
}

func (s *PostgresStore) Create(ctx context.Context, r Record) error {
	return s.inTx(ctx, func(q *database.Queries) error {
		msgID := pgtype.UUID{Bytes: r.MessageID, Valid: true}
		n, err := q.InsertMessageStatus(ctx, database.InsertMessageStatusParams{
			SiteID:        string(r.Site),
			MessageID:     msgID,
			RoomID:        string(r.Room),
			Status:        string(r.Status),
			FailureReason: r.FailureReason,
			CreatedAt:     timestamptz(r.CreatedAt),
			UpdatedAt:     timestamptz(r.UpdatedAt),
		})
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrExists
		}

		for i, rs := range r.Recipients {
			err := q.InsertRecipientStatus(ctx, database.InsertRecipientStatusParams{
				SiteID:        string(r.Site),
				MessageID:     msgID,
				RecipientKind: string(rs.Recipient.Kind),
				RecipientID:   rs.Recipient.ID,
				Position:      int32(i),
				Status:        string(rs.Status),
				UpdatedAt:     timestamptz(rs.UpdatedAt),
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) Get(ctx context.Context, site model.SiteID, messageID uuid.UUID) (Record, error) {
	msgID := pgtype.UUID{Bytes: messageID, Valid: true}
	row, err := s.db.GetMessageStatus(ctx, database.GetMessageStatusParams{
		SiteID:    string(site),
		MessageID: msgID,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}

	recipients, err := s.db.ListRecipientStatuses(ctx, database.ListRecipientStatusesParams{
		SiteID:    string(site),
		MessageID: msgID,
	})
	if err != nil {
		return Record{}, err
	}

	r := Record{
		Site:          model.SiteID(row.SiteID),
		MessageID:     row.MessageID.Bytes,
		Room:          model.RoomID(row.RoomID),
		Status:        State(row.Status),
		FailureReason: row.FailureReason,
		CreatedAt:     row.CreatedAt.Time,
		UpdatedAt:     row.UpdatedAt.Time,
		Recipients:    make([]RecipientStatus, 0, len(recipients)),
	}
	for _, rs := range recipients {
		r.Recipients = append(r.Recipients, RecipientStatus{
			Recipient: model.Participant{Kind: model.ParticipantKind(rs.RecipientKind), ID: rs.RecipientID},
			Status:    State(rs.Status),
			UpdatedAt: rs.UpdatedAt.Time,
		})
	}
	return r, nil
}

func (s *PostgresStore) Save(ctx context.Context, r Record) error {
	return s.inTx(ctx, func(q *database.Queries) error {
		msgID := pgtype.UUID{Bytes: r.MessageID, Valid: true}
		n, err := q.UpdateMessageStatus(ctx, database.UpdateMessageStatusParams{
			SiteID:        string(r.Site),
			MessageID:     msgID,
			Status:        string(r.Status),
			FailureReason: r.FailureReason,
			UpdatedAt:     timestamptz(r.UpdatedAt),
		})
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}

		for _, rs := range r.Recipients {
			err := q.UpdateRecipientStatus(ctx, database.UpdateRecipientStatusParams{
				SiteID:        string(r.Site),
				MessageID:     msgID,
				RecipientKind: string(rs.Recipient.Kind),
				RecipientID:   rs.Recipient.ID,
				Status:        string(rs.Status),
				UpdatedAt:     timestamptz(rs.UpdatedAt),
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(q *database.Queries) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(s.db.WithTx(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func timestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t.UTC(), Valid: !t.IsZero()}
}
