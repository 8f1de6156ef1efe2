package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/johndosdos/chatterd/internal/database"
	"github.com/johndosdos/chatterd/internal/model"
)

const uniqueViolation = "23505"

// PostgresStore is a Store backed by the queued_messages table.
type PostgresStore struct {
	pool *pgxpool.Pool
	db   *database.Queries
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, db: database.New(pool)}
}

func (s *PostgresStore) Insert(ctx context.Context, m *QueuedMessage) error {
	seq, err := s.db.InsertQueuedMessage(ctx, database.InsertQueuedMessageParams{
		ID:            pgtype.UUID{Bytes: m.ID, Valid: true},
		SiteID:        string(m.Site),
		RecipientKind: string(m.Recipient.Kind),
		RecipientID:   m.Recipient.ID,
		MessageID:     pgtype.UUID{Bytes: m.MessageID, Valid: true},
		RoomID:        string(m.Room),
		ThreadID:      m.ThreadID,
		SenderKind:    string(m.Sender.Kind),
		SenderID:      m.Sender.ID,
		SenderName:    m.SenderName,
		Preview:       m.Preview,
		Kind:          string(m.Kind),
		Priority:      int32(m.Priority),
		Status:        string(m.Status),
		Attempts:      int32(m.Attempts),
		LastAttemptAt: timestamptz(m.LastAttemptAt),
		PushSent:      m.PushSent,
		PushSentAt:    timestamptz(m.PushSentAt),
		FailureReason: m.FailureReason,
		ExpiresAt:     timestamptz(m.ExpiresAt),
		CreatedAt:     timestamptz(m.CreatedAt),
	})
	if err != nil {
		// ON CONFLICT DO NOTHING returns no row.
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrDuplicateQueueEntry
		}
		return err
	}

	m.Seq = seq
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, key Key, status Status) (QueuedMessage, error) {
	row, err := s.db.FindQueuedMessage(ctx, database.FindQueuedMessageParams{
		SiteID:        string(key.Site),
		RecipientKind: string(key.Recipient.Kind),
		RecipientID:   key.Recipient.ID,
		MessageID:     pgtype.UUID{Bytes: key.MessageID, Valid: true},
		Status:        string(status),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return QueuedMessage{}, ErrNotFound
		}
		return QueuedMessage{}, err
	}
	return fromRow(row), nil
}

func (s *PostgresStore) ListPending(ctx context.Context, site model.SiteID, recipient model.Participant) ([]QueuedMessage, error) {
	rows, err := s.db.ListPendingQueuedMessages(ctx, database.ListPendingQueuedMessagesParams{
		SiteID:        string(site),
		RecipientKind: string(recipient.Kind),
		RecipientID:   recipient.ID,
	})
	if err != nil {
		return nil, err
	}

	out := make([]QueuedMessage, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out, nil
}

// ClaimPending expires and claims in one transaction so a concurrent drain
// on another node sees either all or none of the entries.
func (s *PostgresStore) ClaimPending(ctx context.Context, site model.SiteID, recipient model.Participant, now time.Time) ([]QueuedMessage, int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	qtx := s.db.WithTx(tx)
	expired, err := qtx.ExpireRecipientQueuedMessages(ctx, database.ExpireRecipientQueuedMessagesParams{
		SiteID:        string(site),
		RecipientKind: string(recipient.Kind),
		RecipientID:   recipient.ID,
		Now:           timestamptz(now),
	})
	if err != nil {
		return nil, 0, err
	}

	rows, err := qtx.ClaimPendingQueuedMessages(ctx, database.ClaimPendingQueuedMessagesParams{
		Now:           timestamptz(now),
		SiteID:        string(site),
		RecipientKind: string(recipient.Kind),
		RecipientID:   recipient.ID,
	})
	if err != nil {
		return nil, 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, 0, fmt.Errorf("commit: %w", err)
	}

	delivered := make([]QueuedMessage, 0, len(rows))
	for _, row := range rows {
		delivered = append(delivered, fromRow(row))
	}
	// UPDATE ... RETURNING has no ORDER BY.
	sortDelivery(delivered)
	return delivered, int(expired), nil
}

func (s *PostgresStore) CountPending(ctx context.Context, site model.SiteID, recipient model.Participant, now time.Time) (int, error) {
	n, err := s.db.CountPendingQueuedMessages(ctx, database.CountPendingQueuedMessagesParams{
		SiteID:        string(site),
		RecipientKind: string(recipient.Kind),
		RecipientID:   recipient.ID,
		Now:           timestamptz(now),
	})
	return int(n), err
}

func (s *PostgresStore) ExpireBefore(ctx context.Context, now time.Time) (int, error) {
	n, err := s.db.ExpireQueuedMessages(ctx, timestamptz(now))
	return int(n), err
}

func (s *PostgresStore) Update(ctx context.Context, m QueuedMessage, from Status) error {
	n, err := s.db.UpdateQueuedMessage(ctx, database.UpdateQueuedMessageParams{
		Status:        string(m.Status),
		Attempts:      int32(m.Attempts),
		LastAttemptAt: timestamptz(m.LastAttemptAt),
		PushSent:      m.PushSent,
		PushSentAt:    timestamptz(m.PushSentAt),
		FailureReason: m.FailureReason,
		ExpiresAt:     timestamptz(m.ExpiresAt),
		ID:            pgtype.UUID{Bytes: m.ID, Valid: true},
		FromStatus:    string(from),
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateQueueEntry
		}
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func timestamptz(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t.UTC(), Valid: true}
}

func fromRow(row database.QueuedMessage) QueuedMessage {
	return QueuedMessage{
		ID:            row.ID.Bytes,
		Seq:           row.Seq,
		Site:          model.SiteID(row.SiteID),
		Recipient:     model.Participant{Kind: model.ParticipantKind(row.RecipientKind), ID: row.RecipientID},
		MessageID:     row.MessageID.Bytes,
		Room:          model.RoomID(row.RoomID),
		ThreadID:      row.ThreadID,
		Sender:        model.Participant{Kind: model.ParticipantKind(row.SenderKind), ID: row.SenderID},
		SenderName:    row.SenderName,
		Preview:       row.Preview,
		Kind:          model.MessageKind(row.Kind),
		Priority:      int(row.Priority),
		Status:        Status(row.Status),
		Attempts:      int(row.Attempts),
		LastAttemptAt: row.LastAttemptAt.Time,
		PushSent:      row.PushSent,
		PushSentAt:    row.PushSentAt.Time,
		FailureReason: row.FailureReason,
		ExpiresAt:     row.ExpiresAt.Time,
		CreatedAt:     row.CreatedAt.Time,
	}
}
