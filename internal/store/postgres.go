package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// PostgresStore is one conference's view of a partition database. Every
// participant and note query is scoped to conferenceID, so two conferences
// configured against the same database never see each other's rows.
type PostgresStore struct {
	db           *sql.DB
	conferenceID string
}

func NewPostgresStore(db *sql.DB, conferenceID string) *PostgresStore {
	return &PostgresStore{db: db, conferenceID: conferenceID}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) EnsureConference(ctx context.Context, conference Conference) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conferences (id, name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, conference.ID, conference.Name)
	if err != nil {
		return fmt.Errorf("ensure conference: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetConference(ctx context.Context, conferenceID string) (Conference, error) {
	var item Conference
	err := s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM conferences WHERE id=$1`, conferenceID).
		Scan(&item.ID, &item.Name, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Conference{}, fmt.Errorf("get conference %s: %w", conferenceID, ErrNotFound)
	}
	if err != nil {
		return Conference{}, fmt.Errorf("get conference: %w", err)
	}
	return item, nil
}

const participantColumns = `id, conference_id, email, display_name, role, country, created_at, updated_at`

func scanParticipant(row interface{ Scan(...any) error }) (Participant, error) {
	var item Participant
	err := row.Scan(
		&item.ID,
		&item.ConferenceID,
		&item.Email,
		&item.DisplayName,
		&item.Role,
		&item.Country,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) InsertParticipant(ctx context.Context, item Participant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO participants (id, conference_id, email, display_name, role, country, created_at, updated_at)
		VALUES ($1, $2, LOWER($3), $4, $5, $6, $7, $7)
	`, item.ID, s.conferenceID, item.Email, item.DisplayName, item.Role, item.Country, item.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("insert participant %s: %w", item.Email, ErrDuplicate)
		}
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetParticipant(ctx context.Context, participantID string) (Participant, error) {
	item, err := scanParticipant(s.db.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE id=$1 AND conference_id=$2`, participantID, s.conferenceID))
	if errors.Is(err, sql.ErrNoRows) {
		return Participant{}, fmt.Errorf("get participant %s: %w", participantID, ErrNotFound)
	}
	if err != nil {
		return Participant{}, fmt.Errorf("get participant: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetParticipantByEmail(ctx context.Context, email string) (Participant, error) {
	item, err := scanParticipant(s.db.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE email=LOWER($1) AND conference_id=$2`, strings.TrimSpace(email), s.conferenceID))
	if errors.Is(err, sql.ErrNoRows) {
		return Participant{}, fmt.Errorf("get participant by email: %w", ErrNotFound)
	}
	if err != nil {
		return Participant{}, fmt.Errorf("get participant by email: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListParticipants(ctx context.Context) ([]Participant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE conference_id=$1 ORDER BY display_name, email`, s.conferenceID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	items := make([]Participant, 0)
	for rows.Next() {
		item, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return items, nil
}

// UpdateParticipant writes the new role and country. With ReleaseLocks set
// the participant's locks on waiting notes are dropped in the same
// transaction.
func (s *PostgresStore) UpdateParticipant(ctx context.Context, participantID string, update ParticipantUpdate) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin update participant: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE participants
		SET role=$2, country=$3, updated_at=NOW()
		WHERE id=$1 AND conference_id=$4
	`, participantID, update.Role, update.Country, s.conferenceID)
	if err != nil {
		return false, fmt.Errorf("update participant: %w", err)
	}
	updated, err := affected(result)
	if err != nil || !updated {
		return false, err
	}
	if update.ReleaseLocks {
		if err := s.releaseLocks(ctx, tx, participantID); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit update participant: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) releaseLocks(ctx context.Context, tx *sql.Tx, participantID string) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE notes
		SET locked_by=NULL, locked_at=NULL, updated_at=NOW()
		WHERE locked_by=$1 AND status='waiting' AND conference_id=$2
	`, participantID, s.conferenceID); err != nil {
		return fmt.Errorf("release participant locks: %w", err)
	}
	return nil
}

// DeleteParticipant removes the participant and releases any lock it held so
// that waiting notes return to the shared queue.
func (s *PostgresStore) DeleteParticipant(ctx context.Context, participantID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete participant: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.releaseLocks(ctx, tx, participantID); err != nil {
		return false, err
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM participants WHERE id=$1 AND conference_id=$2`, participantID, s.conferenceID)
	if err != nil {
		return false, fmt.Errorf("delete participant: %w", err)
	}
	deleted, err := affected(result)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete participant: %w", err)
	}
	return deleted, nil
}

const noteColumns = `id, conference_id, sender_id, recipient_id, parent_id, body, status, sender_role, recipient_role,
	requires_approval, moderator_id, rejection_reason, approved_at, rejected_at, locked_by, locked_at,
	deleted_at, created_at, updated_at`

func scanNote(row interface{ Scan(...any) error }) (Note, error) {
	var item Note
	err := row.Scan(
		&item.ID,
		&item.ConferenceID,
		&item.SenderID,
		&item.RecipientID,
		&item.ParentID,
		&item.Body,
		&item.Status,
		&item.SenderRole,
		&item.RecipientRole,
		&item.RequiresApproval,
		&item.ModeratorID,
		&item.RejectionReason,
		&item.ApprovedAt,
		&item.RejectedAt,
		&item.LockedBy,
		&item.LockedAt,
		&item.DeletedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) InsertNote(ctx context.Context, item Note) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (
			id, conference_id, sender_id, recipient_id, parent_id, body, status,
			sender_role, recipient_role, requires_approval, approved_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	`,
		item.ID,
		s.conferenceID,
		item.SenderID,
		item.RecipientID,
		item.ParentID,
		item.Body,
		string(item.Status),
		item.SenderRole,
		item.RecipientRole,
		item.RequiresApproval,
		item.ApprovedAt,
		item.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetNote(ctx context.Context, noteID string) (Note, error) {
	item, err := scanNote(s.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id=$1 AND conference_id=$2`, noteID, s.conferenceID))
	if errors.Is(err, sql.ErrNoRows) {
		return Note{}, fmt.Errorf("get note %s: %w", noteID, ErrNotFound)
	}
	if err != nil {
		return Note{}, fmt.Errorf("get note: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) listNotes(ctx context.Context, query string, args ...any) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	items := make([]Note, 0)
	for rows.Next() {
		item, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListPendingNotes(ctx context.Context, viewerID string) ([]Note, error) {
	return s.listNotes(ctx, `
		SELECT `+noteColumns+`
		FROM notes
		WHERE status='waiting'
			AND deleted_at IS NULL
			AND ($1 = '' OR locked_by IS NULL OR locked_by = $1)
			AND conference_id = $2
		ORDER BY created_at, id
	`, viewerID, s.conferenceID)
}

func (s *PostgresStore) ListNotesFor(ctx context.Context, participantID string) ([]Note, error) {
	return s.listNotes(ctx, `
		SELECT `+noteColumns+`
		FROM notes
		WHERE deleted_at IS NULL
			AND (sender_id = $1 OR (recipient_id = $1 AND status = 'approved'))
			AND conference_id = $2
		ORDER BY created_at, id
	`, participantID, s.conferenceID)
}

// The WHERE clauses below carry the whole precondition so that concurrent
// writers serialize on the row: a second writer re-evaluates the predicate
// against the committed row and updates nothing.

func (s *PostgresStore) LockNote(ctx context.Context, noteID, moderatorID string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notes
		SET locked_by=$2, locked_at=$3, updated_at=$3
		WHERE id=$1
			AND status='waiting'
			AND deleted_at IS NULL
			AND (locked_by IS NULL OR locked_by=$2)
			AND conference_id=$4
	`, noteID, moderatorID, at, s.conferenceID)
	if err != nil {
		return false, fmt.Errorf("lock note: %w", err)
	}
	return affected(result)
}

func (s *PostgresStore) UnlockNote(ctx context.Context, noteID, moderatorID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notes
		SET locked_by=NULL, locked_at=NULL, updated_at=NOW()
		WHERE id=$1
			AND status='waiting'
			AND deleted_at IS NULL
			AND locked_by=$2
			AND conference_id=$3
	`, noteID, moderatorID, s.conferenceID)
	if err != nil {
		return false, fmt.Errorf("unlock note: %w", err)
	}
	return affected(result)
}

func (s *PostgresStore) ApproveNote(ctx context.Context, noteID, moderatorID string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notes
		SET status='approved', moderator_id=$2, approved_at=$3, locked_by=NULL, locked_at=NULL, updated_at=$3
		WHERE id=$1
			AND status='waiting'
			AND deleted_at IS NULL
			AND locked_by=$2
			AND conference_id=$4
	`, noteID, moderatorID, at, s.conferenceID)
	if err != nil {
		return false, fmt.Errorf("approve note: %w", err)
	}
	return affected(result)
}

func (s *PostgresStore) RejectNote(ctx context.Context, noteID, moderatorID, reason string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notes
		SET status='rejected', moderator_id=$2, rejection_reason=$3, rejected_at=$4, locked_by=NULL, locked_at=NULL, updated_at=$4
		WHERE id=$1
			AND status='waiting'
			AND deleted_at IS NULL
			AND locked_by=$2
			AND conference_id=$5
	`, noteID, moderatorID, reason, at, s.conferenceID)
	if err != nil {
		return false, fmt.Errorf("reject note: %w", err)
	}
	return affected(result)
}

func (s *PostgresStore) SoftDeleteNote(ctx context.Context, noteID string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notes
		SET deleted_at=$2, locked_by=NULL, locked_at=NULL, updated_at=$2
		WHERE id=$1 AND deleted_at IS NULL AND conference_id=$3
	`, noteID, at, s.conferenceID)
	if err != nil {
		return false, fmt.Errorf("delete note: %w", err)
	}
	return affected(result)
}

func affected(result sql.Result) (bool, error) {
	count, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return count > 0, nil
}
