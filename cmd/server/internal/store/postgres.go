package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres creates a Store backed by the given pool.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// schema 由部署时的迁移工具执行；这里保留定义便于本地启动
const schema = `
CREATE TABLE IF NOT EXISTS meetings (
	id               TEXT PRIMARY KEY,
	title            TEXT NOT NULL,
	start_time       TIMESTAMPTZ NOT NULL,
	end_time         TIMESTAMPTZ NOT NULL,
	meeting_url      TEXT NOT NULL DEFAULT '',
	ai_enabled       BOOLEAN NOT NULL DEFAULT FALSE,
	join_attempted   BOOLEAN NOT NULL DEFAULT FALSE,
	dispatch_retries INT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS bot_sessions (
	id         TEXT PRIMARY KEY,
	meeting_id TEXT NOT NULL REFERENCES meetings(id),
	bot_id     TEXT NOT NULL DEFAULT '',
	state      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	joined_at  TIMESTAMPTZ,
	left_at    TIMESTAMPTZ,
	last_error TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS conversation_turns (
	id            BIGSERIAL PRIMARY KEY,
	session_id    TEXT NOT NULL REFERENCES bot_sessions(id),
	meeting_id    TEXT NOT NULL,
	speaker       TEXT NOT NULL,
	text          TEXT NOT NULL,
	ts            TIMESTAMPTZ NOT NULL,
	outcome       TEXT NOT NULL,
	response_text TEXT NOT NULL DEFAULT '',
	snippets_used TEXT[] NOT NULL DEFAULT '{}',
	error_code    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS materials (
	id          BIGSERIAL PRIMARY KEY,
	meeting_id  TEXT NOT NULL REFERENCES meetings(id),
	filename    TEXT NOT NULL,
	text        TEXT NOT NULL,
	uploaded_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_meetings_start ON meetings(start_time);
CREATE INDEX IF NOT EXISTS idx_sessions_meeting ON bot_sessions(meeting_id);
CREATE INDEX IF NOT EXISTS idx_turns_session ON conversation_turns(session_id);
CREATE INDEX IF NOT EXISTS idx_materials_meeting ON materials(meeting_id);
`

// EnsureSchema creates the tables if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	return nil
}

func (p *Postgres) GetMeeting(ctx context.Context, meetingID string) (*Meeting, error) {
	query := `
		SELECT id, title, start_time, end_time, meeting_url, ai_enabled, join_attempted, dispatch_retries
		FROM meetings WHERE id = $1
	`
	var m Meeting
	err := p.db.QueryRow(ctx, query, meetingID).Scan(
		&m.ID, &m.Title, &m.StartTime, &m.EndTime, &m.MeetingURL,
		&m.AIEnabled, &m.JoinAttempted, &m.DispatchRetries,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting meeting: %w", err)
	}
	return &m, nil
}

func (p *Postgres) ListAIEnabledMeetingsInWindow(ctx context.Context, from, to time.Time) ([]Meeting, error) {
	query := `
		SELECT id, title, start_time, end_time, meeting_url, ai_enabled, join_attempted, dispatch_retries
		FROM meetings
		WHERE ai_enabled AND start_time >= $1 AND start_time <= $2
		ORDER BY start_time ASC
	`
	rows, err := p.db.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing meetings: %w", err)
	}
	defer rows.Close()

	var out []Meeting
	for rows.Next() {
		var m Meeting
		if err := rows.Scan(
			&m.ID, &m.Title, &m.StartTime, &m.EndTime, &m.MeetingURL,
			&m.AIEnabled, &m.JoinAttempted, &m.DispatchRetries,
		); err != nil {
			return nil, fmt.Errorf("scanning meeting: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkJoinAttempted flips the join flag atomically. The conditional UPDATE is
// the unit of idempotency: overlapping scheduler ticks race on the row and
// exactly one of them sees RowsAffected == 1.
func (p *Postgres) MarkJoinAttempted(ctx context.Context, meetingID string) (bool, error) {
	tag, err := p.db.Exec(ctx,
		`UPDATE meetings SET join_attempted = TRUE WHERE id = $1 AND NOT join_attempted`,
		meetingID,
	)
	if err != nil {
		return false, fmt.Errorf("marking join attempted: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) SetAIEnabled(ctx context.Context, meetingID string, enabled bool) error {
	tag, err := p.db.Exec(ctx, `UPDATE meetings SET ai_enabled = $2 WHERE id = $1`, meetingID, enabled)
	if err != nil {
		return fmt.Errorf("setting ai_enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) IncrementDispatchRetries(ctx context.Context, meetingID string) (int, error) {
	var retries int
	err := p.db.QueryRow(ctx,
		`UPDATE meetings SET dispatch_retries = dispatch_retries + 1 WHERE id = $1 RETURNING dispatch_retries`,
		meetingID,
	).Scan(&retries)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("incrementing dispatch retries: %w", err)
	}
	return retries, nil
}

func (p *Postgres) CreateSession(ctx context.Context, s *BotSession) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO bot_sessions (id, meeting_id, bot_id, state, created_at, joined_at, left_at, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.MeetingID, s.BotID, string(s.State), s.CreatedAt, s.JoinedAt, s.LeftAt, s.LastError,
	)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

const sessionColumns = `id, meeting_id, bot_id, state, created_at, joined_at, left_at, last_error`

func scanSession(row pgx.Row) (*BotSession, error) {
	var s BotSession
	var state string
	err := row.Scan(&s.ID, &s.MeetingID, &s.BotID, &state, &s.CreatedAt, &s.JoinedAt, &s.LeftAt, &s.LastError)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	s.State = SessionState(state)
	return &s, nil
}

func (p *Postgres) GetSession(ctx context.Context, sessionID string) (*BotSession, error) {
	row := p.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM bot_sessions WHERE id = $1`, sessionID)
	return scanSession(row)
}

func (p *Postgres) FindSessionByBotID(ctx context.Context, botID string) (*BotSession, error) {
	row := p.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM bot_sessions WHERE bot_id = $1 AND bot_id <> '' ORDER BY created_at DESC LIMIT 1`,
		botID)
	return scanSession(row)
}

func (p *Postgres) ActiveSessionForMeeting(ctx context.Context, meetingID string) (*BotSession, error) {
	row := p.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM bot_sessions
		 WHERE meeting_id = $1 AND state NOT IN ('left', 'abandoned', 'missed')
		 ORDER BY created_at DESC LIMIT 1`,
		meetingID)
	return scanSession(row)
}

func (p *Postgres) UpdateSession(ctx context.Context, s *BotSession) error {
	tag, err := p.db.Exec(ctx, `
		UPDATE bot_sessions
		SET bot_id = $2, state = $3, joined_at = $4, left_at = $5, last_error = $6
		WHERE id = $1`,
		s.ID, s.BotID, string(s.State), s.JoinedAt, s.LeftAt, s.LastError,
	)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListSessions(ctx context.Context, meetingID string) ([]BotSession, error) {
	rows, err := p.db.Query(ctx,
		`SELECT `+sessionColumns+` FROM bot_sessions WHERE meeting_id = $1 ORDER BY created_at ASC`,
		meetingID)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []BotSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (p *Postgres) AppendTurn(ctx context.Context, turn *ConversationTurn) error {
	err := p.db.QueryRow(ctx, `
		INSERT INTO conversation_turns
			(session_id, meeting_id, speaker, text, ts, outcome, response_text, snippets_used, error_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		turn.SessionID, turn.MeetingID, turn.Speaker, turn.Text, turn.Timestamp,
		string(turn.Outcome), turn.ResponseText, turn.SnippetsUsed, turn.ErrorCode,
	).Scan(&turn.ID)
	if err != nil {
		return fmt.Errorf("appending turn: %w", err)
	}
	return nil
}

const turnColumns = `id, session_id, meeting_id, speaker, text, ts, outcome, response_text, snippets_used, error_code`

func (p *Postgres) listTurns(ctx context.Context, query string, arg string) ([]ConversationTurn, error) {
	rows, err := p.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("listing turns: %w", err)
	}
	defer rows.Close()

	var out []ConversationTurn
	for rows.Next() {
		var t ConversationTurn
		var outcome string
		if err := rows.Scan(
			&t.ID, &t.SessionID, &t.MeetingID, &t.Speaker, &t.Text, &t.Timestamp,
			&outcome, &t.ResponseText, &t.SnippetsUsed, &t.ErrorCode,
		); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		t.Outcome = Outcome(outcome)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Postgres) ListTurns(ctx context.Context, sessionID string) ([]ConversationTurn, error) {
	return p.listTurns(ctx,
		`SELECT `+turnColumns+` FROM conversation_turns WHERE session_id = $1 ORDER BY id ASC`,
		sessionID)
}

func (p *Postgres) ListFollowUps(ctx context.Context, meetingID string) ([]ConversationTurn, error) {
	return p.listTurns(ctx,
		`SELECT `+turnColumns+` FROM conversation_turns WHERE meeting_id = $1 AND outcome = 'taken_back' ORDER BY id ASC`,
		meetingID)
}

func (p *Postgres) ListMaterials(ctx context.Context, meetingID string) ([]Material, error) {
	rows, err := p.db.Query(ctx,
		`SELECT id, meeting_id, filename, text, uploaded_at FROM materials WHERE meeting_id = $1 ORDER BY uploaded_at ASC, id ASC`,
		meetingID)
	if err != nil {
		return nil, fmt.Errorf("listing materials: %w", err)
	}
	defer rows.Close()

	var out []Material
	for rows.Next() {
		var m Material
		if err := rows.Scan(&m.ID, &m.MeetingID, &m.Filename, &m.Text, &m.UploadedAt); err != nil {
			return nil, fmt.Errorf("scanning material: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
