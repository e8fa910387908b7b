// Package store persists teams, players, the question catalog and the per-team
// quest state in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/VladislavGnom/QuestBot/internal/quest"
)

var (
	ErrNoSession     = errors.New("no session")
	ErrAlreadyMember = errors.New("player already belongs to a team")
	ErrNoTeam        = errors.New("player has no team")
)

// StartLocationID is where players begin unless placed elsewhere.
const StartLocationID = 1

type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *SQLite {
	return &SQLite{db: db, now: time.Now}
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) GetTeam(ctx context.Context, teamID int64) (quest.Team, error) {
	var (
		t         quest.Team
		captainID sql.NullInt64
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, captain_id, invite_token, created_at
		FROM teams
		WHERE id = ?
	`, teamID).Scan(&t.ID, &t.Name, &captainID, &t.InviteToken, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, fmt.Errorf("%w: %d", quest.ErrTeamNotFound, teamID)
	}
	if err != nil {
		return t, err
	}
	t.CaptainID = captainID.Int64
	t.CreatedAt = parseTime(createdAt)
	return t, nil
}

// CreateTeam registers a team with a fresh invite token. An existing team
// with the same name is returned as is, with created set to false.
func (s *SQLite) CreateTeam(ctx context.Context, name string) (team quest.Team, created bool, err error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return quest.Team{}, false, err
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM teams WHERE name = ?`, name).Scan(&id)
	switch {
	case err == nil:
		if err := tx.Commit(); err != nil {
			return quest.Team{}, false, err
		}
		team, err = s.GetTeam(ctx, id)
		return team, false, err
	case !errors.Is(err, sql.ErrNoRows):
		return quest.Team{}, false, err
	}

	t := quest.Team{Name: name, InviteToken: uuid.NewString(), CreatedAt: s.now().UTC()}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO teams (name, invite_token, created_at)
		VALUES (?, ?, ?)
		RETURNING id
	`, t.Name, t.InviteToken, formatTime(t.CreatedAt)).Scan(&t.ID)
	if err != nil {
		return quest.Team{}, false, fmt.Errorf("inserting team: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return quest.Team{}, false, err
	}
	return t, true, nil
}

const playerColumns = `id, name, team_id, is_captain, is_admin, location_id, join_seq, joined_at`

func scanPlayer(row interface{ Scan(...any) error }) (quest.Player, error) {
	var (
		p        quest.Player
		teamID   sql.NullInt64
		joinedAt sql.NullString
	)
	err := row.Scan(&p.ID, &p.Name, &teamID, &p.IsCaptain, &p.IsAdmin, &p.LocationID, &p.JoinSeq, &joinedAt)
	if err != nil {
		return p, err
	}
	p.TeamID = teamID.Int64
	if joinedAt.Valid {
		p.JoinedAt = parseTime(joinedAt.String)
	}
	return p, nil
}

func (s *SQLite) GetPlayer(ctx context.Context, playerID int64) (quest.Player, error) {
	p, err := scanPlayer(s.db.QueryRowContext(ctx,
		`SELECT `+playerColumns+` FROM players WHERE id = ?`, playerID))
	if errors.Is(err, sql.ErrNoRows) {
		return p, fmt.Errorf("%w: %d", quest.ErrPlayerNotFound, playerID)
	}
	return p, err
}

func (s *SQLite) GetTeamPlayers(ctx context.Context, teamID int64) ([]quest.Player, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+playerColumns+` FROM players WHERE team_id = ? ORDER BY join_seq, id`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []quest.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

// TeamPlayerIDs lists the roster for broadcasts.
func (s *SQLite) TeamPlayerIDs(ctx context.Context, teamID int64) ([]int64, error) {
	if _, err := s.GetTeam(ctx, teamID); err != nil {
		return nil, err
	}
	players, err := s.GetTeamPlayers(ctx, teamID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(players))
	for i, p := range players {
		ids[i] = p.ID
	}
	return ids, nil
}

func (s *SQLite) SetPlayerLocation(ctx context.Context, playerID, locationID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE players SET location_id = ? WHERE id = ?`, locationID, playerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", quest.ErrPlayerNotFound, playerID)
	}
	return nil
}

// Capabilities implements quest.CapabilityLookup from the player's role flags.
func (s *SQLite) Capabilities(ctx context.Context, playerID int64) (quest.Grant, error) {
	p, err := s.GetPlayer(ctx, playerID)
	if err != nil {
		return quest.Grant{}, err
	}
	g := quest.Grant{PlayerID: p.ID, TeamID: p.TeamID}
	if p.IsCaptain {
		g.Caps |= quest.CapCaptain
	}
	if p.IsAdmin {
		g.Caps |= quest.CapAdmin
	}
	return g, nil
}

// GrantCapability promotes a player. A new captain replaces the previous one
// of their team.
func (s *SQLite) GrantCapability(ctx context.Context, playerID int64, c quest.Capability) error {
	p, err := s.GetPlayer(ctx, playerID)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if c&quest.CapAdmin != 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE players SET is_admin = 1 WHERE id = ?`, playerID); err != nil {
			return fmt.Errorf("granting admin: %w", err)
		}
	}
	if c&quest.CapCaptain != 0 {
		if p.TeamID == 0 {
			return ErrNoTeam
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE players SET is_captain = 0 WHERE team_id = ? AND id <> ?`, p.TeamID, playerID); err != nil {
			return fmt.Errorf("demoting previous captain: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE players SET is_captain = 1 WHERE id = ?`, playerID); err != nil {
			return fmt.Errorf("granting captain: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE teams SET captain_id = ? WHERE id = ?`, playerID, p.TeamID); err != nil {
			return fmt.Errorf("setting team captain: %w", err)
		}
	}
	return tx.Commit()
}

// JoinTeam adds the player to the team owning inviteToken and issues a new
// session token. Unknown players are created at the start location.
func (s *SQLite) JoinTeam(ctx context.Context, inviteToken string, playerID int64, name string) (quest.Player, string, error) {
	var teamID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM teams WHERE invite_token = ?`, inviteToken).Scan(&teamID)
	if errors.Is(err, sql.ErrNoRows) {
		return quest.Player{}, "", quest.ErrTeamNotFound
	}
	if err != nil {
		return quest.Player{}, "", err
	}

	existing, err := s.GetPlayer(ctx, playerID)
	switch {
	case err == nil && existing.TeamID != 0:
		return quest.Player{}, "", fmt.Errorf("%w: team %d", ErrAlreadyMember, existing.TeamID)
	case err != nil && !errors.Is(err, quest.ErrPlayerNotFound):
		return quest.Player{}, "", err
	}

	token := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO players (id, name, team_id, location_id, session_token, join_seq, joined_at)
		VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(join_seq), 0) + 1 FROM players), ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			team_id = excluded.team_id,
			session_token = excluded.session_token,
			join_seq = excluded.join_seq,
			joined_at = excluded.joined_at
	`, playerID, name, teamID, StartLocationID, token, formatTime(s.now()))
	if err != nil {
		return quest.Player{}, "", fmt.Errorf("joining team: %w", err)
	}

	p, err := s.GetPlayer(ctx, playerID)
	if err != nil {
		return quest.Player{}, "", err
	}
	return p, token, nil
}

// PlayerFromToken resolves a session token.
func (s *SQLite) PlayerFromToken(ctx context.Context, token string) (quest.Player, error) {
	p, err := scanPlayer(s.db.QueryRowContext(ctx,
		`SELECT `+playerColumns+` FROM players WHERE session_token = ?`, token))
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNoSession
	}
	return p, err
}

// IssueSession replaces the player's session token.
func (s *SQLite) IssueSession(ctx context.Context, playerID int64) (string, error) {
	token := uuid.NewString()
	res, err := s.db.ExecContext(ctx,
		`UPDATE players SET session_token = ? WHERE id = ?`, token, playerID)
	if err != nil {
		return "", err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", fmt.Errorf("%w: %d", quest.ErrPlayerNotFound, playerID)
	}
	return token, nil
}

// Fixed width keeps stored timestamps ordered as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	return parseTime(s.String)
}
