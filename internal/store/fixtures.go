package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Fixtures is the seed document: the question catalog and the teams with
// their players. Players listed at the top level belong to no team.
type Fixtures struct {
	Locations []LocationFixture `json:"locations" validate:"required,dive"`
	Questions []QuestionFixture `json:"questions" validate:"dive"`
	Teams     []TeamFixture     `json:"teams" validate:"dive"`
	Players   []PlayerFixture   `json:"players" validate:"dive"`
}

type LocationFixture struct {
	ID          int64   `json:"id" validate:"required,gt=0"`
	Name        string  `json:"name" validate:"required"`
	Description string  `json:"description"`
	Lat         float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon         float64 `json:"lon" validate:"gte=-180,lte=180"`
	Hidden      bool    `json:"hidden"`
}

type QuestionFixture struct {
	ID         int64    `json:"id" validate:"required,gt=0"`
	LocationID int64    `json:"location_id" validate:"required,gt=0"`
	Prompt     string   `json:"prompt" validate:"required"`
	Answer     string   `json:"answer" validate:"required"`
	Hints      []string `json:"hints" validate:"max=3,dive,required"`
	HintMedia  []string `json:"hint_media" validate:"max=3,dive,omitempty,media_path"`
	Media      string   `json:"media" validate:"omitempty,media_path"`
	Cost       int      `json:"cost" validate:"gte=0"`
}

type TeamFixture struct {
	Name        string          `json:"name" validate:"required,max=64"`
	InviteToken string          `json:"invite_token" validate:"omitempty,max=64"`
	Players     []PlayerFixture `json:"players" validate:"dive"`
}

type PlayerFixture struct {
	ID         int64  `json:"id" validate:"required,gt=0"`
	Name       string `json:"name" validate:"required"`
	Captain    bool   `json:"captain"`
	Admin      bool   `json:"admin"`
	LocationID int64  `json:"location_id" validate:"omitempty,gt=0"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("media_path", validateMediaPath)
	return v
}

// validateMediaPath accepts relative paths that stay inside the media
// directory.
func validateMediaPath(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	if filepath.IsAbs(p) {
		return false
	}
	clean := filepath.ToSlash(filepath.Clean(p))
	return clean != ".." && !strings.HasPrefix(clean, "../")
}

// Validate checks field constraints and cross references.
func (f *Fixtures) Validate() error {
	if err := validate.Struct(f); err != nil {
		return err
	}

	locations := make(map[int64]bool, len(f.Locations))
	for _, l := range f.Locations {
		if locations[l.ID] {
			return fmt.Errorf("duplicate location %d", l.ID)
		}
		locations[l.ID] = true
	}
	if !locations[StartLocationID] {
		return fmt.Errorf("start location %d is missing", StartLocationID)
	}

	var errs []error
	for _, q := range f.Questions {
		if !locations[q.LocationID] {
			errs = append(errs, fmt.Errorf("question %d: unknown location %d", q.ID, q.LocationID))
		}
	}
	players := make(map[int64]bool)
	check := func(p PlayerFixture) {
		if players[p.ID] {
			errs = append(errs, fmt.Errorf("player %d listed twice", p.ID))
		}
		players[p.ID] = true
		if p.LocationID != 0 && !locations[p.LocationID] {
			errs = append(errs, fmt.Errorf("player %d: unknown location %d", p.ID, p.LocationID))
		}
	}
	for _, t := range f.Teams {
		captains := 0
		for _, p := range t.Players {
			check(p)
			if p.Captain {
				captains++
			}
		}
		if captains > 1 {
			errs = append(errs, fmt.Errorf("team %q has %d captains", t.Name, captains))
		}
	}
	for _, p := range f.Players {
		check(p)
		if p.Captain {
			errs = append(errs, fmt.Errorf("player %d: captain without team", p.ID))
		}
	}
	return errors.Join(errs...)
}

// LoadFixturesFile loads the fixtures document at path.
func (s *SQLite) LoadFixturesFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening fixtures: %w", err)
	}
	defer f.Close()
	return s.LoadFixtures(ctx, f)
}

// LoadFixtures validates the document and upserts it in one transaction.
// Loading the same document again changes nothing; players keep their
// current location once they exist.
func (s *SQLite) LoadFixtures(ctx context.Context, r io.Reader) error {
	var f Fixtures
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return fmt.Errorf("decoding fixtures: %w", err)
	}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("validating fixtures: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, l := range f.Locations {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO locations (id, name, description, lat, lon, hidden)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				description = excluded.description,
				lat = excluded.lat,
				lon = excluded.lon,
				hidden = excluded.hidden
		`, l.ID, l.Name, l.Description, l.Lat, l.Lon, boolInt(l.Hidden))
		if err != nil {
			return fmt.Errorf("upserting location %d: %w", l.ID, err)
		}
	}

	for _, q := range f.Questions {
		hints, _ := json.Marshal(nonNil(q.Hints))
		hintMedia, _ := json.Marshal(nonNil(q.HintMedia))
		_, err := tx.ExecContext(ctx, `
			INSERT INTO questions (id, location_id, prompt, answer, hints, hint_media, media_path, cost)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				location_id = excluded.location_id,
				prompt = excluded.prompt,
				answer = excluded.answer,
				hints = excluded.hints,
				hint_media = excluded.hint_media,
				media_path = excluded.media_path,
				cost = excluded.cost
		`, q.ID, q.LocationID, q.Prompt, q.Answer, string(hints), string(hintMedia), q.Media, q.Cost)
		if err != nil {
			return fmt.Errorf("upserting question %d: %w", q.ID, err)
		}
	}

	now := formatTime(s.now())
	for _, t := range f.Teams {
		token := t.InviteToken
		if token == "" {
			token = uuid.NewString()
		}
		var teamID int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO teams (name, invite_token, created_at)
			VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				invite_token = CASE WHEN ? = '' THEN teams.invite_token ELSE excluded.invite_token END
			RETURNING id
		`, t.Name, token, now, t.InviteToken).Scan(&teamID)
		if err != nil {
			return fmt.Errorf("upserting team %q: %w", t.Name, err)
		}

		for _, p := range t.Players {
			if err := upsertPlayer(ctx, tx, p, sql.NullInt64{Int64: teamID, Valid: true}, now); err != nil {
				return err
			}
			if p.Captain {
				if _, err := tx.ExecContext(ctx,
					`UPDATE teams SET captain_id = ? WHERE id = ?`, p.ID, teamID); err != nil {
					return fmt.Errorf("setting captain of team %q: %w", t.Name, err)
				}
			}
		}
	}
	for _, p := range f.Players {
		if err := upsertPlayer(ctx, tx, p, sql.NullInt64{}, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func upsertPlayer(ctx context.Context, tx *sql.Tx, p PlayerFixture, teamID sql.NullInt64, now string) error {
	location := p.LocationID
	if location == 0 {
		location = StartLocationID
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO players (id, name, team_id, is_captain, is_admin, location_id, join_seq, joined_at)
		VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(join_seq), 0) + 1 FROM players), ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			team_id = excluded.team_id,
			is_captain = excluded.is_captain,
			is_admin = excluded.is_admin
	`, p.ID, p.Name, teamID, boolInt(p.Captain), boolInt(p.Admin), location, now)
	if err != nil {
		return fmt.Errorf("upserting player %d: %w", p.ID, err)
	}
	return nil
}
