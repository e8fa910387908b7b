package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/VladislavGnom/QuestBot/internal/quest"
)

func (s *SQLite) GetLocation(ctx context.Context, locationID int64) (quest.Location, error) {
	var l quest.Location
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, lat, lon, hidden
		FROM locations
		WHERE id = ?
	`, locationID).Scan(&l.ID, &l.Name, &l.Description, &l.Lat, &l.Lon, &l.Hidden)
	if errors.Is(err, sql.ErrNoRows) {
		return l, fmt.Errorf("%w: %d", quest.ErrLocationNotFound, locationID)
	}
	return l, err
}

func (s *SQLite) GetLocationQuestions(ctx context.Context, locationID int64) ([]quest.Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, location_id, prompt, answer, hints, hint_media, media_path, cost
		FROM questions
		WHERE location_id = ?
		ORDER BY id
	`, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []quest.Question
	for rows.Next() {
		var (
			q                quest.Question
			hints, hintMedia string
		)
		if err := rows.Scan(&q.ID, &q.LocationID, &q.Prompt, &q.Answer, &hints, &hintMedia, &q.MediaPath, &q.Cost); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(hints), &q.Hints); err != nil {
			return nil, fmt.Errorf("decoding hints of question %d: %w", q.ID, err)
		}
		if err := json.Unmarshal([]byte(hintMedia), &q.HintMedia); err != nil {
			return nil, fmt.Errorf("decoding hint media of question %d: %w", q.ID, err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}
