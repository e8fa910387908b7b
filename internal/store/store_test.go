package store

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VladislavGnom/QuestBot/internal/database"
	"github.com/VladislavGnom/QuestBot/internal/migrations"
	"github.com/VladislavGnom/QuestBot/internal/notify"
	"github.com/VladislavGnom/QuestBot/internal/quest"
	"github.com/VladislavGnom/QuestBot/internal/timer"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrations.Run(db))
	return db
}

func seeded(t *testing.T) *SQLite {
	t.Helper()
	s := New(openDB(t))
	f, err := os.Open("testdata/fixtures.json")
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, s.LoadFixtures(context.Background(), f))
	return s
}

func teamByToken(t *testing.T, s *SQLite, token string) int64 {
	t.Helper()
	var id int64
	require.NoError(t, s.db.QueryRow(`SELECT id FROM teams WHERE invite_token = ?`, token).Scan(&id))
	return id
}

func TestLoadFixtures(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	loc, err := s.GetLocation(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "Hidden Garden", loc.Name)
	assert.True(t, loc.Hidden)

	questions, err := s.GetLocationQuestions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, questions, 1)
	assert.Equal(t, []string{"Late 19th century", "Same year as the Eiffel Tower", "18_9"}, questions[0].Hints)
	assert.Equal(t, []string{"", "eiffel.jpg"}, questions[0].HintMedia)
	assert.Equal(t, 10, questions[0].Cost)

	teamID := teamByToken(t, s, "seagulls-invite")
	team, err := s.GetTeam(ctx, teamID)
	require.NoError(t, err)
	assert.Equal(t, "Seagulls", team.Name)
	assert.Equal(t, int64(101), team.CaptainID)

	players, err := s.GetTeamPlayers(ctx, teamID)
	require.NoError(t, err)
	require.Len(t, players, 2)
	assert.Equal(t, int64(101), players[0].ID, "join order")
	assert.True(t, players[0].IsCaptain)
	assert.Equal(t, int64(2), players[0].LocationID)

	root, err := s.GetPlayer(ctx, 900)
	require.NoError(t, err)
	assert.True(t, root.IsAdmin)
	assert.Zero(t, root.TeamID)
	assert.Equal(t, int64(StartLocationID), root.LocationID)
}

func TestLoadFixturesIsIdempotent(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	require.NoError(t, s.SetPlayerLocation(ctx, 102, 3))

	f, err := os.Open("testdata/fixtures.json")
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, s.LoadFixtures(ctx, f))

	var teams int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM teams`).Scan(&teams))
	assert.Equal(t, 2, teams)

	p, err := s.GetPlayer(ctx, 102)
	require.NoError(t, err)
	assert.Equal(t, int64(3), p.LocationID, "reloading keeps the player's location")
}

func TestLoadFixturesRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"malformed", `{`},
		{"unknown field", `{"locations":[{"id":1,"name":"A"}],"extra":1}`},
		{"no locations", `{"questions":[]}`},
		{"missing start location", `{"locations":[{"id":2,"name":"B"}]}`},
		{"question without answer", `{"locations":[{"id":1,"name":"A"}],"questions":[{"id":1,"location_id":1,"prompt":"?"}]}`},
		{"too many hints", `{"locations":[{"id":1,"name":"A"}],"questions":[{"id":1,"location_id":1,"prompt":"?","answer":"a","hints":["1","2","3","4"]}]}`},
		{"unknown question location", `{"locations":[{"id":1,"name":"A"}],"questions":[{"id":1,"location_id":9,"prompt":"?","answer":"a"}]}`},
		{"media outside media dir", `{"locations":[{"id":1,"name":"A"}],"questions":[{"id":1,"location_id":1,"prompt":"?","answer":"a","media":"../etc/passwd"}]}`},
		{"bad latitude", `{"locations":[{"id":1,"name":"A","lat":91}]}`},
		{"two captains", `{"locations":[{"id":1,"name":"A"}],"teams":[{"name":"T","players":[{"id":1,"name":"a","captain":true},{"id":2,"name":"b","captain":true}]}]}`},
		{"duplicate player", `{"locations":[{"id":1,"name":"A"}],"teams":[{"name":"T","players":[{"id":1,"name":"a"}]}],"players":[{"id":1,"name":"a"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(openDB(t))
			err := s.LoadFixtures(context.Background(), strings.NewReader(tt.doc))
			assert.Error(t, err)

			var n int
			require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM locations`).Scan(&n))
			assert.Zero(t, n, "nothing is written")
		})
	}
}

func TestNotFoundErrors(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	_, err := s.GetTeam(ctx, 999)
	assert.ErrorIs(t, err, quest.ErrTeamNotFound)
	_, err = s.GetPlayer(ctx, 999)
	assert.ErrorIs(t, err, quest.ErrPlayerNotFound)
	_, err = s.GetLocation(ctx, 999)
	assert.ErrorIs(t, err, quest.ErrLocationNotFound)
	_, err = s.GetTeamState(ctx, 999)
	assert.ErrorIs(t, err, quest.ErrStateNotFound)
	assert.ErrorIs(t, s.SetPlayerLocation(ctx, 999, 1), quest.ErrPlayerNotFound)

	questions, err := s.GetLocationQuestions(ctx, 999)
	require.NoError(t, err)
	assert.Empty(t, questions)
}

func TestTeamStateLifecycle(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	teamID := teamByToken(t, s, "seagulls-invite")

	st, err := s.InitTeamState(ctx, teamID, []int64{102, 101})
	require.NoError(t, err)
	assert.Equal(t, quest.StatusWaiting, st.Status)
	assert.Equal(t, []int64{102, 101}, st.PlayersOrder)
	assert.True(t, st.PretendOnRightAnswer)

	again, err := s.InitTeamState(ctx, teamID, []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, st.PlayersOrder, again.PlayersOrder, "existing state is kept")
	assert.Equal(t, st.Version, again.Version)

	deadline := time.Date(2026, 5, 1, 12, 5, 0, 0, time.UTC)
	status, phase, idx, gate := quest.StatusPlaying, quest.PhaseAwaitingAnswer, 0, false
	qid := int64(11)
	updated, err := s.UpdateTeamState(ctx, teamID, st.Version, quest.StateUpdate{
		Status:               &status,
		Phase:                &phase,
		CurrentPlayerIdx:     &idx,
		CurrentQuestionID:    &qid,
		PretendOnRightAnswer: &gate,
		QuestionDeadline:     &deadline,
	})
	require.NoError(t, err)
	assert.Equal(t, quest.StatusPlaying, updated.Status)
	assert.Equal(t, quest.PhaseAwaitingAnswer, updated.Phase)
	assert.Equal(t, int64(11), updated.CurrentQuestionID)
	assert.False(t, updated.PretendOnRightAnswer)
	assert.True(t, deadline.Equal(updated.QuestionDeadline))
	assert.Equal(t, []int64{102, 101}, updated.PlayersOrder, "untouched fields survive")
	assert.Equal(t, st.Version+1, updated.Version)
	assert.False(t, updated.UpdatedAt.IsZero())

	_, err = s.UpdateTeamState(ctx, teamID, st.Version, quest.StateUpdate{CurrentPlayerIdx: &idx})
	assert.ErrorIs(t, err, quest.ErrConflict, "stale version")

	_, err = s.UpdateTeamState(ctx, 999, 1, quest.StateUpdate{CurrentPlayerIdx: &idx})
	assert.ErrorIs(t, err, quest.ErrStateNotFound)
}

func TestUpdateTeamStateConflictWithMock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := New(db)

	mock.ExpectExec(`UPDATE team_game_state SET correct_answers = \?, updated_at = \?, version = version \+ 1 WHERE team_id = \? AND version = \?`).
		WithArgs(3, sqlmock.AnyArg(), int64(7), int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT 1 FROM team_game_state WHERE team_id = \?`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	correct := 3
	_, err = s.UpdateTeamState(context.Background(), 7, 4, quest.StateUpdate{CorrectAnswers: &correct})
	assert.ErrorIs(t, err, quest.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJoinTeam(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	p, token, err := s.JoinTeam(ctx, "seagulls-invite", 555, "Vera")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, "Vera", p.Name)
	assert.Equal(t, int64(StartLocationID), p.LocationID)
	assert.NotZero(t, p.TeamID)

	players, err := s.GetTeamPlayers(ctx, p.TeamID)
	require.NoError(t, err)
	require.Len(t, players, 3)
	assert.Equal(t, int64(555), players[2].ID, "newest member joins last")

	byToken, err := s.PlayerFromToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, int64(555), byToken.ID)

	_, _, err = s.JoinTeam(ctx, "seagulls-invite", 555, "Vera")
	assert.ErrorIs(t, err, ErrAlreadyMember)

	_, _, err = s.JoinTeam(ctx, "nope", 556, "Ivan")
	assert.ErrorIs(t, err, quest.ErrTeamNotFound)

	_, err = s.PlayerFromToken(ctx, "nope")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestJoinTeamExistingTeamlessPlayer(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	p, _, err := s.JoinTeam(ctx, "seagulls-invite", 900, "Root")
	require.NoError(t, err)
	assert.True(t, p.IsAdmin, "roles survive joining")
	assert.NotZero(t, p.TeamID)
}

func TestCapabilitiesAndPromotion(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	teamID := teamByToken(t, s, "seagulls-invite")

	g, err := s.Capabilities(ctx, 101)
	require.NoError(t, err)
	assert.True(t, g.CaptainOf(teamID))
	assert.False(t, g.Has(quest.CapAdmin))

	g, err = s.Capabilities(ctx, 102)
	require.NoError(t, err)
	assert.False(t, g.CaptainOf(teamID))

	require.NoError(t, s.GrantCapability(ctx, 102, quest.CapCaptain))
	g, err = s.Capabilities(ctx, 102)
	require.NoError(t, err)
	assert.True(t, g.CaptainOf(teamID))
	team, err := s.GetTeam(ctx, teamID)
	require.NoError(t, err)
	assert.Equal(t, int64(102), team.CaptainID)

	require.NoError(t, s.GrantCapability(ctx, 102, quest.CapAdmin))
	g, err = s.Capabilities(ctx, 102)
	require.NoError(t, err)
	assert.True(t, g.Has(quest.CapAdmin|quest.CapCaptain))

	// Admins without a team cannot become captains.
	assert.ErrorIs(t, s.GrantCapability(ctx, 900, quest.CapCaptain), ErrNoTeam)
	_, err = s.Capabilities(ctx, 4242)
	assert.ErrorIs(t, err, quest.ErrPlayerNotFound)
}

func TestCaptainPromotionReplacesPreviousCaptain(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	seagulls := teamByToken(t, s, "seagulls-invite")

	require.NoError(t, s.GrantCapability(ctx, 102, quest.CapCaptain))

	anna, err := s.Capabilities(ctx, 101)
	require.NoError(t, err)
	assert.False(t, anna.CaptainOf(seagulls), "previous captain is demoted")

	boris, err := s.Capabilities(ctx, 102)
	require.NoError(t, err)
	assert.True(t, boris.CaptainOf(seagulls))

	team, err := s.GetTeam(ctx, seagulls)
	require.NoError(t, err)
	assert.Equal(t, int64(102), team.CaptainID)

	// Other teams keep their captains.
	olga, err := s.Capabilities(ctx, 201)
	require.NoError(t, err)
	p, err := s.GetPlayer(ctx, 201)
	require.NoError(t, err)
	assert.True(t, olga.CaptainOf(p.TeamID))
}

func TestIssueSession(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	token, err := s.IssueSession(ctx, 101)
	require.NoError(t, err)
	p, err := s.PlayerFromToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, int64(101), p.ID)

	_, err = s.IssueSession(ctx, 4242)
	assert.ErrorIs(t, err, quest.ErrPlayerNotFound)
}

func TestCreateTeam(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	team, created, err := s.CreateTeam(ctx, "Foxes")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, team.ID)
	assert.NotEmpty(t, team.InviteToken)

	again, created, err := s.CreateTeam(ctx, "Foxes")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, team.ID, again.ID)
	assert.Equal(t, team.InviteToken, again.InviteToken)

	ids, err := s.TeamPlayerIDs(ctx, team.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = s.TeamPlayerIDs(ctx, 4242)
	assert.ErrorIs(t, err, quest.ErrTeamNotFound)
}

// TestQuestOnSQLite plays a full two-player quest against the SQLite store.
func TestQuestOnSQLite(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	logger := slog.Default()
	teamID := teamByToken(t, s, "seagulls-invite")

	hub := notify.NewHub(logger, s)
	timers := timer.New(hub, logger, timer.WithTick(time.Hour))
	t.Cleanup(timers.Close)
	sched := quest.NewScheduler(s, s, hub, timers, quest.Settings{
		QuestionTimeLimit: 5 * time.Minute,
		HintOffsets:       []time.Duration{time.Minute, 2 * time.Minute, 3 * time.Minute},
		ConflictRetries:   3,
	}, logger)

	st, err := sched.StartQuest(ctx, teamID, 101)
	require.NoError(t, err)
	assert.Equal(t, []int64{102, 101}, st.PlayersOrder)
	assert.Equal(t, int64(11), st.CurrentQuestionID)
	assert.Len(t, timers.Pending(teamID), 4)

	res, err := sched.SubmitAnswer(ctx, teamID, 102, "1889")
	require.NoError(t, err)
	assert.True(t, res.Credited)
	assert.Empty(t, timers.Pending(teamID))

	require.NoError(t, sched.ConfirmArrival(ctx, teamID, 102))
	_, err = sched.AcceptTurn(ctx, teamID, 101)
	require.NoError(t, err)

	res, err = sched.SubmitAnswer(ctx, teamID, 101, "big ben")
	require.NoError(t, err)
	assert.Equal(t, quest.OutcomeRetry, res.Outcome)

	res, err = sched.SubmitAnswer(ctx, teamID, 101, "old tom")
	require.NoError(t, err)
	assert.Equal(t, quest.OutcomeFinished, res.Outcome)

	final, err := s.GetTeamState(ctx, teamID)
	require.NoError(t, err)
	assert.Equal(t, quest.StatusFinished, final.Status)
	assert.Equal(t, 2, final.CurrentPlayerIdx)
	assert.Equal(t, 1, final.CorrectAnswers)
	assert.False(t, final.EndedAt.IsZero())
}
