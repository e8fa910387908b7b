package server

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestQuestFlow(t *testing.T) {
	e := newTestEnv(t)

	// Only the captain starts.
	rec := e.do(t, http.MethodPost, "/api/me/quest/start", 102, nil)
	wantStatus(t, rec, http.StatusForbidden)

	rec = e.do(t, http.MethodPost, "/api/me/quest/start", 101, nil)
	wantStatus(t, rec, http.StatusOK)
	st := decode[QuestStateResponse](t, rec)
	if st.Status != "playing" || st.Phase != "awaiting_answer" {
		t.Fatalf("state = %s/%s, want playing/awaiting_answer", st.Status, st.Phase)
	}
	if !slices.Equal(st.PlayersOrder, []int64{102, 101}) {
		t.Fatalf("players order = %v, want [102 101]", st.PlayersOrder)
	}
	if st.CurrentPlayerID != 102 {
		t.Fatalf("current player = %d, want 102", st.CurrentPlayerID)
	}

	// Not Anna's turn.
	rec = e.do(t, http.MethodPost, "/api/me/quest/answer", 101, AnswerRequest{Answer: "1889"})
	wantStatus(t, rec, http.StatusForbidden)

	rec = e.do(t, http.MethodPost, "/api/me/quest/answer", 102, AnswerRequest{Answer: "1900"})
	wantStatus(t, rec, http.StatusOK)
	ans := decode[AnswerResponse](t, rec)
	if ans.Outcome != "retry" || ans.Correct {
		t.Fatalf("wrong answer outcome = %+v", ans)
	}

	rec = e.do(t, http.MethodPost, "/api/me/quest/answer", 102, AnswerRequest{Answer: "  1889 "})
	wantStatus(t, rec, http.StatusOK)
	ans = decode[AnswerResponse](t, rec)
	if ans.Outcome != "advanced" || !ans.Credited || ans.NextPlayerID != 101 {
		t.Fatalf("correct answer outcome = %+v", ans)
	}

	// Anna must be reached and accept before answering.
	rec = e.do(t, http.MethodPost, "/api/me/quest/answer", 101, AnswerRequest{Answer: "old tom"})
	wantStatus(t, rec, http.StatusConflict)

	rec = e.do(t, http.MethodGet, "/api/me/quest", 101, nil)
	wantStatus(t, rec, http.StatusOK)
	status := decode[QuestStatusResponse](t, rec)
	if status.Phase != "awaiting_arrival" || status.CorrectAnswers != 1 {
		t.Fatalf("status = %+v", status)
	}
	if len(status.Roster) != 2 || status.Roster[0].ID != 102 {
		t.Fatalf("roster = %+v, want turn order", status.Roster)
	}

	rec = e.do(t, http.MethodPost, "/api/me/quest/accept", 102, nil)
	wantStatus(t, rec, http.StatusForbidden)

	rec = e.do(t, http.MethodPost, "/api/me/quest/arrive", 102, nil)
	wantStatus(t, rec, http.StatusNoContent)

	rec = e.do(t, http.MethodPost, "/api/me/quest/accept", 101, nil)
	wantStatus(t, rec, http.StatusOK)
	st = decode[QuestStateResponse](t, rec)
	if st.Phase != "awaiting_answer" || st.CurrentPlayerID != 101 {
		t.Fatalf("after accept = %+v", st)
	}

	rec = e.do(t, http.MethodPost, "/api/me/quest/answer", 101, AnswerRequest{Answer: "Old Tom"})
	wantStatus(t, rec, http.StatusOK)
	ans = decode[AnswerResponse](t, rec)
	if ans.Outcome != "finished" || ans.CorrectAnswers != 2 {
		t.Fatalf("final answer outcome = %+v", ans)
	}
	if got := len(e.timers.Pending(e.teamID)); got != 0 {
		t.Errorf("pending timers after finish = %d, want 0", got)
	}

	rec = e.do(t, http.MethodPost, "/api/me/quest/start", 101, nil)
	wantStatus(t, rec, http.StatusConflict)

	rec = e.do(t, http.MethodPost, "/api/me/quest/answer", 101, AnswerRequest{Answer: "Old Tom"})
	wantStatus(t, rec, http.StatusConflict)
}

func TestAnswerValidation(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/me/quest/answer", 102, "{")
	wantStatus(t, rec, http.StatusBadRequest)

	rec = e.do(t, http.MethodPost, "/api/me/quest/answer", 102, AnswerRequest{Answer: strings.Repeat("x", 513)})
	wantStatus(t, rec, http.StatusBadRequest)

	rec = e.do(t, http.MethodPost, "/api/me/quest/answer", 102, AnswerRequest{Answer: "1889"})
	wantStatus(t, rec, http.StatusConflict)
}

func TestBlankAnswer(t *testing.T) {
	e := newTestEnv(t)
	wantStatus(t, e.do(t, http.MethodPost, "/api/me/quest/start", 101, nil), http.StatusOK)

	rec := e.do(t, http.MethodPost, "/api/me/quest/answer", 102, AnswerRequest{Answer: "   "})
	wantStatus(t, rec, http.StatusOK)
	if ans := decode[AnswerResponse](t, rec); ans.Outcome != "retry" || ans.Correct {
		t.Fatalf("blank answer before deadline = %+v", ans)
	}

	// Past the deadline any text, blank included, reveals the answer.
	e.advance(5*time.Minute + time.Second)
	rec = e.do(t, http.MethodPost, "/api/me/quest/answer", 102, AnswerRequest{})
	wantStatus(t, rec, http.StatusOK)
	ans := decode[AnswerResponse](t, rec)
	if ans.Outcome != "advanced" || !ans.Expired || ans.NextPlayerID != 101 {
		t.Fatalf("blank answer after deadline = %+v", ans)
	}
	if len(e.timers.Pending(e.teamID)) != 0 {
		t.Errorf("timers still pending: %v", e.timers.Pending(e.teamID))
	}
}

func TestQuestStatusAccess(t *testing.T) {
	e := newTestEnv(t)
	teamQuery := fmt.Sprintf("/api/me/quest?teamId=%d", e.teamID)

	rec := e.do(t, http.MethodGet, "/api/me/quest", 102, nil)
	wantStatus(t, rec, http.StatusOK)
	status := decode[QuestStatusResponse](t, rec)
	if status.Status != "waiting" || status.TotalQuestions != 2 || status.TeamName != "Seagulls" {
		t.Fatalf("status = %+v", status)
	}

	rec = e.do(t, http.MethodGet, teamQuery, 900, nil)
	wantStatus(t, rec, http.StatusOK)

	rec = e.do(t, http.MethodGet, teamQuery, 201, nil)
	wantStatus(t, rec, http.StatusForbidden)

	// Root has no team of their own.
	rec = e.do(t, http.MethodGet, "/api/me/quest", 900, nil)
	wantStatus(t, rec, http.StatusConflict)
}

func TestInboxReceivesQuestMessages(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/me/quest/start", 101, nil)
	wantStatus(t, rec, http.StatusOK)

	var sawQuestion bool
	for _, ev := range e.inbox.History(102) {
		if ev.Text == "Question 1: In which year was the bridge built?" {
			sawQuestion = true
		}
	}
	if !sawQuestion {
		t.Errorf("Boris inbox = %+v, want first question", e.inbox.History(102))
	}
}
