package quest

import (
	"fmt"
	"time"
)

const (
	correctText = "✅ Correct!"
	wrongText   = "❌ Wrong! Try again."
	arrivedText = "🏁 Your team has arrived. Accept the turn to get your question."
)

func questionText(num int, prompt string) string {
	return fmt.Sprintf("Question %d: %s", num, prompt)
}

func expiredText(answer string) string {
	return fmt.Sprintf("⌛ Time's up! The correct answer was: %s", answer)
}

func startedText(firstName string) string {
	return fmt.Sprintf("🚩 The quest has started! %s answers first.", firstName)
}

func finishedText(correct, total int, elapsed time.Duration) string {
	return fmt.Sprintf("🎉 Quest complete! Correct answers: %d/%d. Time: %s",
		correct, total, elapsed.Round(time.Second))
}

func nextTurnText(location string) string {
	return fmt.Sprintf("📍 You are up next. Head to %s and confirm arrival when the team gets there.", location)
}

func turnPassedText(player, location string) string {
	return fmt.Sprintf("➡️ The turn passes to %s. Next stop: %s.", player, location)
}
