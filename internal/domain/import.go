package domain

import "time"

// ImportState состояние прогона импорта подписок.
type ImportState string

const (
	StateExtractingURLs        ImportState = "extracting_urls"
	StateSubmittingChunks      ImportState = "submitting_chunks"
	StatePolling               ImportState = "polling"
	StateDrainingSubscriptions ImportState = "draining_subscriptions"
	StateDone                  ImportState = "done"
	StateFailed                ImportState = "failed"
)

// Terminal сообщает, завершен ли прогон.
func (s ImportState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// ImportReport итог одного прогона импорта.
// Возвращается и при успехе, и при ошибке: при StateFailed содержит счетчики на момент сбоя.
type ImportReport struct {
	State           ImportState
	Requested       int
	Resolved        int
	Failed          int
	AbandonedTokens int
	PollRounds      int
	Progress        int
	Duration        time.Duration
}

// ClampProgress приводит прогресс к диапазону [0, total].
func ClampProgress(done, total int) int {
	if done < 0 {
		return 0
	}
	if done > total {
		return total
	}
	return done
}
