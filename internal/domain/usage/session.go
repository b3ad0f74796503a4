package usage

import (
	"sort"
	"time"
)

// SessionSummary is the cumulative view of one session
type SessionSummary struct {
	SessionID               string         `json:"sessionId"`
	UserID                  string         `json:"userId"`
	MessageCount            int            `json:"messageCount"`
	TotalPromptTokens       int64          `json:"totalPromptTokens"`
	TotalCompletionTokens   int64          `json:"totalCompletionTokens"`
	TotalTokens             int64          `json:"totalTokens"`
	AverageTokensPerMessage float64        `json:"averageTokensPerMessage"`
	PeakTokensPerMessage    int64          `json:"peakTokensPerMessage"`
	ToolUsage               map[string]int `json:"toolUsage"`
	Models                  map[string]int `json:"models"`
	FirstActivity           time.Time      `json:"firstActivity"`
	LastActivity            time.Time      `json:"lastActivity"`
}

// SessionAnalytics is the session detail view
type SessionAnalytics struct {
	SessionID string          `json:"sessionId"`
	Logs      []*Log          `json:"logs"`
	Summary   *SessionSummary `json:"summary"`
}

// NewSessionSummary returns an empty summary for a session
func NewSessionSummary(sessionID string) *SessionSummary {
	return &SessionSummary{
		SessionID: sessionID,
		ToolUsage: map[string]int{},
		Models:    map[string]int{},
	}
}

// Add folds one turn into the summary
func (s *SessionSummary) Add(log *Log) {
	if log == nil {
		return
	}
	if s.UserID == "" {
		s.UserID = log.UserID
	}

	s.MessageCount++
	s.TotalPromptTokens += int64(log.PromptTokens)
	s.TotalCompletionTokens += int64(log.CompletionTokens)
	s.TotalTokens += int64(log.TotalTokens)
	if int64(log.TotalTokens) > s.PeakTokensPerMessage {
		s.PeakTokensPerMessage = int64(log.TotalTokens)
	}
	s.AverageTokensPerMessage = Average(s.TotalTokens, int64(s.MessageCount))

	if log.Model != "" {
		s.Models[log.Model]++
	}
	for _, step := range log.Steps {
		for _, call := range step.ToolCalls {
			s.ToolUsage[call.ToolName]++
		}
	}

	if s.FirstActivity.IsZero() || log.StartedAt.Before(s.FirstActivity) {
		s.FirstActivity = log.StartedAt
	}
	if log.StartedAt.After(s.LastActivity) {
		s.LastActivity = log.StartedAt
	}
}

// SummarizeSession builds a summary from a session's logs
func SummarizeSession(sessionID string, logs []*Log) *SessionSummary {
	summary := NewSessionSummary(sessionID)
	for _, log := range logs {
		summary.Add(log)
	}
	return summary
}

// SortLogsByStart orders logs chronologically
func SortLogsByStart(logs []*Log) {
	sort.SliceStable(logs, func(i, j int) bool {
		return logs[i].StartedAt.Before(logs[j].StartedAt)
	})
}
