package clog

import "log/slog"

// Level classifies a log line independently of slog so the HTTP status
// mapping can live in one place.
type Level int

const (
	LevelDebug Level = iota + 1
	LevelInfo
	LevelWarn
	LevelError
)

// Slog maps the level onto its slog equivalent.
func (l Level) Slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// HTTPStatusToLevel picks the log level for an access log line. Client
// aborts (499) stay at info, other 4xx warn, 5xx is an error.
func HTTPStatusToLevel(status int) Level {
	switch {
	case status == 499:
		return LevelInfo
	case status >= 500:
		return LevelError
	case status >= 400:
		return LevelWarn
	case status >= 100:
		return LevelInfo
	default:
		return LevelError
	}
}
