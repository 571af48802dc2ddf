package logging

import (
	"io"
	"log/slog"
)

// VictoriaLogs expects fixed field names for time (_time) and message (_msg).
func convertKeysToVictoriaLogs(keys []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		return slog.Attr{Key: "_time", Value: slog.StringValue(a.Value.Time().Format("2006-01-02 15:04:05"))}
	}
	if a.Key == slog.MessageKey {
		return slog.Attr{Key: "_msg", Value: a.Value}
	}
	return a
}

func GetVictoriaLogsOptions(addSource bool) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level:       slog.LevelDebug,
		ReplaceAttr: convertKeysToVictoriaLogs,
		AddSource:   addSource,
	}
}

// Setup installs a json handler writing to the given stream as the default
// slog logger.
func Setup(w io.Writer, addSource bool) {
	slog.SetDefault(slog.New(slog.NewJSONHandler(w, GetVictoriaLogsOptions(addSource))))
}
