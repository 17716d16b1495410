package logging

import (
	"io"
	"log/slog"
)

// Setup installs a JSON logger writing to w as the slog default and returns
// its handler so it can be fanned out with other sinks later.
func Setup(w io.Writer, level slog.Leveler) slog.Handler {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
	return handler
}
