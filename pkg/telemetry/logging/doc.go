// Package logging builds the process logger on log/slog.
//
// The logger writes to stderr in text, console or JSON format and, when a log
// file is configured, fans every record out to a JSON file as well. Records
// logged with a context carry the run_id, phase and item_id that were
// attached with WithRunID, WithPhase and WithItemID.
//
//	logger, err := logging.New(logging.Config{Level: "info", Format: "text"})
//	logger.SetDefault()
//	ctx = logging.WithRunID(ctx, run.ID)
//	slog.InfoContext(ctx, "phase started", "phase", "screening")
package logging
