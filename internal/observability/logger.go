package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{
		logger: logger,
	}
}

// WithSession adds session_id context to logger.
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("session_id", sessionID).Logger(),
	}
}

// WithPeer adds peer_id context to logger.
func (l *Logger) WithPeer(peerID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("peer_id", peerID).Logger(),
	}
}

// WithFile adds file context to logger.
func (l *Logger) WithFile(filePath string, fileSize int64) *Logger {
	return &Logger{
		logger: l.logger.With().
			Str("file_path", filePath).
			Int64("file_size", fileSize).
			Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(err error, msg string) {
	l.logger.Fatal().Err(err).Msg(msg)
}

// ConnectionAccepted logs an accepted inbound connection on the node's
// request service.
func (l *Logger) ConnectionAccepted(remoteAddr string, connectionID string) {
	l.logger.Info().
		Str("remote_addr", remoteAddr).
		Str("connection_id", connectionID).
		Msg("connection accepted")
}

// ConnectionClosed logs the end of a connection, successful or not.
func (l *Logger) ConnectionClosed(connectionID string, err error) {
	ev := l.logger.Info()
	if err != nil {
		ev = l.logger.Warn().Err(err)
	}
	ev.Str("connection_id", connectionID).Msg("connection closed")
}

// RequestHandled logs a single request/response exchange on the node.
func (l *Logger) RequestHandled(connectionID, kind string, duration time.Duration) {
	l.logger.Debug().
		Str("connection_id", connectionID).
		Str("kind", kind).
		Float64("duration_seconds", duration.Seconds()).
		Msg("request handled")
}

// ChunkPersisted logs a chunk newly written to the blob store.
func (l *Logger) ChunkPersisted(identifier string, size int) {
	l.logger.Debug().
		Str("chunk_identifier", identifier).
		Int("size", size).
		Msg("chunk persisted")
}

// ChunkCorrupted logs a chunk that failed integrity verification.
func (l *Logger) ChunkCorrupted(identifier, expected, actual string) {
	l.logger.Error().
		Str("chunk_identifier", identifier).
		Str("expected_digest", expected).
		Str("actual_digest", actual).
		Msg("chunk failed integrity verification")
}

// ChunkDeleted logs a chunk removed from the blob store, e.g. after a
// failed persist-then-verify sequence.
func (l *Logger) ChunkDeleted(identifier string, reason string) {
	l.logger.Warn().
		Str("chunk_identifier", identifier).
		Str("reason", reason).
		Msg("chunk deleted")
}

// DesignationGranted logs a storage-designation request outcome.
func (l *Logger) DesignationGranted(remoteAddr string, estimateSize int64, granted bool) {
	l.logger.Info().
		Str("remote_addr", remoteAddr).
		Int64("estimate_size", estimateSize).
		Bool("granted", granted).
		Msg("designation requested")
}

// ScheduleTaskStarted logs the start of a periodic background task run.
func (l *Logger) ScheduleTaskStarted(task string) {
	l.logger.Debug().Str("task", task).Msg("schedule task started")
}

// ScheduleTaskCompleted logs the successful completion of a task run.
func (l *Logger) ScheduleTaskCompleted(task string, duration time.Duration, itemsProcessed int) {
	l.logger.Info().
		Str("task", task).
		Float64("duration_seconds", duration.Seconds()).
		Int("items_processed", itemsProcessed).
		Msg("schedule task completed")
}

// ScheduleTaskFailed logs a task run that encountered an error, without
// interrupting the next scheduled tick.
func (l *Logger) ScheduleTaskFailed(task string, err error) {
	l.logger.Error().
		Str("task", task).
		Err(err).
		Msg("schedule task failed")
}

// BackupCreated logs a successful client-side backup creation.
func (l *Logger) BackupCreated(rootHandle string, fileCount int, duration time.Duration) {
	l.logger.Info().
		Str("root_handle", rootHandle).
		Int("file_count", fileCount).
		Float64("duration_seconds", duration.Seconds()).
		Msg("backup created")
}

// BackupRestored logs a successful client-side restore.
func (l *Logger) BackupRestored(rootHandle string, fileCount int, duration time.Duration) {
	l.logger.Info().
		Str("root_handle", rootHandle).
		Int("file_count", fileCount).
		Float64("duration_seconds", duration.Seconds()).
		Msg("backup restored")
}

// Helper function to get hostname.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
