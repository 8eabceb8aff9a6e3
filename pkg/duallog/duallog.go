package duallog

import (
	"os"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

var (
	stderrLogger zerolog.Logger
)

// Setup configures the dual logging system:
// - All logs go to STDOUT (complete audit log)
// - Progress messages go only to STDERR
// - Success messages go to both STDOUT and STDERR
func Setup(level zerolog.Level) {
	// Configure global logger to write to STDOUT
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zlog.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(level)

	// Create a separate logger for STDERR (progress and success messages)
	stderrLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// Progress logs a progress message ONLY to STDERR
func Progress() *zerolog.Event {
	return stderrLogger.Info()
}

// Success logs a success message to BOTH STDOUT and STDERR
func Success() *DualEvent {
	return &DualEvent{
		stdout: zlog.Info(),
		stderr: stderrLogger.Info(),
	}
}

// DualEvent represents an event that writes to both STDOUT and STDERR
type DualEvent struct {
	stdout *zerolog.Event
	stderr *zerolog.Event
}

// Str adds a string field to both events
func (d *DualEvent) Str(key, val string) *DualEvent {
	d.stdout.Str(key, val)
	d.stderr.Str(key, val)
	return d
}

// Int adds an int field to both events
func (d *DualEvent) Int(key string, val int) *DualEvent {
	d.stdout.Int(key, val)
	d.stderr.Int(key, val)
	return d
}

// Int64 adds an int64 field to both events
func (d *DualEvent) Int64(key string, val int64) *DualEvent {
	d.stdout.Int64(key, val)
	d.stderr.Int64(key, val)
	return d
}

// Msg sends the message to both STDOUT and STDERR
func (d *DualEvent) Msg(msg string) {
	d.stdout.Msg(msg)
	d.stderr.Msg(msg)
}

// Msgf sends a formatted message to both STDOUT and STDERR
func (d *DualEvent) Msgf(format string, v ...interface{}) {
	d.stdout.Msgf(format, v...)
	d.stderr.Msgf(format, v...)
}
