// Package logging builds the zerolog logger every pulsegrid binary uses,
// generalizing the inline construction the teacher's config.LoadConfig does
// for its own bootstrap logger into something request- and job-scoped.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New returns a base logger: pretty console output in development,
// structured JSON in every other environment.
func New(env, serviceName string) zerolog.Logger {
	var out zerolog.Logger
	if env == "development" || env == "dev" || env == "" {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		out = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	return out.With().Str("service", serviceName).Logger()
}

// WithProject returns a child logger scoped to a project, used on the
// request path once a credential has resolved to a project_id.
func WithProject(l zerolog.Logger, projectID int64) zerolog.Logger {
	return l.With().Int64("project_id", projectID).Logger()
}

// WithJob returns a child logger scoped to a scheduled job name.
func WithJob(l zerolog.Logger, job string) zerolog.Logger {
	return l.With().Str("job", job).Logger()
}
