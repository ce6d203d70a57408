package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type Options struct {
	Service  string
	Terminal string
	Level    string
	Format   string
	Output   io.Writer
}

// New builds the process logger. Components receive it as a logrus.FieldLogger.
func New(opts Options) *logrus.Entry {
	log := logrus.New()
	if opts.Output != nil {
		log.SetOutput(opts.Output)
	} else {
		log.SetOutput(os.Stdout)
	}

	if strings.EqualFold(strings.TrimSpace(opts.Format), "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
	log.SetLevel(parseLevel(opts.Level))

	fields := logrus.Fields{}
	if opts.Service != "" {
		fields["service"] = opts.Service
	}
	if opts.Terminal != "" {
		fields["terminal"] = opts.Terminal
	}
	return log.WithFields(fields)
}

// Discard is used where no sink is wired, mostly in tests.
func Discard() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func parseLevel(lvl string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
