package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds the JSON logger both services share. Level comes from
// LOG_LEVEL and defaults to info.
func New(service string) *logrus.Logger {
	lg := logrus.New()
	lg.SetFormatter(&logrus.JSONFormatter{})
	lg.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logrus.InfoLevel
	}
	lg.SetLevel(level)

	lg.AddHook(&serviceHook{service: service})
	return lg
}

type serviceHook struct {
	service string
}

func (h *serviceHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *serviceHook) Fire(e *logrus.Entry) error {
	e.Data["service"] = h.service
	return nil
}
