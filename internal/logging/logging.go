package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
)

// New builds the process logger based on LOG_LEVEL and redirects the standard
// library logger into zap so all output is unified.
func New() *zap.SugaredLogger {
	level := strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	var logger *zap.Logger
	if level == "debug" {
		l, _ := zap.NewDevelopment()
		logger = l
	} else {
		l, _ := zap.NewProduction()
		logger = l
	}
	_ = zap.RedirectStdLog(logger)
	return logger.Sugar()
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
