package commands

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log formats accepted by --log-format.
const (
	formatAuto    = "auto"
	formatConsole = "console"
	formatJSON    = "json"
)

// newLogger builds the CLI logger. The auto format picks the console
// encoder on terminals and JSON otherwise.
func newLogger(level, format string, w io.Writer) (logr.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return logr.Logger{}, fmt.Errorf("invalid --log-level: %w", err)
	}

	tty := isTerminal(w)
	if format == formatAuto {
		format = formatJSON
		if tty {
			format = formatConsole
		}
	}

	var enc zapcore.Encoder
	switch format {
	case formatConsole:
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		if tty {
			cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		cfg.ConsoleSeparator = " "
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout(time.StampMilli)
		enc = zapcore.NewConsoleEncoder(cfg)
	case formatJSON:
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(cfg)
	default:
		return logr.Logger{}, fmt.Errorf("invalid --log-format %q: must be %s, %s or %s", format, formatAuto, formatConsole, formatJSON)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), lvl)
	return zapr.NewLogger(zap.New(core)), nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
