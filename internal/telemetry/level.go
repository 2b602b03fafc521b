package telemetry

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Level - уровень записи телеметрии
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel разбирает уровень без учета регистра (WARN == WARNING)
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	default:
		return 0, fmt.Errorf("unknown telemetry level %q", s)
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarning:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// encodeLevel пишет уровни в формате DEBUG/INFO/WARNING/ERROR
func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch l {
	case zapcore.DebugLevel:
		enc.AppendString(LevelDebug.String())
	case zapcore.WarnLevel:
		enc.AppendString(LevelWarning.String())
	case zapcore.ErrorLevel:
		enc.AppendString(LevelError.String())
	default:
		enc.AppendString(LevelInfo.String())
	}
}
