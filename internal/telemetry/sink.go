// Package telemetry - асинхронный приемник записей жизненного цикла ордеров.
//
// Записи ниже минимального уровня отбрасываются в месте вызова, до очереди.
// Потребитель пишет компактные JSON строки
// {"timestamp":<us>,"level":"INFO","message":"...","component":"..."}
// в файл с ротацией либо в консоль.
package telemetry

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"execgateway/internal/queue"
	"execgateway/pkg/utils"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultCapacity - емкость очереди по умолчанию
const DefaultCapacity = 10000

// Record - запись телеметрии, ставится в очередь по значению
type Record struct {
	TimestampUs int64
	Level       Level
	Component   string
	Message     string
}

// Config - параметры приемника
type Config struct {
	MinLevel   Level
	Capacity   int
	FilePath   string    // пусто - консоль
	MaxSizeMB  int       // ротация файла
	MaxBackups int       // ротация файла
	Output     io.Writer // явный приемник (имеет приоритет над FilePath)
}

// Emitter - то, что нужно производителям записей
type Emitter interface {
	Emit(level Level, component, message string) bool
}

// Sink - телеметрия поверх queue.Worker
type Sink struct {
	minLevel Level
	worker   *queue.Worker[Record]
	core     zapcore.Core
	closer   io.Closer
}

// NewSink создает приемник. Ошибка открытия файла возвращается вызывающему.
func NewSink(cfg Config) (*Sink, error) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}

	out, closer, err := openWriter(cfg)
	if err != nil {
		return nil, err
	}

	s := &Sink{
		minLevel: cfg.MinLevel,
		core:     zapcore.NewCore(newEncoder(), zapcore.AddSync(out), zapcore.DebugLevel),
		closer:   closer,
	}

	s.worker, err = queue.New("telemetry", cfg.Capacity, s.write)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func openWriter(cfg Config) (io.Writer, io.Closer, error) {
	if cfg.Output != nil {
		return cfg.Output, nil, nil
	}
	if cfg.FilePath == "" {
		return os.Stdout, nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create telemetry dir: %w", err)
	}
	// lumberjack открывает файл лениво, проверяем доступ сразу
	f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open telemetry file: %w", err)
	}
	f.Close()

	w := utils.NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxBackups, 0)
	return w, w, nil
}

func newEncoder() zapcore.Encoder {
	return zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:    "timestamp",
		LevelKey:   "level",
		MessageKey: "message",
		LineEnding: zapcore.DefaultLineEnding,
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendInt64(t.UnixMicro())
		},
		EncodeLevel:    encodeLevel,
		EncodeDuration: zapcore.MillisDurationEncoder,
	})
}

// Start запускает потребителя
func (s *Sink) Start() { s.worker.Start() }

// Stop дренирует очередь, сбрасывает и закрывает файл
func (s *Sink) Stop() {
	s.worker.Stop()
	_ = s.core.Sync()
	if s.closer != nil {
		_ = s.closer.Close()
	}
}

// Enabled сообщает, пройдет ли запись уровня level фильтр
func (s *Sink) Enabled(level Level) bool {
	return level >= s.minLevel
}

// Emit ставит запись в очередь. Метка времени берется в момент вызова.
// Возвращает false если запись отфильтрована или отброшена.
func (s *Sink) Emit(level Level, component, message string) bool {
	if !s.Enabled(level) {
		return false
	}
	return s.worker.Submit(Record{
		TimestampUs: utils.UnixMicros(),
		Level:       level,
		Component:   component,
		Message:     message,
	})
}

func (s *Sink) Debug(component, message string) bool { return s.Emit(LevelDebug, component, message) }
func (s *Sink) Info(component, message string) bool  { return s.Emit(LevelInfo, component, message) }
func (s *Sink) Warn(component, message string) bool  { return s.Emit(LevelWarning, component, message) }
func (s *Sink) Error(component, message string) bool { return s.Emit(LevelError, component, message) }

// write выполняется только в горутине потребителя
func (s *Sink) write(rec Record) {
	entry := zapcore.Entry{
		Level:   rec.Level.zapLevel(),
		Time:    utils.FromUnixMicros(rec.TimestampUs),
		Message: rec.Message,
	}
	if err := s.core.Write(entry, []zap.Field{zap.String("component", rec.Component)}); err != nil {
		utils.Warn("telemetry write failed", utils.Err(err))
	}
}

// MinLevel возвращает минимальный уровень
func (s *Sink) MinLevel() Level { return s.minLevel }

// Dropped - записи, отброшенные из-за переполнения
func (s *Sink) Dropped() uint64 { return s.worker.Dropped() }

// Processed - записанные записи
func (s *Sink) Processed() uint64 { return s.worker.Processed() }

// Nop - приемник, который ничего не делает (для тестов и CLI без телеметрии)
type Nop struct{}

func (Nop) Emit(Level, string, string) bool { return false }
