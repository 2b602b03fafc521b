package utils

import (
	"time"
)

// time.go - временные метки ордеров и телеметрии
//
// Все временные метки в системе - микросекунды Unix epoch (int64),
// идентификаторы ордеров используют миллисекунды.

// ============================================================
// Утилиты для timestamp
// ============================================================

// UnixMillis возвращает текущее время в миллисекундах Unix
func UnixMillis() int64 {
	return time.Now().UnixMilli()
}

// FromUnixMillis конвертирует миллисекунды Unix в time.Time
func FromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// UnixMicros возвращает текущее время в микросекундах Unix
func UnixMicros() int64 {
	return time.Now().UnixMicro()
}

// FromUnixMicros конвертирует микросекунды Unix в time.Time
func FromUnixMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

// MillisToMicros переводит миллисекунды биржи в микросекунды
func MillisToMicros(ms int64) int64 {
	return ms * int64(time.Millisecond/time.Microsecond)
}

// FormatMicros форматирует микросекундную метку для CLI ("2006-01-02 15:04:05.000000")
func FormatMicros(us int64) string {
	if us <= 0 {
		return "-"
	}
	return FromUnixMicros(us).Format("2006-01-02 15:04:05.000000")
}

// FormatAge возвращает возраст метки относительно now в человекочитаемом виде
func FormatAge(us int64, now time.Time) string {
	if us <= 0 {
		return "-"
	}
	return FormatDuration(now.Sub(FromUnixMicros(us)).Truncate(time.Second))
}

// FormatDuration форматирует продолжительность (отрицательная берется по модулю)
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	return d.String()
}

// Elapsed возвращает миллисекунды с момента start (для метрик латентности)
func Elapsed(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
