package logger

// Info printf-style info log
func Info(format string, args ...interface{}) {
	zlog.Info().Msgf(format, args...)
}

// Warn printf-style warning log
func Warn(format string, args ...interface{}) {
	zlog.Warn().Msgf(format, args...)
}

// Error printf-style error log
func Error(format string, args ...interface{}) {
	zlog.Error().Msgf(format, args...)
}

// Debug printf-style debug log
func Debug(format string, args ...interface{}) {
	zlog.Debug().Msgf(format, args...)
}
