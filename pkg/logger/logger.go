package logger

// Instance is a logging backend. The facade fans every call out to all
// configured backends, so components log through package-level functions
// without caring where output lands.
type Instance interface {
	Debug(message string, keyvals ...any)
	Info(message string, keyvals ...any)
	Warn(message string, keyvals ...any)
	Error(message string, keyvals ...any)
	Fatal(message string, keyvals ...any)
}

var backends []Instance

// Init installs the global logging backends. Call once at process start,
// before anything logs. Calls made with no backends installed are dropped.
func Init(instances ...Instance) {
	backends = instances
}

func emit(fn func(Instance)) {
	for _, b := range backends {
		fn(b)
	}
}

// Debug writes a message at DEBUG level to all configured backends.
func Debug(message string, keyvals ...any) {
	emit(func(b Instance) { b.Debug(message, keyvals...) })
}

// Info writes a message at INFO level to all configured backends.
func Info(message string, keyvals ...any) {
	emit(func(b Instance) { b.Info(message, keyvals...) })
}

// Warn writes a message at WARN level to all configured backends.
func Warn(message string, keyvals ...any) {
	emit(func(b Instance) { b.Warn(message, keyvals...) })
}

// Error writes a message at ERROR level to all configured backends.
func Error(message string, keyvals ...any) {
	emit(func(b Instance) { b.Error(message, keyvals...) })
}

// Fatal writes a message at FATAL level and terminates the program.
func Fatal(message string, keyvals ...any) {
	emit(func(b Instance) { b.Fatal(message, keyvals...) })
}
