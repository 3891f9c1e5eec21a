package sse

import "go.uber.org/zap"

// pkgLogger is the package-level default, used by any Client that was not
// given a Config.Logger. Grounded on ivcap-works/ivcap-cli's cmd/root.go
// package-level *zap.Logger plus SetLogger/Logger accessors.
var pkgLogger = zap.NewNop()

// SetLogger replaces the package-level default logger used by clients
// constructed without a Config.Logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	pkgLogger = l
}

// Logger returns the package-level default logger.
func Logger() *zap.Logger {
	return pkgLogger
}

func logger() *zap.Logger {
	return pkgLogger
}
