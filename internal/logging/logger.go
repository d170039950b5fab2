// Package logging provides the small leveled-logger seam every component
// of the session core is threaded with, instead of calling the stdlib log
// package directly. Keeping it an interface lets a host application inject
// its own sink without the core holding process-global state.
package logging

import "log"

// Logger is the minimal leveled interface the core depends on.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Std is a Logger backed by the standard library's log package, printing
// bracketed level prefixes.
type Std struct {
	*log.Logger
}

// NewStd returns a Std logger writing to the standard logger's default
// destination (os.Stderr) with the standard flags.
func NewStd() *Std {
	return &Std{Logger: log.Default()}
}

func (s *Std) Debugf(format string, args ...any) { s.Printf("[DEBUG] "+format, args...) }
func (s *Std) Infof(format string, args ...any)  { s.Printf("[INFO] "+format, args...) }
func (s *Std) Warnf(format string, args ...any)  { s.Printf("[WARN] "+format, args...) }
func (s *Std) Errorf(format string, args ...any) { s.Printf("[ERROR] "+format, args...) }

// Nop discards everything; useful in tests that don't care about log output.
type Nop struct{}

func (Nop) Debugf(string, ...any) {}
func (Nop) Infof(string, ...any)  {}
func (Nop) Warnf(string, ...any)  {}
func (Nop) Errorf(string, ...any) {}
