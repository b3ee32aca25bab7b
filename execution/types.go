package execution

import (
	"fmt"
	"strings"
)

// Request is a single code execution request.
type Request struct {
	Source   string
	Language string
	Stdin    string
}

// Phase identifies which stage of a compiled-language run a result belongs to.
type Phase string

const (
	PhaseNone        Phase = ""
	PhaseCompilation Phase = "compilation"
	PhaseExecution   Phase = "execution"
)

// Backend names the component that produced a result.
type Backend string

const BackendLocal Backend = "local"

// Result is the normalized outcome of an execution.
//
// Success is true iff the terminal exit code is 0 and no timeout or internal
// error occurred. Stdout and Stderr are truncated independently.
type Result struct {
	Success  bool
	Stdout   string
	Stderr   string
	ExitCode int
	Phase    Phase
	Backend  Backend
	Language string
	TimedOut bool
}

// Output returns stdout followed by stderr.
func (r Result) Output() string {
	return r.Stdout + r.Stderr
}

// NormalizeLanguage lower-cases and trims a language identifier, defaulting to python.
func NormalizeLanguage(language string) string {
	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" {
		return "python"
	}
	return language
}

// ValidationError is a client error detected before any process is spawned.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validationf builds a ValidationError.
func Validationf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// TruncateChars returns the first maxChars characters of s
func TruncateChars(s string, maxChars int) string {
	if maxChars < 0 || len(s) <= maxChars {
		return s
	}
	n := 0
	for i := range s {
		if n == maxChars {
			return s[:i]
		}
		n++
	}
	return s
}
