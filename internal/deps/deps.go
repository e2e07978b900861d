// Package deps resolves the external binaries snapkeep shells out to.
package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement names an external binary and whether snapkeep can run
// without it.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status is a Requirement plus the outcome of resolving it.
type Status struct {
	Requirement
	Path      string
	Available bool
	Detail    string
}

// Severity is ok when available, warn when an optional binary is missing,
// and error otherwise.
func (s Status) Severity() string {
	switch {
	case s.Available:
		return "ok"
	case s.Optional:
		return "warn"
	default:
		return "error"
	}
}

// LookPathFunc resolves a command name to an executable path.
type LookPathFunc func(file string) (string, error)

// Check resolves every requirement against PATH.
func Check(requirements ...Requirement) []Status {
	return CheckWith(exec.LookPath, requirements...)
}

// CheckWith resolves requirements with the given lookup. Commands may carry
// trailing whitespace from config; only the first field is resolved.
func CheckWith(lookPath LookPathFunc, requirements ...Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		fields := strings.Fields(req.Command)
		req.Command = strings.Join(fields, " ")
		req.Description = strings.TrimSpace(req.Description)
		status := Status{Requirement: req}

		if len(fields) == 0 {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		path, err := lookPath(fields[0])
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", fields[0])
			results = append(results, status)
			continue
		}
		status.Available = true
		status.Path = path
		if path != fields[0] {
			status.Detail = path
		}
		results = append(results, status)
	}
	return results
}

// Missing counts unavailable statuses.
func Missing(statuses []Status) (required, optional int) {
	for _, s := range statuses {
		switch {
		case s.Available:
		case s.Optional:
			optional++
		default:
			required++
		}
	}
	return required, optional
}
