package target

import (
	"context"
	"fmt"
	"time"

	"github.com/jmcp-dev/jmcp/pkg/device"
)

// ConfigFormat selects how a configuration payload is loaded on the device.
type ConfigFormat string

const (
	FormatSet  ConfigFormat = "set"
	FormatText ConfigFormat = "text"
	FormatXML  ConfigFormat = "xml"
)

// ParseFormat maps the wire value to a ConfigFormat, rejecting anything
// outside set/text/xml.
func ParseFormat(s string) (ConfigFormat, error) {
	switch ConfigFormat(s) {
	case FormatSet, FormatText, FormatXML:
		return ConfigFormat(s), nil
	case "":
		return FormatSet, nil
	default:
		return "", fmt.Errorf("unsupported config format %q, use 'set', 'text' or 'xml'", s)
	}
}

// Driver is an authenticated session to a single device. Implementations
// must be safe to Close on every exit path, including after errors.
type Driver interface {
	// RunCommand executes one operational command and returns its text output.
	RunCommand(ctx context.Context, cmd string) (string, error)
	// GetConfig returns the committed configuration as text.
	GetConfig(ctx context.Context) (string, error)
	// CompareRollback diffs the running configuration against rollback n.
	CompareRollback(ctx context.Context, n int) (string, error)
	// Facts gathers device facts as a JSON document.
	Facts(ctx context.Context) (string, error)

	// Lock acquires the candidate configuration lock.
	Lock(ctx context.Context) error
	// LoadConfig loads the payload into the candidate in the given format.
	LoadConfig(ctx context.Context, payload string, format ConfigFormat) error
	// DiffCandidate diffs the candidate against the running configuration.
	// An empty string means no changes.
	DiffCandidate(ctx context.Context) (string, error)
	// Commit commits the candidate with an optional comment.
	Commit(ctx context.Context, comment string) error
	// Rollback discards pending candidate changes.
	Rollback(ctx context.Context) error
	// Unlock releases the candidate configuration lock.
	Unlock(ctx context.Context) error

	Close() error
}

// Factory opens sessions for validated device records.
type Factory interface {
	Open(ctx context.Context, name string, rec *device.Record, timeout time.Duration) (Driver, error)
}

// ConnError classifies transport and authentication failures while opening
// or talking to a device.
type ConnError struct {
	Device string
	Err    error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("connection error to %s: %v", e.Device, e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }
