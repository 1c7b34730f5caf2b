package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/jmcp-dev/jmcp/pkg/device"
	"github.com/jmcp-dev/jmcp/pkg/target"
)

// promptTimeout is the fixed ceiling one suspend point may block for.
const promptTimeout = 5 * time.Minute

// probeTimeout bounds the optional connection test.
const probeTimeout = 10 * time.Second

var ipv4RE = regexp.MustCompile(`^(?:[0-9]{1,3}\.){3}[0-9]{1,3}$`)

// Draft is the in-progress set of fields for a new device. Fields may be
// pre-seeded from tool arguments; the wizard elicits the rest.
type Draft struct {
	Name       string
	IP         string
	Port       int
	Username   string
	SSHKeyPath string
}

// Session drives one add-device wizard run. Sessions are independent; only
// the final commit touches the registry.
type Session struct {
	id       string
	registry *device.Registry
	factory  target.Factory
	elicitor Elicitor
	draft    Draft
}

func NewSession(reg *device.Registry, factory target.Factory, el Elicitor, seed Draft) *Session {
	return &Session{
		id:       uuid.NewString(),
		registry: reg,
		factory:  factory,
		elicitor: el,
		draft:    seed,
	}
}

// abortError carries the user-facing abort message out of a step.
type abortError struct{ msg string }

func (e *abortError) Error() string { return e.msg }

// Run executes the wizard to a terminal outcome and returns the text to
// report to the caller. The registry is only mutated on full success.
func (s *Session) Run(ctx context.Context) string {
	log.Infof("wizard %s: starting add_device with name=%q ip=%q", s.id, s.draft.Name, s.draft.IP)

	steps := []func(context.Context) error{
		s.stepName,
		s.stepIP,
		s.stepPort,
		s.stepUsername,
		s.stepSSHKeyPath,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return abortText(err)
		}
	}

	testConnection, err := s.stepConfirm(ctx)
	if err != nil {
		return abortText(err)
	}
	if testConnection {
		if err := s.probe(ctx); err != nil {
			return fmt.Sprintf("Connection test failed: %v\nDevice not added.", err)
		}
		s.elicitor.Notify(ctx, "info", "Connection test successful")
	}

	if err := s.commit(); err != nil {
		return fmt.Sprintf("Failed to add device: %v", err)
	}
	log.Infof("wizard %s: device %q added", s.id, s.draft.Name)
	s.elicitor.Notify(ctx, "info", fmt.Sprintf("Device '%s' added successfully!", s.draft.Name))

	return fmt.Sprintf(`Device '%s' added successfully!

Details:
- IP: %s
- Port: %d
- Username: %s

The device is now available for use with all tools.`, s.draft.Name, s.draft.IP, s.draft.Port, s.draft.Username)
}

func abortText(err error) string {
	var ae *abortError
	if errors.As(err, &ae) {
		return ae.msg
	}
	return fmt.Sprintf("Failed to add device: %v", err)
}

// elicit wraps one suspend point with the engine timeout and classifies a
// deadline hit as a TimedOut outcome.
func (s *Session) elicit(ctx context.Context, message string, schema *jsonschema.Schema) (*Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, promptTimeout)
	defer cancel()
	out, err := s.elicitor.Elicit(ctx, message, schema)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warnf("wizard %s: elicitation timed out", s.id)
			return &Outcome{Action: ActionTimedOut}, nil
		}
		return nil, err
	}
	return out, nil
}

// askField loops one field step: prompt, classify, validate, retry. accept
// returns a corrective message when the carried data fails the step's own
// validation; an empty message advances.
func (s *Session) askField(ctx context.Context, what, message string, schema *jsonschema.Schema, accept func(*Outcome) string) error {
	for {
		out, err := s.elicit(ctx, message, schema)
		if err != nil {
			return err
		}
		switch out.Action {
		case ActionAccepted:
			corrective := accept(out)
			if corrective == "" {
				return nil
			}
			s.elicitor.Notify(ctx, "warning", corrective)
		case ActionDeclined, ActionCancelled, ActionTimedOut:
			log.Infof("wizard %s: %s input %s", s.id, what, out.Action)
			return &abortError{msg: fmt.Sprintf("Device %s input cancelled.", what)}
		}
	}
}

func (s *Session) stepName(ctx context.Context) error {
	if s.draft.Name != "" && !s.registry.Has(s.draft.Name) {
		return nil
	}
	if s.draft.Name != "" {
		s.elicitor.Notify(ctx, "warning", fmt.Sprintf("Device '%s' already exists!", s.draft.Name))
		s.draft.Name = ""
	}
	schema := objectSchema(map[string]*jsonschema.Schema{
		"name": stringSchema("Enter the device name (e.g., router1-east)", 1, 50, ""),
	}, "name")
	return s.askField(ctx, "name", "Please enter the device name:", schema, func(out *Outcome) string {
		name := strings.TrimSpace(out.Str("name"))
		if name == "" {
			return "Device name must not be empty."
		}
		if s.registry.Has(name) {
			return fmt.Sprintf("Device '%s' already exists! Please enter a different name.", name)
		}
		s.draft.Name = name
		return ""
	})
}

func (s *Session) stepIP(ctx context.Context) error {
	if s.draft.IP != "" {
		return nil
	}
	schema := objectSchema(map[string]*jsonschema.Schema{
		"ip": stringSchema("Enter the device IP address (e.g., 192.168.1.1)", 0, 0, ipv4RE.String()),
	}, "ip")
	msg := fmt.Sprintf("Please enter the IP address for device '%s':", s.draft.Name)
	return s.askField(ctx, "IP", msg, schema, func(out *Outcome) string {
		ip := strings.TrimSpace(out.Str("ip"))
		if !ipv4RE.MatchString(ip) {
			return fmt.Sprintf("'%s' is not a valid IPv4 address.", ip)
		}
		s.draft.IP = ip
		return ""
	})
}

func (s *Session) stepPort(ctx context.Context) error {
	if s.draft.Port > 0 {
		return nil
	}
	schema := objectSchema(map[string]*jsonschema.Schema{
		"port": intSchema("Enter the SSH port (default: 22)", 1, 65535, 22),
	}, "port")
	msg := fmt.Sprintf("Please enter the SSH port for device '%s' (default: 22):", s.draft.Name)
	return s.askField(ctx, "port", msg, schema, func(out *Outcome) string {
		port, ok := out.Int("port")
		if !ok || port < 1 || port > 65535 {
			return "Port must be an integer between 1 and 65535."
		}
		s.draft.Port = port
		return ""
	})
}

func (s *Session) stepUsername(ctx context.Context) error {
	if s.draft.Username != "" {
		return nil
	}
	schema := objectSchema(map[string]*jsonschema.Schema{
		"username": stringSchema("Enter the username for device authentication", 1, 0, ""),
	}, "username")
	msg := fmt.Sprintf("Please enter the username for device '%s':", s.draft.Name)
	return s.askField(ctx, "username", msg, schema, func(out *Outcome) string {
		username := strings.TrimSpace(out.Str("username"))
		if username == "" {
			return "Username must not be empty."
		}
		s.draft.Username = username
		return ""
	})
}

func (s *Session) stepSSHKeyPath(ctx context.Context) error {
	if s.draft.SSHKeyPath != "" {
		if msg := checkKeyPath(s.draft.SSHKeyPath); msg == "" {
			return nil
		}
		s.draft.SSHKeyPath = ""
	}
	schema := objectSchema(map[string]*jsonschema.Schema{
		"ssh_key_path": stringSchema("Enter the path to the SSH private key file on the server (e.g., /home/user/.ssh/id_rsa)", 1, 0, ""),
	}, "ssh_key_path")
	msg := fmt.Sprintf("Please enter the SSH private key file path for device '%s':", s.draft.Name)
	return s.askField(ctx, "SSH key path", msg, schema, func(out *Outcome) string {
		path := strings.TrimSpace(out.Str("ssh_key_path"))
		if path == "" {
			return "SSH key path must not be empty."
		}
		if corrective := checkKeyPath(path); corrective != "" {
			return corrective
		}
		s.draft.SSHKeyPath = path
		return ""
	})
}

// checkKeyPath verifies the key file exists and is readable, returning a
// distinct corrective message for each failure.
func checkKeyPath(path string) string {
	if _, err := os.Stat(path); err != nil {
		return fmt.Sprintf("SSH key file '%s' not found. Please enter a valid path.", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Sprintf("SSH key file '%s' is not readable. Please check permissions.", path)
	}
	f.Close()
	return ""
}

// stepConfirm presents the accumulated draft. Any non-accept outcome or an
// unset confirm flag aborts with no registry mutation. Returns whether a
// connection test was requested.
func (s *Session) stepConfirm(ctx context.Context) (bool, error) {
	summary := fmt.Sprintf(`Device Details:
- Name: %s
- IP: %s
- Port: %d
- Username: %s
- SSH Key: %s`, s.draft.Name, s.draft.IP, s.draft.Port, s.draft.Username, s.draft.SSHKeyPath)

	schema := objectSchema(map[string]*jsonschema.Schema{
		"confirm":         boolSchema("Confirm adding this device", nil),
		"test_connection": boolSchema("Test connection to device before adding", boolPtr(false)),
	}, "confirm")

	out, err := s.elicit(ctx, "Please confirm adding this device:\n\n"+summary, schema)
	if err != nil {
		return false, err
	}
	if out.Action != ActionAccepted || !out.Bool("confirm") {
		log.Infof("wizard %s: confirmation %s", s.id, out.Action)
		return false, &abortError{msg: "Device addition cancelled."}
	}
	return out.Bool("test_connection"), nil
}

// probe opens a real session with the drafted credentials solely to verify
// connectivity. The session is always closed, whatever the outcome.
func (s *Session) probe(ctx context.Context) error {
	s.elicitor.Notify(ctx, "info", fmt.Sprintf("Testing connection to %s...", s.draft.Name))
	rec := s.record()
	drv, err := s.factory.Open(ctx, s.draft.Name, rec, probeTimeout)
	if err != nil {
		log.Errorf("wizard %s: connection test failed: %v", s.id, err)
		return err
	}
	if cerr := drv.Close(); cerr != nil {
		log.Warnf("wizard %s: error closing test connection to %s: %v", s.id, s.draft.Name, cerr)
	}
	return nil
}

func (s *Session) record() *device.Record {
	return &device.Record{
		IP:       s.draft.IP,
		Port:     s.draft.Port,
		Username: s.draft.Username,
		Auth: &device.Auth{
			Type:           device.AuthTypeSSHKey,
			PrivateKeyPath: s.draft.SSHKeyPath,
		},
	}
}

// commit validates the assembled draft and inserts it into the registry.
// This is the wizard's only durable effect.
func (s *Session) commit() error {
	return s.registry.Insert(s.draft.Name, s.record())
}

// schema helpers

func objectSchema(props map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

func stringSchema(desc string, minLen, maxLen int, pattern string) *jsonschema.Schema {
	sc := &jsonschema.Schema{Type: "string", Description: desc, Pattern: pattern}
	if minLen > 0 {
		sc.MinLength = intPtr(minLen)
	}
	if maxLen > 0 {
		sc.MaxLength = intPtr(maxLen)
	}
	return sc
}

func intSchema(desc string, min, max, def int) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "integer",
		Description: desc,
		Minimum:     floatPtr(float64(min)),
		Maximum:     floatPtr(float64(max)),
		Default:     rawJSON(def),
	}
}

func boolSchema(desc string, def *bool) *jsonschema.Schema {
	sc := &jsonschema.Schema{Type: "boolean", Description: desc}
	if def != nil {
		sc.Default = rawJSON(*def)
	}
	return sc
}

func rawJSON(v interface{}) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func intPtr(i int) *int { return &i }

func floatPtr(f float64) *float64 { return &f }

func boolPtr(b bool) *bool { return &b }
