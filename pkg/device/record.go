package device

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	AuthTypePassword = "password"
	AuthTypeSSHKey   = "ssh_key"
)

// Auth is the authentication section of a device record. Exactly one of the
// two variants must be populated, selected by Type.
type Auth struct {
	Type           string `json:"type"`
	Password       string `json:"password,omitempty"`
	PrivateKeyPath string `json:"private_key_path,omitempty"`
}

// Record holds the connection profile of a single device. Records are
// immutable once stored in the registry; updates go through Delete+Insert.
type Record struct {
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Auth     *Auth  `json:"auth,omitempty"`
	// Password is the deprecated top-level password field, kept for
	// backward compatibility with older device mappings. Equivalent to
	// auth type "password".
	Password  string `json:"password,omitempty"`
	SSHConfig string `json:"ssh_config,omitempty"`

	// rawPort keeps the original JSON token when the port was not an
	// integer, so validation can name the received type.
	rawPort json.RawMessage
}

// UnmarshalJSON tolerates a non-integer port so that validation, not
// decoding, reports the offending device.
func (r *Record) UnmarshalJSON(b []byte) error {
	type alias struct {
		IP        string          `json:"ip"`
		Port      json.RawMessage `json:"port"`
		Username  string          `json:"username"`
		Auth      *Auth           `json:"auth"`
		Password  string          `json:"password"`
		SSHConfig string          `json:"ssh_config"`
	}
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	r.IP = a.IP
	r.Username = a.Username
	r.Auth = a.Auth
	r.Password = a.Password
	r.SSHConfig = a.SSHConfig
	if len(a.Port) > 0 {
		var port int
		if err := json.Unmarshal(a.Port, &port); err != nil {
			r.rawPort = a.Port
		} else {
			r.Port = port
		}
	}
	return nil
}

// portTypeName reports the JSON type of the raw port token, mirroring the
// type name a user would recognize from the mapping file.
func (r *Record) portTypeName() string {
	switch {
	case len(r.rawPort) == 0:
		return ""
	case r.rawPort[0] == '"':
		return "string"
	case r.rawPort[0] == '{':
		return "object"
	case r.rawPort[0] == '[':
		return "array"
	case r.rawPort[0] == 't' || r.rawPort[0] == 'f':
		return "bool"
	default:
		return "float"
	}
}

// Validate checks a single device record. All rules are evaluated and the
// returned error names every violated constraint for this device.
func Validate(name string, r *Record) error {
	if r == nil {
		return fmt.Errorf("device %q: no record", name)
	}
	var errs []string

	var missing []string
	if r.IP == "" {
		missing = append(missing, "ip")
	}
	if r.Port == 0 && len(r.rawPort) == 0 {
		missing = append(missing, "port")
	}
	if r.Username == "" {
		missing = append(missing, "username")
	}
	if len(missing) > 0 {
		errs = append(errs, fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", ")))
	}

	switch {
	case r.Auth != nil:
		switch r.Auth.Type {
		case "":
			errs = append(errs, "auth section is missing the 'type' field, expected 'password' or 'ssh_key'")
		case AuthTypePassword:
			if r.Auth.Password == "" {
				errs = append(errs, "auth type is 'password' but the 'password' field is missing")
			}
		case AuthTypeSSHKey:
			if r.Auth.PrivateKeyPath == "" {
				errs = append(errs, "auth type is 'ssh_key' but the 'private_key_path' field is missing")
			}
		default:
			errs = append(errs, fmt.Sprintf("unsupported auth type %q, supported types are 'password' and 'ssh_key'", r.Auth.Type))
		}
	case r.Password != "":
		// legacy top-level password, accepted
	default:
		errs = append(errs, "missing authentication configuration, provide an 'auth' section or the deprecated 'password' field")
	}

	if tn := r.portTypeName(); tn != "" {
		errs = append(errs, fmt.Sprintf("invalid 'port' value, expected integer, got %s", tn))
	} else if r.Port != 0 && (r.Port < 1 || r.Port > 65535) {
		errs = append(errs, fmt.Sprintf("port %d out of range 1-65535", r.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("device %q: %s", name, strings.Join(errs, "; "))
	}
	return nil
}
