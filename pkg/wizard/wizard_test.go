package wizard

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcp-dev/jmcp/pkg/device"
	"github.com/jmcp-dev/jmcp/pkg/target"
)

// scriptedElicitor feeds a fixed sequence of outcomes to the session.
type scriptedElicitor struct {
	script  []*Outcome
	errs    []error
	i       int
	notices []string
}

func (s *scriptedElicitor) Elicit(_ context.Context, _ string, _ *jsonschema.Schema) (*Outcome, error) {
	if s.i >= len(s.script) {
		return &Outcome{Action: ActionCancelled}, nil
	}
	out := s.script[s.i]
	var err error
	if s.i < len(s.errs) {
		err = s.errs[s.i]
	}
	s.i++
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *scriptedElicitor) Notify(_ context.Context, _, message string) {
	s.notices = append(s.notices, message)
}

type fakeProbeDriver struct {
	closed bool
}

func (f *fakeProbeDriver) RunCommand(context.Context, string) (string, error) { return "", nil }
func (f *fakeProbeDriver) GetConfig(context.Context) (string, error)          { return "", nil }
func (f *fakeProbeDriver) CompareRollback(context.Context, int) (string, error) {
	return "", nil
}
func (f *fakeProbeDriver) Facts(context.Context) (string, error) { return "", nil }
func (f *fakeProbeDriver) Lock(context.Context) error            { return nil }
func (f *fakeProbeDriver) LoadConfig(context.Context, string, target.ConfigFormat) error {
	return nil
}
func (f *fakeProbeDriver) DiffCandidate(context.Context) (string, error) { return "", nil }
func (f *fakeProbeDriver) Commit(context.Context, string) error          { return nil }
func (f *fakeProbeDriver) Rollback(context.Context) error                { return nil }
func (f *fakeProbeDriver) Unlock(context.Context) error                  { return nil }
func (f *fakeProbeDriver) Close() error {
	f.closed = true
	return nil
}

type fakeFactory struct {
	openErr error
	driver  *fakeProbeDriver
	opened  int
}

func (f *fakeFactory) Open(_ context.Context, _ string, _ *device.Record, _ time.Duration) (target.Driver, error) {
	f.opened++
	if f.openErr != nil {
		return nil, f.openErr
	}
	if f.driver == nil {
		f.driver = &fakeProbeDriver{}
	}
	return f.driver, nil
}

func accepted(data map[string]interface{}) *Outcome {
	return &Outcome{Action: ActionAccepted, Data: data}
}

func keyFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "id_rsa")
	require.NoError(t, os.WriteFile(path, []byte("fake key"), 0o600))
	return path
}

func happyScript(key string) []*Outcome {
	return []*Outcome{
		accepted(map[string]interface{}{"name": "r1"}),
		accepted(map[string]interface{}{"ip": "10.0.0.1"}),
		accepted(map[string]interface{}{"port": float64(22)}),
		accepted(map[string]interface{}{"username": "admin"}),
		accepted(map[string]interface{}{"ssh_key_path": key}),
		accepted(map[string]interface{}{"confirm": true, "test_connection": false}),
	}
}

func TestWizardHappyPath(t *testing.T) {
	reg := device.NewRegistry()
	el := &scriptedElicitor{script: happyScript(keyFile(t))}
	factory := &fakeFactory{}

	out := NewSession(reg, factory, el, Draft{}).Run(context.Background())

	assert.Contains(t, out, "Device 'r1' added successfully!")
	require.Equal(t, []string{"r1"}, reg.Names())
	rec, err := reg.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", rec.IP)
	assert.Equal(t, 22, rec.Port)
	assert.Equal(t, "admin", rec.Username)
	require.NotNil(t, rec.Auth)
	assert.Equal(t, device.AuthTypeSSHKey, rec.Auth.Type)
	// no connection test was requested, no session may be opened
	assert.Zero(t, factory.opened)
}

func TestWizardCancelAtEveryStep(t *testing.T) {
	key := keyFile(t)
	for step := 0; step < 6; step++ {
		script := append([]*Outcome{}, happyScript(key)[:step]...)
		script = append(script, &Outcome{Action: ActionCancelled})

		reg := device.NewRegistry()
		el := &scriptedElicitor{script: script}
		out := NewSession(reg, &fakeFactory{}, el, Draft{}).Run(context.Background())

		assert.Contains(t, out, "cancelled", "step %d", step)
		assert.Empty(t, reg.Names(), "cancel at step %d mutated the registry", step)
	}
}

func TestWizardDuplicateNameRepromptsStepOne(t *testing.T) {
	reg := device.NewRegistry()
	require.NoError(t, reg.Insert("r1", &device.Record{
		IP: "10.0.0.9", Port: 22, Username: "admin", Password: "x",
	}))

	script := []*Outcome{
		accepted(map[string]interface{}{"name": "r1"}), // duplicate, must re-prompt
		accepted(map[string]interface{}{"name": "r2"}),
		{Action: ActionCancelled}, // bail out at the IP step
	}
	el := &scriptedElicitor{script: script}
	out := NewSession(reg, &fakeFactory{}, el, Draft{}).Run(context.Background())

	assert.Contains(t, out, "cancelled")
	require.Len(t, el.notices, 1)
	assert.Contains(t, el.notices[0], "already exists")
	// only the pre-existing record remains
	assert.Equal(t, []string{"r1"}, reg.Names())
}

func TestWizardDeclineAtConfirm(t *testing.T) {
	script := happyScript(keyFile(t))
	script[5] = &Outcome{Action: ActionDeclined}

	reg := device.NewRegistry()
	out := NewSession(reg, &fakeFactory{}, &scriptedElicitor{script: script}, Draft{}).Run(context.Background())

	assert.Equal(t, "Device addition cancelled.", out)
	assert.Empty(t, reg.Names())
}

func TestWizardConfirmFlagUnset(t *testing.T) {
	script := happyScript(keyFile(t))
	script[5] = accepted(map[string]interface{}{"confirm": false})

	reg := device.NewRegistry()
	out := NewSession(reg, &fakeFactory{}, &scriptedElicitor{script: script}, Draft{}).Run(context.Background())

	assert.Equal(t, "Device addition cancelled.", out)
	assert.Empty(t, reg.Names())
}

func TestWizardBadKeyPathReprompts(t *testing.T) {
	key := keyFile(t)
	script := happyScript(key)
	// splice a nonexistent path before the valid one
	script = append(script[:4], append([]*Outcome{
		accepted(map[string]interface{}{"ssh_key_path": "/does/not/exist"}),
	}, script[4:]...)...)

	reg := device.NewRegistry()
	el := &scriptedElicitor{script: script}
	out := NewSession(reg, &fakeFactory{}, el, Draft{}).Run(context.Background())

	assert.Contains(t, out, "added successfully")
	require.NotEmpty(t, el.notices)
	assert.Contains(t, el.notices[0], "not found")
	assert.Equal(t, []string{"r1"}, reg.Names())
}

func TestWizardInvalidIPReprompts(t *testing.T) {
	key := keyFile(t)
	script := happyScript(key)
	script = append(script[:1], append([]*Outcome{
		accepted(map[string]interface{}{"ip": "not-an-ip"}),
	}, script[1:]...)...)

	reg := device.NewRegistry()
	el := &scriptedElicitor{script: script}
	out := NewSession(reg, &fakeFactory{}, el, Draft{}).Run(context.Background())

	assert.Contains(t, out, "added successfully")
	require.NotEmpty(t, el.notices)
	assert.Contains(t, el.notices[0], "not a valid IPv4 address")
}

func TestWizardProbeFailureAbortsWithoutInsert(t *testing.T) {
	script := happyScript(keyFile(t))
	script[5] = accepted(map[string]interface{}{"confirm": true, "test_connection": true})

	reg := device.NewRegistry()
	factory := &fakeFactory{openErr: errors.New("auth failed")}
	out := NewSession(reg, factory, &scriptedElicitor{script: script}, Draft{}).Run(context.Background())

	assert.Contains(t, out, "Connection test failed")
	assert.Contains(t, out, "auth failed")
	assert.Contains(t, out, "Device not added")
	assert.Empty(t, reg.Names())
}

func TestWizardProbeSuccessClosesSession(t *testing.T) {
	script := happyScript(keyFile(t))
	script[5] = accepted(map[string]interface{}{"confirm": true, "test_connection": true})

	reg := device.NewRegistry()
	factory := &fakeFactory{}
	out := NewSession(reg, factory, &scriptedElicitor{script: script}, Draft{}).Run(context.Background())

	assert.Contains(t, out, "added successfully")
	assert.Equal(t, 1, factory.opened)
	require.NotNil(t, factory.driver)
	assert.True(t, factory.driver.closed, "probe session left open")
	assert.Equal(t, []string{"r1"}, reg.Names())
}

func TestWizardTimeoutAborts(t *testing.T) {
	reg := device.NewRegistry()
	el := &scriptedElicitor{
		script: []*Outcome{nil},
		errs:   []error{context.DeadlineExceeded},
	}
	out := NewSession(reg, &fakeFactory{}, el, Draft{}).Run(context.Background())

	assert.Contains(t, out, "cancelled")
	assert.Empty(t, reg.Names())
}

func TestWizardSeededFieldsSkipSteps(t *testing.T) {
	key := keyFile(t)
	seed := Draft{Name: "edge1", IP: "192.0.2.1", Port: 830, Username: "ops", SSHKeyPath: key}
	script := []*Outcome{
		accepted(map[string]interface{}{"confirm": true, "test_connection": false}),
	}

	reg := device.NewRegistry()
	out := NewSession(reg, &fakeFactory{}, &scriptedElicitor{script: script}, seed).Run(context.Background())

	assert.Contains(t, out, "Device 'edge1' added successfully!")
	rec, err := reg.Get("edge1")
	require.NoError(t, err)
	assert.Equal(t, 830, rec.Port)
}

func TestWizardElicitorErrorAborts(t *testing.T) {
	reg := device.NewRegistry()
	el := &scriptedElicitor{
		script: []*Outcome{nil},
		errs:   []error{errors.New("client disconnected")},
	}
	out := NewSession(reg, &fakeFactory{}, el, Draft{}).Run(context.Background())

	assert.Contains(t, out, "Failed to add device")
	assert.Empty(t, reg.Names())
	if !strings.Contains(out, "client disconnected") {
		t.Errorf("abort text does not carry the cause: %q", out)
	}
}
