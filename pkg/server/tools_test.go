package server

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcp-dev/jmcp/pkg/auth"
	"github.com/jmcp-dev/jmcp/pkg/config"
	"github.com/jmcp-dev/jmcp/pkg/device"
	"github.com/jmcp-dev/jmcp/pkg/target"
)

// stubDriver answers every operation from canned fields and records whether
// it was closed.
type stubDriver struct {
	output  string
	config  string
	diff    string
	runErr  error
	lockErr error

	calls  []string
	closed bool
}

func (d *stubDriver) record(call string) { d.calls = append(d.calls, call) }

func (d *stubDriver) RunCommand(_ context.Context, _ string) (string, error) {
	d.record("run")
	return d.output, d.runErr
}

func (d *stubDriver) GetConfig(context.Context) (string, error) {
	d.record("get-config")
	return d.config, nil
}

func (d *stubDriver) CompareRollback(context.Context, int) (string, error) {
	d.record("compare")
	return d.diff, nil
}

func (d *stubDriver) Facts(context.Context) (string, error) {
	d.record("facts")
	return `{"hostname": "r1"}`, nil
}

func (d *stubDriver) Lock(context.Context) error {
	d.record("lock")
	return d.lockErr
}

func (d *stubDriver) LoadConfig(context.Context, string, target.ConfigFormat) error {
	d.record("load")
	return nil
}

func (d *stubDriver) DiffCandidate(context.Context) (string, error) {
	d.record("diff")
	return d.diff, nil
}

func (d *stubDriver) Commit(context.Context, string) error {
	d.record("commit")
	return nil
}

func (d *stubDriver) Rollback(context.Context) error {
	d.record("rollback")
	return nil
}

func (d *stubDriver) Unlock(context.Context) error {
	d.record("unlock")
	return nil
}

func (d *stubDriver) Close() error {
	d.closed = true
	return nil
}

// stubFactory hands out one stubDriver per device name.
type stubFactory struct {
	drivers map[string]*stubDriver
	openErr error
	opened  int
}

func (f *stubFactory) Open(_ context.Context, name string, _ *device.Record, _ time.Duration) (target.Driver, error) {
	f.opened++
	if f.openErr != nil {
		return nil, f.openErr
	}
	if f.drivers == nil {
		f.drivers = map[string]*stubDriver{}
	}
	d, ok := f.drivers[name]
	if !ok {
		d = &stubDriver{}
		f.drivers[name] = d
	}
	return d, nil
}

func testServer(t *testing.T, factory target.Factory) *Server {
	t.Helper()
	cfg, err := config.New("")
	require.NoError(t, err)
	reg := device.NewRegistry()
	tokens := auth.NewStore(filepath.Join(t.TempDir(), ".tokens"))
	require.NoError(t, tokens.Load())
	return New(cfg, reg, factory, tokens)
}

func addDevice(t *testing.T, s *Server, name string) {
	t.Helper()
	require.NoError(t, s.registry.Insert(name, &device.Record{
		IP: "10.0.0.1", Port: 22, Username: "admin",
		Auth: &device.Auth{Type: device.AuthTypePassword, Password: "x"},
	}))
}

func TestRunCommand(t *testing.T) {
	factory := &stubFactory{drivers: map[string]*stubDriver{
		"r1": {output: "Hostname: r1\nModel: mx480"},
	}}
	s := testServer(t, factory)
	addDevice(t, s, "r1")

	out := s.runCommand(context.Background(), "r1", "show version", time.Minute)
	assert.Equal(t, "Hostname: r1\nModel: mx480", out)
	assert.True(t, factory.drivers["r1"].closed, "session left open")
}

func TestRunCommandUnknownDevice(t *testing.T) {
	factory := &stubFactory{}
	s := testServer(t, factory)

	out := s.runCommand(context.Background(), "ghost", "show version", time.Minute)
	assert.Contains(t, out, "router ghost not found in the device mapping")
	assert.Zero(t, factory.opened, "session opened for unknown device")
}

func TestRunCommandDriverErrorClosesSession(t *testing.T) {
	factory := &stubFactory{drivers: map[string]*stubDriver{
		"r1": {runErr: errors.New("rpc timeout")},
	}}
	s := testServer(t, factory)
	addDevice(t, s, "r1")

	out := s.runCommand(context.Background(), "r1", "show version", time.Minute)
	assert.Contains(t, out, "An error occurred")
	assert.Contains(t, out, "rpc timeout")
	assert.True(t, factory.drivers["r1"].closed, "session left open after error")
}

func TestRunCommandConnectionError(t *testing.T) {
	factory := &stubFactory{openErr: &target.ConnError{Device: "r1", Err: errors.New("auth failed")}}
	s := testServer(t, factory)
	addDevice(t, s, "r1")

	out := s.runCommand(context.Background(), "r1", "show version", time.Minute)
	assert.Contains(t, out, "connection error to r1")
}

func TestApplyConfigUnknownDeviceBeforeAnyLock(t *testing.T) {
	factory := &stubFactory{}
	s := testServer(t, factory)

	out := s.applyConfig(context.Background(), "ghost", "set system host-name x", "set", "c", false, time.Minute)
	assert.Contains(t, out, "router ghost not found in the device mapping")
	assert.Zero(t, factory.opened, "no connection may be opened for an unknown device")
}

func TestApplyConfigCommit(t *testing.T) {
	drv := &stubDriver{diff: "+ set system host-name r1"}
	factory := &stubFactory{drivers: map[string]*stubDriver{"r1": drv}}
	s := testServer(t, factory)
	addDevice(t, s, "r1")

	out := s.applyConfig(context.Background(), "r1", "set system host-name r1", "set", "c", false, time.Minute)
	assert.Contains(t, out, "+ set system host-name r1")
	assert.Contains(t, strings.Join(drv.calls, ","), "commit")
	assert.True(t, drv.closed)
}

func TestApplyConfigLockHeld(t *testing.T) {
	drv := &stubDriver{lockErr: errors.New("configuration database locked by user bob")}
	factory := &stubFactory{drivers: map[string]*stubDriver{"r1": drv}}
	s := testServer(t, factory)
	addDevice(t, s, "r1")

	out := s.applyConfig(context.Background(), "r1", "set x", "set", "c", false, time.Minute)
	assert.Contains(t, out, "locked by user bob")
	// no unlock, no commit after a failed lock
	joined := strings.Join(drv.calls, ",")
	assert.NotContains(t, joined, "unlock")
	assert.NotContains(t, joined, "commit")
}

func TestRenderAndApplyRenderOnly(t *testing.T) {
	factory := &stubFactory{}
	s := testServer(t, factory)

	out := s.renderAndApply(context.Background(), renderTemplateArgs{
		TemplateContent: "set system host-name {{.hostname}}",
		VarsContent:     "hostname: r9",
	})
	assert.Contains(t, out, "Template rendered successfully!")
	assert.Contains(t, out, "set system host-name r9")
	assert.Zero(t, factory.opened, "render-only must not touch any device")
}

func TestRenderAndApplyRenderError(t *testing.T) {
	s := testServer(t, &stubFactory{})
	out := s.renderAndApply(context.Background(), renderTemplateArgs{
		TemplateContent: "set system host-name {{.missing}}",
		VarsContent:     "hostname: r9",
	})
	assert.Contains(t, out, "Error:")
	assert.Contains(t, out, "rendering template")
}

func TestRenderAndApplyNeedsRouters(t *testing.T) {
	s := testServer(t, &stubFactory{})
	out := s.renderAndApply(context.Background(), renderTemplateArgs{
		TemplateContent: "set system host-name {{.hostname}}",
		VarsContent:     "hostname: r9",
		ApplyConfig:     true,
	})
	assert.Contains(t, out, "router_name or router_names must be provided")
}

func TestRenderAndApplyFanOut(t *testing.T) {
	factory := &stubFactory{drivers: map[string]*stubDriver{
		"r1": {diff: "+ a"},
		"r2": {diff: "+ a"},
	}}
	s := testServer(t, factory)
	addDevice(t, s, "r1")
	addDevice(t, s, "r2")

	out := s.renderAndApply(context.Background(), renderTemplateArgs{
		TemplateContent: "set system host-name {{.hostname}}",
		VarsContent:     "hostname: fleet",
		ApplyConfig:     true,
		RouterNames:     []string{"r1", "r2"},
	})
	assert.Contains(t, out, "Configuration application complete!")
	assert.Contains(t, out, "r1:")
	assert.Contains(t, out, "r2:")
	assert.Equal(t, 2, factory.opened)
	for name, drv := range factory.drivers {
		assert.True(t, drv.closed, "session to %s left open", name)
		assert.Contains(t, strings.Join(drv.calls, ","), "commit", "no commit on %s", name)
	}
}

func TestRenderAndApplyDryRunNeverCommits(t *testing.T) {
	drv := &stubDriver{diff: "+ a"}
	factory := &stubFactory{drivers: map[string]*stubDriver{"r1": drv}}
	s := testServer(t, factory)
	addDevice(t, s, "r1")

	out := s.renderAndApply(context.Background(), renderTemplateArgs{
		TemplateContent: "set system host-name {{.hostname}}",
		VarsContent:     "hostname: r1",
		ApplyConfig:     true,
		RouterName:      "r1",
		DryRun:          true,
	})
	assert.Contains(t, out, "Configuration preview complete!")
	assert.NotContains(t, strings.Join(drv.calls, ","), "commit")
}

func TestGuardRecoversPanic(t *testing.T) {
	s := testServer(t, &stubFactory{})
	out := s.guard("some_tool", func() string {
		panic("boom")
	})
	assert.Contains(t, out, "An internal error occurred")
	assert.Contains(t, out, "boom")
}

func TestResolveTimeout(t *testing.T) {
	s := testServer(t, &stubFactory{})

	assert.Equal(t, 45*time.Second, s.resolveTimeout(45))

	t.Setenv("JUNOS_TIMEOUT", "90")
	assert.Equal(t, 90*time.Second, s.resolveTimeout(0))
	// an explicit argument still wins over the environment
	assert.Equal(t, 45*time.Second, s.resolveTimeout(45))

	t.Setenv("JUNOS_TIMEOUT", "not-a-number")
	assert.Equal(t, s.cfg.DefaultTimeout, s.resolveTimeout(0))

	t.Setenv("JUNOS_TIMEOUT", "")
	assert.Equal(t, s.cfg.DefaultTimeout, s.resolveTimeout(0))
}

func TestCommentOrDefault(t *testing.T) {
	assert.Equal(t, "Configuration loaded via MCP", commentOrDefault(""))
	assert.Equal(t, "rollout 42", commentOrDefault("rollout 42"))
}
