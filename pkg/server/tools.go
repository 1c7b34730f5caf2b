package server

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jmcp-dev/jmcp/pkg/target"
	"github.com/jmcp-dev/jmcp/pkg/template"
	"github.com/jmcp-dev/jmcp/pkg/transaction"
	"github.com/jmcp-dev/jmcp/pkg/wizard"
)

type executeCommandArgs struct {
	RouterName string `json:"router_name"`
	Command    string `json:"command"`
	Timeout    int    `json:"timeout,omitempty"`
}

type getConfigArgs struct {
	RouterName string `json:"router_name"`
}

type configDiffArgs struct {
	RouterName string `json:"router_name"`
	Version    int    `json:"version,omitempty"`
}

type gatherFactsArgs struct {
	RouterName string `json:"router_name"`
	Timeout    int    `json:"timeout,omitempty"`
}

type loadAndCommitArgs struct {
	RouterName    string `json:"router_name"`
	ConfigText    string `json:"config_text"`
	ConfigFormat  string `json:"config_format,omitempty"`
	CommitComment string `json:"commit_comment,omitempty"`
	DryRun        bool   `json:"dry_run,omitempty"`
	Timeout       int    `json:"timeout,omitempty"`
}

type renderTemplateArgs struct {
	TemplateContent string   `json:"template_content"`
	VarsContent     string   `json:"vars_content"`
	RouterName      string   `json:"router_name,omitempty"`
	RouterNames     []string `json:"router_names,omitempty"`
	ApplyConfig     bool     `json:"apply_config,omitempty"`
	CommitComment   string   `json:"commit_comment,omitempty"`
	DryRun          bool     `json:"dry_run,omitempty"`
}

type addDeviceArgs struct {
	DeviceName string `json:"device_name,omitempty"`
	DeviceIP   string `json:"device_ip,omitempty"`
	DevicePort int    `json:"device_port,omitempty"`
	Username   string `json:"username,omitempty"`
	SSHKeyPath string `json:"ssh_key_path,omitempty"`
}

func (s *Server) addTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "execute_junos_command",
		Description: "Execute a Junos command on the router",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args executeCommandArgs) (*mcp.CallToolResult, any, error) {
		defer s.instrument("execute_junos_command")()
		text := s.guard("execute_junos_command", func() string {
			return s.runCommand(ctx, args.RouterName, args.Command, s.resolveTimeout(args.Timeout))
		})
		return textResult(text), nil, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_junos_config",
		Description: "Get the configuration of the router",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args getConfigArgs) (*mcp.CallToolResult, any, error) {
		defer s.instrument("get_junos_config")()
		text := s.guard("get_junos_config", func() string {
			return s.withSession(ctx, args.RouterName, s.resolveTimeout(0), func(drv target.Driver) (string, error) {
				return drv.GetConfig(ctx)
			})
		})
		return textResult(text), nil, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "junos_config_diff",
		Description: "Get the configuration diff against a rollback version",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args configDiffArgs) (*mcp.CallToolResult, any, error) {
		defer s.instrument("junos_config_diff")()
		version := args.Version
		if version <= 0 {
			version = 1
		}
		text := s.guard("junos_config_diff", func() string {
			return s.withSession(ctx, args.RouterName, s.resolveTimeout(0), func(drv target.Driver) (string, error) {
				return drv.CompareRollback(ctx, version)
			})
		})
		return textResult(text), nil, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "gather_device_facts",
		Description: "Gather Junos device facts from the router",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args gatherFactsArgs) (*mcp.CallToolResult, any, error) {
		defer s.instrument("gather_device_facts")()
		text := s.guard("gather_device_facts", func() string {
			return s.withSession(ctx, args.RouterName, s.resolveTimeout(args.Timeout), func(drv target.Driver) (string, error) {
				return drv.Facts(ctx)
			})
		})
		return textResult(text), nil, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_router_list",
		Description: "Get list of available Junos routers",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
		defer s.instrument("get_router_list")()
		return textResult(strings.Join(s.registry.Names(), ", ")), nil, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "load_and_commit_config",
		Description: "Load and commit configuration on a Junos router",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args loadAndCommitArgs) (*mcp.CallToolResult, any, error) {
		defer s.instrument("load_and_commit_config")()
		text := s.guard("load_and_commit_config", func() string {
			return s.applyConfig(ctx, args.RouterName, args.ConfigText, args.ConfigFormat,
				commentOrDefault(args.CommitComment), args.DryRun, s.resolveTimeout(args.Timeout))
		})
		return textResult(text), nil, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "render_and_apply_j2_template",
		Description: "Render a configuration template and optionally apply it to routers",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args renderTemplateArgs) (*mcp.CallToolResult, any, error) {
		defer s.instrument("render_and_apply_j2_template")()
		text := s.guard("render_and_apply_j2_template", func() string {
			return s.renderAndApply(ctx, args)
		})
		return textResult(text), nil, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "add_device",
		Description: "Add a new Junos device with interactive elicitation for device details",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args addDeviceArgs) (*mcp.CallToolResult, any, error) {
		defer s.instrument("add_device")()
		text := s.guard("add_device", func() string {
			session := wizard.NewSession(s.registry, s.factory, &sessionElicitor{session: req.Session}, wizard.Draft{
				Name:       args.DeviceName,
				IP:         args.DeviceIP,
				Port:       args.DevicePort,
				Username:   args.Username,
				SSHKeyPath: args.SSHKeyPath,
			})
			return session.Run(ctx)
		})
		return textResult(text), nil, nil
	})
}

// runCommand is the leaf execution path: resolve, open, run, always close.
func (s *Server) runCommand(ctx context.Context, name, command string, timeout time.Duration) string {
	log.Debugf("executing command %q on router %s with timeout %s", command, name, timeout)
	return s.withSession(ctx, name, timeout, func(drv target.Driver) (string, error) {
		return drv.RunCommand(ctx, command)
	})
}

// withSession resolves the device, opens a session, runs fn and closes the
// session on every exit path. Errors are rendered as text for the caller.
func (s *Server) withSession(ctx context.Context, name string, timeout time.Duration, fn func(target.Driver) (string, error)) string {
	rec, err := s.registry.Get(name)
	if err != nil {
		s.toolErrors.WithLabelValues("session").Inc()
		return err.Error()
	}
	drv, err := s.factory.Open(ctx, name, rec, timeout)
	if err != nil {
		s.toolErrors.WithLabelValues("session").Inc()
		return err.Error()
	}
	defer func() {
		if cerr := drv.Close(); cerr != nil {
			log.Warnf("error closing session to %s: %v", name, cerr)
		}
	}()
	out, err := fn(drv)
	if err != nil {
		s.toolErrors.WithLabelValues("session").Inc()
		return fmt.Sprintf("An error occurred: %v", err)
	}
	return out
}

// applyConfig runs one configuration transaction against one device. Unknown
// devices are reported before any lock is attempted.
func (s *Server) applyConfig(ctx context.Context, name, payload, format, comment string, dryRun bool, timeout time.Duration) string {
	rec, err := s.registry.Get(name)
	if err != nil {
		s.toolErrors.WithLabelValues("apply").Inc()
		return err.Error()
	}
	drv, err := s.factory.Open(ctx, name, rec, timeout)
	if err != nil {
		s.toolErrors.WithLabelValues("apply").Inc()
		return err.Error()
	}
	defer func() {
		if cerr := drv.Close(); cerr != nil {
			log.Warnf("error closing session to %s: %v", name, cerr)
		}
	}()

	res := transaction.Run(ctx, drv, &transaction.Transaction{
		Device:  name,
		Format:  format,
		Payload: payload,
		Comment: comment,
		DryRun:  dryRun,
		Timeout: timeout,
	})
	if res.Err != nil {
		s.toolErrors.WithLabelValues("apply").Inc()
	}
	return res.Text(name)
}

// renderAndApply renders the template and, when requested, fans the apply
// out to all named routers concurrently, one transaction each.
func (s *Server) renderAndApply(ctx context.Context, args renderTemplateArgs) string {
	rendered, err := template.Render(args.TemplateContent, args.VarsContent)
	if err != nil {
		s.toolErrors.WithLabelValues("render").Inc()
		return fmt.Sprintf("Error: %v", err)
	}

	if !args.ApplyConfig {
		return fmt.Sprintf("Template rendered successfully!\n\nRendered Configuration:\n%s\n\nTo apply this configuration, set apply_config=true and provide router_name or router_names.", rendered)
	}

	routers := args.RouterNames
	if args.RouterName != "" && len(routers) == 0 {
		routers = []string{args.RouterName}
	}
	if len(routers) == 0 {
		return "Error: router_name or router_names must be provided when apply_config=true"
	}

	results := make([]string, len(routers))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range routers {
		g.Go(func() error {
			out := s.applyConfig(gctx, name, rendered, "set", commentOrDefault(args.CommitComment), args.DryRun, s.resolveTimeout(0))
			results[i] = fmt.Sprintf("%s: %s", name, out)
			return nil
		})
	}
	_ = g.Wait()

	verb := "application"
	if args.DryRun {
		verb = "preview"
	}
	return fmt.Sprintf("Configuration %s complete!\n\nRouters: %s\n\nRendered Configuration:\n%s\n\nResults:\n%s",
		verb, strings.Join(routers, ", "), rendered, strings.Join(results, "\n"))
}

// guard is the final catch boundary of every handler: a panic becomes a
// reported failure tied to the request instead of terminating the process.
func (s *Server) guard(tool string, fn func() string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("%s: recovered panic: %v", tool, r)
			s.toolErrors.WithLabelValues(tool).Inc()
			out = fmt.Sprintf("An internal error occurred: %v", r)
		}
	}()
	return fn()
}

// resolveTimeout picks the command timeout: argument, then JUNOS_TIMEOUT,
// then the configured default.
func (s *Server) resolveTimeout(arg int) time.Duration {
	if arg > 0 {
		return time.Duration(arg) * time.Second
	}
	if env := os.Getenv("JUNOS_TIMEOUT"); env != "" {
		v, err := strconv.Atoi(env)
		if err != nil {
			log.Warnf("invalid JUNOS_TIMEOUT value %q, using default timeout", env)
		} else if v > 0 {
			return time.Duration(v) * time.Second
		}
	}
	return s.cfg.DefaultTimeout
}

func commentOrDefault(comment string) string {
	if comment == "" {
		return "Configuration loaded via MCP"
	}
	return comment
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
