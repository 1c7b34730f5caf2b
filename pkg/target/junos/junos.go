package junos

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	scraplinetconf "github.com/scrapli/scrapligo/driver/netconf"
	"github.com/scrapli/scrapligo/driver/options"
	"github.com/scrapli/scrapligo/util"
	log "github.com/sirupsen/logrus"

	"github.com/jmcp-dev/jmcp/pkg/device"
	"github.com/jmcp-dev/jmcp/pkg/target"
)

const candidate = "candidate"

// Target is a NETCONF session to a Junos device driven by scrapligo.
type Target struct {
	name   string
	driver *scraplinetconf.Driver
}

// Factory opens Junos NETCONF sessions from device records.
type Factory struct{}

func NewFactory() *Factory { return &Factory{} }

func (f *Factory) Open(_ context.Context, name string, rec *device.Record, timeout time.Duration) (target.Driver, error) {
	opts := []util.Option{
		options.WithAuthNoStrictKey(),
		options.WithNetconfForceSelfClosingTags(),
		options.WithTransportType("standard"),
		options.WithPort(rec.Port),
		options.WithAuthUsername(rec.Username),
		options.WithTimeoutOps(timeout),
	}

	switch {
	case rec.Auth != nil && rec.Auth.Type == device.AuthTypeSSHKey:
		opts = append(opts, options.WithAuthPrivateKey(rec.Auth.PrivateKeyPath, ""))
	case rec.Auth != nil && rec.Auth.Type == device.AuthTypePassword:
		opts = append(opts, options.WithAuthPassword(rec.Auth.Password))
	default:
		// legacy top-level password
		opts = append(opts, options.WithAuthPassword(rec.Password))
	}
	if rec.SSHConfig != "" {
		opts = append(opts, options.WithSSHConfigFile(rec.SSHConfig))
	}

	d, err := scraplinetconf.NewDriver(rec.IP, opts...)
	if err != nil {
		return nil, &target.ConnError{Device: name, Err: err}
	}
	if err := d.Open(); err != nil {
		return nil, &target.ConnError{Device: name, Err: err}
	}
	return &Target{name: name, driver: d}, nil
}

func (t *Target) Close() error {
	if t == nil || t.driver == nil {
		return nil
	}
	return t.driver.Close()
}

// rpc sends a bare RPC with the given payload and returns the reply document.
func (t *Target) rpc(payload string) (*etree.Document, error) {
	resp, err := t.driver.RPC(withFilter(payload))
	if err != nil {
		return nil, err
	}
	if resp.Failed != nil {
		return nil, resp.Failed
	}
	x := etree.NewDocument()
	if err := x.ReadFromString(resp.Result); err != nil {
		return nil, err
	}
	return x, nil
}

func (t *Target) RunCommand(_ context.Context, cmd string) (string, error) {
	log.Debugf("%s: running command %q", t.name, cmd)
	doc, err := t.rpc(fmt.Sprintf("<command format=\"text\">%s</command>", cmd))
	if err != nil {
		return "", err
	}
	return extractText(doc, "//output"), nil
}

func (t *Target) GetConfig(_ context.Context) (string, error) {
	doc, err := t.rpc(`<get-configuration format="text" inherit="inherit"/>`)
	if err != nil {
		return "", err
	}
	return extractText(doc, "//configuration-output", "//configuration-text"), nil
}

func (t *Target) CompareRollback(_ context.Context, n int) (string, error) {
	doc, err := t.rpc(fmt.Sprintf(`<get-configuration compare="rollback" rollback="%d" format="text"/>`, n))
	if err != nil {
		return "", err
	}
	return extractText(doc, "//configuration-output", "//configuration-information"), nil
}

// Facts queries software information and flattens it into a JSON document.
func (t *Target) Facts(_ context.Context) (string, error) {
	doc, err := t.rpc("<get-software-information/>")
	if err != nil {
		return "", err
	}
	facts := map[string]string{
		"hostname": extractText(doc, "//host-name"),
		"model":    extractText(doc, "//product-model"),
		"version":  extractText(doc, "//junos-version"),
	}
	if facts["version"] == "" {
		// older releases report the version per package
		facts["version"] = extractText(doc, "//package-information/comment")
	}
	b, err := json.MarshalIndent(facts, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (t *Target) Lock(_ context.Context) error {
	resp, err := t.driver.Lock(candidate)
	if err != nil {
		return err
	}
	if resp.Failed != nil {
		return resp.Failed
	}
	return nil
}

func (t *Target) Unlock(_ context.Context) error {
	resp, err := t.driver.Unlock(candidate)
	if err != nil {
		return err
	}
	if resp.Failed != nil {
		return resp.Failed
	}
	return nil
}

func (t *Target) LoadConfig(_ context.Context, payload string, format target.ConfigFormat) (err error) {
	var rpc string
	rpc, err = buildLoadRPC(payload, format)
	if err != nil {
		return err
	}
	_, err = t.rpc(rpc)
	return err
}

func (t *Target) DiffCandidate(_ context.Context) (string, error) {
	doc, err := t.rpc(`<get-configuration compare="rollback" rollback="0" format="text"/>`)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(extractText(doc, "//configuration-output", "//configuration-information")), nil
}

func (t *Target) Commit(_ context.Context, comment string) error {
	if comment == "" {
		resp, err := t.driver.Commit()
		if err != nil {
			return err
		}
		if resp.Failed != nil {
			return resp.Failed
		}
		return nil
	}
	x := etree.NewDocument()
	commit := x.CreateElement("commit-configuration")
	commit.CreateElement("log").SetText(comment)
	payload, err := x.WriteToString()
	if err != nil {
		return err
	}
	_, err = t.rpc(payload)
	return err
}

func (t *Target) Rollback(_ context.Context) error {
	resp, err := t.driver.Discard()
	if err != nil {
		return err
	}
	if resp.Failed != nil {
		return resp.Failed
	}
	return nil
}

// buildLoadRPC wraps the payload into the load-configuration RPC for the
// requested format.
func buildLoadRPC(payload string, format target.ConfigFormat) (string, error) {
	x := etree.NewDocument()
	load := x.CreateElement("load-configuration")
	switch format {
	case target.FormatSet:
		load.CreateAttr("action", "set")
		load.CreateAttr("format", "text")
		load.CreateElement("configuration-set").SetText(payload)
	case target.FormatText:
		load.CreateAttr("action", "merge")
		load.CreateAttr("format", "text")
		load.CreateElement("configuration-text").SetText(payload)
	case target.FormatXML:
		load.CreateAttr("action", "merge")
		load.CreateAttr("format", "xml")
		inner := etree.NewDocument()
		if err := inner.ReadFromString(payload); err != nil {
			return "", fmt.Errorf("payload is not valid XML: %w", err)
		}
		root := inner.Root()
		if root == nil {
			return "", fmt.Errorf("payload is not valid XML: empty document")
		}
		if root.Tag == "configuration" {
			load.AddChild(root.Copy())
		} else {
			cfg := load.CreateElement("configuration")
			cfg.AddChild(root.Copy())
		}
	default:
		return "", fmt.Errorf("unsupported config format %q", format)
	}
	return x.WriteToString()
}

// extractText returns the text of the first element matching any of the
// given xpaths, falling back to the raw document text.
func extractText(doc *etree.Document, xpaths ...string) string {
	for _, xp := range xpaths {
		if e := doc.FindElement(xp); e != nil {
			return e.Text()
		}
	}
	if r := doc.Root(); r != nil {
		return r.Text()
	}
	return ""
}

// withFilter populates the Filter field of the scrapligo operation options,
// which carries the payload of bare RPCs.
func withFilter(filter string) util.Option {
	return func(x interface{}) error {
		oo, ok := x.(*scraplinetconf.OperationOptions)
		if !ok {
			return util.ErrIgnoredOption
		}
		oo.Filter = filter
		return nil
	}
}
