package checker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/rpc"
	"os/exec"

	"github.com/hashicorp/go-hclog"
	goplugin "github.com/hashicorp/go-plugin"

	"github.com/mykim19/debug-dashboard-core/pkg/config"
)

// Checker plugins are standalone executables served over hashicorp/go-plugin's
// net/rpc protocol. A plugin binary calls ServePlugin(impl) from its main();
// the host discovers binaries in configured plugin directories and dispenses
// each one as a Checker.
//
// Reports and configuration cross the process boundary as JSON so the wire
// format stays independent of gob type registration.

// Handshake guards against the host executing a binary that is not a checker
// plugin.
var Handshake = goplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "DEBUGDASH_PLUGIN",
	MagicCookieValue: "checker",
}

// ServePlugin serves a checker implementation from a plugin binary's main().
// It never returns.
func ServePlugin(impl Checker) {
	goplugin.Serve(&goplugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]goplugin.Plugin{
			"checker": &rpcPlugin{impl: impl},
		},
	})
}

type rpcPlugin struct{ impl Checker }

func (p *rpcPlugin) Server(*goplugin.MuxBroker) (any, error) {
	return &rpcServer{impl: p.impl}, nil
}

func (p *rpcPlugin) Client(_ *goplugin.MuxBroker, c *rpc.Client) (any, error) {
	return &rpcChecker{client: c}, nil
}

// --- wire types ---

// DescribeReply carries the plugin's static identity.
type DescribeReply struct {
	Meta      Meta
	DependsOn []string
}

// ConfigArgs carries the workspace config as JSON.
type ConfigArgs struct {
	ConfigJSON []byte
}

// RunArgs is the request payload for Plugin.Run.
type RunArgs struct {
	ProjectRoot string
	ConfigJSON  []byte
}

// RunReply is the response payload for Plugin.Run.
type RunReply struct {
	ReportJSON []byte
	Err        string
}

// FixArgs is the request payload for Plugin.Fix.
type FixArgs struct {
	CheckName   string
	ProjectRoot string
	ConfigJSON  []byte
}

// --- plugin-side server ---

type rpcServer struct{ impl Checker }

func (s *rpcServer) Describe(_ struct{}, reply *DescribeReply) error {
	reply.Meta = s.impl.Meta()
	reply.DependsOn = s.impl.DependsOn()
	return nil
}

func (s *rpcServer) IsApplicable(args ConfigArgs, reply *bool) error {
	cfg, err := decodeConfig(args.ConfigJSON)
	if err != nil {
		return err
	}
	*reply = s.impl.IsApplicable(cfg)
	return nil
}

func (s *rpcServer) Run(args RunArgs, reply *RunReply) error {
	cfg, err := decodeConfig(args.ConfigJSON)
	if err != nil {
		return err
	}
	report, err := s.impl.Run(context.Background(), args.ProjectRoot, cfg)
	if err != nil {
		reply.Err = err.Error()
		return nil
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	reply.ReportJSON = data
	return nil
}

func (s *rpcServer) Fix(args FixArgs, reply *FixResult) error {
	cfg, err := decodeConfig(args.ConfigJSON)
	if err != nil {
		return err
	}
	*reply = s.impl.Fix(context.Background(), args.CheckName, args.ProjectRoot, cfg)
	return nil
}

// --- host-side client ---

// rpcChecker adapts a dispensed plugin connection to the Checker interface.
// net/rpc carries no context; Run honors ctx only for early cancellation
// before dispatch.
type rpcChecker struct {
	client    *rpc.Client
	meta      Meta
	dependsOn []string
}

func (c *rpcChecker) describe() error {
	var reply DescribeReply
	if err := c.client.Call("Plugin.Describe", struct{}{}, &reply); err != nil {
		return fmt.Errorf("describe: %w", err)
	}
	if reply.Meta.Name == "" {
		return errors.New("plugin reported an empty checker name")
	}
	c.meta = reply.Meta
	c.dependsOn = reply.DependsOn
	return nil
}

func (c *rpcChecker) Name() string        { return c.meta.Name }
func (c *rpcChecker) Meta() Meta          { return c.meta }
func (c *rpcChecker) DependsOn() []string { return c.dependsOn }

func (c *rpcChecker) IsApplicable(cfg *config.Config) bool {
	data, err := encodeConfig(cfg)
	if err != nil {
		return false
	}
	var reply bool
	if err := c.client.Call("Plugin.IsApplicable", ConfigArgs{ConfigJSON: data}, &reply); err != nil {
		return false
	}
	return reply
}

func (c *rpcChecker) Run(ctx context.Context, projectRoot string, cfg *config.Config) (*PhaseReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := encodeConfig(cfg)
	if err != nil {
		return nil, err
	}
	var reply RunReply
	if err := c.client.Call("Plugin.Run", RunArgs{ProjectRoot: projectRoot, ConfigJSON: data}, &reply); err != nil {
		return nil, fmt.Errorf("plugin run: %w", err)
	}
	if reply.Err != "" {
		return nil, errors.New(reply.Err)
	}
	report := &PhaseReport{}
	if err := json.Unmarshal(reply.ReportJSON, report); err != nil {
		return nil, fmt.Errorf("decoding plugin report: %w", err)
	}
	return report, nil
}

func (c *rpcChecker) Fix(_ context.Context, checkName, projectRoot string, cfg *config.Config) FixResult {
	data, err := encodeConfig(cfg)
	if err != nil {
		return FixResult{Message: err.Error()}
	}
	var reply FixResult
	if err := c.client.Call("Plugin.Fix", FixArgs{CheckName: checkName, ProjectRoot: projectRoot, ConfigJSON: data}, &reply); err != nil {
		return FixResult{Message: err.Error()}
	}
	return reply
}

func encodeConfig(cfg *config.Config) ([]byte, error) {
	if cfg == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(cfg)
}

func decodeConfig(data []byte) (*config.Config, error) {
	cfg := &config.Config{}
	if len(data) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

// openPluginChecker starts the plugin binary at path and dispenses its
// checker. The returned closer kills the subprocess.
func openPluginChecker(path string) (Checker, func(), error) {
	client := goplugin.NewClient(&goplugin.ClientConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]goplugin.Plugin{
			"checker": &rpcPlugin{},
		},
		Cmd: exec.Command(path),
		Logger: hclog.New(&hclog.LoggerOptions{
			Name:  "checker-plugin",
			Level: hclog.Warn,
		}),
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, nil, fmt.Errorf("starting plugin: %w", err)
	}
	raw, err := rpcClient.Dispense("checker")
	if err != nil {
		client.Kill()
		return nil, nil, fmt.Errorf("dispensing checker: %w", err)
	}
	pc, ok := raw.(*rpcChecker)
	if !ok {
		client.Kill()
		return nil, nil, fmt.Errorf("unexpected plugin type %T", raw)
	}
	if err := pc.describe(); err != nil {
		client.Kill()
		return nil, nil, err
	}
	return pc, client.Kill, nil
}
