package checkers

import (
	"context"
	"fmt"

	"github.com/wardenhq/warden/pkg/action"
)

// Checkers converts the registry into the ordered checker pipeline the gate
// runs. Collaborators that never initialized surface as unavailable results,
// which the gate maps to default-deny for non-read tiers.
func (r *Registry) Checkers() []Checker {
	out := []Checker{
		&workspaceChecker{ws: r.Workspace},
		&browserChecker{br: r.Browser},
		&injectionChecker{fw: r.Firewall},
	}
	return append(out, r.Extra...)
}

// pathArgKeys are the argument names collaborators treat as filesystem paths.
var pathArgKeys = []string{"path", "file_path", "directory", "cwd"}

type workspaceChecker struct {
	ws Workspace
}

func (c *workspaceChecker) Name() string { return "workspace" }

func (c *workspaceChecker) Check(_ context.Context, act *action.Action) Result {
	paths := stringArgs(act.Args, pathArgKeys)
	if len(paths) == 0 {
		return allow()
	}
	if !Available(c.ws) {
		return unavailable(c.Name())
	}
	for _, p := range paths {
		if ok, reason := c.ws.Check(p, act.Tool); !ok {
			return deny(fmt.Sprintf("workspace: %s", reason))
		}
	}
	return allow()
}

type browserChecker struct {
	br Browser
}

func (c *browserChecker) Name() string { return "browser" }

func (c *browserChecker) Check(_ context.Context, act *action.Action) Result {
	urls := stringArgs(act.Args, []string{"url"})
	if len(urls) == 0 {
		return allow()
	}
	if !Available(c.br) {
		return unavailable(c.Name())
	}
	for _, u := range urls {
		if ok, reason := c.br.Check(u, act.Tool); !ok {
			return deny(fmt.Sprintf("browser: %s", reason))
		}
	}
	return allow()
}

type injectionChecker struct {
	fw Firewall
}

func (c *injectionChecker) Name() string { return "firewall" }

func (c *injectionChecker) Check(_ context.Context, act *action.Action) Result {
	if !Available(c.fw) {
		// The firewall only inspects free-text arguments; with none present
		// there is nothing to miss.
		if len(textArgs(act.Args)) == 0 {
			return allow()
		}
		return unavailable(c.Name())
	}
	for key, text := range textArgs(act.Args) {
		if signals := c.fw.DetectInjection(text); len(signals) > 0 {
			return deny(fmt.Sprintf("firewall: injection signals in %q (%s)", key, signals[0].Kind))
		}
	}
	return allow()
}

func stringArgs(args map[string]interface{}, keys []string) []string {
	var out []string
	for _, k := range keys {
		if s, ok := args[k].(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func textArgs(args map[string]interface{}) map[string]string {
	out := make(map[string]string)
	for k, v := range args {
		if s, ok := v.(string); ok && s != "" {
			out[k] = s
		}
	}
	return out
}
