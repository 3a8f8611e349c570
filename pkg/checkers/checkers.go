// Package checkers defines the narrow contracts of the gate's external
// collaborators — workspace scoping, secret scanning, browser policy, the
// content firewall — plus argument-validation checkers built on JSON Schema
// and CEL. Collaborators return advisory results only; the gate alone issues
// the final decision.
package checkers

import (
	"context"
	"errors"

	"github.com/wardenhq/warden/pkg/action"
)

// ErrUnavailable marks a collaborator that failed to initialize. The gate
// treats it as default-deny for non-read tiers.
var ErrUnavailable = errors.New("checker unavailable")

// Result is an advisory verdict from one checker.
type Result struct {
	Allowed     bool
	Reason      string
	Unavailable bool
}

func allow() Result             { return Result{Allowed: true} }
func deny(reason string) Result { return Result{Reason: reason} }

func unavailable(name string) Result {
	return Result{Reason: name + ": " + ErrUnavailable.Error(), Unavailable: true}
}

// Checker is the composable gate-facing shape: it inspects a classified
// action and returns an advisory result. Checkers compose "first DENY wins".
type Checker interface {
	Name() string
	Check(ctx context.Context, act *action.Action) Result
}

// Workspace scopes filesystem paths.
type Workspace interface {
	Check(path, tool string) (bool, string)
}

// Secrets scans arguments for credential material and produces a redacted
// copy safe for audit previews.
type Secrets interface {
	Scan(args map[string]interface{}) (bool, []string, map[string]interface{})
}

// Browser gates navigation targets.
type Browser interface {
	Check(url, act string) (bool, string)
}

// Firewall inspects untrusted content for injected instructions.
type Firewall interface {
	DetectInjection(text string) []Signal
	ProcessUntrusted(content, domain string) string
}

// Signal is one injection finding.
type Signal struct {
	Kind    string `json:"kind"`
	Snippet string `json:"snippet"`
}

// Registry is the capability registry resolved once at process start.
// Every slot is always non-nil: a collaborator that failed to initialize is
// represented by its documented unavailable variant, never a silent no-op.
type Registry struct {
	Workspace Workspace
	Secrets   Secrets
	Browser   Browser
	Firewall  Firewall

	// extra argument checkers run after the collaborators
	Extra []Checker
}

// NewRegistry returns a registry with every collaborator unavailable.
// Callers replace the slots they can actually construct.
func NewRegistry() *Registry {
	return &Registry{
		Workspace: unavailableWorkspace{},
		Secrets:   unavailableSecrets{},
		Browser:   unavailableBrowser{},
		Firewall:  unavailableFirewall{},
	}
}

type unavailableWorkspace struct{}

func (unavailableWorkspace) Check(string, string) (bool, string) {
	return false, ErrUnavailable.Error()
}

type unavailableSecrets struct{}

func (unavailableSecrets) Scan(map[string]interface{}) (bool, []string, map[string]interface{}) {
	return false, nil, nil
}

type unavailableBrowser struct{}

func (unavailableBrowser) Check(string, string) (bool, string) {
	return false, ErrUnavailable.Error()
}

type unavailableFirewall struct{}

func (unavailableFirewall) DetectInjection(string) []Signal { return nil }
func (unavailableFirewall) ProcessUntrusted(content, _ string) string {
	return content
}

// Available reports whether a collaborator slot holds a live implementation.
func Available(v interface{}) bool {
	switch v.(type) {
	case unavailableWorkspace, unavailableSecrets, unavailableBrowser, unavailableFirewall, nil:
		return false
	}
	return true
}
