// Package guard enforces the optional multi-tenant access policy and
// records every decision to an audit sink. With no allowlist configured the
// guard is disabled and every tenant passes.
package guard

import (
	"context"
	"strings"
	"sync"
	"time"
)

type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

type Result struct {
	Decision Decision
	Reason   string
}

func (r Result) Allowed() bool { return r.Decision == DecisionAllow }

type AuditEvent struct {
	At       time.Time `json:"at"`
	TenantID string    `json:"tenant_id"`
	UserID   string    `json:"user_id,omitempty"`
	Channel  string    `json:"channel,omitempty"`
	Decision Decision  `json:"decision"`
	Reason   string    `json:"reason,omitempty"`
}

type AuditSink interface {
	Emit(ctx context.Context, e AuditEvent) error
	Close() error
}

type Meta struct {
	UserID  string
	Channel string
}

type Guard struct {
	cfg   Config
	audit AuditSink

	mu      sync.RWMutex
	allowed map[string]bool
}

func New(cfg Config, audit AuditSink) *Guard {
	allowed := make(map[string]bool, len(cfg.AllowedTenants))
	for _, t := range cfg.AllowedTenants {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			allowed[t] = true
		}
	}
	return &Guard{cfg: cfg, audit: audit, allowed: allowed}
}

// Enabled reports whether the allowlist is active. A nil guard or an empty
// allowlist means no restriction.
func (g *Guard) Enabled() bool {
	if g == nil {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.allowed) > 0
}

// EvaluateTenant decides whether tenantID may use the bot. Activities
// without a tenant (non-org channels) pass: the gate restricts
// organizations, it does not require one.
func (g *Guard) EvaluateTenant(ctx context.Context, meta Meta, tenantID string) Result {
	tenantID = strings.TrimSpace(tenantID)
	if !g.Enabled() || tenantID == "" {
		return Result{Decision: DecisionAllow, Reason: "guard disabled or no tenant"}
	}

	g.mu.RLock()
	ok := g.allowed[strings.ToLower(tenantID)]
	g.mu.RUnlock()

	res := Result{Decision: DecisionAllow, Reason: "tenant allowlisted"}
	if !ok {
		res = Result{Decision: DecisionDeny, Reason: "tenant not in allowlist"}
	}
	g.emit(ctx, meta, tenantID, res)
	return res
}

func (g *Guard) emit(ctx context.Context, meta Meta, tenantID string, res Result) {
	if g == nil || g.audit == nil {
		return
	}
	_ = g.audit.Emit(ctx, AuditEvent{
		At:       time.Now().UTC(),
		TenantID: tenantID,
		UserID:   meta.UserID,
		Channel:  meta.Channel,
		Decision: res.Decision,
		Reason:   res.Reason,
	})
}

func (g *Guard) Close() error {
	if g == nil || g.audit == nil {
		return nil
	}
	return g.audit.Close()
}
