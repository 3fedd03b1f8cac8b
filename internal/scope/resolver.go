// Package scope classifies backend-native scope identifiers into a coarse
// scope class and a human-readable label. Resolution is best-effort and
// never fails: on any ambiguity it degrades to the raw scope string.
package scope

import (
	"context"
	"strings"

	"vn.io.arda/pim/internal/domain"
)

// SubscriptionNamer resolves a subscription id to its display name.
// The resource-scoped adapter implements it; a nil namer is allowed and
// falls back to the raw id.
type SubscriptionNamer interface {
	SubscriptionName(ctx context.Context, subscriptionID string) (string, error)
}

// Resolve classifies scopeID and builds its display label.
func Resolve(ctx context.Context, namer SubscriptionNamer, scopeID string) (string, domain.ScopeClass) {
	trimmed := strings.Trim(scopeID, "/")
	if trimmed == "" {
		return "/", domain.ScopeDirectory
	}

	segs := strings.Split(trimmed, "/")
	subIdx := indexFold(segs, "subscriptions")
	if subIdx < 0 || subIdx+1 >= len(segs) {
		// Directory-style scope with a non-root path, e.g. an
		// administrative unit.
		return scopeID, domain.ScopeCustom
	}
	subID := segs[subIdx+1]

	provIdx := indexFold(segs, "providers")
	if provIdx >= 0 && provIdx+3 < len(segs) {
		// .../providers/<provider>/<type>/.../<name>: label from the last
		// two path segments.
		return segs[len(segs)-2] + ": " + segs[len(segs)-1], domain.ScopeResource
	}

	rgIdx := indexFold(segs, "resourcegroups")
	if rgIdx >= 0 && rgIdx+1 < len(segs) {
		return "RG: " + segs[rgIdx+1], domain.ScopeResourceGroup
	}

	name := subID
	if namer != nil {
		if resolved, err := namer.SubscriptionName(ctx, subID); err == nil && resolved != "" {
			name = resolved
		}
	}
	return "Sub: " + name, domain.ScopeSubscription
}

func indexFold(segs []string, want string) int {
	for i, s := range segs {
		if strings.EqualFold(s, want) {
			return i
		}
	}
	return -1
}
