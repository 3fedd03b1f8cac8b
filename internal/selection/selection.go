// Package selection resolves a user-supplied selection expression against
// the role catalog.
package selection

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"vn.io.arda/pim/internal/domain"
)

// ErrNoneSelected is the terminal outcome for an expression that resolves
// to no valid roles: an unknown keyword, or an explicit index list in which
// every token was rejected. An ACTIVE/INACTIVE filter that matches nothing
// is a valid empty selection, not this error.
var ErrNoneSelected = errors.New("no valid roles selected")

var indexToken = regexp.MustCompile(`^\d+$`)

// Resolve evaluates expr against the catalog. Keywords are case-insensitive.
// The second return value lists tokens that were rejected individually
// (malformed or out of range); rejected tokens never abort the rest of the
// parse.
func Resolve(expr string, roles []domain.Role) ([]domain.Role, []string, error) {
	switch strings.ToUpper(strings.TrimSpace(expr)) {
	case "ALL":
		return append([]domain.Role(nil), roles...), nil, nil
	case "ACTIVE":
		return filter(roles, true), nil, nil
	case "INACTIVE":
		return filter(roles, false), nil, nil
	}

	selected := make([]domain.Role, 0, len(roles))
	var invalid []string
	sawIndex := false
	for _, raw := range strings.Split(expr, ",") {
		token := strings.TrimSpace(raw)
		if token == "" {
			continue
		}
		if !indexToken.MatchString(token) {
			invalid = append(invalid, fmt.Sprintf("%q is not a role number", token))
			continue
		}
		sawIndex = true
		idx, err := strconv.Atoi(token)
		if err != nil || idx < 1 || idx > len(roles) {
			invalid = append(invalid, fmt.Sprintf("%s is out of range 1..%d", token, len(roles)))
			continue
		}
		selected = append(selected, roles[idx-1])
	}

	if len(selected) == 0 {
		if !sawIndex && len(invalid) == 0 {
			invalid = append(invalid, fmt.Sprintf("%q is not a valid selection", expr))
		}
		return nil, invalid, ErrNoneSelected
	}
	return selected, invalid, nil
}

func filter(roles []domain.Role, active bool) []domain.Role {
	out := make([]domain.Role, 0, len(roles))
	for _, r := range roles {
		if r.IsActive == active {
			out = append(out, r)
		}
	}
	return out
}
