package agent

import (
	"fmt"
	"strings"
)

// Role identifies one of the fixed agent categories. The set is closed and
// its declaration order is the registration order used for tie-breaks.
type Role int

const (
	Coordinator Role = iota
	Research
	Knowledge
	TaskCoordination
	CreativeExport
	CodeArchitecture
	SelfImprovement

	numRoles
)

var roleIDs = [numRoles]string{
	Coordinator:      "coordinator",
	Research:         "research",
	Knowledge:        "knowledge",
	TaskCoordination: "tasks",
	CreativeExport:   "creative",
	CodeArchitecture: "code",
	SelfImprovement:  "self_improvement",
}

var roleTitles = [numRoles]string{
	Coordinator:      "Coordinator",
	Research:         "Research",
	Knowledge:        "Knowledge",
	TaskCoordination: "Task Coordination",
	CreativeExport:   "Creative Export",
	CodeArchitecture: "Code Architecture",
	SelfImprovement:  "Self Improvement",
}

// aliases accepted by ParseRole in addition to the canonical ids.
var roleAliases = map[string]Role{
	"coord":       Coordinator,
	"researcher":  Research,
	"notes":       Knowledge,
	"task":        TaskCoordination,
	"scheduler":   TaskCoordination,
	"export":      CreativeExport,
	"writer":      CreativeExport,
	"coder":       CodeArchitecture,
	"architect":   CodeArchitecture,
	"self":        SelfImprovement,
	"improvement": SelfImprovement,
}

// Roles returns every role in declaration order.
func Roles() []Role {
	out := make([]Role, 0, numRoles)
	for r := Role(0); r < numRoles; r++ {
		out = append(out, r)
	}
	return out
}

// NumRoles is the size of the closed role set.
func NumRoles() int { return int(numRoles) }

// Valid reports whether r is a member of the closed role set.
func (r Role) Valid() bool {
	return r >= 0 && r < numRoles
}

// String returns the canonical role id.
func (r Role) String() string {
	if !r.Valid() {
		return fmt.Sprintf("role(%d)", int(r))
	}
	return roleIDs[r]
}

// Title returns the human-readable label used in aggregated output.
func (r Role) Title() string {
	if !r.Valid() {
		return r.String()
	}
	return roleTitles[r]
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", int(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRole resolves a role id or alias, case-insensitively.
func ParseRole(s string) (Role, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for r := Role(0); r < numRoles; r++ {
		if roleIDs[r] == key {
			return r, nil
		}
	}
	if r, ok := roleAliases[key]; ok {
		return r, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}
