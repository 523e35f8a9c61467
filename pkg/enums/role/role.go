package role

import "strings"

type Role struct {
	Name string
	rank int
}

func (r Role) Code() string {
	return r.Name
}

func (r Role) Label() string {
	// Capitalize first letter
	if len(r.Name) == 0 {
		return ""
	}
	return strings.ToUpper(r.Name[:1]) + r.Name[1:]
}

// AtLeast reports whether r ranks at or above other. Unknown roles rank lowest.
func (r Role) AtLeast(other Role) bool {
	return r.rank >= other.rank
}

type Enum struct {
	Receptionist Role
	Technician   Role
	Supervisor   Role
	Admin        Role
}

var Roles = Enum{
	Receptionist: Role{Name: "receptionist", rank: 1},
	Technician:   Role{Name: "technician", rank: 2},
	Supervisor:   Role{Name: "supervisor", rank: 3},
	Admin:        Role{Name: "admin", rank: 4},
}

var All = []Role{
	Roles.Receptionist,
	Roles.Technician,
	Roles.Supervisor,
	Roles.Admin,
}

// ByName returns the role for a given name, or nil if not found
func ByName(name string) *Role {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, r := range All {
		if r.Name == name {
			return &r
		}
	}
	return nil
}
