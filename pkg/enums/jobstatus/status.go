package jobstatus

import (
	"strings"
)

type Status struct {
	Name string
}

func (s Status) Code() string {
	return s.Name
}

func (s Status) Label() string {
	parts := strings.Split(s.Name, "-")
	for i := range parts {
		if len(parts[i]) > 0 {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, " ")
}

// Terminal reports whether no further transition may leave this status.
func (s Status) Terminal() bool {
	return s == Statuses.Completed
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.Name), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	if parsed := Parse(string(text)); parsed != nil {
		*s = *parsed
		return nil
	}
	*s = Status{}
	return nil
}

type Enum struct {
	Pending    Status
	InProgress Status
	Completed  Status
}

var Statuses = Enum{
	Pending:    Status{Name: "pending"},
	InProgress: Status{Name: "in-progress"},
	Completed:  Status{Name: "completed"},
}

var All = []Status{
	Statuses.Pending,
	Statuses.InProgress,
	Statuses.Completed,
}

// ByName returns the status for a given name, or nil if not found
func ByName(name string) *Status {
	for _, s := range All {
		if s.Name == name {
			return &s
		}
	}
	return nil
}

// Parse accepts the historical spellings found in stored job cards
// ("IN_PROGRESS", "in_progress", "In Progress", "inprogress", "done").
func Parse(value string) *Status {
	key := strings.ToLower(strings.TrimSpace(value))
	key = strings.NewReplacer("_", "-", " ", "-").Replace(key)
	switch key {
	case "inprogress", "started":
		key = Statuses.InProgress.Name
	case "done", "complete":
		key = Statuses.Completed.Name
	case "new", "open":
		key = Statuses.Pending.Name
	}
	return ByName(key)
}
