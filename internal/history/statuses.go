package history

// OpenStatus is the initial workflow status. Its entry is usually older than
// the changelog window, so the issue creation time stands in for it.
const OpenStatus = "Open"

// DefaultTrackedStatuses is the allow-list used when configuration does not override it.
var DefaultTrackedStatuses = []string{
	"Open",
	"Moved To Product",
	"Engg Review In Progress",
	"PST Review In Progress",
	"Moved To Engg",
	"Needs More Info",
}

// StatusSet is an ordered allow-list of tracked statuses. Matching is exact:
// a renamed or unknown status is simply untracked.
type StatusSet struct {
	names []string
	index map[string]struct{}
}

// NewStatusSet builds a set from names, dropping blanks and duplicates.
func NewStatusSet(names ...string) StatusSet {
	s := StatusSet{index: make(map[string]struct{}, len(names))}
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := s.index[n]; ok {
			continue
		}
		s.index[n] = struct{}{}
		s.names = append(s.names, n)
	}
	return s
}

// Contains reports whether status is tracked.
func (s StatusSet) Contains(status string) bool {
	_, ok := s.index[status]
	return ok
}

// Names returns the tracked statuses in configuration order.
func (s StatusSet) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Len returns the number of tracked statuses.
func (s StatusSet) Len() int {
	return len(s.names)
}
