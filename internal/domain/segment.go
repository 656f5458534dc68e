package domain

type Status string

const (
	StatusReserved Status = "reserved"
	StatusBlocked  Status = "blocked"
)

type Lock string

const (
	LockHard Lock = "hard"
	LockSoft Lock = "soft"
)

// Segment is one half-open [Start, End) interval of occupancy for a unit.
// Dates are YYYY-MM-DD so string comparison is chronological.
type Segment struct {
	Start    string         `json:"start"`
	End      string         `json:"end"`
	Status   Status         `json:"status"`
	Lock     Lock           `json:"lock,omitempty"`
	Source   string         `json:"source,omitempty"`
	ID       string         `json:"id,omitempty"`
	Platform string         `json:"platform,omitempty"`
	Export   *bool          `json:"export,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Note     string         `json:"note,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// RawRecord is an interval record in any legacy shape, as read from disk.
type RawRecord = map[string]any

func (s Segment) IsHard() bool { return s.Lock == LockHard }

func (s Segment) Overlaps(o Segment) bool {
	return Overlaps(s.Start, s.End, o.Start, o.End)
}

// Overlaps is the half-open interval test shared by merge, range checks and conflict-care.
func Overlaps(aStart, aEnd, bStart, bEnd string) bool {
	return aStart < bEnd && bStart < aEnd
}

// MetaString returns meta[key] when it is a non-empty string.
func (s Segment) MetaString(key string) string {
	if s.Meta == nil {
		return ""
	}
	v, _ := s.Meta[key].(string)
	return v
}

func BoolPtr(b bool) *bool { return &b }
