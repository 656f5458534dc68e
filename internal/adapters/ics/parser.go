package ics

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"time"
)

var ErrNotCalendar = errors.New("not an ICS calendar (no BEGIN:VCALENDAR)")

// VEvent is the all-day view of one parsed VEVENT. Start and End are YYYY-MM-DD,
// End exclusive.
type VEvent struct {
	UID     string
	Summary string
	Start   string
	End     string
	Status  string
}

// LooksLikeCalendar is the cheap sanity check applied to fetched bodies.
func LooksLikeCalendar(b []byte) bool { return bytes.Contains(b, []byte("BEGIN:VCALENDAR")) }

// Parse reads VEVENTs, unfolding continuation lines. Cancelled events and
// events without a usable date range are skipped. A missing DTEND means a
// single day.
func Parse(r io.Reader) ([]VEvent, error) {
	lines, err := unfold(r)
	if err != nil {
		return nil, err
	}
	var (
		out []VEvent
		cur map[string]string
		in  bool
	)
	for _, l := range lines {
		l = strings.TrimSpace(l)
		switch {
		case strings.EqualFold(l, "BEGIN:VEVENT"):
			in, cur = true, map[string]string{}
			continue
		case strings.EqualFold(l, "END:VEVENT"):
			if in {
				if ev, ok := toEvent(cur); ok {
					out = append(out, ev)
				}
			}
			in = false
			continue
		}
		if !in {
			continue
		}
		name, value, ok := splitProperty(l)
		if !ok {
			continue
		}
		if _, seen := cur[name]; !seen {
			cur[name] = value
		}
	}
	return out, nil
}

func unfold(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var lines []string
	for sc.Scan() {
		l := strings.TrimRight(sc.Text(), "\r")
		if (strings.HasPrefix(l, " ") || strings.HasPrefix(l, "\t")) && len(lines) > 0 {
			lines[len(lines)-1] += l[1:]
			continue
		}
		lines = append(lines, l)
	}
	return lines, sc.Err()
}

// splitProperty returns the upper-cased property name without parameters and its value.
func splitProperty(l string) (string, string, bool) {
	i := strings.IndexByte(l, ':')
	if i <= 0 {
		return "", "", false
	}
	name := l[:i]
	if j := strings.IndexByte(name, ';'); j >= 0 {
		name = name[:j]
	}
	return strings.ToUpper(name), l[i+1:], true
}

func toEvent(p map[string]string) (VEvent, bool) {
	if strings.EqualFold(strings.TrimSpace(p["STATUS"]), "CANCELLED") {
		return VEvent{}, false
	}
	start, ok := toDate(p["DTSTART"])
	if !ok {
		return VEvent{}, false
	}
	end, ok := toDate(p["DTEND"])
	if !ok {
		s, _ := time.Parse("2006-01-02", start)
		end = s.AddDate(0, 0, 1).Format("2006-01-02")
	}
	if end <= start {
		return VEvent{}, false
	}
	return VEvent{
		UID:     strings.TrimSpace(p["UID"]),
		Summary: unescape(strings.TrimSpace(p["SUMMARY"])),
		Start:   start,
		End:     end,
		Status:  strings.ToUpper(strings.TrimSpace(p["STATUS"])),
	}, true
}

// toDate takes the leading YYYYMMDD of a DATE or DATE-TIME value.
func toDate(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if len(v) < 8 {
		return "", false
	}
	t, err := time.Parse("20060102", v[:8])
	if err != nil {
		return "", false
	}
	return t.Format("2006-01-02"), true
}

var unescaper = strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";")

func unescape(s string) string { return unescaper.Replace(s) }
