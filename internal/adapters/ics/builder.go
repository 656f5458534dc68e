package ics

import (
	"bytes"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const foldWidth = 73

// Event is one all-day, end-exclusive calendar entry. Dates are YYYY-MM-DD.
type Event struct {
	UID         string
	Start       string
	End         string
	Summary     string
	Description string
	Categories  string
	Status      string // e.g. CANCELLED
	Sequence    int
}

// Calendar renders a VCALENDAR of all-day events with CRLF line endings.
type Calendar struct {
	ProdID string
	Name   string
	Stamp  time.Time
	Events []Event
}

func (c Calendar) Render() []byte {
	var b bytes.Buffer
	line := func(s string) {
		b.WriteString(Fold(s))
		b.WriteString("\r\n")
	}
	prod := c.ProdID
	if prod == "" {
		prod = "-//ChannelManager//ICS 1.0//EN"
	}
	stamp := c.Stamp.UTC().Format("20060102T150405Z")

	line("BEGIN:VCALENDAR")
	line("PRODID:" + prod)
	line("VERSION:2.0")
	line("CALSCALE:GREGORIAN")
	line("METHOD:PUBLISH")
	line("X-WR-CALNAME:" + Escape(c.Name))
	for _, e := range c.Events {
		summary := e.Summary
		if summary == "" {
			summary = "Booking"
		}
		line("BEGIN:VEVENT")
		line("UID:" + Escape(e.UID))
		line("DTSTAMP:" + stamp)
		line("DTSTART;VALUE=DATE:" + compactDate(e.Start))
		line("DTEND;VALUE=DATE:" + compactDate(e.End))
		line("SUMMARY:" + Escape(summary))
		if e.Description != "" {
			line("DESCRIPTION:" + Escape(e.Description))
		}
		if e.Categories != "" {
			line("CATEGORIES:" + Escape(e.Categories))
		}
		if e.Sequence > 0 {
			line("SEQUENCE:" + strconv.Itoa(e.Sequence))
		}
		if e.Status != "" {
			line("STATUS:" + e.Status)
		}
		line("END:VEVENT")
	}
	line("END:VCALENDAR")
	return b.Bytes()
}

// Fold splits a content line into chunks of at most 73 bytes joined by CRLF +
// space, never inside a UTF-8 sequence.
func Fold(s string) string {
	if len(s) <= foldWidth {
		return s
	}
	var b strings.Builder
	for len(s) > foldWidth {
		cut := foldWidth
		for cut > 1 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		b.WriteString(s[:cut])
		b.WriteString("\r\n ")
		s = s[cut:]
	}
	b.WriteString(s)
	return b.String()
}

var escaper = strings.NewReplacer(`\`, `\\`, "\r", "", "\n", `\n`, ",", `\,`, ";", `\;`)

func Escape(s string) string { return escaper.Replace(s) }

func compactDate(d string) string { return strings.ReplaceAll(d, "-", "") }
