package domain

import (
	"sort"
	"strings"
)

// IntegrationConfig is the typed view of integrations/<UNIT>.json. Legacy shapes are
// resolved once by ParseIntegrationConfig so no caller probes raw maps.
type IntegrationConfig struct {
	Unit        string
	Configured  bool // the document exists and is non-empty
	Connections map[string]Connection
	Export      ICSExport
	Keys        map[string]string
}

type Connection struct {
	InEnabled     bool   // connections.<p>.in.enabled === true
	ICSURL        string // connections.<p>.in.ics_url
	LegacyEnabled bool   // connections.<p>.enabled === true
	StatusText    string // connections.<p>.status when it is a string
	LastOK        string // connections.<p>.status.last_ok
	LastError     string // connections.<p>.status.last_error | last_err
}

type ICSExport struct {
	BookedKey            string
	BlockedKey           string
	IncludeExtrasDefault bool
}

var healthyStatusText = map[string]bool{"enabled": true, "active": true, "ok": true}

// Enabled reports whether the platform's inbound feed participates in the merge.
func (c Connection) Enabled() bool {
	if c.InEnabled || c.LegacyEnabled {
		return true
	}
	if healthyStatusText[c.StatusText] {
		return true
	}
	return c.LastOK != "" && c.LastError == ""
}

// EnabledPlatforms returns the sorted set of platforms whose inbound feed is enabled.
func (c IntegrationConfig) EnabledPlatforms() []string {
	out := make([]string, 0, len(c.Connections))
	for p, conn := range c.Connections {
		if conn.Enabled() {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func (c IntegrationConfig) FeedURL(platform string) string {
	return strings.TrimSpace(c.Connections[platform].ICSURL)
}

// ExportKey resolves the access key for an outward feed mode ("booked" or "blocked").
func (c IntegrationConfig) ExportKey(mode string) string {
	if mode == "booked" {
		if c.Export.BookedKey != "" {
			return c.Export.BookedKey
		}
		return c.Keys["reservations_out"]
	}
	if c.Export.BlockedKey != "" {
		return c.Export.BlockedKey
	}
	if k := c.Keys["calendar_out"]; k != "" {
		return k
	}
	return c.Keys["reservations_out"]
}

// ParseIntegrationConfig maps the decoded JSON document onto IntegrationConfig.
// Unknown or mistyped fields are ignored.
func ParseIntegrationConfig(raw map[string]any) IntegrationConfig {
	cfg := IntegrationConfig{
		Connections: map[string]Connection{},
		Keys:        map[string]string{},
	}
	cfg.Configured = len(raw) > 0
	cfg.Unit, _ = raw["unit"].(string)

	if conns, ok := raw["connections"].(map[string]any); ok {
		for p, v := range conns {
			m, ok := v.(map[string]any)
			if !ok {
				continue
			}
			var c Connection
			if in, ok := m["in"].(map[string]any); ok {
				c.InEnabled = isTrue(in["enabled"])
				c.ICSURL, _ = in["ics_url"].(string)
			}
			c.LegacyEnabled = isTrue(m["enabled"])
			switch st := m["status"].(type) {
			case string:
				c.StatusText = st
			case map[string]any:
				c.LastOK, _ = st["last_ok"].(string)
				c.LastError, _ = st["last_error"].(string)
				if c.LastError == "" {
					c.LastError, _ = st["last_err"].(string)
				}
			}
			cfg.Connections[p] = c
		}
	}

	if exp, ok := raw["export"].(map[string]any); ok {
		if ics, ok := exp["ics"].(map[string]any); ok {
			cfg.Export.BookedKey = nestedString(ics, "booked", "key")
			cfg.Export.BlockedKey = nestedString(ics, "blocked", "key")
			cfg.Export.IncludeExtrasDefault = truthy(ics["include_extras_default"])
		}
	}

	if keys, ok := raw["keys"].(map[string]any); ok {
		for k, v := range keys {
			if s, ok := v.(string); ok && s != "" {
				cfg.Keys[k] = s
			}
		}
	}
	return cfg
}

func isTrue(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != "" && t != "0" && t != "false"
	}
	return false
}

func nestedString(m map[string]any, k1, k2 string) string {
	inner, ok := m[k1].(map[string]any)
	if !ok {
		return ""
	}
	s, _ := inner[k2].(string)
	return s
}
