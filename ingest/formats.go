package ingest

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"logsentry/core"
)

// Format names a line-oriented input encoding
type Format string

const (
	FormatJSON   Format = "json"
	FormatSyslog Format = "syslog"
	FormatCEF    Format = "cef"
)

// ParseFormat validates a format name. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatSyslog, FormatCEF:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported input format %q (json, syslog, cef)", s)
	}
}

var (
	// <pri>Mmm dd hh:mm:ss host rest
	rfc3164Pattern = regexp.MustCompile(`^<(\d{1,3})>([A-Z][a-z]{2}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})\s+(\S+)\s+(.*)$`)
	// <pri>1 timestamp host app procid msgid structured-data msg
	rfc5424Pattern = regexp.MustCompile(`^<(\d{1,3})>1\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(-|\[.*?\])\s?(.*)$`)
	// tag[pid]: message
	syslogTagPattern = regexp.MustCompile(`^([^\s\[:]+)(?:\[(\d+)\])?:\s*(.*)$`)
	cefKeyPattern    = regexp.MustCompile(`(?:^|\s)([A-Za-z0-9_.]+)=`)
)

// syslogLevels maps severity codes 0-7 onto event levels
var syslogLevels = []string{"critical", "critical", "critical", "error", "warning", "info", "info", "debug"}

// cefKeyAliases renames CEF extension keys to the metadata keys lifted into
// event fields
var cefKeyAliases = map[string]string{
	"src":     "src_ip",
	"dst":     "dst_ip",
	"suser":   "user",
	"request": "url_path",
	"fname":   "file",
}

// NormalizeLine converts one line in the given format
func (n *Normalizer) NormalizeLine(format Format, line []byte) ([]*core.Event, error) {
	switch format {
	case FormatSyslog:
		event, err := n.ParseSyslog(string(line))
		if err != nil {
			return nil, err
		}
		return []*core.Event{event}, nil
	case FormatCEF:
		event, err := n.ParseCEF(string(line))
		if err != nil {
			return nil, err
		}
		return []*core.Event{event}, nil
	default:
		return n.Normalize(line)
	}
}

// ParseSyslog converts an RFC 3164 or RFC 5424 syslog line. The program tag
// becomes the service; hostname, facility and priority go into metadata.
func (n *Normalizer) ParseSyslog(raw string) (*core.Event, error) {
	raw = strings.TrimSpace(raw)
	entry := &LogEntry{Meta: map[string]interface{}{}}

	var pri int
	if m := rfc5424Pattern.FindStringSubmatch(raw); m != nil {
		pri, _ = strconv.Atoi(m[1])
		entry.Timestamp = nilValue(m[2])
		entry.Hostname = nilValue(m[3])
		entry.Service = nilValue(m[4])
		setIfMissing(entry.Meta, "procid", nilValue(m[5]))
		setIfMissing(entry.Meta, "msgid", nilValue(m[6]))
		if m[7] != "-" {
			entry.Meta["structured_data"] = m[7]
		}
		entry.Message = strings.TrimPrefix(m[8], "\ufeff")
	} else if m := rfc3164Pattern.FindStringSubmatch(raw); m != nil {
		pri, _ = strconv.Atoi(m[1])
		entry.Timestamp = n.parseBSDTimestamp(m[2])
		entry.Hostname = m[3]
		entry.Message = m[4]
		if tag := syslogTagPattern.FindStringSubmatch(m[4]); tag != nil {
			entry.Service = tag[1]
			setIfMissing(entry.Meta, "pid", tag[2])
			entry.Message = tag[3]
		}
	} else {
		return nil, fmt.Errorf("%w: not a syslog line", core.ErrInvalidEvent)
	}

	if pri > 191 {
		return nil, fmt.Errorf("%w: syslog priority %d out of range", core.ErrInvalidEvent, pri)
	}
	entry.Level = syslogLevels[pri%8]
	entry.Meta["facility"] = pri / 8
	entry.Meta["priority"] = pri
	entry.Source = string(FormatSyslog)
	return n.NormalizeEntry(nil, entry)
}

// parseBSDTimestamp reads "Mmm dd hh:mm:ss", which carries no year. The
// clock's year is assumed unless that lands more than a day in the future.
func (n *Normalizer) parseBSDTimestamp(s string) time.Time {
	now := n.now().UTC()
	ts, err := time.Parse("Jan 2 15:04:05", strings.Join(strings.Fields(s), " "))
	if err != nil {
		return now
	}
	ts = ts.AddDate(now.Year(), 0, 0)
	if ts.After(now.Add(24 * time.Hour)) {
		ts = ts.AddDate(-1, 0, 0)
	}
	return ts
}

func nilValue(s string) string {
	if s == "-" {
		return ""
	}
	return s
}

// ParseCEF converts an ArcSight CEF line. The device product becomes the
// service, the event name (plus any msg extension) the message.
func (n *Normalizer) ParseCEF(raw string) (*core.Event, error) {
	raw = strings.TrimSpace(raw)
	if i := strings.Index(raw, "CEF:"); i > 0 {
		// drop a syslog header in front of the CEF payload
		raw = raw[i:]
	}
	if !strings.HasPrefix(raw, "CEF:") {
		return nil, fmt.Errorf("%w: not a CEF line", core.ErrInvalidEvent)
	}
	header := splitCEFHeader(raw)
	if len(header) < 8 {
		return nil, fmt.Errorf("%w: CEF header has %d of 8 fields", core.ErrInvalidEvent, len(header))
	}

	meta := parseCEFExtension(header[7])
	meta["cef_version"] = strings.TrimPrefix(header[0], "CEF:")
	meta["device_vendor"] = header[1]
	meta["device_product"] = header[2]
	meta["device_version"] = header[3]
	meta["signature_id"] = header[4]
	meta["cef_severity"] = header[6]

	message := header[5]
	if msg, ok := meta["msg"].(string); ok && msg != "" {
		if message == "" {
			message = msg
		} else {
			message += ": " + msg
		}
	}

	entry := &LogEntry{
		Timestamp: meta["rt"],
		Level:     cefLevel(header[6]),
		Message:   message,
		Service:   header[2],
		Source:    string(FormatCEF),
		Hostname:  stringValue(meta["dvchost"]),
		Meta:      meta,
	}
	return n.NormalizeEntry(nil, entry)
}

// splitCEFHeader splits on the first seven unescaped pipes and unescapes
// "\|" and "\\" in header fields
func splitCEFHeader(raw string) []string {
	var fields []string
	var b strings.Builder
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if len(fields) == 7 {
			fields = append(fields, raw[i:])
			return fields
		}
		switch {
		case c == '\\' && i+1 < len(raw) && (raw[i+1] == '|' || raw[i+1] == '\\'):
			b.WriteByte(raw[i+1])
			i++
		case c == '|':
			fields = append(fields, b.String())
			b.Reset()
		default:
			b.WriteByte(c)
		}
	}
	if len(fields) == 7 {
		return append(fields, "")
	}
	return append(fields, b.String())
}

// parseCEFExtension reads space-separated key=value pairs. Values may
// contain spaces; a value runs until the next key.
func parseCEFExtension(ext string) map[string]interface{} {
	meta := make(map[string]interface{})
	locs := cefKeyPattern.FindAllStringSubmatchIndex(ext, -1)
	for i, loc := range locs {
		key := ext[loc[2]:loc[3]]
		end := len(ext)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		value := strings.TrimSpace(ext[loc[1]:end])
		value = strings.NewReplacer(`\=`, "=", `\\`, `\`, `\n`, "\n", `\r`, "\r").Replace(value)
		if alias, ok := cefKeyAliases[key]; ok {
			key = alias
		}
		meta[key] = value
	}
	return meta
}

// cefLevel maps CEF severity (0-10 or Low/Medium/High/Very-High) onto
// event levels
func cefLevel(s string) string {
	if code, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		switch {
		case code >= 9:
			return "critical"
		case code >= 7:
			return "error"
		case code >= 4:
			return "warning"
		default:
			return "info"
		}
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "very-high":
		return "critical"
	case "high":
		return "error"
	case "medium":
		return "warning"
	default:
		return "info"
	}
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}
