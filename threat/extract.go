package threat

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"logsentry/core"
)

// extractor is one row of the extraction table. Rows run in table order.
type extractor struct {
	iocType core.IOCType
	pattern *regexp.Regexp
}

// Extraction patterns are fixed and trusted, so RE2 semantics apply
var extractors = []extractor{
	{core.IOCTypeURL, regexp.MustCompile(`(?i)\b(?:https?|ftp)://[^\s"'<>()\[\]{}]+`)},
	{core.IOCTypeIP, regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\.){3}(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\b`)},
	{core.IOCTypeEmail, regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)},
	{core.IOCTypeSHA256, regexp.MustCompile(`\b[a-fA-F0-9]{64}\b`)},
	{core.IOCTypeSHA1, regexp.MustCompile(`\b[a-fA-F0-9]{40}\b`)},
	{core.IOCTypeMD5, regexp.MustCompile(`\b[a-fA-F0-9]{32}\b`)},
	{core.IOCTypeDomain, regexp.MustCompile(`\b(?:[a-zA-Z0-9](?:[a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,24}\b`)},
	{core.IOCTypeFilePath, regexp.MustCompile(`[A-Za-z]:\\(?:[^\\\s"'<>|:*?]+\\)*[^\\\s"'<>|:*?]+|(?:^|[\s"'=(])(/(?:etc|var|usr|tmp|home|root|opt|bin|sbin|dev|proc)(?:/[^\s"'<>|;]+)+)`)},
	{core.IOCTypeUserAgent, regexp.MustCompile(`(?:Mozilla|curl|Wget|python-requests|Python-urllib|Go-http-client|sqlmap|Nikto|Nmap Scripting Engine|masscan|zgrab|libwww-perl|Java)/[\w.\-]+(?: \([^)]*\))?(?: [\w.\-]+/[\w.\-]+(?: \([^)]*\))?)*`)},
}

// fileExtensions are suffixes that make a dotted token a file name, not a domain
var fileExtensions = map[string]struct{}{
	"exe": {}, "dll": {}, "sys": {}, "ps1": {}, "psm1": {}, "bat": {}, "cmd": {}, "vbs": {},
	"sh": {}, "py": {}, "pl": {}, "rb": {}, "js": {}, "jar": {}, "msi": {}, "bin": {},
	"log": {}, "txt": {}, "csv": {}, "json": {}, "xml": {}, "yaml": {}, "yml": {}, "conf": {},
	"cfg": {}, "ini": {}, "dat": {}, "tmp": {}, "bak": {}, "dmp": {}, "php": {}, "asp": {},
	"aspx": {}, "jsp": {}, "html": {}, "htm": {}, "css": {}, "zip": {}, "rar": {}, "gz": {},
	"tar": {}, "tgz": {}, "7z": {}, "doc": {}, "docx": {}, "xls": {}, "xlsx": {}, "pdf": {},
	"png": {}, "jpg": {}, "jpeg": {}, "gif": {}, "svg": {}, "so": {}, "db": {}, "sql": {},
}

// DefaultBenignDomains are well-known domains that are never reported as indicators
var DefaultBenignDomains = []string{
	"google.com", "googleapis.com", "gstatic.com", "microsoft.com", "windows.com",
	"windowsupdate.com", "office.com", "apple.com", "icloud.com", "amazonaws.com",
	"cloudflare.com", "akamai.net", "github.com", "ubuntu.com", "debian.org",
	"mozilla.org", "localhost.localdomain",
}

// Extract returns every indicator found in text and in the string values of
// meta. Private, loopback, link-local and unspecified IPs and allow-listed
// domains are dropped before de-duplication by (type, value). The result is
// ordered by extraction table row, then by position of first occurrence.
func (s *Service) Extract(text string, meta map[string]interface{}) []core.Indicator {
	sources := []string{text}
	sources = append(sources, metaStrings(meta)...)

	seen := make(map[core.Indicator]struct{})
	var out []core.Indicator
	for _, ex := range extractors {
		for _, src := range sources {
			if src == "" {
				continue
			}
			for _, m := range ex.pattern.FindAllStringSubmatch(src, -1) {
				raw := m[0]
				if len(m) > 1 && m[len(m)-1] != "" {
					raw = m[len(m)-1]
				}
				value, ok := s.acceptIndicator(ex.iocType, raw)
				if !ok {
					continue
				}
				ind := core.Indicator{Type: ex.iocType, Value: value}
				if _, dup := seen[ind]; dup {
					continue
				}
				seen[ind] = struct{}{}
				out = append(out, ind)
			}
		}
	}
	return out
}

// acceptIndicator normalizes a raw match and applies the post-filters
func (s *Service) acceptIndicator(iocType core.IOCType, raw string) (string, bool) {
	value := strings.TrimRight(raw, ".,;:!?")
	if value == "" {
		return "", false
	}

	switch iocType {
	case core.IOCTypeIP:
		ip := net.ParseIP(value)
		if ip == nil || !isRoutable(ip) {
			return "", false
		}
	case core.IOCTypeDomain:
		value = core.NormalizeIOCValue(iocType, value)
		tld := value[strings.LastIndex(value, ".")+1:]
		if _, isFile := fileExtensions[tld]; isFile {
			return "", false
		}
		if s.isAllowListed(value) {
			return "", false
		}
	case core.IOCTypeURL:
		if u, err := url.Parse(value); err == nil && s.isAllowListed(strings.ToLower(u.Hostname())) {
			return "", false
		}
	case core.IOCTypeEmail, core.IOCTypeMD5, core.IOCTypeSHA1, core.IOCTypeSHA256:
		value = core.NormalizeIOCValue(iocType, value)
	}
	return value, true
}

// isRoutable rejects addresses that never identify an external party
func isRoutable(ip net.IP) bool {
	return !(ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified() || ip.IsMulticast())
}

// isAllowListed matches a domain and all of its subdomains
func (s *Service) isAllowListed(domain string) bool {
	if domain == "" {
		return false
	}
	for _, allowed := range s.allowList {
		if domain == allowed || strings.HasSuffix(domain, "."+allowed) {
			return true
		}
	}
	return false
}

// metaStrings flattens metadata into strings in sorted key order so
// extraction output stays deterministic
func metaStrings(meta map[string]interface{}) []string {
	if len(meta) == 0 {
		return nil
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []string
	for _, k := range keys {
		out = appendStrings(out, meta[k])
	}
	return out
}

func appendStrings(out []string, v interface{}) []string {
	switch val := v.(type) {
	case nil:
		return out
	case string:
		return append(out, val)
	case []string:
		return append(out, val...)
	case []interface{}:
		for _, item := range val {
			out = appendStrings(out, item)
		}
		return out
	case map[string]interface{}:
		return append(out, metaStrings(val)...)
	case map[string]string:
		nested := make(map[string]interface{}, len(val))
		for k, s := range val {
			nested[k] = s
		}
		return append(out, metaStrings(nested)...)
	default:
		return append(out, fmt.Sprint(val))
	}
}
