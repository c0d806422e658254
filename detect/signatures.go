package detect

import (
	"fmt"
	"time"

	"logsentry/core"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultSignatures returns the built-in signature table. Order is significant:
// findings are emitted in this order.
func DefaultSignatures() []core.Signature {
	return []core.Signature{
		{
			Type:        "sql_injection",
			Pattern:     `(?i)(\bunion\b[\s\S]{0,40}\bselect\b|'\s*or\s*'?\d+'?\s*=\s*'?\d+|'\s*or\s+'[^']*'\s*=\s*'|;\s*drop\s+table\b|\bselect\b[\s\S]{0,100}\bfrom\b[\s\S]{0,100}\bwhere\b[\s\S]{0,40}(=|like)\s*'|--\s*$|/\*[\s\S]*?\*/\s*(or|and)\b|\bsleep\s*\(\s*\d+\s*\)|\bbenchmark\s*\()`,
			Severity:    core.SeverityHigh,
			Description: "SQL injection attempt",
		},
		{
			Type:        "xss",
			Pattern:     `(?i)(<script[^>]*>|javascript:|\bon(error|load|mouseover|focus)\s*=|<iframe[^>]*>|document\.cookie|alert\s*\()`,
			Severity:    core.SeverityHigh,
			Description: "Cross-site scripting payload",
		},
		{
			Type:        "path_traversal",
			Pattern:     `(?i)(\.\./|\.\.\\|%2e%2e(%2f|%5c|/)|/etc/passwd|/etc/shadow|c:\\windows\\system32)`,
			Severity:    core.SeverityHigh,
			Description: "Directory traversal attempt",
		},
		{
			Type:        "command_injection",
			Pattern:     `(?i)([;&|]\s*(cat|ls|id|whoami|uname|wget|curl|nc|bash|sh)\b|\$\([^)]*\)|` + "`" + `[^` + "`" + `]+` + "`" + `|\b(nc|ncat|netcat)\s+-e\b|/bin/(ba)?sh\b)`,
			Severity:    core.SeverityCritical,
			Description: "OS command injection attempt",
		},
		{
			Type:        "brute_force",
			Pattern:     `(?i)(failed password|authentication failure|invalid user|failed login|login failed|too many (failed )?(login )?attempts|account locked|logon failure|event ?id[:= ]*4625)`,
			Severity:    core.SeverityMedium,
			Description: "Failed authentication, possible brute force",
		},
		{
			Type:        "port_scan",
			Pattern:     `(?i)(port ?scan|nmap|masscan|syn scan|scanning ports|connection attempts? to (multiple|\d+) ports)`,
			Severity:    core.SeverityMedium,
			Description: "Port scanning activity",
		},
		{
			Type:        "malware",
			Pattern:     `(?i)(malware|trojan|ransomware|backdoor|rootkit|keylogger|botnet|mimikatz|cobalt ?strike|meterpreter|c2 (server|beacon))`,
			Severity:    core.SeverityCritical,
			Description: "Malware indicator",
		},
		{
			Type:        "privilege_escalation",
			Pattern:     `(?i)(sudo:.*(incorrect password|not in the sudoers)|privilege escalation|setuid|chmod\s+[0-7]*[4-7][0-7]{3}\s|added to (the )?(administrators|sudoers|wheel)|runas\s+/user:administrator)`,
			Severity:    core.SeverityHigh,
			Description: "Privilege escalation attempt",
		},
		{
			Type:        "data_exfiltration",
			Pattern:     `(?i)(exfiltrat|large (outbound|upload)|data transfer to external|unusual outbound|\bscp\b.+@|rclone\s+(copy|sync)|base64\s+-w0)`,
			Severity:    core.SeverityHigh,
			Description: "Possible data exfiltration",
		},
		{
			Type:        "suspicious_powershell",
			Pattern:     `(?i)(powershell(\.exe)?\s+.*(-enc(odedcommand)?\s|-nop\b|-w(indowstyle)?\s+hidden|iex\s*\(|invoke-expression|downloadstring|invoke-webrequest))`,
			Severity:    core.SeverityHigh,
			Description: "Suspicious PowerShell execution",
		},
		{
			Type:        "credential_dumping",
			Pattern:     `(?i)(lsass(\.exe)?.*(dump|procdump|minidump)|sekurlsa::|hashdump|ntds\.dit|reg\s+save\s+hklm\\(sam|security))`,
			Severity:    core.SeverityCritical,
			Description: "Credential dumping",
		},
		{
			Type:        "ransomware_activity",
			Pattern:     `(?i)(your files (have been|are) encrypted|readme_to_decrypt|vssadmin\s+delete\s+shadows|wbadmin\s+delete\s+catalog|\.locked\b|bcdedit\s+/set.*recoveryenabled\s+no)`,
			Severity:    core.SeverityCritical,
			Description: "Ransomware behavior",
		},
	}
}

type compiledSignature struct {
	core.Signature
	re *SafeRegex
}

// SignatureMatcher classifies a single event against a fixed signature table.
// It holds no mutable state after construction and is safe for concurrent use.
type SignatureMatcher struct {
	signatures []compiledSignature
	logger     *zap.SugaredLogger
	now        func() time.Time
}

// SignatureMatcherConfig holds configuration for the matcher
type SignatureMatcherConfig struct {
	RegexTimeout time.Duration
	Logger       *zap.SugaredLogger
}

// NewSignatureMatcher compiles every signature. A malformed pattern or an
// invalid severity fails construction.
func NewSignatureMatcher(signatures []core.Signature, config *SignatureMatcherConfig) (*SignatureMatcher, error) {
	if config == nil {
		config = &SignatureMatcherConfig{}
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop().Sugar()
	}

	m := &SignatureMatcher{
		signatures: make([]compiledSignature, 0, len(signatures)),
		logger:     config.Logger,
		now:        time.Now,
	}
	seen := make(map[string]bool, len(signatures))
	for i, sig := range signatures {
		if sig.Type == "" {
			return nil, core.NewValidationError("signature", fmt.Sprintf("signature %d has no type", i))
		}
		if seen[sig.Type] {
			return nil, core.NewValidationError("signature", fmt.Sprintf("duplicate signature type %q", sig.Type))
		}
		if !sig.Severity.IsValid() {
			return nil, core.NewValidationError("signature", fmt.Sprintf("signature %q has invalid severity %q", sig.Type, sig.Severity))
		}
		re, err := CompileSafeRegex(sig.Pattern, config.RegexTimeout, "signature")
		if err != nil {
			return nil, core.NewValidationError("signature", fmt.Sprintf("signature %q: %v", sig.Type, err))
		}
		seen[sig.Type] = true
		m.signatures = append(m.signatures, compiledSignature{Signature: sig, re: re})
	}

	config.Logger.Debugw("Signature matcher initialized", "signatures", len(m.signatures))
	return m, nil
}

// Signatures returns the loaded signature table in match order
func (m *SignatureMatcher) Signatures() []core.Signature {
	out := make([]core.Signature, len(m.signatures))
	for i, s := range m.signatures {
		out[i] = s.Signature
	}
	return out
}

// Match tests the event message and its raw text (meta "raw") against every
// signature and returns one finding per matching signature, in table order.
// A signature whose match errors out (timeout) is treated as not matching.
func (m *SignatureMatcher) Match(event *core.Event) []core.Finding {
	if event == nil {
		return nil
	}

	inputs := []string{event.Message}
	if raw := event.MetaString("raw"); raw != "" && raw != event.Message {
		inputs = append(inputs, raw)
	}

	var findings []core.Finding
	for _, sig := range m.signatures {
		matched, ok := m.matchAny(sig, inputs)
		if !ok {
			continue
		}
		findings = append(findings, core.Finding{
			ID:            uuid.New().String(),
			SignatureType: sig.Type,
			Severity:      sig.Severity,
			EventID:       event.ID,
			MatchedText:   matched,
			Description:   sig.Description,
			Timestamp:     m.now().UTC(),
		})
	}
	return findings
}

func (m *SignatureMatcher) matchAny(sig compiledSignature, inputs []string) (string, bool) {
	for _, input := range inputs {
		if input == "" {
			continue
		}
		text, found, err := sig.re.FindString(input)
		if err != nil {
			m.logger.Debugw("Signature evaluation failed, treating as no match",
				"signature", sig.Type, "error", err)
			continue
		}
		if found {
			return text, true
		}
	}
	return "", false
}
