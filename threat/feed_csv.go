package threat

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"logsentry/core"
)

// CSV feed columns, in order. Only value is required.
const (
	csvColumnValue = iota
	csvColumnType
	csvColumnSeverity
	csvColumnTags
	csvColumnConfidence
)

// LoadCSVFeed reads a flat indicator list into one enabled feed named after
// the file. Each row is value[,type[,severity[,tags[,confidence]]]]; tags
// are separated by ';'. Lines starting with '#' and a leading "value" header
// row are skipped. A missing or unknown type is detected from the value.
func LoadCSVFeed(filename string) (FeedDefinition, error) {
	f, err := os.Open(filename)
	if err != nil {
		return FeedDefinition{}, fmt.Errorf("failed to open feed file %s: %w", filename, err)
	}
	defer f.Close()

	def := FeedDefinition{
		Name:        strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename)),
		Description: "Indicators loaded from " + filepath.Base(filename),
		Enabled:     true,
	}
	def.Indicators, err = parseCSVIndicators(f)
	if err != nil {
		return FeedDefinition{}, fmt.Errorf("failed to parse feed file %s: %w", filename, err)
	}
	return def, nil
}

func parseCSVIndicators(r io.Reader) ([]core.IOC, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var iocs []core.IOC
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return iocs, nil
		}
		if err != nil {
			return nil, err
		}
		if len(record) == 0 || strings.TrimSpace(record[csvColumnValue]) == "" {
			continue
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(record[csvColumnValue]), "value") {
			continue
		}
		ioc, err := parseCSVRecord(record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		iocs = append(iocs, ioc)
	}
}

func parseCSVRecord(record []string) (core.IOC, error) {
	column := func(i int) string {
		if i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}

	ioc := core.IOC{
		Value:    column(csvColumnValue),
		Type:     parseIOCType(column(csvColumnType)),
		Severity: core.Severity(strings.ToLower(column(csvColumnSeverity))),
	}
	if ioc.Type == "" {
		ioc.Type = core.DetectIOCType(ioc.Value)
	}
	if tags := column(csvColumnTags); tags != "" {
		for _, tag := range strings.Split(tags, ";") {
			if tag = strings.TrimSpace(tag); tag != "" {
				ioc.Tags = append(ioc.Tags, tag)
			}
		}
	}
	if c := column(csvColumnConfidence); c != "" {
		confidence, err := strconv.ParseFloat(c, 64)
		if err != nil {
			return core.IOC{}, fmt.Errorf("invalid confidence %q", c)
		}
		ioc.Confidence = confidence
	}
	return ioc, nil
}

// parseIOCType maps the spellings common in public feeds onto IOC types.
// Unknown spellings return "" so the caller can detect the type.
func parseIOCType(s string) core.IOCType {
	switch strings.ToLower(s) {
	case "ip", "ipv4", "ip-src", "ip-dst", "ipv4-addr":
		return core.IOCTypeIP
	case "domain", "hostname", "fqdn", "domain-name":
		return core.IOCTypeDomain
	case "url", "uri", "link":
		return core.IOCTypeURL
	case "email", "email-addr", "email-src":
		return core.IOCTypeEmail
	case "md5":
		return core.IOCTypeMD5
	case "sha1":
		return core.IOCTypeSHA1
	case "sha256":
		return core.IOCTypeSHA256
	case "filepath", "file", "filename":
		return core.IOCTypeFilePath
	case "user_agent", "user-agent", "useragent":
		return core.IOCTypeUserAgent
	default:
		return ""
	}
}
