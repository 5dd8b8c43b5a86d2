package core

import (
	"encoding/csv"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/JonMunkholm/wardrive/internal/schema"
)

// FailureKind classifies a line that did not produce a record.
type FailureKind int

const (
	// Skip marks lines that carry no data: blanks and embedded headers.
	Skip FailureKind = iota + 1
	// Malformed marks lines that look like data but cannot be decoded.
	Malformed
)

func (k FailureKind) String() string {
	switch k {
	case Skip:
		return "skip"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// ParseFailure explains why a line was not turned into a record.
type ParseFailure struct {
	Kind   FailureKind
	Reason string
}

func (f *ParseFailure) Error() string {
	return f.Kind.String() + ": " + f.Reason
}

func skip(reason string) *ParseFailure {
	return &ParseFailure{Kind: Skip, Reason: reason}
}

func malformed(format string, args ...any) *ParseFailure {
	return &ParseFailure{Kind: Malformed, Reason: fmt.Sprintf(format, args...)}
}

// Column positions within a log line.
const (
	colMAC = iota
	colSSID
	colAuthMode
	colFirstSeen
	colChannel
	colRSSI
	colLat
	colLon
	colAlt
	colAcc
	colType

	minFields
)

// ParseLine decodes one data line. Fields beyond the eleventh are ignored so
// newer exporter versions still ingest.
func ParseLine(line string) (schema.AccessPointRecord, *ParseFailure) {
	line = strings.TrimSuffix(line, "\r")
	if strings.TrimSpace(line) == "" {
		return schema.AccessPointRecord{}, skip("empty line")
	}

	fields, err := splitFields(line)
	if err != nil {
		return schema.AccessPointRecord{}, malformed("split fields: %v", err)
	}
	if strings.TrimSpace(fields[colMAC]) == schema.HeaderToken {
		return schema.AccessPointRecord{}, skip("header row")
	}
	if len(fields) < minFields {
		return schema.AccessPointRecord{}, malformed("expected %d fields, got %d", minFields, len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	rec := schema.AccessPointRecord{
		MACAddress: fields[colMAC],
		SSID:       fields[colSSID],
		AuthMode:   fields[colAuthMode],
		FirstSeen:  fields[colFirstSeen],
		Type:       fields[colType],
	}

	var fail *ParseFailure
	if rec.Channel, fail = int32Field("channel", fields[colChannel]); fail != nil {
		return schema.AccessPointRecord{}, fail
	}
	if rec.RSSI, fail = int32Field("rssi", fields[colRSSI]); fail != nil {
		return schema.AccessPointRecord{}, fail
	}

	if rec.Latitude, fail = requiredCoordinate("latitude", fields[colLat]); fail != nil {
		return schema.AccessPointRecord{}, fail
	}
	if rec.Longitude, fail = requiredCoordinate("longitude", fields[colLon]); fail != nil {
		return schema.AccessPointRecord{}, fail
	}
	if rec.Altitude, fail = optionalFloat("altitude", fields[colAlt]); fail != nil {
		return schema.AccessPointRecord{}, fail
	}
	if rec.Accuracy, fail = optionalFloat("accuracy", fields[colAcc]); fail != nil {
		return schema.AccessPointRecord{}, fail
	}

	return rec, nil
}

// splitFields splits a single line on commas, honouring quoted fields so an
// SSID containing a comma stays intact.
func splitFields(line string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return r.Read()
}

func requiredCoordinate(name, raw string) (float64, *ParseFailure) {
	if raw == "" {
		return 0, malformed("%s is missing", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, malformed("%s %q is not a number", name, raw)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, malformed("%s %q is not finite", name, raw)
	}
	return v, nil
}

func optionalFloat(name, raw string) (*float64, *ParseFailure) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, malformed("%s %q is not a number", name, raw)
	}
	return &v, nil
}

// SupportedFormats is the banner version range this parser was written for.
var SupportedFormats = mustConstraint(">= 1.0, < 2.0")

func mustConstraint(c string) *semver.Constraints {
	cs, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return cs
}

var bannerPattern = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9]*)-(\d+(?:\.\d+){0,2})$`)

// Preamble is what could be learned from the first line of a log.
type Preamble struct {
	Format    string
	Version   *semver.Version
	AppFields map[string]string
}

// VersionString returns the banner version or "" when unknown.
func (p Preamble) VersionString() string {
	if p.Version == nil {
		return ""
	}
	return p.Version.Original()
}

// Supported reports whether the banner version is inside SupportedFormats.
// Logs without a recognisable banner are treated as supported.
func (p Preamble) Supported() bool {
	if p.Version == nil {
		return true
	}
	return SupportedFormats.Check(p.Version)
}

// ParsePreamble inspects the banner line, e.g.
// "WigleWifi-1.4,appRelease=2.26,model=Pixel,...". The second return value
// is false when the line is not a recognisable banner; that is not an error.
func ParsePreamble(line string) (Preamble, bool) {
	line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
	parts := strings.Split(line, ",")

	m := bannerPattern.FindStringSubmatch(strings.TrimSpace(parts[0]))
	if m == nil {
		return Preamble{}, false
	}
	v, err := semver.NewVersion(m[2])
	if err != nil {
		return Preamble{}, false
	}

	p := Preamble{Format: m[1], Version: v, AppFields: make(map[string]string)}
	for _, kv := range parts[1:] {
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		p.AppFields[strings.TrimSpace(key)] = strings.TrimSpace(val)
	}
	return p, true
}

// int32Field parses an integer column that the stores keep as 32-bit.
func int32Field(name, raw string) (int, *ParseFailure) {
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, malformed("%s %q is not a 32-bit integer", name, raw)
	}
	return int(v), nil
}
