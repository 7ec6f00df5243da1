package decode

import (
	"bufio"
	"io"
	"strings"

	coreerrors "github.com/icao-pkd/localpkd-core/errors"
)

// LdifAttr is one decoded attribute value. IsBinary reports whether the
// attribute name carried the ";binary" suffix; whether the value arrived
// via "::" (Base64) is not recorded, since Value is already decoded.
type LdifAttr struct {
	Value    []byte
	IsBinary bool
}

// LdifEntry is one "dn: ..." block of an LDIF file, with attribute names
// (";binary" suffix stripped) mapped to all their values.
type LdifEntry struct {
	DN         string
	Attributes map[string][]LdifAttr
}

// Values returns all decoded values for a case-sensitive attribute name.
func (e LdifEntry) Values(name string) []LdifAttr {
	return e.Attributes[name]
}

// StreamLDIF parses r as RFC 2849 LDIF, invoking fn once per entry in file
// order. It never buffers more than one entry's worth of lines in memory,
// so a >100MB input (spec §9 Streaming ingestion) is processed without
// loading the whole file. fn's error aborts the stream.
func StreamLDIF(r io.Reader, fn func(entry LdifEntry) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var logicalLines []string
	flush := func() error {
		if len(logicalLines) == 0 {
			return nil
		}
		entry, ok, err := parseLogicalLines(logicalLines)
		logicalLines = logicalLines[:0]
		if err != nil {
			return err
		}
		if ok {
			return fn(entry)
		}
		return nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, "#"):
			// comment at column zero, spec §4.1 — ignored entirely.
		case strings.HasPrefix(line, " "):
			// Continuation: append (sans the single leading space) to the
			// previous logical line.
			if len(logicalLines) == 0 {
				return coreerrors.Decode("ldif: continuation line with no preceding value")
			}
			logicalLines[len(logicalLines)-1] += line[1:]
		default:
			logicalLines = append(logicalLines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return coreerrors.Decode("ldif: scan failed: %v", err)
	}
	return flush()
}

// parseLogicalLines turns one entry's already-unfolded lines into an
// LdifEntry. ok is false for a block with no "dn:" line (e.g. trailing
// blank lines at EOF produce no pending lines at all, but a stray
// non-blank block without a dn: is tolerated the same way).
func parseLogicalLines(lines []string) (LdifEntry, bool, error) {
	entry := LdifEntry{Attributes: map[string][]LdifAttr{}}
	haveDN := false

	for _, line := range lines {
		name, value, isBase64, err := splitLdifLine(line)
		if err != nil {
			return LdifEntry{}, false, err
		}
		attrName, isBinary := strings.CutSuffix(name, ";binary")

		var decoded []byte
		if isBase64 {
			decoded, err = DecodeBase64(value)
			if err != nil {
				return LdifEntry{}, false, coreerrors.Decode("ldif: bad base64 for %s: %v", name, err)
			}
		} else {
			decoded = []byte(value)
		}

		if strings.EqualFold(attrName, "dn") {
			entry.DN = string(decoded)
			haveDN = true
			continue
		}
		entry.Attributes[attrName] = append(entry.Attributes[attrName], LdifAttr{
			Value:    decoded,
			IsBinary: isBinary,
		})
	}

	if !haveDN {
		return LdifEntry{}, false, nil
	}
	return entry, true, nil
}

// splitLdifLine splits "attr: value" or "attr:: base64value" into name and
// value, reporting whether the value is Base64-encoded (double colon).
func splitLdifLine(line string) (name, value string, isBase64 bool, err error) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", "", false, coreerrors.Decode("ldif: malformed line %q", line)
	}
	name = line[:idx]
	rest := line[idx+1:]
	if strings.HasPrefix(rest, ":") {
		isBase64 = true
		rest = rest[1:]
	}
	value = strings.TrimPrefix(rest, " ")
	return name, value, isBase64, nil
}
