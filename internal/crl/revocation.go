package crl

import (
	"bufio"
	"bytes"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// Revocation is one revoked-certificate record.
type Revocation struct {
	Serial    *big.Int
	RevokedAt time.Time
	Reason    Reason
}

// Snapshot is a consistent view of the tracker state, handed to the CRL
// encoder.
type Snapshot struct {
	Number      uint64
	Revocations []Revocation
}

func (r Revocation) clone() Revocation {
	return Revocation{
		Serial:    new(big.Int).Set(r.Serial),
		RevokedAt: r.RevokedAt,
		Reason:    r.Reason,
	}
}

func cloneRevocations(list []Revocation) []Revocation {
	out := make([]Revocation, len(list))
	for i, r := range list {
		out[i] = r.clone()
	}
	return out
}

// ParseSerial parses a serial number in decimal, or in hexadecimal with a
// "0x" prefix. Colon-separated hex ("0a:1b") is accepted too.
func ParseSerial(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	base := 10
	switch {
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		s, base = s[2:], 16
	case strings.Contains(s, ":"):
		s, base = strings.ReplaceAll(s, ":", ""), 16
	}
	n, ok := new(big.Int).SetString(s, base)
	if !ok || s == "" {
		return nil, fmt.Errorf("invalid serial number %q", s)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("serial number must not be negative")
	}
	return n, nil
}

func indexOf(list []Revocation, serial *big.Int) int {
	for i, r := range list {
		if r.Serial.Cmp(serial) == 0 {
			return i
		}
	}
	return -1
}

// encodeNumber renders the counter as a decimal line.
func encodeNumber(n uint64) []byte {
	return []byte(strconv.FormatUint(n, 10) + "\n")
}

// decodeNumber parses a counter written by encodeNumber. Zero-length input
// is an unused counter.
func decodeNumber(data []byte) (uint64, error) {
	if len(data) == 0 {
		return 0, nil
	}
	s := strings.TrimSpace(string(data))
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: crl number %q", ErrPersistenceCorruption, s)
	}
	return n, nil
}

// encodeList renders one "serial,unix_seconds,reason_code" line per record.
func encodeList(list []Revocation) []byte {
	var buf bytes.Buffer
	for _, r := range list {
		fmt.Fprintf(&buf, "%s,%d,%d\n", r.Serial.String(), r.RevokedAt.Unix(), int(r.Reason))
	}
	return buf.Bytes()
}

// decodeList parses a list written by encodeList. Blank lines are skipped.
// Malformed lines and duplicate serials are corruption.
func decodeList(data []byte) ([]Revocation, error) {
	var list []Revocation
	seen := make(map[string]bool)

	sc := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		fields := strings.Split(line, ",")
		if len(fields) != 3 {
			return nil, fmt.Errorf("%w: crl list line %d: expected 3 fields, got %d", ErrPersistenceCorruption, lineNo, len(fields))
		}
		serial, ok := new(big.Int).SetString(fields[0], 10)
		if !ok || serial.Sign() < 0 {
			return nil, fmt.Errorf("%w: crl list line %d: bad serial %q", ErrPersistenceCorruption, lineNo, fields[0])
		}
		secs, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: crl list line %d: bad time %q", ErrPersistenceCorruption, lineNo, fields[1])
		}
		code, err := strconv.Atoi(fields[2])
		if err != nil || !Reason(code).Valid() {
			return nil, fmt.Errorf("%w: crl list line %d: bad reason %q", ErrPersistenceCorruption, lineNo, fields[2])
		}
		if seen[serial.String()] {
			return nil, fmt.Errorf("%w: crl list line %d: duplicate serial %s", ErrPersistenceCorruption, lineNo, serial)
		}
		seen[serial.String()] = true

		list = append(list, Revocation{
			Serial:    serial,
			RevokedAt: time.Unix(secs, 0).UTC(),
			Reason:    Reason(code),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: crl list: %v", ErrPersistenceCorruption, err)
	}
	return list, nil
}
