package modem

import (
	"regexp"
	"strconv"
	"strings"
)

// Response is the reply to one command: the information lines followed by a
// final result code.
type Response struct {
	Command string
	Lines   []string
	Final   string
}

// OK reports whether the final result code is OK.
func (r Response) OK() bool { return r.Final == "OK" }

var (
	csqPattern  = regexp.MustCompile(`^\+CSQ:\s*(\d+),(\d+)`)
	copsPattern = regexp.MustCompile(`^\+COPS:\s*\d+,\d+,"([^"]+)"(?:,(\d+))?`)
	cregPattern = regexp.MustCompile(`^\+CREG:\s*(?:\d+,)?(\d+)`)
	cpinPattern = regexp.MustCompile(`^\+CPIN:\s*(.+)$`)
)

func isFinal(line string) bool {
	switch {
	case line == "OK", line == "ERROR", line == "NO CARRIER":
		return true
	case strings.HasPrefix(line, "+CME ERROR:"), strings.HasPrefix(line, "+CMS ERROR:"):
		return true
	}
	return false
}

// find returns the submatches of the first line matching re.
func find(re *regexp.Regexp, lines []string) []string {
	for _, l := range lines {
		if m := re.FindStringSubmatch(l); m != nil {
			return m
		}
	}
	return nil
}

// SignalDBm converts a +CSQ rssi index to dBm. Index 99 means unknown.
func SignalDBm(rssi int) (float64, bool) {
	if rssi < 0 || rssi > 31 {
		return 0, false
	}
	return float64(-113 + 2*rssi), true
}

// parseCSQ reports ok when a +CSQ line is present and known when it carries a
// usable rssi.
func parseCSQ(lines []string) (dbm float64, known, ok bool) {
	m := find(csqPattern, lines)
	if m == nil {
		return 0, false, false
	}
	rssi, _ := strconv.Atoi(m[1])
	dbm, known = SignalDBm(rssi)
	return dbm, known, true
}

// parseCREG returns the registration state. Stat 1 is home, 5 is roaming.
func parseCREG(lines []string) (registered, roaming, ok bool) {
	m := find(cregPattern, lines)
	if m == nil {
		return false, false, false
	}
	switch m[1] {
	case "1":
		return true, false, true
	case "5":
		return true, true, true
	default:
		return false, false, true
	}
}

func parseCOPS(lines []string) (carrier, technology string, ok bool) {
	m := find(copsPattern, lines)
	if m == nil {
		return "", "", false
	}
	return m[1], accessTechnology(m[2]), true
}

func parseCPIN(lines []string) (status string, ok bool) {
	m := find(cpinPattern, lines)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// accessTechnology maps a 3GPP AcT value to a generation label.
func accessTechnology(act string) string {
	switch act {
	case "0", "1", "3":
		return "2G"
	case "2", "4", "5", "6":
		return "3G"
	case "7", "9":
		return "4G"
	case "10", "11", "12", "13":
		return "5G"
	}
	return ""
}
