package formats

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"iter"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/target/soc-core/internal/domain/model"
	"github.com/target/soc-core/internal/parsers"
)

var linuxAuthPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"ssh_accepted", regexp.MustCompile(`Accepted\s+(\S+)\s+for\s+(\S+)\s+from\s+(\S+)\s+port\s+(\d+)`)},
	{"ssh_failed", regexp.MustCompile(`Failed\s+(\S+)\s+for\s+(?:invalid user\s+)?(\S+)\s+from\s+(\S+)\s+port\s+(\d+)`)},
	{"ssh_invalid_user", regexp.MustCompile(`Invalid user\s+(\S+)\s+from\s+(\S+)`)},
	{"sudo_command", regexp.MustCompile(`(\S+)\s+:\s+TTY=(\S+)\s+;\s+PWD=([^;]+)\s*;\s+USER=(\S+)\s*;\s+COMMAND=(.+)`)},
	{"sudo_auth_failure", regexp.MustCompile(`pam_unix\(sudo:auth\):\s+authentication failure;.*user=(\S+)`)},
	{"su_success", regexp.MustCompile(`Successful su for\s+(\S+)\s+by\s+(\S+)`)},
	{"su_failed", regexp.MustCompile(`FAILED su for\s+(\S+)\s+by\s+(\S+)`)},
	{"pam_session", regexp.MustCompile(`pam_unix\((\S+):session\):\s+session\s+(opened|closed)\s+for user\s+(\S+)`)},
}

var syslogTSPattern = regexp.MustCompile(`^(\w{3})\s+(\d{1,2})\s+(\d{2}:\d{2}:\d{2})`)

var syslogMonths = map[string]time.Month{
	"Jan": time.January, "Feb": time.February, "Mar": time.March, "Apr": time.April,
	"May": time.May, "Jun": time.June, "Jul": time.July, "Aug": time.August,
	"Sep": time.September, "Oct": time.October, "Nov": time.November, "Dec": time.December,
}

// LinuxAuthParser parses Linux auth.log/secure syslog-style authentication logs.
type LinuxAuthParser struct{}

var _ parsers.Parser = LinuxAuthParser{}

func (LinuxAuthParser) Metadata() model.ParserMetadata {
	return model.ParserMetadata{
		Name:                "linux_auth",
		Category:            model.ParserCategoryLogs,
		Description:         "Linux auth.log and secure log parser",
		SupportedExtensions: []string{".log", ".gz"},
		SupportedMimeTypes:  []string{"text/plain", "application/gzip"},
		Priority:            40,
	}
}

func (LinuxAuthParser) CanParse(fileName string, sniff []byte) bool {
	lower := strings.ToLower(fileName)
	if strings.Contains(lower, "auth.log") || strings.Contains(lower, "secure") {
		return true
	}
	text := string(sniff)
	for _, ind := range []string{"sshd[", "sudo:", "pam_unix", "Accepted password", "Failed password"} {
		if strings.Contains(text, ind) {
			return true
		}
	}
	return false
}

func (LinuxAuthParser) Parse(ctx context.Context, r io.Reader, sourceName string) iter.Seq2[*model.ParsedEvent, error] {
	return func(yield func(*model.ParsedEvent, error) bool) {
		reader := r
		buffered := bufio.NewReader(r)
		if magic, err := buffered.Peek(2); err == nil && len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
			gz, err := gzip.NewReader(buffered)
			if err != nil {
				yield(nil, fmt.Errorf("linux_auth: gzip: %w", err))
				return
			}
			defer gz.Close()
			reader = gz
		} else {
			reader = buffered
		}

		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		lineNum := 0
		for scanner.Scan() {
			if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}
			lineNum++
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if ev := parseLinuxAuthLine(line, sourceName, lineNum); ev != nil {
				if !yield(ev, nil) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			yield(nil, fmt.Errorf("linux_auth: scan: %w", err))
		}
	}
}

func parseLinuxAuthLine(line, sourceName string, lineNum int) *model.ParsedEvent {
	timestamp := parseSyslogTimestamp(line)
	hostname, process, pid := splitSyslogHeader(line)

	for _, p := range linuxAuthPatterns {
		m := p.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		return buildLinuxAuthEvent(p.name, m, line, timestamp, hostname, process, pid, sourceName, lineNum)
	}

	lower := strings.ToLower(line)
	for _, kw := range []string{"auth", "login", "password", "session", "user"} {
		if strings.Contains(lower, kw) {
			return &model.ParsedEvent{
				Timestamp:     timestamp,
				Message:       line,
				SourceType:    "linux_auth",
				SourceFile:    sourceName,
				SourceLine:    lineNum,
				EventKind:     "event",
				EventCategory: []string{"authentication"},
				EventType:     []string{"info"},
				EventAction:   "generic_auth_event",
				HostName:      strPtrOrNil(hostname),
				Labels:        map[string]string{"process": process},
				Raw:           map[string]any{"pid": pid},
			}
		}
	}
	return nil
}

func buildLinuxAuthEvent(name string, m []string, line string, timestamp time.Time, hostname, process string, pid int, sourceName string, lineNum int) *model.ParsedEvent {
	ev := &model.ParsedEvent{
		Timestamp:  timestamp,
		Message:    line,
		SourceType: "linux_auth",
		SourceFile: sourceName,
		SourceLine: lineNum,
		EventKind:  "event",
		HostName:   strPtrOrNil(hostname),
		Labels:     map[string]string{"process": process, "pattern": name},
	}
	switch name {
	case "ssh_accepted", "ssh_failed":
		ev.EventCategory = []string{"authentication"}
		ev.EventType = []string{"start"}
		ev.EventAction = "ssh_logon"
		outcome := "success"
		if name == "ssh_failed" {
			outcome = "failure"
		}
		ev.EventOutcome = &outcome
		ev.UserName = strPtrOrNil(m[2])
		ev.SourceIP = strPtrOrNil(m[3])
		if port, err := strconv.Atoi(m[4]); err == nil {
			ev.SourcePort = &port
		}
	case "ssh_invalid_user":
		ev.EventCategory = []string{"authentication"}
		ev.EventType = []string{"start"}
		ev.EventAction = "ssh_invalid_user"
		outcome := "failure"
		ev.EventOutcome = &outcome
		ev.UserName = strPtrOrNil(m[1])
		ev.SourceIP = strPtrOrNil(m[2])
	case "sudo_command":
		ev.EventCategory = []string{"process", "iam"}
		ev.EventType = []string{"info"}
		ev.EventAction = "sudo_command"
		ev.UserName = strPtrOrNil(m[1])
		cmd := m[5]
		ev.ProcessCommandLine = &cmd
	case "sudo_auth_failure":
		ev.EventCategory = []string{"authentication"}
		ev.EventType = []string{"info"}
		ev.EventAction = "sudo_auth_failure"
		outcome := "failure"
		ev.EventOutcome = &outcome
		ev.UserName = strPtrOrNil(m[1])
	case "su_success", "su_failed":
		ev.EventCategory = []string{"authentication"}
		ev.EventType = []string{"change"}
		ev.EventAction = "su"
		outcome := "success"
		if name == "su_failed" {
			outcome = "failure"
		}
		ev.EventOutcome = &outcome
		ev.UserName = strPtrOrNil(m[2])
	case "pam_session":
		ev.EventCategory = []string{"authentication", "session"}
		ev.EventType = []string{m[2]}
		ev.EventAction = "pam_session_" + m[2]
		ev.UserName = strPtrOrNil(m[3])
	}
	return ev
}

func splitSyslogHeader(line string) (hostname, process string, pid int) {
	parts := strings.SplitN(line, " ", 6)
	if len(parts) < 5 {
		return "", "", 0
	}
	hostname = parts[3]
	procPart := parts[4]
	if idx := strings.Index(procPart, "["); idx >= 0 {
		process = procPart[:idx]
		if end := strings.Index(procPart[idx:], "]"); end > 0 {
			if v, err := strconv.Atoi(procPart[idx+1 : idx+end]); err == nil {
				pid = v
			}
		}
	} else {
		process = strings.TrimSuffix(procPart, ":")
	}
	return hostname, process, pid
}

func parseSyslogTimestamp(line string) time.Time {
	m := syslogTSPattern.FindStringSubmatch(line)
	if m == nil {
		return time.Now().UTC()
	}
	month, ok := syslogMonths[m[1]]
	if !ok {
		month = time.January
	}
	day, _ := strconv.Atoi(m[2])
	clock, err := time.Parse("15:04:05", m[3])
	if err != nil {
		return time.Now().UTC()
	}
	year := time.Now().Year()
	return time.Date(year, month, day, clock.Hour(), clock.Minute(), clock.Second(), 0, time.UTC)
}

func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
