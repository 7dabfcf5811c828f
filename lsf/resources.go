package lsf

// resources.go turns the report LSF writes for a finished job into the
// performance and memory files of the test.

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog"

	"github.com/carlsmedstad/texttest/action"
	"github.com/carlsmedstad/texttest/model"
	"github.com/carlsmedstad/texttest/performance"
)

const reportRetryDelay = 2 * time.Second

// Report labels.
const (
	MaxMemory    = "Max Memory"
	MaxSwap      = "Max Swap"
	CPUTime      = "CPU time"
	ExecutedOn   = "executed on host"
	RealTime     = "Real time"
	homeDirLabel = "home directory"
)

type reportField struct {
	label string
	// end makes the field a block: every following line up to the first
	// one containing end belongs to it
	end string
}

var reportFields = []reportField{
	{label: MaxMemory},
	{label: MaxSwap},
	{label: CPUTime},
	{label: ExecutedOn, end: homeDirLabel},
	{label: RealTime},
}

// Report maps each label found in an LSF report to its lines. Block
// fields have one line per execution host, other fields exactly one.
type Report map[string][]string

// Complete reports whether every field was found.
func (r Report) Complete() bool {
	return len(r) == len(reportFields)
}

func (r Report) line(label string) string {
	if lines := r[label]; len(lines) > 0 {
		return lines[0]
	}
	return ""
}

// ParseReport scans an LSF job report for the fields resource files are
// made from. Lines are matched on substrings of their labels.
func ParseReport(r io.Reader) (Report, error) {
	report := Report{}
	inBlock := false
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		for _, f := range reportFields {
			if f.end == "" {
				if strings.Contains(line, f.label) {
					report[f.label] = []string{line}
				}
				continue
			}
			switch {
			case strings.Contains(line, f.label):
				report[f.label] = []string{line}
				inBlock = true
			case inBlock && !strings.Contains(line, f.end):
				report[f.label] = append(report[f.label], line)
			default:
				inBlock = false
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading report: %w", err)
	}
	return report, nil
}

// MakeResourceFiles writes performance.<app> and memory.<app> for a
// finished job and removes the files only the job needed.
type MakeResourceFiles struct {
	action.Base
	logger           zerolog.Logger
	commander        Commander
	clock            clock.Clock
	checkPerformance bool
	checkMemory      bool
	slowdownUsers    map[string]bool
}

// NewMakeResourceFiles creates the resource file stage.
func NewMakeResourceFiles(logger zerolog.Logger, commander Commander, clk clock.Clock) *MakeResourceFiles {
	return &MakeResourceFiles{
		logger:           logger,
		commander:        commander,
		clock:            clk,
		checkPerformance: true,
	}
}

func (m *MakeResourceFiles) String() string { return "Making resource files for" }

func (m *MakeResourceFiles) SetUpApplication(_ context.Context, app *model.Application) error {
	m.checkPerformance = app.Config.Bool("check_performance")
	m.checkMemory = app.Config.Bool("check_memory")
	m.slowdownUsers = make(map[string]bool)
	for _, user := range app.Config.List("slowdown_job_users") {
		m.slowdownUsers[user] = true
	}
	return nil
}

func (m *MakeResourceFiles) Perform(_ context.Context, t *model.Test) error {
	reportFile := t.TmpFileName("report")
	report := m.readReport(reportFile)
	if !report.Complete() && t.State().Category() != model.CategoryKilled {
		// LSF may still be writing the report
		m.clock.Sleep(reportRetryDelay)
		report = m.readReport(reportFile)
	}
	m.remove(reportFile)

	unixPerf := t.TmpFileName("unixperf")
	if err := applyUnixPerf(unixPerf, report); err != nil {
		m.logger.Warn().Err(err).Str("test", t.RelPath()).Msg("Failed to read timing file")
	}
	m.remove(unixPerf)
	m.remove(t.TmpFileName("cmd"))

	if !report.Complete() {
		m.logger.Warn().Str("test", t.RelPath()).Msg("Not writing resource files, job report is incomplete")
		return nil
	}

	if m.checkPerformance {
		if err := performance.WritePerformance(t.TmpFileName("performance"), m.performanceRecord(report)); err != nil {
			return err
		}
	}
	if m.checkMemory {
		if err := performance.WriteMemory(t.TmpFileName("memory"), report.line(MaxMemory), report.line(MaxSwap)); err != nil {
			return err
		}
	}
	return nil
}

func (m *MakeResourceFiles) readReport(path string) Report {
	f, err := os.Open(path)
	if err != nil {
		m.logger.Debug().Err(err).Str("path", path).Msg("No job report")
		return Report{}
	}
	defer f.Close()

	report, err := ParseReport(f)
	if err != nil {
		m.logger.Warn().Err(err).Str("path", path).Msg("Failed to parse job report")
		return Report{}
	}
	return report
}

func (m *MakeResourceFiles) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Warn().Err(err).Str("path", path).Msg("Failed to remove file")
	}
}

func (m *MakeResourceFiles) performanceRecord(report Report) performance.Record {
	var hosts []string
	for _, line := range report[ExecutedOn] {
		if host := executionMachine(line); host != "" {
			hosts = append(hosts, host)
		}
	}
	rec := performance.Record{
		CPULine:  report.line(CPUTime),
		Hosts:    hosts,
		RealLine: report.line(RealTime),
	}
	for _, host := range hosts {
		rec.Jobs = append(rec.Jobs, m.runningJobs(host)...)
	}
	return rec
}

// runningJobs describes the jobs currently running on machine. Other jobs
// on a multi-processor host can distort timings, so they are always listed;
// those owned by a configured slowdown user are flagged.
func (m *MakeResourceFiles) runningJobs(machine string) []string {
	stdout, _, err := m.commander.RunCommand(BuildHostJobsCommand(machine))
	if stdout == "" && err != nil {
		m.logger.Warn().Err(err).Str("host", machine).Msg("Failed to list jobs on execution host")
		return nil
	}

	var jobs []string
	for _, line := range nonEmptyLines(stdout) {
		if !strings.Contains(line, "RUN") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 7 {
			continue
		}
		user, name := fields[1], fields[6]
		descriptor := "Also on "
		if m.slowdownUsers[user] {
			descriptor = "Suspected of SLOWING DOWN "
		}
		jobs = append(jobs, descriptor+machine+" : "+user+"'s job '"+name+"'")
	}
	return jobs
}

// applyUnixPerf replaces the CPU and real time of report with the ones
// measured by time -p, which exclude system time.
func applyUnixPerf(path string, report Report) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		last := fields[len(fields)-1]
		if strings.Contains(line, "user") {
			if seconds, err := parseUnixTime(last); err == nil {
				report[CPUTime] = []string{"CPU time   : " + seconds + " sec."}
			}
		}
		if strings.Contains(line, "real") {
			if seconds, err := parseUnixTime(last); err == nil {
				report[RealTime] = []string{"Real time  : " + seconds + " sec."}
			}
		}
	}
	return nil
}

// parseUnixTime converts a time(1) figure to seconds right-justified to
// nine characters. Figures without minutes are kept as they are.
func parseUnixTime(value string) (string, error) {
	if !strings.Contains(value, ":") {
		return fmt.Sprintf("%9s", value), nil
	}
	minutes, seconds, _ := strings.Cut(value, ":")
	m, err := strconv.ParseFloat(minutes, 64)
	if err != nil {
		return "", fmt.Errorf("invalid time %q: %w", value, err)
	}
	s, err := strconv.ParseFloat(seconds, 64)
	if err != nil {
		return "", fmt.Errorf("invalid time %q: %w", value, err)
	}
	return fmt.Sprintf("%9s", formatSeconds(60*m+s)), nil
}

// formatSeconds always keeps a fractional part, e.g. 62.0.
func formatSeconds(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// executionMachine extracts the short host name from a report line such
// as "Job was executed on host(s) <2*host1.example.com>, ...".
func executionMachine(line string) string {
	start := strings.Index(line, "<")
	if start == -1 {
		return ""
	}
	end := strings.Index(line[start:], ">")
	if end == -1 {
		return ""
	}
	name := line[start+1 : start+end]
	if i := strings.Index(name, "*"); i != -1 {
		if _, err := strconv.Atoi(name[:i]); err == nil {
			name = name[i+1:]
		}
	}
	return shortHostName(name)
}
