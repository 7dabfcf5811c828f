package performance

// Package performance reads and writes the small text records describing
// how long a test took and how much memory it used. The LSF adapter
// produces them from scheduler reports; the time filter consumes them.

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Record is the content of a performance.<app> file.
type Record struct {
	// CPULine is the "CPU time : N sec." line, without the host suffix
	CPULine string
	// Hosts are the short names of the execution machines
	Hosts []string
	// RealLine is the "Real time : N sec." line
	RealLine string
	// Jobs describe other jobs running on the execution machines
	Jobs []string
}

// Format renders the record the way it is written to disk.
func (r Record) Format() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(r.CPULine))
	b.WriteString(" on ")
	b.WriteString(strings.Join(r.Hosts, ","))
	b.WriteString("\n")
	if r.RealLine != "" {
		b.WriteString(strings.TrimRight(r.RealLine, "\n"))
		b.WriteString("\n")
	}
	for _, job := range r.Jobs {
		b.WriteString(job)
		b.WriteString("\n")
	}
	return b.String()
}

// WritePerformance writes rec to path.
func WritePerformance(path string, rec Record) error {
	if err := os.WriteFile(path, []byte(rec.Format()), 0644); err != nil {
		return fmt.Errorf("failed to write performance file: %w", err)
	}
	return nil
}

// WriteMemory writes the max memory and max swap lines to path, with
// leading whitespace removed.
func WriteMemory(path, memLine, swapLine string) error {
	content := strings.TrimLeft(memLine, " \t") + "\n" + strings.TrimLeft(swapLine, " \t") + "\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write memory file: %w", err)
	}
	return nil
}

// ReadCPUTime returns the CPU time in seconds recorded in a performance
// file. ok is false when the file does not exist or has no CPU time line.
func ReadCPUTime(path string) (seconds float64, ok bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to open performance file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		seconds, ok := ParseCPUTime(scanner.Text())
		if ok {
			return seconds, true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, false, fmt.Errorf("error reading performance file: %w", err)
	}
	return 0, false, nil
}

// ParseCPUTime extracts the number of seconds from a line of the form
// "CPU time : 12.3 sec. on host1".
func ParseCPUTime(line string) (float64, bool) {
	if !strings.Contains(line, "CPU time") {
		return 0, false
	}
	idx := strings.Index(line, ":")
	if idx == -1 {
		return 0, false
	}
	fields := strings.Fields(line[idx+1:])
	if len(fields) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
