// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"io"
	"math"
	"os"
	"syscall"
)

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// Options sizes the checks for a run.
type Options struct {
	MaxConcurrent int
	SampleCount   int

	// OutputDir is checked for writability when non-empty.
	OutputDir string
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// ConnectionsPerProbe is the most sockets one in-flight probe holds: the
// sampled segments plus the manifest and variant fetches.
func ConnectionsPerProbe(sampleCount int) int {
	return sampleCount + 2
}

// RunAll executes all preflight checks.
func RunAll(opts Options) *Result {
	result := &Result{
		Checks: make([]Check, 0, 3),
		Passed: true,
	}
	add := func(c Check) {
		result.Checks = append(result.Checks, c)
		if !c.Passed {
			result.Passed = false
		}
	}

	conns := opts.MaxConcurrent * ConnectionsPerProbe(opts.SampleCount)
	add(checkFileDescriptors(conns))
	add(checkEphemeralPorts(conns))
	if opts.OutputDir != "" {
		add(checkOutputDir(opts.OutputDir))
	}
	return result
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors(conns int) Check {
	var limit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		return Check{
			Name:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to read limit: %v", err),
		}
	}

	// Sockets plus headroom for the metrics server, logs and output files.
	required := conns + 100
	actual := math.MaxInt32
	if limit.Cur < math.MaxInt32 {
		actual = int(limit.Cur)
	}

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d for %d connections)", actual, required, conns),
	}
}

// checkEphemeralPorts checks if enough ephemeral ports are available.
func checkEphemeralPorts(conns int) Check {
	data, err := os.ReadFile("/proc/sys/net/ipv4/ip_local_port_range")
	if err != nil {
		return Check{
			Name:    "ephemeral_ports",
			Passed:  true,
			Warning: true,
			Message: "unable to read port range (non-Linux?)",
		}
	}
	return ephemeralPortsCheck(string(data), conns)
}

func ephemeralPortsCheck(portRange string, conns int) Check {
	var low, high int
	if _, err := fmt.Sscanf(portRange, "%d %d", &low, &high); err != nil || high <= low {
		return Check{
			Name:    "ephemeral_ports",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unparseable port range %q", portRange),
		}
	}
	available := high - low

	// Closed probe sockets sit in TIME_WAIT; leave room for a few rounds.
	recommended := conns * 4

	return Check{
		Name:     "ephemeral_ports",
		Required: recommended,
		Actual:   available,
		Passed:   true, // Don't fail on this
		Warning:  available < recommended,
		Message:  fmt.Sprintf("%d-%d (%d available, recommend %d)", low, high, available, recommended),
	}
}

// checkOutputDir verifies the output directory can be created and written.
func checkOutputDir(dir string) Check {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Check{Name: "output_dir", Passed: false, Message: err.Error()}
	}
	f, err := os.CreateTemp(dir, ".preflight-*")
	if err != nil {
		return Check{Name: "output_dir", Passed: false, Message: err.Error()}
	}
	f.Close()
	os.Remove(f.Name())

	return Check{Name: "output_dir", Passed: true, Message: fmt.Sprintf("%s is writable", dir)}
}

// PrintResults writes the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 8192 (or lower -concurrency)"
	case "output_dir":
		return "choose a writable -output-dir"
	default:
		return "rerun with -skip-preflight to ignore"
	}
}
