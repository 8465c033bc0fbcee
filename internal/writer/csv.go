// internal/writer/csv.go
package writer

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/tamzrod/inverter-probe/internal/poller"
	"github.com/tamzrod/inverter-probe/internal/runner"
	"github.com/tamzrod/inverter-probe/internal/status"
)

// CSVSink writes telemetry and test results to two files in one
// directory, one column per field, header once per file. Register dumps
// go to a third file opened on the first dump.
type CSVSink struct {
	mu     sync.Mutex
	names  []string
	dir    string
	prefix string

	samples   *csvFile
	results   *csvFile
	registers *csvFile
}

var registerColumns = []string{"scenario", "register_name", "address", "value", "unit", "error"}

type csvFile struct {
	f      *os.File
	w      *csv.Writer
	header bool
}

// NewCSVSink creates dir and opens <prefix>_telemetry.csv and
// <prefix>_results.csv in it. names fixes the telemetry value columns.
func NewCSVSink(dir, prefix string, names []string) (*CSVSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("csv sink: %w", err)
	}

	samples, err := openCSV(filepath.Join(dir, prefix+"_telemetry.csv"))
	if err != nil {
		return nil, err
	}
	results, err := openCSV(filepath.Join(dir, prefix+"_results.csv"))
	if err != nil {
		_ = samples.f.Close()
		return nil, err
	}

	return &CSVSink{names: names, dir: dir, prefix: prefix, samples: samples, results: results}, nil
}

// CSVPrefix names a run's files by device and start time.
func CSVPrefix(deviceID string, at time.Time) string {
	return fmt.Sprintf("%s_%s", sanitize(deviceID), at.Format("20060102T150405"))
}

func openCSV(path string) (*csvFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("csv sink: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv sink: %w", err)
	}
	// appending to an existing file keeps its header
	return &csvFile{f: f, w: csv.NewWriter(f), header: st.Size() > 0}, nil
}

func (c *csvFile) write(header, row []string) error {
	if !c.header {
		if err := c.w.Write(header); err != nil {
			return err
		}
		c.header = true
	}
	if err := c.w.Write(row); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

func (s *CSVSink) WriteSample(smp poller.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples.write(smp.Columns(s.names), smp.Row(s.names))
}

func (s *CSVSink) WriteResult(r runner.TestResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.results.write(r.Columns(), r.Row()); err != nil {
		return err
	}
	if len(r.Dump) == 0 {
		return nil
	}

	if s.registers == nil {
		f, err := openCSV(filepath.Join(s.dir, s.prefix+"_registers.csv"))
		if err != nil {
			return err
		}
		s.registers = f
	}
	for _, e := range r.Dump {
		row := []string{r.Scenario, e.Value.Spec.Name, strconv.Itoa(int(e.Value.Spec.Address)), "", e.Value.Spec.Unit, ""}
		if e.Err != nil {
			row[5] = e.Err.Error()
		} else {
			row[3] = strconv.FormatFloat(e.Value.Scaled, 'f', -1, 64)
		}
		if err := s.registers.write(registerColumns, row); err != nil {
			return err
		}
	}
	return nil
}

// WriteStatus is a no-op: status is a live view, not a record.
func (s *CSVSink) WriteStatus(status.Snapshot) error { return nil }

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	files := []*csvFile{s.samples, s.results}
	if s.registers != nil {
		files = append(files, s.registers)
	}

	var last error
	for _, c := range files {
		c.w.Flush()
		if err := c.w.Error(); err != nil {
			last = err
		}
		if err := c.f.Close(); err != nil {
			last = err
		}
	}
	return last
}

func sanitize(s string) string {
	out := []byte(s)
	for i, b := range out {
		switch {
		case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9', b == '-', b == '_':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
