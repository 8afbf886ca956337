package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
)

// CensusCSV is one sampled census row.
type CensusCSV struct {
	Tick   uint64  `csv:"tick"`
	Phase  string  `csv:"phase"`
	CountA int     `csv:"count_a"`
	CountB int     `csv:"count_b"`
	MassA  float64 `csv:"mass_a"`
	MassB  float64 `csv:"mass_b"`
}

// OutputManager writes perf.csv and census.csv for one match.
type OutputManager struct {
	dir        string
	perfFile   *os.File
	censusFile *os.File

	perfHeaderWritten   bool
	censusHeaderWritten bool
}

// NewOutputManager creates dir and its CSV files. Returns nil if dir is
// empty (output disabled); every method is a no-op on nil.
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	om := &OutputManager{dir: dir}

	f, err := os.Create(filepath.Join(dir, "perf.csv"))
	if err != nil {
		return nil, fmt.Errorf("creating perf.csv: %w", err)
	}
	om.perfFile = f

	f, err = os.Create(filepath.Join(dir, "census.csv"))
	if err != nil {
		om.perfFile.Close()
		return nil, fmt.Errorf("creating census.csv: %w", err)
	}
	om.censusFile = f
	return om, nil
}

func (om *OutputManager) WritePerf(stats PerfStats, tick uint64) error {
	if om == nil {
		return nil
	}
	records := []PerfStatsCSV{stats.ToCSV(tick)}
	if err := writeCSV(records, om.perfFile, &om.perfHeaderWritten); err != nil {
		return fmt.Errorf("writing perf: %w", err)
	}
	return nil
}

func (om *OutputManager) WriteCensus(row CensusCSV) error {
	if om == nil {
		return nil
	}
	if err := writeCSV([]CensusCSV{row}, om.censusFile, &om.censusHeaderWritten); err != nil {
		return fmt.Errorf("writing census: %w", err)
	}
	return nil
}

// writeCSV emits the header only on the first call per file.
func writeCSV(records any, f *os.File, headerWritten *bool) error {
	if !*headerWritten {
		if err := gocsv.Marshal(records, f); err != nil {
			return err
		}
		*headerWritten = true
		return nil
	}
	return gocsv.MarshalWithoutHeaders(records, f)
}

func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}
	var firstErr error
	for _, f := range []*os.File{om.perfFile, om.censusFile} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
