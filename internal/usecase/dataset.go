package usecase

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"finetune-orchestrator/internal/domain"
)

// Fixed file names consumed by the trainer's --data flag.
const (
	trainFileName = "train.jsonl"
	validFileName = "valid.jsonl"
	testFileName  = "test.jsonl"
)

// SplitResult records where the split files landed and how many records each
// one holds. It is stored verbatim in the task's metrics map.
type SplitResult struct {
	TrainFile  string
	ValidFile  string
	TestFile   string
	Total      int
	TrainCount int
	ValidCount int
	TestCount  int
}

// MinSplitCount returns the smallest split size. The trainer fails when the
// batch size exceeds any split, so callers clamp against this.
func (r *SplitResult) MinSplitCount() int {
	min := r.TrainCount
	if r.ValidCount < min {
		min = r.ValidCount
	}
	if r.TestCount < min {
		min = r.TestCount
	}
	return min
}

// SplitDataset shuffles the records and writes the three JSONL split files
// under outputDir. Validation and test sizes are floored percentages of the
// total; the rounding remainder goes to train, so the three always sum to
// the record count. rng may be nil for a time-seeded shuffle; tests inject a
// fixed seed.
func SplitDataset(records []string, validPct, testPct int, outputDir string, rng *rand.Rand) (*SplitResult, error) {
	trainPct := 100 - validPct - testPct
	if trainPct <= 0 || validPct < 0 || testPct < 0 {
		return nil, fmt.Errorf("%w: train=%d valid=%d test=%d", domain.ErrInvalidSplit, trainPct, validPct, testPct)
	}
	if len(records) == 0 {
		return nil, domain.ErrEmptyDataset
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	shuffled := make([]string, len(records))
	copy(shuffled, records)
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	total := len(shuffled)
	validSize := total * validPct / 100
	testSize := total * testPct / 100
	trainSize := total - validSize - testSize

	res := &SplitResult{
		TrainFile:  filepath.Join(outputDir, trainFileName),
		ValidFile:  filepath.Join(outputDir, validFileName),
		TestFile:   filepath.Join(outputDir, testFileName),
		Total:      total,
		TrainCount: trainSize,
		ValidCount: validSize,
		TestCount:  testSize,
	}

	splits := []struct {
		path    string
		records []string
	}{
		{res.TrainFile, shuffled[:trainSize]},
		{res.ValidFile, shuffled[trainSize : trainSize+validSize]},
		{res.TestFile, shuffled[trainSize+validSize:]},
	}
	for _, s := range splits {
		if err := writeJSONL(s.path, s.records); err != nil {
			return nil, err
		}
	}
	if err := validateJSONLFiles(res.TrainFile, res.ValidFile, res.TestFile); err != nil {
		return nil, err
	}
	return res, nil
}

// writeJSONL writes one record per line, overwriting any previous run's
// file. Records that are already JSON objects pass through; anything else is
// wrapped into a single text field.
func writeJSONL(path string, records []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, rec := range records {
		line := rec
		if !json.Valid([]byte(rec)) {
			wrapped, err := json.Marshal(map[string]string{"text": rec})
			if err != nil {
				return fmt.Errorf("wrap record for %s: %w", path, err)
			}
			line = string(wrapped)
		}
		if _, err := w.WriteString(line); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return w.Flush()
}

// validateJSONLFiles re-reads the written files and checks every line parses
// as JSON, so a malformed record fails the run before the trainer sees it.
func validateJSONLFiles(paths ...string) error {
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("validate %s: %w", path, err)
		}
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		lineNo := 0
		for sc.Scan() {
			lineNo++
			if !json.Valid(sc.Bytes()) {
				f.Close()
				return fmt.Errorf("invalid JSON in %s at line %d", path, lineNo)
			}
		}
		if err := sc.Err(); err != nil {
			f.Close()
			return fmt.Errorf("validate %s: %w", path, err)
		}
		f.Close()
	}
	return nil
}

// ClampBatchSize keeps the requested batch within every split, never below
// one. Requesting a batch larger than the smallest split is a known failure
// mode of the trainer.
func ClampBatchSize(requested, minSplit int) int {
	if minSplit < 1 {
		minSplit = 1
	}
	if requested < 1 {
		return 1
	}
	if requested > minSplit {
		return minSplit
	}
	return requested
}
