package presence

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/andresmejia3/vocalis/internal/types"
)

// WriteSpans writes one "start end" line per span.
func WriteSpans(w io.Writer, spans []types.Span) error {
	bw := bufio.NewWriter(w)
	for _, s := range spans {
		if _, err := fmt.Fprintf(bw, "%d %d\n", s.Start, s.End); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadSpans parses whitespace separated integer pairs, one span per line. Blank lines are skipped.
func ReadSpans(r io.Reader) ([]types.Span, error) {
	var spans []types.Span
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: expected 2 fields, got %d", line, len(fields))
		}
		start, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid start: %w", line, err)
		}
		end, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid end: %w", line, err)
		}
		if start > end {
			return nil, fmt.Errorf("line %d: start %d is after end %d", line, start, end)
		}
		if n := len(spans); n > 0 && start <= spans[n-1].End {
			return nil, fmt.Errorf("line %d: period %d-%d overlaps or precedes %d-%d", line, start, end, spans[n-1].Start, spans[n-1].End)
		}
		spans = append(spans, types.Span{Start: start, End: end})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return spans, nil
}

// SaveSpans writes spans to a period file.
func SaveSpans(path string, spans []types.Span) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteSpans(f, spans); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadPeriods reads a period file and converts it to seconds.
func LoadPeriods(path string, clockRate float64) ([]types.PresencePeriod, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	spans, err := ReadSpans(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(spans) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyDetection)
	}
	return ToPeriods(spans, clockRate), nil
}
