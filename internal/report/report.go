// Package report reads and writes the speech segment report: one line per
// clip, "<period_id> <mm:ss.ffff>--<mm:ss.ffff>", in emission order.
package report

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/andresmejia3/vocalis/internal/types"
)

const ticksPerSecond = 10000

// FormatTime renders seconds as mm:ss.ffff, truncated to the tenth of a millisecond.
// Minutes are not wrapped into hours.
func FormatTime(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	// The epsilon keeps values like 102.3 from truncating to 102.2999
	ticks := int64(math.Floor(sec*ticksPerSecond + 1e-6))
	minutes := ticks / (60 * ticksPerSecond)
	ticks %= 60 * ticksPerSecond
	return fmt.Sprintf("%02d:%02d.%04d", minutes, ticks/ticksPerSecond, ticks%ticksPerSecond)
}

// ParseTime reads a mm:ss.ffff value back into seconds.
func ParseTime(s string) (float64, error) {
	m, rest, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("time %q is not mm:ss.ffff", s)
	}
	minutes, err := strconv.Atoi(m)
	if err != nil || minutes < 0 {
		return 0, fmt.Errorf("bad minutes in %q", s)
	}
	seconds, err := strconv.ParseFloat(rest, 64)
	if err != nil || seconds < 0 || seconds >= 60 {
		return 0, fmt.Errorf("bad seconds in %q", s)
	}
	return float64(minutes)*60 + seconds, nil
}

// Line formats one report line without the trailing newline.
func Line(c types.Clip) string {
	return fmt.Sprintf("%d %s--%s", c.PeriodID, FormatTime(c.AbsoluteStart), FormatTime(c.AbsoluteEnd))
}

// Write emits one line per clip in the order given.
func Write(w io.Writer, clips []types.Clip) error {
	bw := bufio.NewWriter(w)
	for _, c := range clips {
		if _, err := fmt.Fprintln(bw, Line(c)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Save writes the report to path, replacing any previous file.
func Save(path string, clips []types.Clip) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, clips); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Parse reads a report. Clip indices are rebuilt from line order within each period.
func Parse(r io.Reader) ([]types.Clip, error) {
	var clips []types.Clip
	next := make(map[int]int)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		id, span, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("line %d: missing time range", lineNo)
		}
		periodID, err := strconv.Atoi(id)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad period id %q", lineNo, id)
		}
		from, to, ok := strings.Cut(strings.TrimSpace(span), "--")
		if !ok {
			return nil, fmt.Errorf("line %d: time range %q has no --", lineNo, span)
		}
		start, err := ParseTime(from)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		end, err := ParseTime(to)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if end < start {
			return nil, fmt.Errorf("line %d: end %s before start %s", lineNo, to, from)
		}

		clips = append(clips, types.Clip{
			PeriodID:      periodID,
			Index:         next[periodID],
			AbsoluteStart: start,
			AbsoluteEnd:   end,
		})
		next[periodID]++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return clips, nil
}

// Load parses the report at path.
func Load(path string) ([]types.Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}
