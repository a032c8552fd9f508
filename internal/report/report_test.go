package report

import (
	"bytes"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andresmejia3/vocalis/internal/types"
)

func TestFormatTime(t *testing.T) {
	tests := []struct {
		sec  float64
		want string
	}{
		{0, "00:00.0000"},
		{9.5, "00:09.5000"},
		{102.0, "01:42.0000"},
		{102.3, "01:42.3000"},
		{59.99999, "00:59.9999"}, // truncated, not rounded into the next minute
		{3725.25, "62:05.2500"},
		{-1, "00:00.0000"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := FormatTime(tt.sec); got != tt.want {
				t.Errorf("FormatTime(%v) = %q, want %q", tt.sec, got, tt.want)
			}
		})
	}
}

func TestParseTime(t *testing.T) {
	got, err := ParseTime("01:49.5000")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-109.5) > 1e-9 {
		t.Errorf("ParseTime() = %v, want 109.5", got)
	}

	for _, bad := range []string{"", "1:2:3", "aa:10.0", "00:61.0", "-1:00.0", "00:x"} {
		if _, err := ParseTime(bad); err == nil {
			t.Errorf("ParseTime(%q) succeeded", bad)
		}
	}
}

func TestWriteAndParse(t *testing.T) {
	clips := []types.Clip{
		{PeriodID: 0, Index: 0, AbsoluteStart: 102.0, AbsoluteEnd: 109.5},
		{PeriodID: 0, Index: 1, AbsoluteStart: 115.25, AbsoluteEnd: 130},
		{PeriodID: 3, Index: 0, AbsoluteStart: 600, AbsoluteEnd: 612.0625},
	}

	var buf bytes.Buffer
	if err := Write(&buf, clips); err != nil {
		t.Fatal(err)
	}

	want := "0 01:42.0000--01:49.5000\n" +
		"0 01:55.2500--02:10.0000\n" +
		"3 10:00.0000--10:12.0625\n"
	if buf.String() != want {
		t.Errorf("Write() =\n%s\nwant\n%s", buf.String(), want)
	}

	got, err := Parse(strings.NewReader(buf.String()))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(got) != len(clips) {
		t.Fatalf("Parse() returned %d clips, want %d", len(got), len(clips))
	}
	for i := range clips {
		if got[i].PeriodID != clips[i].PeriodID || got[i].Index != clips[i].Index {
			t.Errorf("clip %d identity = (%d,%d), want (%d,%d)", i, got[i].PeriodID, got[i].Index, clips[i].PeriodID, clips[i].Index)
		}
		if math.Abs(got[i].AbsoluteStart-clips[i].AbsoluteStart) > 1e-4 || math.Abs(got[i].AbsoluteEnd-clips[i].AbsoluteEnd) > 1e-4 {
			t.Errorf("clip %d times = %v-%v", i, got[i].AbsoluteStart, got[i].AbsoluteEnd)
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"No range", "0\n"},
		{"Bad id", "x 00:01.0000--00:02.0000\n"},
		{"No separator", "0 00:01.0000-00:02.0000\n"},
		{"Bad start", "0 zz--00:02.0000\n"},
		{"End before start", "0 00:05.0000--00:02.0000\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(strings.NewReader(tt.input)); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

func TestParseSkipsBlankLines(t *testing.T) {
	clips, err := Parse(strings.NewReader("\n1 00:00.0000--00:08.0000\n\n"))
	if err != nil || len(clips) != 1 {
		t.Fatalf("Parse() = %v, %v", clips, err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speech_seg")
	clips := []types.Clip{{PeriodID: 2, AbsoluteStart: 61, AbsoluteEnd: 70}}
	if err := Save(path, clips); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].PeriodID != 2 {
		t.Errorf("Load() = %v", got)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing report")
	}
}
