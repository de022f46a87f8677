package source

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type fakeTextDoc struct {
	pages []string
	read  []int
}

func (d *fakeTextDoc) NumPage() int { return len(d.pages) }

func (d *fakeTextDoc) Text(p int) (string, error) {
	d.read = append(d.read, p)
	if d.pages[p] == "ERR" {
		return "", errors.New("broken page")
	}
	return d.pages[p], nil
}

func (d *fakeTextDoc) Close() error { return nil }

func withTextDoc(t *testing.T, d *fakeTextDoc) {
	t.Helper()
	prev := openText
	openText = func(string) (textDoc, error) { return d, nil }
	t.Cleanup(func() { openText = prev })
}

func TestSamplePages(t *testing.T) {
	tests := []struct {
		total int
		want  []int
	}{
		{0, nil},
		{3, []int{0, 1, 2}},
		{5, []int{0, 1, 2, 3, 4}},
		{12, []int{0, 3, 6, 9, 11}},
		{6, []int{0, 1, 3, 4, 5}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, samplePages(tt.total)); diff != "" {
			t.Errorf("samplePages(%d) mismatch (-want +got):\n%s", tt.total, diff)
		}
	}
}

func TestProbeTextLayer(t *testing.T) {
	t.Run("text found early", func(t *testing.T) {
		d := &fakeTextDoc{pages: []string{strings.Repeat("x ", 60), "", "", "", "", "", "", "", "", ""}}
		withTextDoc(t, d)
		tl, err := ProbeTextLayer("exam.pdf", 50)
		if err != nil {
			t.Fatal(err)
		}
		if !tl.OK || tl.Chars != 60 {
			t.Errorf("expected ok with 60 chars, got %+v", tl)
		}
		if len(d.read) != 1 {
			t.Errorf("expected probe to stop after first page, read %v", d.read)
		}
	})
	t.Run("scanned", func(t *testing.T) {
		d := &fakeTextDoc{pages: []string{" \n", "ERR", "\t"}}
		withTextDoc(t, d)
		tl, err := ProbeTextLayer("scan.pdf", 0)
		if err != nil {
			t.Fatal(err)
		}
		if tl.OK || tl.Chars != 0 || !tl.Checked {
			t.Errorf("expected checked without text, got %+v", tl)
		}
	})
}
