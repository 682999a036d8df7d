package ocr

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"testing"

	"github.com/docmill/docmill/toolrun"
)

func tsvRow(level, block, par, line, wordNum int, conf, text string) string {
	return strings.Join([]string{
		strconv.Itoa(level), "1", strconv.Itoa(block), strconv.Itoa(par),
		strconv.Itoa(line), strconv.Itoa(wordNum), "0", "0", "10", "10", conf, text,
	}, "\t")
}

func tsvDoc(rows ...string) []byte {
	header := strings.Join([]string{
		"level", "page_num", "block_num", "par_num", "line_num", "word_num",
		"left", "top", "width", "height", "conf", "text",
	}, "\t")
	return []byte(header + "\n" + strings.Join(rows, "\n") + "\n")
}

func sampleTSV() []byte {
	return tsvDoc(
		tsvRow(1, 0, 0, 0, 0, "-1", ""),
		tsvRow(4, 1, 1, 1, 0, "-1", ""),
		tsvRow(5, 1, 1, 1, 1, "96.52", "Hello"),
		tsvRow(5, 1, 1, 1, 2, "91.20", "world"),
		tsvRow(4, 1, 1, 2, 0, "-1", ""),
		tsvRow(5, 1, 1, 2, 1, "88.00", "Привет"),
		tsvRow(5, 1, 1, 2, 2, "85.50", "мир"),
	)
}

type fakeRunner struct {
	invs []toolrun.Invocation
	run  func(call int, inv toolrun.Invocation) (toolrun.Result, error)
}

func (f *fakeRunner) Run(ctx context.Context, inv toolrun.Invocation) (toolrun.Result, error) {
	call := len(f.invs)
	f.invs = append(f.invs, inv)
	return f.run(call, inv)
}

func TestParseTSV(t *testing.T) {
	words := parseTSV(sampleTSV())
	if len(words) != 4 {
		t.Fatalf("got %d words, want 4", len(words))
	}
	if words[0].text != "Hello" || math.Abs(words[0].conf-0.9652) > 1e-9 {
		t.Fatalf("words[0] = %+v", words[0])
	}
	if words[2].line != 2 {
		t.Fatalf("words[2].line = %d, want 2", words[2].line)
	}
}

func TestRecognizeSinglePage(t *testing.T) {
	f := &fakeRunner{run: func(call int, inv toolrun.Invocation) (toolrun.Result, error) {
		return toolrun.Result{ExitCode: 0, Stdout: sampleTSV()}, nil
	}}
	e := New(Config{}, f)

	res, err := e.Recognize(context.Background(), Request{
		Images:    []PageRef{{Page: 1, Path: "page-1.png"}},
		Languages: []string{"eng", "rus"},
	})
	if err != nil {
		t.Fatal(err)
	}

	args := f.invs[0].Args
	wantArgs := []string{"page-1.png", "stdout", "-l", "eng+rus", "--oem", "1", "--psm", "3", "tsv"}
	if strings.Join(args, " ") != strings.Join(wantArgs, " ") {
		t.Fatalf("args = %v, want %v", args, wantArgs)
	}

	if len(res.Pages) != 1 {
		t.Fatalf("pages = %d, want 1", len(res.Pages))
	}
	page := res.Pages[0]
	if page.Text != "Hello world\nПривет мир" {
		t.Fatalf("text = %q", page.Text)
	}
	if len(page.Spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(page.Spans))
	}
	if page.Spans[0].Language != "eng" {
		t.Errorf("span 0 language = %q, want eng", page.Spans[0].Language)
	}
	if page.Spans[1].Language != "rus" {
		t.Errorf("span 1 language = %q, want rus", page.Spans[1].Language)
	}

	wantSpan0 := (0.9652 + 0.9120) / 2
	if math.Abs(page.Spans[0].Confidence-wantSpan0) > 1e-9 {
		t.Errorf("span 0 confidence = %v, want %v", page.Spans[0].Confidence, wantSpan0)
	}
	wantPage := (wantSpan0 + (0.8800+0.8550)/2) / 2
	if math.Abs(page.Confidence-wantPage) > 1e-9 {
		t.Errorf("page confidence = %v, want %v", page.Confidence, wantPage)
	}
	if math.Abs(res.Confidence-wantPage) > 1e-9 {
		t.Errorf("overall confidence = %v, want %v", res.Confidence, wantPage)
	}
}

func TestRecognizeOrdersAndCapsPages(t *testing.T) {
	f := &fakeRunner{run: func(call int, inv toolrun.Invocation) (toolrun.Result, error) {
		return toolrun.Result{ExitCode: 0, Stdout: tsvDoc(tsvRow(5, 1, 1, 1, 1, "90.00", "x"))}, nil
	}}
	e := New(Config{}, f)

	var images []PageRef
	for p := 35; p >= 1; p-- {
		images = append(images, PageRef{Page: p, Path: fmt.Sprintf("page-%d.png", p)})
	}
	res, err := e.Recognize(context.Background(), Request{Images: images})
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Pages) != DefaultMaxPages {
		t.Fatalf("pages = %d, want %d", len(res.Pages), DefaultMaxPages)
	}
	for i, p := range res.Pages {
		if p.Page != i+1 {
			t.Fatalf("pages[%d].Page = %d, want %d (sorted ascending)", i, p.Page, i+1)
		}
	}
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "capped at 30 of 35") {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing cap warning, got %v", res.Warnings)
	}
}

func TestRecognizeToleratesFailedPage(t *testing.T) {
	f := &fakeRunner{run: func(call int, inv toolrun.Invocation) (toolrun.Result, error) {
		if strings.Contains(inv.Args[0], "page-2") {
			return toolrun.Result{ExitCode: 1, Stderr: []byte("Error in pixReadStream")}, nil
		}
		return toolrun.Result{ExitCode: 0, Stdout: tsvDoc(tsvRow(5, 1, 1, 1, 1, "90.00", "ok"))}, nil
	}}
	e := New(Config{}, f)

	res, err := e.Recognize(context.Background(), Request{Images: []PageRef{
		{Page: 1, Path: "page-1.png"},
		{Page: 2, Path: "page-2.png"},
		{Page: 3, Path: "page-3.png"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Pages) != 3 {
		t.Fatalf("pages = %d, want 3 (failed page still recorded)", len(res.Pages))
	}
	if res.Pages[1].Text != "" {
		t.Fatalf("failed page text = %q, want empty", res.Pages[1].Text)
	}
	if len(res.Warnings) == 0 || !strings.Contains(res.Warnings[0], "page 2") {
		t.Fatalf("warnings = %v", res.Warnings)
	}
	// Pages 1 and 3 succeed first try; the crash on page 2 is retried once.
	if len(f.invs) != 4 {
		t.Fatalf("invocations = %d, want 4", len(f.invs))
	}
}

func TestRecognizeAllPagesFailed(t *testing.T) {
	f := &fakeRunner{run: func(call int, inv toolrun.Invocation) (toolrun.Result, error) {
		return toolrun.Result{ExitCode: 1, Stderr: []byte("Cannot open input file")}, nil
	}}
	e := New(Config{}, f)

	_, err := e.Recognize(context.Background(), Request{Images: []PageRef{
		{Page: 1, Path: "page-1.png"},
	}})
	if err == nil {
		t.Fatal("expected error when every page fails")
	}
	if len(f.invs) != 1 {
		t.Fatalf("invocations = %d, want 1 (refused input is not retried)", len(f.invs))
	}
}

func TestRecognizeEmptyRequest(t *testing.T) {
	e := New(Config{}, &fakeRunner{})
	if _, err := e.Recognize(context.Background(), Request{}); err == nil {
		t.Fatal("expected error for empty request")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		exit   int
		stderr string
		want   toolrun.Kind
	}{
		{1, "Cannot open input file page-1.png", toolrun.KindRefusedInput},
		{1, "Image file corrupt", toolrun.KindRefusedInput},
		{1, "terminate called: out of memory", toolrun.KindResourceExhausted},
		{1, "Failed loading language 'xyz'", toolrun.KindCrashed},
		{139, "", toolrun.KindCrashed},
	}
	for _, tt := range tests {
		te := classify(toolrun.Result{ExitCode: tt.exit, Stderr: []byte(tt.stderr)})
		if te == nil || te.Kind != tt.want {
			t.Errorf("classify(exit %d, %q) = %v, want kind %s", tt.exit, tt.stderr, te, tt.want)
		}
	}
	if classify(toolrun.Result{ExitCode: 0}) != nil {
		t.Error("classify(exit 0) should be nil")
	}
}

func TestAttributeLanguage(t *testing.T) {
	tests := []struct {
		text  string
		langs []string
		want  string
	}{
		{"plain english text", []string{"eng", "rus"}, "eng"},
		{"чисто русский текст", []string{"eng", "rus"}, "rus"},
		{"mixed русский dominates здесь точно", []string{"eng", "rus"}, "rus"},
		{"only one", []string{"deu"}, "deu"},
		{"12345", []string{"eng", "rus"}, "eng"},
		{"中文文档", []string{"eng", "chi_sim"}, "chi_sim"},
		{"ひらがなのテキスト", []string{"eng", "jpn"}, "jpn"},
		{"שלום עולם", []string{"eng", "heb"}, "heb"},
	}
	for _, tt := range tests {
		if got := attributeLanguage(tt.text, tt.langs); got != tt.want {
			t.Errorf("attributeLanguage(%q, %v) = %q, want %q", tt.text, tt.langs, got, tt.want)
		}
	}
}
