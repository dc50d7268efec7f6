package errors

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantMsg string
		wantCat Category
	}{
		{
			name:    "config error",
			code:    "E101",
			wantMsg: "Invalid configuration",
			wantCat: CategoryConfig,
		},
		{
			name:    "cli error",
			code:    "E201",
			wantMsg: "Unknown benchmark scenario",
			wantCat: CategoryCLI,
		},
		{
			name:    "devtools error",
			code:    "E300",
			wantMsg: "Devtools server unreachable",
			wantCat: CategoryDevtools,
		},
		{
			name:    "unknown error code",
			code:    "E999",
			wantMsg: "Unknown error",
			wantCat: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code)
			if err.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", err.Message, tt.wantMsg)
			}
			if err.Category != tt.wantCat {
				t.Errorf("Category = %q, want %q", err.Category, tt.wantCat)
			}
			if err.Code != tt.code {
				t.Errorf("Code = %q, want %q", err.Code, tt.code)
			}
		})
	}
}

func TestNewf(t *testing.T) {
	err := Newf(CategoryCLI, "scenario %q not found", "fanout")
	if err.Message != `scenario "fanout" not found` {
		t.Errorf("Message = %q", err.Message)
	}
	if err.Code != "" {
		t.Errorf("Code = %q, want empty", err.Code)
	}
	if err.Error() != err.Message {
		t.Errorf("Error() = %q, want message only", err.Error())
	}
}

func TestWrapAndUnwrap(t *testing.T) {
	cause := stderrors.New("permission denied")
	err := New("E100").Wrap(cause)

	if !stderrors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
	if got := err.Error(); got != "E100: Failed to read configuration: permission denied" {
		t.Errorf("Error() = %q", got)
	}

	var ce *CodedError
	if !stderrors.As(error(err), &ce) || ce.Code != "E100" {
		t.Error("errors.As should find the coded error")
	}
}

func TestFromError(t *testing.T) {
	if FromError(nil, "E100") != nil {
		t.Error("FromError(nil) should return nil")
	}

	coded := New("E301")
	if FromError(coded, "E100") != coded {
		t.Error("FromError should return coded errors unchanged")
	}

	wrapped := FromError(stderrors.New("dial tcp: refused"), "E300")
	if wrapped.Code != "E300" || wrapped.Wrapped == nil {
		t.Errorf("unexpected wrapped error %+v", wrapped)
	}
}

func TestFormat(t *testing.T) {
	DisableColors()
	defer EnableColors()

	err := New("E101").
		WithDetail("log.level must be one of debug, info, warn, error").
		WithSuggestion(`Set "log.level: info" in lx.yaml`)

	out := err.Format()
	for _, want := range []string{
		"ERROR E101: Invalid configuration",
		"log.level must be one of debug, info, warn, error",
		`Hint: Set "log.level: info" in lx.yaml`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Format() missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\033[") {
		t.Error("Format() should not contain ANSI codes when colors are disabled")
	}
}

func TestFormatJSON(t *testing.T) {
	err := New("E300").Wrap(stderrors.New("refused")).WithSuggestion("Start the program with devtools enabled")

	var decoded map[string]string
	if e := json.Unmarshal([]byte(err.FormatJSON()), &decoded); e != nil {
		t.Fatalf("FormatJSON() is not valid JSON: %v", e)
	}
	if decoded["code"] != "E300" || decoded["category"] != "devtools" || decoded["cause"] != "refused" {
		t.Errorf("unexpected JSON %v", decoded)
	}
}

func TestWrapText(t *testing.T) {
	lines := wrapText("one two three four five six seven eight nine ten", 15)
	for _, line := range lines {
		if len(line) > 15 {
			t.Errorf("line %q exceeds width", line)
		}
	}
	if strings.Join(lines, " ") != "one two three four five six seven eight nine ten" {
		t.Errorf("wrapText lost words: %v", lines)
	}
	if wrapText("", 10) != nil {
		t.Error("wrapText of empty string should be nil")
	}
}

func TestPrint(t *testing.T) {
	DisableColors()
	defer EnableColors()

	var buf bytes.Buffer
	Print(&buf, New("E201"))
	if !strings.Contains(buf.String(), "ERROR E201: Unknown benchmark scenario") {
		t.Errorf("Print() coded = %q", buf.String())
	}

	buf.Reset()
	Print(&buf, stderrors.New("plain failure"))
	if !strings.Contains(buf.String(), "ERROR: plain failure") {
		t.Errorf("Print() plain = %q", buf.String())
	}
}

func TestLookup(t *testing.T) {
	for code, tmpl := range registry {
		if tmpl.Message == "" || tmpl.Category == "" {
			t.Errorf("%s: incomplete template %+v", code, tmpl)
		}
	}
	if _, ok := Lookup("E102"); !ok {
		t.Error("E102 should be registered")
	}
	if _, ok := Lookup("E001"); ok {
		t.Error("E001 should not be registered")
	}
}
