package frame

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/robertjpayne/rethinkdb/internal/errcode"
)

func TestWriteReadJSONRoundTrip(t *testing.T) {
	ctx := context.Background()

	cases := []map[string]interface{}{
		{"success": true},
		{"a": 1.0, "b": []interface{}{1.0, 2.0, 3.0}},
		{"nested": map[string]interface{}{"x": "y"}},
	}

	for _, in := range cases {
		var buf bytes.Buffer
		if err := WriteJSON(ctx, &buf, in); err != nil {
			t.Fatalf("WriteJSON: %v", err)
		}
		if buf.Bytes()[buf.Len()-1] != 0x00 {
			t.Fatalf("expected NUL terminator, got %v", buf.Bytes())
		}

		var out map[string]interface{}
		r := bufio.NewReader(&buf)
		if err := ReadJSON(ctx, r, &out); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}

		for k, v := range in {
			if out[k] == nil {
				t.Fatalf("missing key %q in round-tripped value %v", k, out)
			}
			_ = v
		}
	}
}

func TestReadJSONTooLarge(t *testing.T) {
	ctx := context.Background()

	body := strings.Repeat("a", MaxJSONFrame+1)
	r := bufio.NewReader(strings.NewReader(body)) // no NUL terminator within the cap

	var out interface{}
	err := ReadJSON(ctx, r, &out)
	if err == nil {
		t.Fatal("expected an error for an over-large frame")
	}
	if !errcode.IsCode(err, errcode.CodeJSONFrameTooLarge) {
		t.Fatalf("expected CodeJSONFrameTooLarge, got %v", err)
	}
}

func TestReadJSONInvalidSyntax(t *testing.T) {
	ctx := context.Background()
	r := bufio.NewReader(strings.NewReader("{not json}\x00"))

	var out interface{}
	if err := ReadJSON(ctx, r, &out); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestFormatLegacyError(t *testing.T) {
	got := FormatLegacyError("Incorrect authorization key.")
	want := "ERROR: Incorrect authorization key.\n\x00"
	if string(got) != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestSuccessBannerShape(t *testing.T) {
	if len(SuccessBanner) != 8 {
		t.Fatalf("expected 8 bytes (SUCCESS + NUL), got %d", len(SuccessBanner))
	}
	if string(SuccessBanner[:7]) != "SUCCESS" || SuccessBanner[7] != 0x00 {
		t.Fatalf("unexpected banner bytes: %v", SuccessBanner)
	}
}
