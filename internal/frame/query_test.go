package frame

import (
	"bufio"
	"bytes"
	"context"
	"testing"
)

func TestQueryFrameRoundTrip(t *testing.T) {
	ctx := context.Background()

	var buf bytes.Buffer
	payload := []byte(`[1,[],{}]`)
	if err := WriteResponseFrame(&buf, 42, payload); err != nil {
		t.Fatalf("WriteResponseFrame: %v", err)
	}

	qp, err := ReadQueryFrame(ctx, bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("ReadQueryFrame: %v", err)
	}

	if qp.Token != 42 {
		t.Fatalf("token: got %d want 42", qp.Token)
	}
	if string(qp.Payload) != string(payload) {
		t.Fatalf("payload: got %s want %s", qp.Payload, payload)
	}
}

func TestQueryFrameNoReplyFlag(t *testing.T) {
	ctx := context.Background()

	payload := []byte(`[1,[],{"noreply":true}]`)

	var buf bytes.Buffer
	if err := WriteResponseFrame(&buf, 7, payload); err != nil {
		t.Fatalf("WriteResponseFrame: %v", err)
	}

	qp, err := ReadQueryFrame(ctx, bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("ReadQueryFrame: %v", err)
	}
	if !qp.NoReply {
		t.Fatal("expected NoReply to be true")
	}
}

func TestQueryFrameOversizeRejected(t *testing.T) {
	ctx := context.Background()

	hdr := make([]byte, 12)
	hdr[8] = 0xff
	hdr[9] = 0xff
	hdr[10] = 0xff
	hdr[11] = 0xff // length = MaxUint32, far beyond MaxQueryFrame

	_, err := ReadQueryFrame(ctx, bufio.NewReader(bytes.NewReader(hdr)))
	if err == nil {
		t.Fatal("expected an error for an oversize frame")
	}
}
