package ipc

import (
	"testing"
)

func TestSendPendingAck(t *testing.T) {
	c := NewChannel(t.TempDir())

	if c.HasPendingFor("refactoring") {
		t.Fatal("fresh channel should be empty")
	}

	err := c.Send(Request{
		From:    "qa",
		To:      "refactoring",
		Subject: "Re-analysis requested",
		Body:    "QA found structural drift in internal/api.",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if !c.HasPendingFor("refactoring") {
		t.Fatal("request should be pending")
	}
	if c.HasPendingFor("coding") {
		t.Fatal("request addressed to refactoring must not appear for coding")
	}

	reqs, err := c.PendingFor("refactoring")
	if err != nil || len(reqs) != 1 {
		t.Fatalf("pending: %v %v", reqs, err)
	}
	got := reqs[0]
	if got.Subject != "Re-analysis requested" || got.From != "qa" || got.Body == "" {
		t.Fatalf("parsed request: %+v", got)
	}

	if err := c.Ack(got); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if c.HasPendingFor("refactoring") {
		t.Fatal("acked request still pending")
	}
}

func TestSendValidation(t *testing.T) {
	c := NewChannel(t.TempDir())
	if err := c.Send(Request{From: "qa"}); err == nil {
		t.Fatal("request without target must fail")
	}
}
