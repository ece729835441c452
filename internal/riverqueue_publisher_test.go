package internal

import "testing"

// TestForwardJobKind tests that each job carries the kind of the publisher
// that created it, independent of other publishers' configuration.
func TestForwardJobKind(t *testing.T) {
	defaults := &riverQueuePublisher{kind: "hookpulse.event"}
	custom := &riverQueuePublisher{kind: "ci.trigger"}

	a := forwardJobArgs{Topic: "push.main", kind: defaults.kind}
	b := forwardJobArgs{Topic: "pr.merged", kind: custom.kind}

	if a.Kind() != "hookpulse.event" {
		t.Fatalf("expected default kind, got %q", a.Kind())
	}
	if b.Kind() != "ci.trigger" {
		t.Fatalf("expected configured kind, got %q", b.Kind())
	}
	if a.Kind() == b.Kind() {
		t.Fatalf("expected kinds to stay independent per publisher")
	}
}
