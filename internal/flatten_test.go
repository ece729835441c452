package internal

import "testing"

// TestFlattenWebhookPayload tests that nested repository and sender objects
// flatten to dotted paths.
func TestFlattenWebhookPayload(t *testing.T) {
	input := map[string]interface{}{
		"action": "opened",
		"repository": map[string]interface{}{
			"full_name": "octo/repo",
			"owner": map[string]interface{}{
				"login": "octo",
			},
		},
		"sender": map[string]interface{}{
			"login": "octo",
		},
	}

	flat := Flatten(input)
	if flat["action"] != "opened" {
		t.Fatalf("expected top-level action, got %v", flat["action"])
	}
	if flat["repository.full_name"] != "octo/repo" {
		t.Fatalf("expected repository.full_name, got %v", flat["repository.full_name"])
	}
	if flat["repository.owner.login"] != "octo" {
		t.Fatalf("expected repository.owner.login, got %v", flat["repository.owner.login"])
	}
	if flat["sender.login"] != "octo" {
		t.Fatalf("expected sender.login, got %v", flat["sender.login"])
	}
}

// TestFlattenCommitsArray tests that arrays keep their whole value and
// expose indexed children.
func TestFlattenCommitsArray(t *testing.T) {
	input := map[string]interface{}{
		"ref": "refs/heads/main",
		"commits": []interface{}{
			map[string]interface{}{"id": "abc123", "distinct": true},
			map[string]interface{}{"id": "def456", "distinct": false},
		},
	}

	flat := Flatten(input)
	if _, ok := flat["commits"]; !ok {
		t.Fatalf("expected commits to keep its whole value")
	}
	if _, ok := flat["commits[]"]; !ok {
		t.Fatalf("expected commits[] alias to exist")
	}
	if flat["commits[0].id"] != "abc123" {
		t.Fatalf("expected commits[0].id, got %v", flat["commits[0].id"])
	}
	if flat["commits[1].distinct"] != false {
		t.Fatalf("expected commits[1].distinct to be false")
	}
	if flat["ref"] != "refs/heads/main" {
		t.Fatalf("expected ref to stay at top level, got %v", flat["ref"])
	}
}
