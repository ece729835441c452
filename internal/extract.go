package internal

import (
	"strings"

	"hookpulse/pkg/storage"

	"github.com/go-playground/webhooks/v6/github"
	"github.com/tidwall/gjson"
)

type extractFunc func(action string, payload gjson.Result) storage.EventMetadata

// extractors maps each event type to its metadata derivation. Event types
// without an entry store the raw payload with all metadata fields absent.
var extractors = map[github.Event]extractFunc{
	github.PushEvent:                     extractPush,
	github.PullRequestEvent:              extractPullRequest,
	github.PullRequestReviewEvent:        extractPullRequestReview,
	github.PullRequestReviewCommentEvent: extractReviewComment,
	github.IssueCommentEvent:             extractIssueComment,
	github.IssuesEvent:                   extractIssues,
	github.CreateEvent:                   extractRef,
	github.DeleteEvent:                   extractRef,
}

// ExtractMetadata derives the event-type-specific metadata from the raw
// payload. It is pure and total: unknown event types and missing or
// malformed payload paths yield absent fields, never an error, so
// extraction can never abort ingestion.
func ExtractMetadata(eventType string, payload []byte) storage.EventMetadata {
	fn, ok := extractors[github.Event(eventType)]
	if !ok {
		return storage.EventMetadata{}
	}
	parsed := gjson.ParseBytes(payload)
	return fn(parsed.Get("action").String(), parsed)
}

func extractPush(_ string, payload gjson.Result) storage.EventMetadata {
	meta := storage.EventMetadata{
		CommitSHA:     strField(payload, "head_commit.id"),
		CommitMessage: strField(payload, "head_commit.message"),
	}
	if ref := payload.Get("ref"); ref.Exists() {
		branch := strings.TrimPrefix(ref.String(), "refs/heads/")
		meta.Branch = &branch
	}
	return meta
}

func extractPullRequest(action string, payload gjson.Result) storage.EventMetadata {
	meta := storage.EventMetadata{
		PullRequestNumber: intField(payload, "pull_request.number"),
		Branch:            strField(payload, "pull_request.head.ref"),
		CommitSHA:         strField(payload, "pull_request.head.sha"),
		PRTitle:           strField(payload, "pull_request.title"),
		PRBody:            strField(payload, "pull_request.body"),
	}
	if action == "closed" && payload.Get("pull_request.merged").Bool() {
		meta.MergeCommitSHA = strField(payload, "pull_request.merge_commit_sha")
	}
	return meta
}

func extractPullRequestReview(_ string, payload gjson.Result) storage.EventMetadata {
	return storage.EventMetadata{
		PullRequestNumber: intField(payload, "pull_request.number"),
		ReviewState:       strField(payload, "review.state"),
		ReviewBody:        strField(payload, "review.body"),
		PRTitle:           strField(payload, "pull_request.title"),
	}
}

func extractReviewComment(_ string, payload gjson.Result) storage.EventMetadata {
	return storage.EventMetadata{
		PullRequestNumber: intField(payload, "pull_request.number"),
		CommentBody:       strField(payload, "comment.body"),
		PRTitle:           strField(payload, "pull_request.title"),
	}
}

func extractIssueComment(_ string, payload gjson.Result) storage.EventMetadata {
	meta := storage.EventMetadata{
		CommentBody: strField(payload, "comment.body"),
	}
	// An issue that carries a pull_request marker is a PR conversation.
	if payload.Get("issue.pull_request").Exists() {
		meta.PullRequestNumber = intField(payload, "issue.number")
		meta.PRTitle = strField(payload, "issue.title")
	} else {
		meta.IssueNumber = intField(payload, "issue.number")
	}
	return meta
}

func extractIssues(_ string, payload gjson.Result) storage.EventMetadata {
	return storage.EventMetadata{
		IssueNumber: intField(payload, "issue.number"),
	}
}

// extractRef keeps the ref as sent; create and delete events carry bare
// branch or tag names, not refs/heads/ paths.
func extractRef(_ string, payload gjson.Result) storage.EventMetadata {
	return storage.EventMetadata{
		Branch: strField(payload, "ref"),
	}
}

func strField(payload gjson.Result, path string) *string {
	value := payload.Get(path)
	if !value.Exists() || value.Type == gjson.Null {
		return nil
	}
	s := value.String()
	return &s
}

func intField(payload gjson.Result, path string) *int64 {
	value := payload.Get(path)
	if !value.Exists() || value.Type == gjson.Null {
		return nil
	}
	n := value.Int()
	return &n
}
