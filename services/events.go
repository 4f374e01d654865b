package services

import (
	"encoding/json"
	"errors"

	"github.com/google/go-github/v57/github"
)

// EventKind tags which payload a Delivery carries.
type EventKind string

const (
	KindPing         EventKind = "ping"
	KindPush         EventKind = "push"
	KindPullRequest  EventKind = "pull_request"
	KindIssues       EventKind = "issues"
	KindIssueComment EventKind = "issue_comment"
	KindOther        EventKind = "other"
)

var ErrMalformedPayload = errors.New("payload is not a JSON object")

// Delivery is one inbound GitHub webhook. Exactly one of the typed payloads is set
// for a known kind; KindOther keeps only the generic body.
type Delivery struct {
	ID         string
	Type       string
	Kind       EventKind
	Repository string
	Raw        []byte
	Body       map[string]interface{}

	Ping         *github.PingEvent
	Push         *github.PushEvent
	PullRequest  *github.PullRequestEvent
	Issues       *github.IssuesEvent
	IssueComment *github.IssueCommentEvent
}

// ParseDelivery validates the body is a JSON object and decodes the typed payload.
// A known type that fails typed decoding degrades to KindOther.
func ParseDelivery(eventType, deliveryID string, raw []byte) (*Delivery, error) {
	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil || body == nil {
		return nil, ErrMalformedPayload
	}

	d := &Delivery{
		ID:         deliveryID,
		Type:       eventType,
		Kind:       KindOther,
		Repository: repositoryFullName(body),
		Raw:        raw,
		Body:       body,
	}

	switch eventType {
	case "ping", "push", "pull_request", "issues", "issue_comment":
	default:
		return d, nil
	}

	event, err := github.ParseWebHook(eventType, raw)
	if err != nil {
		return d, nil
	}
	switch e := event.(type) {
	case *github.PingEvent:
		d.Kind, d.Ping = KindPing, e
	case *github.PushEvent:
		d.Kind, d.Push = KindPush, e
	case *github.PullRequestEvent:
		d.Kind, d.PullRequest = KindPullRequest, e
	case *github.IssuesEvent:
		d.Kind, d.Issues = KindIssues, e
	case *github.IssueCommentEvent:
		d.Kind, d.IssueComment = KindIssueComment, e
	}
	return d, nil
}

// IsMergedPullRequest reports a pull request closed by merging.
func (d *Delivery) IsMergedPullRequest() bool {
	if d.Kind != KindPullRequest || d.PullRequest == nil {
		return false
	}
	return d.PullRequest.GetAction() == "closed" && d.PullRequest.GetPullRequest().GetMerged()
}

func repositoryFullName(body map[string]interface{}) string {
	repo, ok := body["repository"].(map[string]interface{})
	if !ok {
		return ""
	}
	name, _ := repo["full_name"].(string)
	return name
}
