package ingress

import (
	"encoding/json"
	"fmt"
	"strings"
)

// zeroCommit is the forty-zero-byte hash forges send as the post-commit hash on branch deletion.
const zeroCommit = "0000000000000000000000000000000000000000"

// eventKind is the parsed intent of a webhook delivery.
type eventKind int

const (
	eventIgnored eventKind = iota
	eventBuild
	eventTeardownBranch
)

// parsedEvent is a normalized push or pull-request event, independent of the source platform.
type parsedEvent struct {
	Kind      eventKind
	GitRef    string // branch name used as the deployment's ref key, e.g. "main" or "pr-7"
	CommitSHA string
	Pusher    string
}

type pushPayload struct {
	Ref    string `json:"ref"`
	After  string `json:"after"`
	Pusher struct {
		Name     string `json:"name"`
		Username string `json:"username"`
	} `json:"pusher"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
}

type pullRequestPayload struct {
	Action      string `json:"action"`
	Number      int    `json:"number"`
	PullRequest struct {
		Head struct {
			Sha string `json:"sha"`
		} `json:"head"`
	} `json:"pull_request"`
}

// parseEvent dispatches on the platform event header and decodes body accordingly.
func parseEvent(eventHeader string, body []byte) (parsedEvent, error) {
	switch strings.ToLower(eventHeader) {
	case "push":
		return parsePush(body)
	case "pull_request":
		return parsePullRequest(body)
	default:
		return parsedEvent{}, fmt.Errorf("unsupported event kind %q", eventHeader)
	}
}

func parsePush(body []byte) (parsedEvent, error) {
	var p pushPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return parsedEvent{}, fmt.Errorf("decode push event: %w", err)
	}
	ref := strings.TrimPrefix(p.Ref, "refs/heads/")
	if ref == "" {
		return parsedEvent{}, fmt.Errorf("push event missing ref")
	}
	pusher := p.Pusher.Name
	if pusher == "" {
		pusher = p.Pusher.Username
	}
	if pusher == "" {
		pusher = p.Sender.Login
	}

	if p.After == zeroCommit {
		return parsedEvent{Kind: eventTeardownBranch, GitRef: ref}, nil
	}
	return parsedEvent{Kind: eventBuild, GitRef: ref, CommitSHA: p.After, Pusher: pusher}, nil
}

func parsePullRequest(body []byte) (parsedEvent, error) {
	var p pullRequestPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return parsedEvent{}, fmt.Errorf("decode pull_request event: %w", err)
	}
	if p.Number == 0 {
		return parsedEvent{}, fmt.Errorf("pull_request event missing number")
	}
	ref := fmt.Sprintf("pr-%d", p.Number)

	switch p.Action {
	case "opened", "reopened", "synchronize", "synchronized":
		if p.PullRequest.Head.Sha == "" {
			return parsedEvent{}, fmt.Errorf("pull_request event missing head sha")
		}
		return parsedEvent{Kind: eventBuild, GitRef: ref, CommitSHA: p.PullRequest.Head.Sha}, nil
	case "closed":
		return parsedEvent{Kind: eventTeardownBranch, GitRef: ref}, nil
	default:
		return parsedEvent{Kind: eventIgnored, GitRef: ref}, nil
	}
}
