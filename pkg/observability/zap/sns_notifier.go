package zap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/theory-cloud/layertheory/pkg/observability"
)

const (
	maxSubjectLength = 100
	maxMessageBytes  = 256 * 1024
)

type snsAPI interface {
	Publish(
		ctx context.Context,
		params *sns.PublishInput,
		optFns ...func(*sns.Options),
	) (*sns.PublishOutput, error)
}

// SNSNotifier publishes one message per run summarizing its errors.
type SNSNotifier struct {
	client   snsAPI
	topicARN string
	subject  string
}

var _ observability.ErrorNotifier = (*SNSNotifier)(nil)

// NewSNSNotifier publishes to topicARN. An empty subject is derived from the
// run.
func NewSNSNotifier(client snsAPI, topicARN, subject string) *SNSNotifier {
	return &SNSNotifier{
		client:   client,
		topicARN: strings.TrimSpace(topicARN),
		subject:  strings.TrimSpace(subject),
	}
}

type runDigest struct {
	RunID   string                   `json:"run_id,omitempty"`
	Stacks  []string                 `json:"stacks,omitempty"`
	Layers  []string                 `json:"layers,omitempty"`
	Errors  []observability.LogEntry `json:"errors"`
	Omitted int                      `json:"omitted,omitempty"`
	CI      map[string]string        `json:"ci,omitempty"`
}

func (n *SNSNotifier) Notify(ctx context.Context, entries []observability.LogEntry) error {
	if n.client == nil || n.topicARN == "" {
		return errors.New("sns notifier needs a client and a topic arn")
	}
	if len(entries) == 0 {
		return nil
	}

	digest := newRunDigest(entries)
	body, err := encodeDigest(digest)
	if err != nil {
		return err
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Subject:  aws.String(n.subjectFor(digest)),
		Message:  aws.String(body),
	}
	if digest.RunID != "" {
		input.MessageAttributes = map[string]types.MessageAttributeValue{
			"run_id": {DataType: aws.String("String"), StringValue: aws.String(digest.RunID)},
		}
	}
	_, err = n.client.Publish(ctx, input)
	return err
}

func newRunDigest(entries []observability.LogEntry) runDigest {
	d := runDigest{Errors: entries, CI: ciEnvironment()}
	stacks, layers := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		if d.RunID == "" {
			d.RunID = e.RunID
		}
		if e.Stack != "" {
			stacks[e.Stack] = true
		}
		if e.Layer != "" {
			layers[e.Layer] = true
		}
	}
	d.Stacks = sortedKeys(stacks)
	d.Layers = sortedKeys(layers)
	return d
}

// encodeDigest drops trailing errors until the message fits SNS's size limit.
func encodeDigest(d runDigest) (string, error) {
	for {
		body, err := json.Marshal(d)
		if err != nil {
			return "", fmt.Errorf("encode sns message: %w", err)
		}
		if len(body) <= maxMessageBytes || len(d.Errors) <= 1 {
			if len(body) > maxMessageBytes {
				body = body[:maxMessageBytes]
			}
			return string(body), nil
		}
		d.Errors = d.Errors[:len(d.Errors)-1]
		d.Omitted++
	}
}

func (n *SNSNotifier) subjectFor(d runDigest) string {
	subject := n.subject
	if subject == "" {
		subject = fmt.Sprintf("layertheory: %d error(s)", len(d.Errors)+d.Omitted)
		if len(d.Stacks) == 1 {
			subject += " in " + d.Stacks[0]
		}
	}
	subject = observability.SanitizeLogString(subject)
	if len(subject) > maxSubjectLength {
		subject = subject[:maxSubjectLength]
	}
	return subject
}

func ciEnvironment() map[string]string {
	out := map[string]string{}
	for _, key := range []string{"AWS_REGION", "CODEBUILD_BUILD_ID", "GITHUB_RUN_ID", "GITHUB_REPOSITORY"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			out[strings.ToLower(key)] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
