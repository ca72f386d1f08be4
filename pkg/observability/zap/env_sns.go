package zap

import (
	"context"
	"fmt"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/theory-cloud/layertheory/pkg/observability"
)

// Environment variables read by NotifierFromEnvironment. The first topic
// variable that is set wins.
const (
	TopicARNEnv       = "LAYERTHEORY_ERROR_NOTIFICATIONS_TOPIC_ARN"
	SharedTopicARNEnv = "ERROR_NOTIFICATIONS_TOPIC_ARN"
	SubjectEnv        = "LAYERTHEORY_ERROR_NOTIFICATIONS_SUBJECT"
)

// NotifierFromEnvironment returns an SNS notifier for the configured topic,
// or nil when no topic is set.
func NotifierFromEnvironment(ctx context.Context) (observability.ErrorNotifier, error) {
	topicARN := envValue(TopicARNEnv)
	if topicARN == "" {
		topicARN = envValue(SharedTopicARNEnv)
	}
	if topicARN == "" {
		return nil, nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("layertheory/zap: load aws config: %w", err)
	}
	return NewSNSNotifier(sns.NewFromConfig(cfg), topicARN, envValue(SubjectEnv)), nil
}

func envValue(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
