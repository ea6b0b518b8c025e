package events

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

type sqsPublisher struct {
	client   sqsAPI
	queueURL string
}

// NewSQSPublisher loads AWS credentials from the default chain.
func NewSQSPublisher(ctx context.Context, queueURL string) (Publisher, error) {
	if queueURL == "" {
		return nil, fmt.Errorf("sqs queue url is required")
	}
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := sqs.New(sqs.Options{
		Region:       cfg.Region,
		Credentials:  cfg.Credentials,
		HTTPClient:   cfg.HTTPClient,
		BaseEndpoint: cfg.BaseEndpoint,
	})
	return &sqsPublisher{client: client, queueURL: queueURL}, nil
}

func (p *sqsPublisher) PublishUrgent(ctx context.Context, evt UrgentSideEffect) error {
	body, err := evt.encode()
	if err != nil {
		return err
	}
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"type": {DataType: aws.String("String"), StringValue: aws.String(TypeUrgentSideEffect)},
		},
	})
	if err != nil {
		return fmt.Errorf("sqs publish: %w", err)
	}
	return nil
}

func (p *sqsPublisher) Close() error { return nil }
