package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// AWSClients bundles all service clients. Built once per process and shared read-only.
type AWSClients struct {
	DynamoDB   DynamoDBAPI
	SQS        SQSAPI
	CloudWatch CloudWatchAPI
	S3         S3API
	Presign    PresignAPI
}

// NewAWSClients loads AWS config and returns concrete service clients that implement our interfaces.
// A non-empty endpoint points every client at it (localstack) and switches S3 to path-style addressing.
func NewAWSClients(ctx context.Context, region, endpoint string) (*AWSClients, error) {
	cfg, err := LoadAWSConfig(ctx, region, endpoint)
	if err != nil {
		return nil, err
	}

	s3Client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = endpoint != ""
	})

	return &AWSClients{
		DynamoDB:   dynamodb.NewFromConfig(cfg),
		SQS:        sqs.NewFromConfig(cfg),
		CloudWatch: cloudwatch.NewFromConfig(cfg),
		S3:         s3Client,
		Presign:    s3.NewPresignClient(s3Client),
	}, nil
}
