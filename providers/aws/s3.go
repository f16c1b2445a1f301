package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	api "github.com/stratus-io/stratus/pkg/provider"
)

type BucketConfig struct {
	Bucket       string `json:"bucket"`
	ForceDestroy bool   `json:"force_destroy"`
}

type BucketState struct {
	BucketName string `json:"bucket_name"`
	ARN        string `json:"arn"`
	// ObjectsARN matches every object in the bucket, for IAM statements
	// that grant object-level actions.
	ObjectsARN string `json:"objects_arn"`
	Region     string `json:"region"`
}

func (p *Provider) applyBucket(ctx context.Context, req *api.ApplyRequest) (*api.ApplyResponse, error) {
	// DELETE
	if req.DesiredConfigJSON == nil {
		var prior BucketState
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.BucketName == "" {
			return &api.ApplyResponse{}, nil
		}

		// A bucket must be empty before DeleteBucket succeeds.
		if err := p.emptyBucket(ctx, prior.BucketName); err != nil {
			return nil, err
		}

		_, err := p.s3Client.DeleteBucket(ctx, &s3.DeleteBucketInput{
			Bucket: &prior.BucketName,
		})
		if err != nil && !isErrorCode(err, "NoSuchBucket") {
			return nil, fmt.Errorf("failed to delete bucket: %w", err)
		}
		return &api.ApplyResponse{}, nil
	}

	var desired BucketConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	// CREATE / UPDATE. Bucket names are globally unique, so create is
	// idempotent as long as we own the name.
	input := &s3.CreateBucketInput{
		Bucket: &desired.Bucket,
	}
	if p.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(p.region),
		}
	}

	_, err := p.s3Client.CreateBucket(ctx, input)
	if err != nil && !isErrorCode(err, "BucketAlreadyOwnedByYou") {
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	newState := BucketState{
		BucketName: desired.Bucket,
		ARN:        fmt.Sprintf("arn:aws:s3:::%s", desired.Bucket),
		ObjectsARN: fmt.Sprintf("arn:aws:s3:::%s/*", desired.Bucket),
		Region:     p.region,
	}
	stateJSON, _ := json.Marshal(newState)

	return &api.ApplyResponse{NewStateJSON: stateJSON}, nil
}

// emptyBucket deletes every object in the bucket, page by page.
func (p *Provider) emptyBucket(ctx context.Context, bucket string) error {
	paginator := s3.NewListObjectsV2Paginator(p.s3Client, &s3.ListObjectsV2Input{
		Bucket: &bucket,
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			if isErrorCode(err, "NoSuchBucket") {
				return nil
			}
			return fmt.Errorf("failed to list bucket objects: %w", err)
		}
		if len(page.Contents) == 0 {
			continue
		}

		objects := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			objects = append(objects, types.ObjectIdentifier{Key: obj.Key})
		}

		_, err = p.s3Client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: &bucket,
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return fmt.Errorf("failed to delete bucket objects: %w", err)
		}
	}

	return nil
}

// isErrorCode reports whether err is an AWS API error with the given code.
func isErrorCode(err error, code string) bool {
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == code
}
