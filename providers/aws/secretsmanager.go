package aws

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stratus-io/stratus/internal/errdefs"
	api "github.com/stratus-io/stratus/pkg/provider"
)

// SecretConfig carries the secret by reference: ValueFrom names the
// environment variable holding the value, and ValueDigest is its SHA-256.
// The value itself never appears in configuration, state or logs.
type SecretConfig struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ValueFrom   string `json:"value_from"`
	ValueDigest string `json:"value_digest"`
}

type SecretState struct {
	ARN         string `json:"arn"`
	Name        string `json:"name"`
	VersionID   string `json:"version_id"`
	ValueDigest string `json:"value_digest"`
}

func (p *Provider) applySecret(ctx context.Context, req *api.ApplyRequest) (*api.ApplyResponse, error) {
	// DELETE
	if req.DesiredConfigJSON == nil {
		var prior SecretState
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.ARN != "" {
			_, err := p.secretsmanagerClient.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
				SecretId:                   &prior.ARN,
				ForceDeleteWithoutRecovery: aws.Bool(true),
			})
			if err != nil && !isErrorCode(err, "ResourceNotFoundException") {
				return nil, fmt.Errorf("failed to delete secret: %w", err)
			}
		}
		return &api.ApplyResponse{}, nil
	}

	var desired SecretConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	value := os.Getenv(desired.ValueFrom)
	if value == "" {
		return nil, errdefs.New(errdefs.ValidationError, "environment variable %s named by value_from is empty or unset", desired.ValueFrom)
	}

	input := &secretsmanager.CreateSecretInput{
		Name: &desired.Name,
	}
	if desired.Description != "" {
		input.Description = &desired.Description
	}

	var arn string
	resp, err := p.secretsmanagerClient.CreateSecret(ctx, input)
	if err != nil {
		if !isErrorCode(err, "ResourceExistsException") {
			return nil, fmt.Errorf("failed to create secret: %w", err)
		}
		existing, err := p.secretsmanagerClient.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
			SecretId: &desired.Name,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to describe existing secret: %w", err)
		}
		arn = *existing.ARN
	} else {
		arn = *resp.ARN
	}

	put, err := p.secretsmanagerClient.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     &arn,
		SecretString: &value,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to put secret value: %w", err)
	}

	digest := sha256.Sum256([]byte(value))

	newState := SecretState{
		ARN:         arn,
		Name:        desired.Name,
		VersionID:   *put.VersionId,
		ValueDigest: hex.EncodeToString(digest[:]),
	}
	stateJSON, _ := json.Marshal(newState)

	return &api.ApplyResponse{NewStateJSON: stateJSON}, nil
}
