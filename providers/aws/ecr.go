package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ecr"
	api "github.com/stratus-io/stratus/pkg/provider"
)

type RepositoryConfig struct {
	RepositoryName string `json:"repository_name"`
}

type RepositoryState struct {
	RepositoryName string `json:"repository_name"`
	RepositoryURL  string `json:"repository_url"`
	RegistryID     string `json:"registry_id"`
	ARN            string `json:"arn"`
}

func (p *Provider) applyRepository(ctx context.Context, req *api.ApplyRequest) (*api.ApplyResponse, error) {
	// DELETE
	if req.DesiredConfigJSON == nil {
		var prior RepositoryState
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.RepositoryName != "" {
			// Force removes the images along with the repository.
			_, err := p.ecrClient.DeleteRepository(ctx, &ecr.DeleteRepositoryInput{
				RepositoryName: &prior.RepositoryName,
				Force:          true,
			})
			if err != nil && !isErrorCode(err, "RepositoryNotFoundException") {
				return nil, fmt.Errorf("failed to delete repository: %w", err)
			}
		}
		return &api.ApplyResponse{}, nil
	}

	var desired RepositoryConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	newState := RepositoryState{RepositoryName: desired.RepositoryName}

	resp, err := p.ecrClient.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName: &desired.RepositoryName,
	})
	if err != nil {
		if !isErrorCode(err, "RepositoryAlreadyExistsException") {
			return nil, fmt.Errorf("failed to create repository: %w", err)
		}
		describe, err := p.ecrClient.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
			RepositoryNames: []string{desired.RepositoryName},
		})
		if err != nil || len(describe.Repositories) == 0 {
			return nil, fmt.Errorf("failed to describe existing repository: %w", err)
		}
		repo := describe.Repositories[0]
		newState.RepositoryURL = *repo.RepositoryUri
		newState.RegistryID = *repo.RegistryId
		newState.ARN = *repo.RepositoryArn
	} else {
		newState.RepositoryURL = *resp.Repository.RepositoryUri
		newState.RegistryID = *resp.Repository.RegistryId
		newState.ARN = *resp.Repository.RepositoryArn
	}

	stateJSON, _ := json.Marshal(newState)

	return &api.ApplyResponse{NewStateJSON: stateJSON}, nil
}
