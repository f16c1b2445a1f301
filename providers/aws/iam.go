package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/iam"
	api "github.com/stratus-io/stratus/pkg/provider"
)

type RoleConfig struct {
	Name             string `json:"name"`
	AssumeRolePolicy string `json:"assume_role_policy"`
	// InlinePolicies maps policy name to a policy document. Documents are
	// structured JSON rather than strings so stack definitions can point
	// statement resources at other resources' recorded ARNs.
	InlinePolicies    map[string]json.RawMessage `json:"inline_policies"`
	ManagedPolicyARNs []string                   `json:"managed_policy_arns"`
}

type RoleState struct {
	Name string `json:"name"`
	ARN  string `json:"arn"`
}

func (p *Provider) applyRole(ctx context.Context, req *api.ApplyRequest) (*api.ApplyResponse, error) {
	// DELETE
	if req.DesiredConfigJSON == nil {
		var prior RoleState
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.Name == "" {
			return &api.ApplyResponse{}, nil
		}
		if err := p.deleteRole(ctx, prior.Name); err != nil {
			return nil, err
		}
		return &api.ApplyResponse{}, nil
	}

	var desired RoleConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	var arn string
	resp, err := p.iamClient.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 &desired.Name,
		AssumeRolePolicyDocument: &desired.AssumeRolePolicy,
	})
	if err != nil {
		if !isErrorCode(err, "EntityAlreadyExists") {
			return nil, fmt.Errorf("failed to create role: %w", err)
		}
		existing, err := p.iamClient.GetRole(ctx, &iam.GetRoleInput{RoleName: &desired.Name})
		if err != nil {
			return nil, fmt.Errorf("failed to get existing role: %w", err)
		}
		arn = *existing.Role.Arn
		// Keep the trust policy in sync on update.
		_, err = p.iamClient.UpdateAssumeRolePolicy(ctx, &iam.UpdateAssumeRolePolicyInput{
			RoleName:       &desired.Name,
			PolicyDocument: &desired.AssumeRolePolicy,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update assume role policy: %w", err)
		}
	} else {
		arn = *resp.Role.Arn
	}

	for name, document := range desired.InlinePolicies {
		doc := string(document)
		_, err := p.iamClient.PutRolePolicy(ctx, &iam.PutRolePolicyInput{
			RoleName:       &desired.Name,
			PolicyName:     &name,
			PolicyDocument: &doc,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to put role policy %s: %w", name, err)
		}
	}

	for _, policyARN := range desired.ManagedPolicyARNs {
		_, err := p.iamClient.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
			RoleName:  &desired.Name,
			PolicyArn: &policyARN,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to attach policy %s: %w", policyARN, err)
		}
	}

	newState := RoleState{
		Name: desired.Name,
		ARN:  arn,
	}
	stateJSON, _ := json.Marshal(newState)

	return &api.ApplyResponse{NewStateJSON: stateJSON}, nil
}

// deleteRole removes inline policies and managed attachments first; a role
// with either still present refuses to delete.
func (p *Provider) deleteRole(ctx context.Context, name string) error {
	attached, err := p.iamClient.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{
		RoleName: &name,
	})
	if err != nil {
		if isErrorCode(err, "NoSuchEntity") {
			return nil
		}
		return fmt.Errorf("failed to list attached policies: %w", err)
	}
	for _, policy := range attached.AttachedPolicies {
		_, err := p.iamClient.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
			RoleName:  &name,
			PolicyArn: policy.PolicyArn,
		})
		if err != nil && !isErrorCode(err, "NoSuchEntity") {
			return fmt.Errorf("failed to detach policy: %w", err)
		}
	}

	inline, err := p.iamClient.ListRolePolicies(ctx, &iam.ListRolePoliciesInput{
		RoleName: &name,
	})
	if err != nil && !isErrorCode(err, "NoSuchEntity") {
		return fmt.Errorf("failed to list role policies: %w", err)
	}
	if inline != nil {
		for _, policyName := range inline.PolicyNames {
			_, err := p.iamClient.DeleteRolePolicy(ctx, &iam.DeleteRolePolicyInput{
				RoleName:   &name,
				PolicyName: &policyName,
			})
			if err != nil && !isErrorCode(err, "NoSuchEntity") {
				return fmt.Errorf("failed to delete role policy: %w", err)
			}
		}
	}

	_, err = p.iamClient.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: &name})
	if err != nil && !isErrorCode(err, "NoSuchEntity") {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return nil
}
