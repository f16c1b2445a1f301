package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/apprunner"
	"github.com/aws/aws-sdk-go-v2/service/apprunner/types"
	api "github.com/stratus-io/stratus/pkg/provider"
)

// servicePollInterval is how often a pending App Runner operation is
// re-checked.
const servicePollInterval = 5 * time.Second

type ServiceConfig struct {
	ServiceName   string `json:"service_name"`
	RepositoryURL string `json:"repository_url"`
	ImageTag      string `json:"image_tag"`
	Port          int    `json:"port"`
	// Env is passed to the container unchanged. EnvSecrets maps variable
	// names to Secrets Manager ARNs, resolved by App Runner at runtime so
	// the values never transit this process.
	Env             map[string]string `json:"env"`
	EnvSecrets      map[string]string `json:"env_secrets"`
	AccessRoleARN   string            `json:"access_role_arn"`
	InstanceRoleARN string            `json:"instance_role_arn"`
	CPU             string            `json:"cpu"`
	Memory          string            `json:"memory"`
}

type ServiceState struct {
	ARN        string `json:"arn"`
	ServiceID  string `json:"service_id"`
	ServiceURL string `json:"service_url"`
	Status     string `json:"status"`
}

func (p *Provider) applyService(ctx context.Context, req *api.ApplyRequest) (*api.ApplyResponse, error) {
	// DELETE
	if req.DesiredConfigJSON == nil {
		var prior ServiceState
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.ARN == "" {
			return &api.ApplyResponse{}, nil
		}

		_, err := p.apprunnerClient.DeleteService(ctx, &apprunner.DeleteServiceInput{
			ServiceArn: &prior.ARN,
		})
		if err != nil {
			if isErrorCode(err, "ResourceNotFoundException") {
				return &api.ApplyResponse{}, nil
			}
			return nil, fmt.Errorf("failed to delete service: %w", err)
		}
		if err := p.waitServiceGone(ctx, prior.ARN); err != nil {
			return nil, err
		}
		return &api.ApplyResponse{}, nil
	}

	var desired ServiceConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	var prior ServiceState
	if len(req.PriorStateJSON) > 0 {
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
	}

	source, instance := serviceConfiguration(&desired)

	var svc *types.Service
	if prior.ARN == "" {
		resp, err := p.apprunnerClient.CreateService(ctx, &apprunner.CreateServiceInput{
			ServiceName:           &desired.ServiceName,
			SourceConfiguration:   source,
			InstanceConfiguration: instance,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create service: %w", err)
		}
		svc = resp.Service
	} else {
		resp, err := p.apprunnerClient.UpdateService(ctx, &apprunner.UpdateServiceInput{
			ServiceArn:            &prior.ARN,
			SourceConfiguration:   source,
			InstanceConfiguration: instance,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update service: %w", err)
		}
		svc = resp.Service
	}

	running, err := p.waitServiceRunning(ctx, *svc.ServiceArn)
	if err != nil {
		return nil, err
	}

	newState := ServiceState{
		ARN:        *running.ServiceArn,
		ServiceID:  *running.ServiceId,
		ServiceURL: "https://" + *running.ServiceUrl,
		Status:     string(running.Status),
	}
	stateJSON, _ := json.Marshal(newState)

	return &api.ApplyResponse{NewStateJSON: stateJSON}, nil
}

func serviceConfiguration(desired *ServiceConfig) (*types.SourceConfiguration, *types.InstanceConfiguration) {
	tag := desired.ImageTag
	if tag == "" {
		tag = "latest"
	}
	image := desired.RepositoryURL + ":" + tag

	port := desired.Port
	if port == 0 {
		port = 8080
	}
	portStr := strconv.Itoa(port)

	autoDeploy := false
	source := &types.SourceConfiguration{
		AutoDeploymentsEnabled: &autoDeploy,
		ImageRepository: &types.ImageRepository{
			ImageIdentifier:     &image,
			ImageRepositoryType: types.ImageRepositoryTypeEcr,
			ImageConfiguration: &types.ImageConfiguration{
				Port:                        &portStr,
				RuntimeEnvironmentVariables: desired.Env,
				RuntimeEnvironmentSecrets:   desired.EnvSecrets,
			},
		},
	}
	if desired.AccessRoleARN != "" {
		source.AuthenticationConfiguration = &types.AuthenticationConfiguration{
			AccessRoleArn: &desired.AccessRoleARN,
		}
	}

	instance := &types.InstanceConfiguration{}
	if desired.CPU != "" {
		instance.Cpu = &desired.CPU
	}
	if desired.Memory != "" {
		instance.Memory = &desired.Memory
	}
	if desired.InstanceRoleARN != "" {
		instance.InstanceRoleArn = &desired.InstanceRoleARN
	}

	return source, instance
}

// waitServiceRunning polls until the service reaches RUNNING or a terminal
// failure status.
func (p *Provider) waitServiceRunning(ctx context.Context, arn string) (*types.Service, error) {
	ticker := time.NewTicker(servicePollInterval)
	defer ticker.Stop()

	for {
		resp, err := p.apprunnerClient.DescribeService(ctx, &apprunner.DescribeServiceInput{
			ServiceArn: &arn,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to describe service: %w", err)
		}

		switch resp.Service.Status {
		case types.ServiceStatusRunning:
			return resp.Service, nil
		case types.ServiceStatusCreateFailed:
			return nil, fmt.Errorf("service %s failed to create, check the App Runner event log", arn)
		case types.ServiceStatusDeleteFailed, types.ServiceStatusDeleted:
			return nil, fmt.Errorf("service %s entered unexpected status %s", arn, resp.Service.Status)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("gave up waiting for service %s: %w", arn, context.Cause(ctx))
		case <-ticker.C:
		}
	}
}

// waitServiceGone polls until the deleted service stops resolving.
func (p *Provider) waitServiceGone(ctx context.Context, arn string) error {
	ticker := time.NewTicker(servicePollInterval)
	defer ticker.Stop()

	for {
		resp, err := p.apprunnerClient.DescribeService(ctx, &apprunner.DescribeServiceInput{
			ServiceArn: &arn,
		})
		if err != nil {
			if isErrorCode(err, "ResourceNotFoundException") {
				return nil
			}
			return fmt.Errorf("failed to describe service: %w", err)
		}
		switch resp.Service.Status {
		case types.ServiceStatusDeleted:
			return nil
		case types.ServiceStatusDeleteFailed:
			return fmt.Errorf("service %s failed to delete", arn)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("gave up waiting for service %s to delete: %w", arn, context.Cause(ctx))
		case <-ticker.C:
		}
	}
}
