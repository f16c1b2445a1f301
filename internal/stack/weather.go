// Package stack assembles the weather service deployment: a typed
// resource graph wired together with references, parameterized by
// stratus.yaml. The graph itself is code; the parameters file only turns
// knobs.
package stack

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"time"

	"github.com/stratus-io/stratus/internal/errdefs"
	"github.com/stratus-io/stratus/internal/ir"
)

// Stack nodes, as named in the disabled parameter.
const (
	NodeBucket       = "bucket"
	NodeTable        = "table"
	NodeRegistry     = "registry"
	NodeAccessRole   = "access_role"
	NodeInstanceRole = "instance_role"
	NodeSecret       = "secret"
	NodeBuild        = "build"
	NodeService      = "service"
)

var nodeNames = []string{
	NodeBucket, NodeTable, NodeRegistry, NodeAccessRole,
	NodeInstanceRole, NodeSecret, NodeBuild, NodeService,
}

const (
	typeBucket     = "aws:S3.Bucket"
	typeTable      = "aws:DynamoDB.Table"
	typeRepository = "aws:ECR.Repository"
	typeRole       = "aws:IAM.Role"
	typeSecret     = "aws:SecretsManager.Secret"
	typeService    = "aws:AppRunner.Service"
	typeImage      = "docker:Image"
	typeCommand    = "task:Command"
)

// App Runner assumes the access role to pull from ECR and the instance
// role on behalf of the running container.
const (
	accessRoleTrust = `{
  "Version": "2012-10-17",
  "Statement": [{
    "Effect": "Allow",
    "Principal": {"Service": "build.apprunner.amazonaws.com"},
    "Action": "sts:AssumeRole"
  }]
}`
	instanceRoleTrust = `{
  "Version": "2012-10-17",
  "Statement": [{
    "Effect": "Allow",
    "Principal": {"Service": "tasks.apprunner.amazonaws.com"},
    "Action": "sts:AssumeRole"
  }]
}`
	ecrAccessPolicyARN = "arn:aws:iam::aws:policy/service-role/AWSAppRunnerServicePolicyForECRAccess"
)

// Weather returns the weather service stack for the given parameters:
// asset bucket, lookup-event table, container registry, the two App
// Runner roles, the API key secret, the image build node and the compute
// service, plus the endpoint and registry_uri outputs.
//
// The secret value is read from the environment variable named by
// secret.value_from. Construction fails before any remote call when that
// variable is unset, and only a digest of the value ever enters the
// graph.
func Weather(p *Params) (*ir.Config, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := checkNodeDependencies(p); err != nil {
		return nil, err
	}

	cfg := &ir.Config{
		Name:    p.Name,
		Outputs: map[string]*ir.Output{},
	}
	add := func(r *ir.Resource) *ir.Resource {
		cfg.Resources = append(cfg.Resources, r)
		return r
	}

	if p.NodeEnabled(NodeBucket) {
		add(&ir.Resource{
			Type: typeBucket,
			Name: "assets",
			Properties: map[string]any{
				"bucket":        p.Name + "-assets",
				"force_destroy": true,
			},
		})
	}

	if p.NodeEnabled(NodeTable) {
		add(&ir.Resource{
			Type: typeTable,
			Name: "events",
			Properties: map[string]any{
				"table_name": p.Name + "-events",
				"attributes": []map[string]any{
					{"name": "city", "type": "S"},
					{"name": "timestamp", "type": "N"},
				},
				"key_schema": []map[string]any{
					{"name": "city", "key_type": "HASH"},
					{"name": "timestamp", "key_type": "RANGE"},
				},
				"billing_mode": "PAY_PER_REQUEST",
			},
		})
	}

	if p.NodeEnabled(NodeRegistry) {
		add(&ir.Resource{
			Type: typeRepository,
			Name: "api",
			Properties: map[string]any{
				"repository_name": p.Name + "-api",
			},
		})
		cfg.Outputs["registry_uri"] = &ir.Output{
			Value:       ir.Ref(typeRepository, "api", "repository_url"),
			Description: "URI of the container registry",
		}
	}

	if p.NodeEnabled(NodeAccessRole) {
		add(&ir.Resource{
			Type: typeRole,
			Name: "access",
			Properties: map[string]any{
				"name":                p.Name + "-apprunner-access",
				"assume_role_policy":  accessRoleTrust,
				"managed_policy_arns": []string{ecrAccessPolicyARN},
			},
		})
	}

	if p.NodeEnabled(NodeInstanceRole) {
		add(&ir.Resource{
			Type: typeRole,
			Name: "instance",
			Properties: map[string]any{
				"name":               p.Name + "-apprunner-instance",
				"assume_role_policy": instanceRoleTrust,
				"inline_policies":    instancePolicies(p),
			},
		})
	}

	if p.NodeEnabled(NodeSecret) {
		digest, err := secretDigest(p.Secret.ValueFrom)
		if err != nil {
			return nil, err
		}
		add(&ir.Resource{
			Type: typeSecret,
			Name: "api-key",
			Properties: map[string]any{
				"name":         p.Name + "/openweather-api-key",
				"description":  "OpenWeather API key for the weather service",
				"value_from":   p.Secret.ValueFrom,
				"value_digest": digest,
			},
		})
	}

	var buildAddr string
	if p.NodeEnabled(NodeBuild) {
		build := add(buildResource(p))
		buildAddr = build.Addr()
	}

	if p.NodeEnabled(NodeService) {
		svc := add(serviceResource(p))
		if buildAddr != "" {
			svc.DependsOn = []string{buildAddr}
		}
		cfg.Outputs["endpoint"] = &ir.Output{
			Value:       ir.Ref(typeService, "api", "service_url"),
			Description: "Base URL of the deployed service",
		}
	}

	return cfg, nil
}

// checkNodeDependencies rejects disabled-node combinations that cannot
// deploy: both the build node and the service push to or pull from the
// registry, and the service needs the access role to pull a private
// image.
func checkNodeDependencies(p *Params) error {
	if !p.NodeEnabled(NodeRegistry) {
		if p.NodeEnabled(NodeBuild) {
			return errdefs.New(errdefs.ValidationError, "the build node pushes to the registry: disable %q together with %q", NodeBuild, NodeRegistry)
		}
		if p.NodeEnabled(NodeService) {
			return errdefs.New(errdefs.ValidationError, "the service pulls from the registry: disable %q together with %q", NodeService, NodeRegistry)
		}
	}
	if p.NodeEnabled(NodeService) && !p.NodeEnabled(NodeAccessRole) {
		return errdefs.New(errdefs.ValidationError, "the service needs %q to pull from a private registry", NodeAccessRole)
	}
	return nil
}

func secretDigest(envVar string) (string, error) {
	value := os.Getenv(envVar)
	if value == "" {
		return "", errdefs.New(errdefs.ValidationError, "environment variable %s must be set to deploy the api key secret", envVar)
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:]), nil
}

// instancePolicies scopes the running service to exactly the resources
// the stack deploys. Statement resources are references, filled in with
// recorded ARNs at apply time.
func instancePolicies(p *Params) map[string]any {
	policies := map[string]any{}
	if p.NodeEnabled(NodeTable) {
		policies["events-table"] = policyDoc(allowStatement(
			[]string{"dynamodb:PutItem", "dynamodb:GetItem", "dynamodb:Query"},
			ir.Ref(typeTable, "events", "arn"),
		))
	}
	if p.NodeEnabled(NodeBucket) {
		policies["assets-bucket"] = policyDoc(allowStatement(
			[]string{"s3:GetObject", "s3:PutObject"},
			ir.Ref(typeBucket, "assets", "objects_arn"),
		))
	}
	if p.NodeEnabled(NodeSecret) {
		policies["api-key-read"] = policyDoc(allowStatement(
			[]string{"secretsmanager:GetSecretValue"},
			ir.Ref(typeSecret, "api-key", "arn"),
		))
	}
	return policies
}

func policyDoc(statements ...map[string]any) map[string]any {
	return map[string]any{
		"Version":   "2012-10-17",
		"Statement": statements,
	}
}

func allowStatement(actions []string, resource any) map[string]any {
	return map[string]any{
		"Effect":   "Allow",
		"Action":   actions,
		"Resource": resource,
	}
}

// buildResource is the non-idempotent build+push node. In docker mode the
// daemon builds and pushes directly; in task mode a user command does,
// with the registry location handed over in its environment.
func buildResource(p *Params) *ir.Resource {
	registryURL := ir.Ref(typeRepository, "api", "repository_url")

	if p.Build.Mode == BuildModeTask {
		env := map[string]any{
			"REGISTRY_URL": registryURL,
			"IMAGE_TAG":    p.Build.Tag,
		}
		for k, v := range p.Build.Env {
			env[k] = v
		}
		props := map[string]any{
			"command":  p.Build.Command,
			"env":      env,
			"run_once": p.Build.RunOnce,
		}
		if p.Build.Context != "" {
			props["dir"] = p.Build.Context
		}
		return &ir.Resource{
			Type:       typeCommand,
			Name:       "build",
			Properties: props,
			Timeout:    time.Duration(p.Build.Timeout),
		}
	}

	props := map[string]any{
		"registry_url":  registryURL,
		"tag":           p.Build.Tag,
		"build_context": p.Build.Context,
		"platform":      p.Build.Platform,
		"run_once":      p.Build.RunOnce,
	}
	if p.Build.Dockerfile != "" {
		props["dockerfile"] = p.Build.Dockerfile
	}
	return &ir.Resource{
		Type:       typeImage,
		Name:       "api",
		Properties: props,
		Timeout:    time.Duration(p.Build.Timeout),
	}
}

func serviceResource(p *Params) *ir.Resource {
	props := map[string]any{
		"service_name":    p.Name + "-api",
		"repository_url":  ir.Ref(typeRepository, "api", "repository_url"),
		"image_tag":       p.Build.Tag,
		"port":            p.Service.Port,
		"cpu":             p.Service.CPU,
		"memory":          p.Service.Memory,
		"access_role_arn": ir.Ref(typeRole, "access", "arn"),
	}
	if p.NodeEnabled(NodeInstanceRole) {
		props["instance_role_arn"] = ir.Ref(typeRole, "instance", "arn")
	}

	env := map[string]any{}
	if p.NodeEnabled(NodeTable) {
		env["DYNAMODB_TABLE_NAME"] = ir.Ref(typeTable, "events", "table_name")
	}
	if p.NodeEnabled(NodeBucket) {
		env["S3_BUCKET_NAME"] = ir.Ref(typeBucket, "assets", "bucket_name")
	}
	if len(env) > 0 {
		props["env"] = env
	}
	if p.NodeEnabled(NodeSecret) {
		props["env_secrets"] = map[string]any{
			"OPENWEATHER_API_KEY": ir.Ref(typeSecret, "api-key", "arn"),
		}
	}

	return &ir.Resource{
		Type:       typeService,
		Name:       "api",
		Properties: props,
	}
}
