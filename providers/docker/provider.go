// Package docker implements the provider for container image build+push
// nodes. An image resource is an external task: building and pushing are
// not idempotent, so it re-runs on every apply unless marked run_once.
package docker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stratus-io/stratus/internal/errdefs"
	"github.com/stratus-io/stratus/internal/ir"
	api "github.com/stratus-io/stratus/pkg/provider"
)

type ImageConfig struct {
	// RegistryURL is the repository to push to, typically resolved from
	// the registry resource's output.
	RegistryURL  string            `json:"registry_url"`
	Tag          string            `json:"tag"`
	BuildContext string            `json:"build_context"`
	Dockerfile   string            `json:"dockerfile"`
	BuildArgs    map[string]string `json:"build_args"`
	// Platform is an os/arch pair like "linux/amd64". App Runner only
	// runs amd64 images, so builds on arm hosts must cross-build.
	Platform string `json:"platform"`
	RunOnce  bool   `json:"run_once"`
}

type ImageState struct {
	Image    string `json:"image"`
	ImageID  string `json:"image_id"`
	PushedAt string `json:"pushed_at"`
}

type Provider struct {
	mu     sync.Mutex
	client *client.Client
}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) ensureClient() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return nil
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return err
	}
	p.client = cli
	return nil
}

// Plan mirrors the command runner: without run_once a built image is
// rebuilt and repushed on every apply.
func (p *Provider) Plan(ctx context.Context, req *api.PlanRequest) (*api.PlanResponse, error) {
	var desired ImageConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	if req.PriorStateJSON == nil {
		return api.DefaultPlan(req)
	}
	if desired.RunOnce {
		return &api.PlanResponse{Action: ir.ActionNoop, Reason: "image already pushed"}, nil
	}
	return &api.PlanResponse{Action: ir.ActionUpdate, Reason: "image rebuilds every apply"}, nil
}

func (p *Provider) Apply(ctx context.Context, req *api.ApplyRequest) (*api.ApplyResponse, error) {
	if err := p.ensureClient(); err != nil {
		return nil, err
	}

	// DELETE: drop the local tag. The pushed copy lives in the registry
	// and goes away with it.
	if req.DesiredConfigJSON == nil {
		var prior ImageState
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.Image != "" {
			_, err := p.client.ImageRemove(ctx, prior.Image, image.RemoveOptions{Force: true})
			if err != nil && !client.IsErrNotFound(err) {
				return nil, fmt.Errorf("failed to remove image: %w", err)
			}
		}
		return &api.ApplyResponse{}, nil
	}

	var desired ImageConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if desired.RegistryURL == "" {
		return nil, errdefs.New(errdefs.ValidationError, "registry_url must not be empty")
	}
	if desired.BuildContext == "" {
		return nil, errdefs.New(errdefs.ValidationError, "build_context must not be empty")
	}

	tag := desired.Tag
	if tag == "" {
		tag = "latest"
	}
	ref := desired.RegistryURL + ":" + tag

	// BUILD
	tar, err := archive.TarWithOptions(desired.BuildContext, &archive.TarOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create build context tar: %w", err)
	}
	defer tar.Close()

	buildArgs := make(map[string]*string, len(desired.BuildArgs))
	for k, v := range desired.BuildArgs {
		buildArgs[k] = &v
	}

	opts := types.ImageBuildOptions{
		Tags:       []string{ref},
		Dockerfile: desired.Dockerfile,
		BuildArgs:  buildArgs,
		Platform:   desired.Platform,
		Remove:     true,
	}

	buildResp, err := p.client.ImageBuild(ctx, tar, opts)
	if err != nil {
		return nil, errdefs.New(errdefs.ExternalTaskFailed, "image build failed to start: %v", err)
	}
	defer buildResp.Body.Close()
	if err := drainStream(buildResp.Body); err != nil {
		return nil, errdefs.New(errdefs.ExternalTaskFailed, "image build failed: %v", err)
	}

	// PUSH
	auth, err := p.registryAuth(ctx, desired.RegistryURL)
	if err != nil {
		return nil, err
	}

	pushOpts := image.PushOptions{RegistryAuth: auth}
	if opsys, arch, ok := strings.Cut(desired.Platform, "/"); ok {
		pushOpts.Platform = &ocispec.Platform{OS: opsys, Architecture: arch}
	}

	pushResp, err := p.client.ImagePush(ctx, ref, pushOpts)
	if err != nil {
		return nil, errdefs.New(errdefs.ExternalTaskFailed, "image push failed to start: %v", err)
	}
	defer pushResp.Close()
	if err := drainStream(pushResp); err != nil {
		return nil, errdefs.New(errdefs.ExternalTaskFailed, "image push failed: %v", err)
	}

	inspect, _, err := p.client.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect built image: %w", err)
	}

	newState := ImageState{
		Image:    ref,
		ImageID:  inspect.ID,
		PushedAt: time.Now().UTC().Format(time.RFC3339),
	}
	stateJSON, _ := json.Marshal(newState)

	return &api.ApplyResponse{NewStateJSON: stateJSON}, nil
}

// registryAuth returns the X-Registry-Auth payload for pushes to the
// given repository. ECR registries get a fresh authorization token; other
// registries rely on ambient daemon credentials.
func (p *Provider) registryAuth(ctx context.Context, repositoryURL string) (string, error) {
	host := repositoryURL
	if i := strings.Index(host, "/"); i >= 0 {
		host = host[:i]
	}

	if !isECRHost(host) {
		return registry.EncodeAuthConfig(registry.AuthConfig{})
	}

	// <account>.dkr.ecr.<region>.amazonaws.com
	parts := strings.Split(host, ".")
	region := parts[3]

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return "", fmt.Errorf("unable to load SDK config for registry auth: %w", err)
	}
	ecrClient := ecr.NewFromConfig(cfg)

	resp, err := ecrClient.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return "", fmt.Errorf("failed to get ECR authorization token: %w", err)
	}
	if len(resp.AuthorizationData) == 0 || resp.AuthorizationData[0].AuthorizationToken == nil {
		return "", fmt.Errorf("ECR returned no authorization data")
	}

	decoded, err := base64.StdEncoding.DecodeString(*resp.AuthorizationData[0].AuthorizationToken)
	if err != nil {
		return "", fmt.Errorf("failed to decode ECR authorization token: %w", err)
	}
	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "", fmt.Errorf("malformed ECR authorization token")
	}

	return registry.EncodeAuthConfig(registry.AuthConfig{
		Username:      username,
		Password:      password,
		ServerAddress: host,
	})
}

func isECRHost(host string) bool {
	return strings.Contains(host, ".dkr.ecr.") && strings.HasSuffix(host, ".amazonaws.com")
}

// streamMessage is one JSON object in a build or push progress stream.
type streamMessage struct {
	Stream      string `json:"stream"`
	Status      string `json:"status"`
	Error       string `json:"error"`
	ErrorDetail struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

// drainStream consumes a docker progress stream, keeping a tail of recent
// output so a failure deep in a build reports what went wrong.
func drainStream(r io.Reader) error {
	const tailSize = 4096

	var tail []byte
	appendTail := func(s string) {
		tail = append(tail, s...)
		if len(tail) > tailSize {
			tail = tail[len(tail)-tailSize:]
		}
	}

	dec := json.NewDecoder(r)
	for {
		var msg streamMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("unreadable progress stream: %w", err)
		}
		if msg.Stream != "" {
			appendTail(msg.Stream)
		}
		if msg.Status != "" {
			appendTail(msg.Status + "\n")
		}
		if msg.Error != "" {
			detail := msg.ErrorDetail.Message
			if detail == "" {
				detail = msg.Error
			}
			return fmt.Errorf("%s\n%s", detail, tail)
		}
	}
}
