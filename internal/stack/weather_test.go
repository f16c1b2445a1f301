package stack

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stratus-io/stratus/internal/engine"
	"github.com/stratus-io/stratus/internal/errdefs"
	"github.com/stratus-io/stratus/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addrs(cfg *ir.Config) []string {
	out := make([]string, len(cfg.Resources))
	for i, r := range cfg.Resources {
		out[i] = r.Addr()
	}
	return out
}

func TestWeather_FullGraph(t *testing.T) {
	t.Setenv("OPENWEATHER_API_KEY", "k-123")

	cfg, err := Weather(DefaultParams())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"aws:S3.Bucket.assets",
		"aws:DynamoDB.Table.events",
		"aws:ECR.Repository.api",
		"aws:IAM.Role.access",
		"aws:IAM.Role.instance",
		"aws:SecretsManager.Secret.api-key",
		"docker:Image.api",
		"aws:AppRunner.Service.api",
	}, addrs(cfg))

	require.Contains(t, cfg.Outputs, "endpoint")
	require.Contains(t, cfg.Outputs, "registry_uri")

	svc := cfg.Resource("aws:AppRunner.Service.api")
	require.NotNil(t, svc)
	assert.Equal(t, []string{"docker:Image.api"}, svc.DependsOn)
	assert.Equal(t, 8080, svc.Properties["port"])
}

func TestWeather_OrderingConstraints(t *testing.T) {
	t.Setenv("OPENWEATHER_API_KEY", "k-123")

	cfg, err := Weather(DefaultParams())
	require.NoError(t, err)

	dag, err := engine.BuildDAG(cfg.Enabled())
	require.NoError(t, err)

	pos := map[string]int{}
	for i, addr := range dag.CreationOrder() {
		pos[addr] = i
	}

	assert.Less(t, pos["aws:ECR.Repository.api"], pos["docker:Image.api"], "registry before build")
	assert.Less(t, pos["docker:Image.api"], pos["aws:AppRunner.Service.api"], "build before service")
	assert.Less(t, pos["aws:SecretsManager.Secret.api-key"], pos["aws:AppRunner.Service.api"], "secret before service")
	assert.Less(t, pos["aws:DynamoDB.Table.events"], pos["aws:AppRunner.Service.api"], "table before service")
	assert.Less(t, pos["aws:S3.Bucket.assets"], pos["aws:AppRunner.Service.api"], "bucket before service")
	assert.Less(t, pos["aws:IAM.Role.access"], pos["aws:AppRunner.Service.api"], "access role before service")
	assert.Less(t, pos["aws:IAM.Role.instance"], pos["aws:AppRunner.Service.api"], "instance role before service")
	assert.Less(t, pos["aws:DynamoDB.Table.events"], pos["aws:IAM.Role.instance"], "table before the role that names its arn")
}

func TestWeather_SecretDigest(t *testing.T) {
	t.Setenv("OPENWEATHER_API_KEY", "k-123")

	cfg, err := Weather(DefaultParams())
	require.NoError(t, err)

	secret := cfg.Resource("aws:SecretsManager.Secret.api-key")
	require.NotNil(t, secret)

	sum := sha256.Sum256([]byte("k-123"))
	assert.Equal(t, hex.EncodeToString(sum[:]), secret.Properties["value_digest"])

	// The value itself must not appear anywhere in the declaration.
	for k, v := range secret.Properties {
		assert.NotEqual(t, "k-123", v, "property %s leaks the secret value", k)
	}
}

func TestWeather_SecretEnvUnset(t *testing.T) {
	t.Setenv("OPENWEATHER_API_KEY", "")

	_, err := Weather(DefaultParams())
	require.Error(t, err)
	assert.True(t, errdefs.HasCode(err, errdefs.ValidationError))
	assert.Contains(t, err.Error(), "OPENWEATHER_API_KEY")
}

func TestWeather_TaskBuildMode(t *testing.T) {
	t.Setenv("OPENWEATHER_API_KEY", "k-123")

	p := DefaultParams()
	p.Build.Mode = BuildModeTask
	p.Build.Command = []string{"./scripts/build-push.sh"}
	p.Build.Env = map[string]string{"BUILDKIT": "1"}

	cfg, err := Weather(p)
	require.NoError(t, err)

	build := cfg.Resource("task:Command.build")
	require.NotNil(t, build)
	assert.Nil(t, cfg.Resource("docker:Image.api"))

	env, ok := build.Properties["env"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, ir.Ref("aws:ECR.Repository", "api", "repository_url"), env["REGISTRY_URL"])
	assert.Equal(t, "1", env["BUILDKIT"])

	svc := cfg.Resource("aws:AppRunner.Service.api")
	require.NotNil(t, svc)
	assert.Equal(t, []string{"task:Command.build"}, svc.DependsOn)
}

func TestWeather_DisabledSecret(t *testing.T) {
	// No API key in the environment: a disabled secret must not require one.
	t.Setenv("OPENWEATHER_API_KEY", "")

	p := DefaultParams()
	p.Disabled = []string{NodeSecret}

	cfg, err := Weather(p)
	require.NoError(t, err)

	assert.Nil(t, cfg.Resource("aws:SecretsManager.Secret.api-key"))

	svc := cfg.Resource("aws:AppRunner.Service.api")
	require.NotNil(t, svc)
	assert.NotContains(t, svc.Properties, "env_secrets")

	role := cfg.Resource("aws:IAM.Role.instance")
	require.NotNil(t, role)
	policies, ok := role.Properties["inline_policies"].(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, policies, "api-key-read")

	// The graph must still resolve with the secret gone.
	_, err = engine.BuildDAG(cfg.Enabled())
	require.NoError(t, err)
}

func TestWeather_DisabledRegistryNeedsDependentsOff(t *testing.T) {
	p := DefaultParams()
	p.Disabled = []string{NodeRegistry}

	_, err := Weather(p)
	require.Error(t, err)
	assert.True(t, errdefs.HasCode(err, errdefs.ValidationError))

	p.Disabled = []string{NodeRegistry, NodeBuild}
	_, err = Weather(p)
	require.Error(t, err, "the service still pulls from the registry")

	t.Setenv("OPENWEATHER_API_KEY", "k-123")
	p.Disabled = []string{NodeRegistry, NodeBuild, NodeService}
	cfg, err := Weather(p)
	require.NoError(t, err)
	assert.Len(t, cfg.Resources, 5)
	assert.NotContains(t, cfg.Outputs, "registry_uri")
	assert.NotContains(t, cfg.Outputs, "endpoint")

	_, err = engine.BuildDAG(cfg.Enabled())
	require.NoError(t, err)
}

func TestWeather_ServiceNeedsAccessRole(t *testing.T) {
	p := DefaultParams()
	p.Disabled = []string{NodeAccessRole}

	_, err := Weather(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access_role")
}
