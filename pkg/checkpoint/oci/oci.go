package oci

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/absmach/fedids/pkg/checkpoint"
	"github.com/caarlos0/env/v11"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	oras "oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/content/oci"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/retry"
)

const (
	ArtifactType   = "application/vnd.absmach.fedids.checkpoint.v1"
	LayerMediaType = "application/vnd.absmach.fedids.checkpoint.v1+cbor"

	annotationRound = "org.absmach.fedids.round"
)

var (
	envPrefix = "FEDIDS_OCI_"

	ErrNoLayer = errors.New("artifact has no checkpoint layer")
)

type Config struct {
	Root         string `env:"ROOT"         envDefault:"/tmp/fedids_oci"`
	Authenticate bool   `env:"AUTHENTICATE" envDefault:"false"`
	Username     string `env:"USERNAME"     envDefault:""`
	Password     string `env:"PASSWORD"     envDefault:""`
	PlainHTTP    bool   `env:"PLAIN_HTTP"   envDefault:"false"`
}

func Init() (*Config, error) {
	config := Config{}
	if err := env.ParseWithOptions(&config, env.Options{Prefix: envPrefix}); err != nil {
		return nil, err
	}

	return &config, nil
}

// Tag is the reference a round is stored under.
func Tag(round uint64) string {
	return "round-" + strconv.FormatUint(round, 10)
}

// Export packs a checkpoint into the local OCI layout at Root.
func (c *Config) Export(ctx context.Context, ckpt checkpoint.Checkpoint) (ocispec.Descriptor, error) {
	data, err := checkpoint.Encode(ckpt)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	store, err := oci.New(c.Root)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("failed to open oci layout: %w", err)
	}

	layer, err := oras.PushBytes(ctx, store, LayerMediaType, data)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("failed to push checkpoint layer: %w", err)
	}

	manifest, err := oras.PackManifest(ctx, store, oras.PackManifestVersion1_1, ArtifactType, oras.PackManifestOptions{
		Layers: []ocispec.Descriptor{layer},
		ManifestAnnotations: map[string]string{
			annotationRound:           strconv.FormatUint(ckpt.Round, 10),
			ocispec.AnnotationCreated: ckpt.WrittenAt.UTC().Format("2006-01-02T15:04:05Z"),
		},
	})
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("failed to pack checkpoint manifest: %w", err)
	}

	if err := store.Tag(ctx, manifest, Tag(ckpt.Round)); err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("failed to tag checkpoint: %w", err)
	}

	return manifest, nil
}

// Import reads a round back from the local OCI layout.
func (c *Config) Import(ctx context.Context, round uint64) (checkpoint.Checkpoint, error) {
	store, err := oci.New(c.Root)
	if err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("failed to open oci layout: %w", err)
	}

	manifestDesc, err := store.Resolve(ctx, Tag(round))
	if err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("%w: round %d: %w", checkpoint.ErrNotFound, round, err)
	}

	return fetchCheckpoint(ctx, store, manifestDesc)
}

// Push copies an exported round from the local layout to a registry
// repository such as "localhost:5000/fedids/model".
func (c *Config) Push(ctx context.Context, repository string, round uint64) (ocispec.Descriptor, error) {
	store, err := oci.New(c.Root)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("failed to open oci layout: %w", err)
	}

	repo, err := c.repository(repository)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	desc, err := oras.Copy(ctx, store, Tag(round), repo, Tag(round), oras.DefaultCopyOptions)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("failed to push round %d: %w", round, err)
	}

	return desc, nil
}

// Pull copies a round from a registry into the local layout and decodes it.
func (c *Config) Pull(ctx context.Context, repository string, round uint64) (checkpoint.Checkpoint, error) {
	store, err := oci.New(c.Root)
	if err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("failed to open oci layout: %w", err)
	}

	repo, err := c.repository(repository)
	if err != nil {
		return checkpoint.Checkpoint{}, err
	}

	manifestDesc, err := oras.Copy(ctx, repo, Tag(round), store, Tag(round), oras.DefaultCopyOptions)
	if err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("failed to pull round %d: %w", round, err)
	}

	return fetchCheckpoint(ctx, store, manifestDesc)
}

func (c *Config) repository(ref string) (*remote.Repository, error) {
	repo, err := remote.NewRepository(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid repository %q: %w", ref, err)
	}
	repo.PlainHTTP = c.PlainHTTP

	if c.Authenticate {
		repo.Client = &auth.Client{
			Client: retry.DefaultClient,
			Cache:  auth.NewCache(),
			Credential: auth.StaticCredential(repo.Reference.Registry, auth.Credential{
				Username: c.Username,
				Password: c.Password,
			}),
		}
	}

	return repo, nil
}

func fetchCheckpoint(ctx context.Context, fetcher content.Fetcher, manifestDesc ocispec.Descriptor) (checkpoint.Checkpoint, error) {
	manifestData, err := content.FetchAll(ctx, fetcher, manifestDesc)
	if err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("failed to fetch manifest: %w", err)
	}

	var manifest ocispec.Manifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("failed to parse manifest: %w", err)
	}

	for _, layer := range manifest.Layers {
		if layer.MediaType != LayerMediaType {
			continue
		}

		data, err := content.FetchAll(ctx, fetcher, layer)
		if err != nil {
			return checkpoint.Checkpoint{}, fmt.Errorf("failed to fetch checkpoint layer: %w", err)
		}

		return checkpoint.Decode(data)
	}

	return checkpoint.Checkpoint{}, ErrNoLayer
}
