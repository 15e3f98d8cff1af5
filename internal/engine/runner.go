package engine

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pkg/errors"

	"github.com/stanstork/stratum-replicator/internal/jobcontrol"
)

// DockerAPI is the part of the Docker Engine client the adapter needs.
// *client.Client satisfies it.
type DockerAPI interface {
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error
	ImageInspect(ctx context.Context, imageID string, inspectOpts ...client.ImageInspectOption) (image.InspectResponse, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
}

var _ DockerAPI = (*client.Client)(nil)

// copyTo writes a single file into the container as a tar archive.
func copyTo(ctx context.Context, cli DockerAPI, containerID, dstPath string, content []byte, filename string) error {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name: filename,
		Mode: 0644,
		Size: int64(len(content)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("tar write header: %w", err)
	}
	if _, err := tw.Write(content); err != nil {
		return fmt.Errorf("tar write content: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("tar close: %w", err)
	}

	if err := cli.CopyToContainer(ctx, containerID, dstPath, &buf, container.CopyToContainerOptions{AllowOverwriteDirWithFile: false}); err != nil {
		return classify(err, "copy config to container")
	}
	return nil
}

// imagePresent reports whether ref exists locally.
func imagePresent(ctx context.Context, cli DockerAPI, ref string) (bool, error) {
	_, err := cli.ImageInspect(ctx, ref)
	if err == nil {
		return true, nil
	}
	if cerrdefs.IsNotFound(err) {
		return false, nil
	}
	return false, classify(err, "inspect image")
}

func pullImage(ctx context.Context, cli DockerAPI, ref string) error {
	reader, err := cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return classify(err, "pull image")
	}
	defer reader.Close()
	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return classify(err, "pull image")
	}
	return nil
}

// classify maps Docker failures onto the job-control sentinels. Connection
// failures and an unavailable daemon are transient.
func classify(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case client.IsErrConnectionFailed(err), cerrdefs.IsUnavailable(err), cerrdefs.IsDeadlineExceeded(err):
		return errors.Wrapf(jobcontrol.ErrUnavailable, "%s: %v", op, err)
	default:
		return errors.Wrap(err, op)
	}
}
