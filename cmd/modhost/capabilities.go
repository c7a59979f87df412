package main

import (
	"context"
	"fmt"

	"github.com/platinummonkey/modhost/pkg/capabilities"
	"github.com/platinummonkey/modhost/pkg/config"
	"github.com/platinummonkey/modhost/pkg/lifecycle"
	"github.com/platinummonkey/modhost/pkg/sdk"
)

// buildCapabilities turns the capability config into the provider the
// controller consults for each module's permissions
func buildCapabilities(ctx context.Context, cfg *config.Config, jobs capabilities.JobTrigger) (lifecycle.PermissionCapabilities, error) {
	capCfg := cfg.Capabilities
	caps := lifecycle.PermissionCapabilities{
		HTTP: func(module string) sdk.HTTPClient {
			return capabilities.NewHTTPClient(module, capCfg.HTTPTimeout, nil)
		},
		Automation: capabilities.NewJobAutomation(jobs),
	}

	if capCfg.NotifyWebhook != "" {
		caps.Notifier = capabilities.NewWebhookNotifier(capCfg.NotifyWebhook,
			capabilities.NewHTTPClient("notifier", capCfg.HTTPTimeout, nil))
	}

	switch capCfg.FilesBackend {
	case config.FilesBackendNone:
	case config.FilesBackendLocal:
		caps.Files = func(module string) sdk.Files {
			return capabilities.NewLocalFiles(capCfg.FilesRoot, module)
		}
	case config.FilesBackendS3:
		client, err := capabilities.NewS3Client(ctx, capCfg.S3)
		if err != nil {
			return caps, err
		}
		caps.Files = func(module string) sdk.Files {
			return capabilities.NewS3Files(client, capCfg.S3.Bucket, module)
		}
	default:
		return caps, fmt.Errorf("unknown files backend %q", capCfg.FilesBackend)
	}
	return caps, nil
}
