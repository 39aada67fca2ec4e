// Package installer pushes downloaded builds onto locally attached devices.
// Installs are fire-and-forget external processes; a non-zero exit surfaces
// as an error carrying the tool's output.
package installer

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"buildops/src/contracts"
	"buildops/src/logger"
)

// Installer wraps the platform install tools. Command names are injectable
// for testing and for non-standard tool locations.
type Installer struct {
	androidCmd string
	iosCmd     string
	log        logger.Logger
}

func New(log logger.Logger) *Installer {
	return &Installer{
		androidCmd: "adb",
		iosCmd:     "ios-deploy",
		log:        log,
	}
}

// Install pushes the artifact at localPath to a connected device.
func (i *Installer) Install(ctx context.Context, platform contracts.Platform, localPath string) error {
	var cmd *exec.Cmd
	switch platform {
	case contracts.PlatformAndroid:
		cmd = exec.CommandContext(ctx, i.androidCmd, "install", "-r", localPath)
	case contracts.PlatformIOS:
		cmd = exec.CommandContext(ctx, i.iosCmd, "--bundle", localPath)
	default:
		return fmt.Errorf("unknown platform: %q", platform)
	}

	i.log.Info("installing %s build: %s", platform, strings.Join(cmd.Args, " "))
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("install failed: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
