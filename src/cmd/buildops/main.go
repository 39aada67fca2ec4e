// Package main provides the unified buildops CLI with mode detection.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"buildops/src/broker"
	"buildops/src/buildlister"
	"buildops/src/config"
	"buildops/src/console"
	"buildops/src/contracts"
	"buildops/src/installer"
	"buildops/src/logger"
	"buildops/src/logstream"
	"buildops/src/registry"
	"buildops/src/storage"
	"buildops/src/store"
	"buildops/src/transfer"
)

var (
	appConfig  *config.Config
	configFile string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "buildops",
	Short: "buildops - an ops console for mobile build transfers and live logs",
	Long: `buildops moves mobile build artifacts from the build service into
object storage and tails live service logs.

It supports two modes:
- Local Mode: In-memory broker and history store (default)
- Distributed Mode: Redpanda events + Postgres history

Mode is auto-detected based on REDPANDA_BROKERS and POSTGRES_DSN.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var err error
		if configFile != "" {
			appConfig, err = config.LoadFromFile(configFile)
		} else {
			appConfig, err = config.LoadFromEnv()
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
			os.Exit(1)
		}
	},
}

// buildsCmd fetches and prints the latest builds for a platform
var buildsCmd = &cobra.Command{
	Use:   "builds [platform]",
	Short: "List the latest builds for a platform",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		platform := mustPlatform(args[0])

		c := mustConsole(ctx, false)
		defer c.Close()

		builds, err := c.FetchBuilds(ctx, platform)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to fetch builds: %v\n", err)
			os.Exit(1)
		}
		if len(builds) == 0 {
			fmt.Printf("No %s builds found\n", platform)
			return
		}

		fmt.Printf("📦 %d %s builds\n\n", len(builds), platform)
		for _, b := range builds {
			fmt.Printf("%-36s  v%-10s  %-12s  build %-6s  %s\n",
				b.ID, b.AppVersion, b.Profile, b.BuildNumber, b.Status)
		}
	},
}

// transferCmd downloads a build and uploads it to object storage
var transferCmd = &cobra.Command{
	Use:   "transfer [platform] [build-id]",
	Short: "Download a build and upload it to object storage",
	Long: `Fetch the build list, download the named build's artifact and push it
to the configured bucket. The final blob location is recorded in the
transfer history.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		platform := mustPlatform(args[0])
		buildID := args[1]

		c := mustConsole(ctx, true)
		defer c.Close()

		if _, err := c.FetchBuilds(ctx, platform); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to fetch builds: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("⬇️  Downloading build %s...\n", buildID)
		if err := <-c.DownloadBuild(ctx, platform, buildID, printProgress); err != nil {
			fmt.Fprintf(os.Stderr, "\nDownload failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println()

		localPath := localPathOf(c, platform, buildID)

		fmt.Printf("⬆️  Uploading %s...\n", localPath)
		if err := <-c.UploadBuild(ctx, platform, buildID, localPath, printProgress); err != nil {
			fmt.Fprintf(os.Stderr, "\nUpload failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println()

		for _, b := range c.GetBuilds(platform) {
			if b.ID == buildID {
				fmt.Printf("✅ Uploaded: %s\n", b.RemoteURL)
			}
		}
	},
}

// downloadCmd downloads a build's artifact without uploading it
var downloadCmd = &cobra.Command{
	Use:   "download [platform] [build-id]",
	Short: "Download a build's artifact to the local download directory",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		platform := mustPlatform(args[0])
		buildID := args[1]

		c := mustConsole(ctx, false)
		defer c.Close()

		if _, err := c.FetchBuilds(ctx, platform); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to fetch builds: %v\n", err)
			os.Exit(1)
		}

		if err := <-c.DownloadBuild(ctx, platform, buildID, printProgress); err != nil {
			fmt.Fprintf(os.Stderr, "\nDownload failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\n✅ Downloaded: %s\n", localPathOf(c, platform, buildID))
	},
}

// installCmd installs a downloaded build onto a connected device
var installCmd = &cobra.Command{
	Use:   "install [platform] [build-id]",
	Short: "Install a downloaded build onto a connected device",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		platform := mustPlatform(args[0])
		buildID := args[1]

		c := mustConsole(ctx, false)
		defer c.Close()

		if _, err := c.FetchBuilds(ctx, platform); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to fetch builds: %v\n", err)
			os.Exit(1)
		}
		if err := <-c.DownloadBuild(ctx, platform, buildID, printProgress); err != nil {
			fmt.Fprintf(os.Stderr, "\nDownload failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println()

		if err := c.InstallBuild(ctx, platform, buildID); err != nil {
			fmt.Fprintf(os.Stderr, "Install failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("✅ Installed")
	},
}

// historyCmd lists past uploads
var historyCmd = &cobra.Command{
	Use:   "history [platform]",
	Short: "List past uploads, newest first",
	Long: `Query the transfer history store. Requires POSTGRES_DSN; the in-memory
store only lives for one invocation.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		platform := ""
		if len(args) == 1 {
			platform = string(mustPlatform(args[0]))
		}

		if appConfig.PostgresDSN == "" {
			fmt.Fprintln(os.Stderr, "ERROR: POSTGRES_DSN environment variable is required for history command")
			os.Exit(1)
		}

		c := mustConsole(ctx, false)
		defer c.Close()

		records, err := c.ListTransferHistory(ctx, platform)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list history: %v\n", err)
			os.Exit(1)
		}
		if len(records) == 0 {
			fmt.Println("No transfers recorded")
			return
		}
		for _, rec := range records {
			fmt.Printf("%s  %-7s  %-45s  %s\n",
				rec.CompletedAt.Format("2006-01-02 15:04"), rec.Platform, rec.FileName, rec.RemoteURL)
		}
	},
}

// logsCmd tails a service's live logs until interrupted
var logsCmd = &cobra.Command{
	Use:   "logs [target]",
	Short: "Tail a service's live logs",
	Long: `Stream log lines from the configured log service for one target until
Ctrl-C. Dropped connections are retried automatically.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		target := args[0]

		c := mustConsole(ctx, false)
		defer c.Close()

		failed := make(chan error, 1)
		session, err := c.StartLogStream(target,
			func(line logstream.LogLine) { fmt.Println(line.Text) },
			func(err error) { failed <- err },
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to start log stream: %v\n", err)
			os.Exit(1)
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sig:
			session.Stop()
			<-session.Done()
		case err := <-failed:
			fmt.Fprintf(os.Stderr, "Log stream failed: %v\n", err)
			os.Exit(1)
		case <-session.Done():
		}
	},
}

// printProgress renders a single-line progress indicator.
func printProgress(p contracts.TransferProgress) {
	fmt.Printf("\r   %s %3d%%  %s", p.Phase, p.Percent, p.Message)
}

func mustPlatform(arg string) contracts.Platform {
	platform, err := contracts.ParsePlatform(arg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v (expected android or ios)\n", err)
		os.Exit(1)
	}
	return platform
}

// mustConsole assembles the console from configuration. The object storage
// client is only created when the command uploads; every other collaborator
// is cheap to build.
func mustConsole(ctx context.Context, needStorage bool) *console.Console {
	log := logger.NewConsoleLogger()

	var blobs storage.Client
	if needStorage {
		var err error
		blobs, err = storage.NewGCSClient(ctx, appConfig.GCSBucket)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create storage client: %v\n", err)
			os.Exit(1)
		}
	}

	var events broker.Broker
	if appConfig.RedpandaBrokers != "" {
		var err error
		events, err = broker.NewRedpandaBroker(strings.Split(appConfig.RedpandaBrokers, ","))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to connect to Redpanda: %v\n", err)
			os.Exit(1)
		}
	} else {
		events = broker.NewInMemoryBroker()
	}

	var history store.Store
	if appConfig.PostgresDSN != "" {
		var err error
		history, err = store.NewPostgresStore(appConfig.PostgresDSN)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to connect to Postgres: %v\n", err)
			os.Exit(1)
		}
	} else {
		history = store.NewInMemoryStore()
	}

	listerParts := strings.Fields(appConfig.ListerCommand)
	lister := buildlister.NewCLILister(listerParts[0], listerParts[1:], log)

	reg := registry.New()
	worker := transfer.NewWorker(
		reg,
		transfer.NewDownloader(appConfig.DownloadDir, log),
		transfer.NewUploader(blobs, appConfig.UploadedBy, log),
		log,
	)
	streams := logstream.NewManager(
		logstream.NewHTTPLogSource(appConfig.LogBaseURL, appConfig.LogToken),
		appConfig.MaxStreams,
		appConfig.RingCapacity,
		log,
	)

	return console.New(reg, lister, worker, streams, events, history, installer.New(log), appConfig.UploadedBy, log)
}

func localPathOf(c *console.Console, platform contracts.Platform, buildID string) string {
	for _, b := range c.GetBuilds(platform) {
		if b.ID == buildID {
			return b.LocalPath
		}
	}
	return ""
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file (env vars override it)")
	rootCmd.AddCommand(buildsCmd)
	rootCmd.AddCommand(transferCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(logsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
