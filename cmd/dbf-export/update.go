package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/atomicdeploy/dbf-export/pkg/config"
	"github.com/atomicdeploy/dbf-export/pkg/updater"
)

func newUpdateCmd(cfg config.Config) *cobra.Command {
	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "🚀 Update dbf-export to the latest version",
		Long: `🚀 Update dbf-export to the latest version from GitHub Actions artifacts.

Downloads the latest build artifact for your platform and replaces the current executable.
You can optionally specify a branch to download from (default: main).

Examples:
  dbf-export update                   # Update from main branch
  dbf-export update --branch develop  # Update from develop branch

Note: Set GITHUB_TOKEN environment variable for higher API rate limits.`,
		Run: func(cmd *cobra.Command, args []string) { runUpdate(cmd, cfg) },
	}
	updateCmd.Flags().StringP("branch", "b", "main", "Branch to download from")
	updateCmd.Flags().String("repo", updater.DefaultOwner+"/"+updater.DefaultRepo, "Repository to download builds from")
	return updateCmd
}

func runUpdate(cmd *cobra.Command, cfg config.Config) {
	branch, _ := cmd.Flags().GetString("branch")
	repo, _ := cmd.Flags().GetString("repo")

	owner, name, ok := splitRepo(repo)
	if !ok {
		errorColor.Printf("❌ Invalid repository %q (expected owner/name)\n", repo)
		os.Exit(1)
	}

	fmt.Println()
	successColor.Println("🚀 DBF Export Auto-Update")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	u := updater.NewUpdater(owner, name, updater.WithToken(cfg.GitHubToken))

	infoColor.Printf("📦 Repository: %s\n", u.Repository())
	infoColor.Printf("📦 Current version: %s (built: %s)\n", Version, BuildDate)
	infoColor.Printf("🌿 Target branch: %s\n", branch)
	infoColor.Printf("💻 Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Println()

	if cfg.GitHubToken == "" {
		warningColor.Println("⚠️  GITHUB_TOKEN not set - using anonymous API access (lower rate limits)")
		warningColor.Println("💡 Set GITHUB_TOKEN environment variable for higher rate limits")
		fmt.Println()
	}

	infoColor.Println("🔍 Searching for latest successful build...")
	run, err := u.GetLatestSuccessfulRun(branch)
	if err != nil {
		errorColor.Printf("❌ Failed to find latest build: %v\n", err)
		os.Exit(1)
	}
	successColor.Printf("✅ Found build #%d from %s\n", run.ID, run.CreatedAt.Format("2006-01-02 15:04:05"))

	infoColor.Println("📦 Fetching build artifacts...")
	artifacts, err := u.GetArtifactsForRun(run.ID)
	if err != nil {
		errorColor.Printf("❌ Failed to get artifacts: %v\n", err)
		os.Exit(1)
	}
	artifact, err := u.FindArtifact(artifacts)
	if err != nil {
		errorColor.Printf("❌ %v\n", err)
		errorColor.Println("💡 Available artifacts:")
		for _, a := range artifacts {
			fmt.Printf("   • %s\n", a.Name)
		}
		os.Exit(1)
	}
	successColor.Printf("✅ Found artifact: %s (%.2f MB)\n", artifact.Name, float64(artifact.SizeInBytes)/(1024*1024))

	tempDir, err := os.MkdirTemp("", "dbf-export-update-*")
	if err != nil {
		errorColor.Printf("❌ Failed to create temp directory: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(tempDir)

	infoColor.Println("⬇️  Downloading artifact...")
	zipPath, err := u.DownloadArtifact(artifact, tempDir)
	if err != nil {
		errorColor.Printf("❌ Failed to download artifact: %v\n", err)
		warningColor.Println("💡 GitHub Actions artifacts require authentication; set GITHUB_TOKEN with the 'actions:read' scope")
		os.Exit(1)
	}
	successColor.Printf("✅ Downloaded to: %s\n", filepath.Base(zipPath))

	infoColor.Println("📂 Extracting executable...")
	extractedExe, err := u.ExtractExecutable(zipPath, tempDir)
	if err != nil {
		errorColor.Printf("❌ Failed to extract executable: %v\n", err)
		os.Exit(1)
	}

	infoColor.Println("🔄 Replacing current executable...")
	if err := u.ReplaceCurrentExecutable(extractedExe); err != nil {
		errorColor.Printf("❌ Failed to replace executable: %v\n", err)
		errorColor.Println("💡 You may need elevated permissions to update the executable")
		os.Exit(1)
	}

	fmt.Println()
	successColor.Println("✨ Update completed successfully! ✨")
	infoColor.Println("💡 Run 'dbf-export --version' to verify the update")
	fmt.Println()
}

// splitRepo splits "owner/name".
func splitRepo(repo string) (owner, name string, ok bool) {
	owner, name, ok = strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", false
	}
	return owner, name, true
}
