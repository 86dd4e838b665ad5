package updater

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"
)

const (
	DefaultAPIURL = "https://api.github.com"
	DefaultOwner  = "atomicdeploy"
	DefaultRepo   = "dbf-export"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Updater downloads the latest build of the command from GitHub Actions artifacts
type Updater struct {
	client     *resty.Client
	owner      string
	repo       string
	binaryName string // Base name of the binary (e.g., "dbf-export")
}

// WorkflowRun represents a GitHub Actions workflow run
type WorkflowRun struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	HeadBranch string    `json:"head_branch"`
	Status     string    `json:"status"`
	Conclusion string    `json:"conclusion"`
	CreatedAt  time.Time `json:"created_at"`
}

// WorkflowRunsResponse represents the API response for workflow runs
type WorkflowRunsResponse struct {
	TotalCount   int           `json:"total_count"`
	WorkflowRuns []WorkflowRun `json:"workflow_runs"`
}

// Artifact represents a GitHub Actions artifact
type Artifact struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	SizeInBytes        int64     `json:"size_in_bytes"`
	ArchiveDownloadURL string    `json:"archive_download_url"`
	Expired            bool      `json:"expired"`
	CreatedAt          time.Time `json:"created_at"`
}

// ArtifactsResponse represents the API response for artifacts
type ArtifactsResponse struct {
	TotalCount int        `json:"total_count"`
	Artifacts  []Artifact `json:"artifacts"`
}

// Option configures an Updater.
type Option func(*Updater)

// WithBaseURL points the updater at another API server.
func WithBaseURL(url string) Option {
	return func(u *Updater) { u.client.SetBaseURL(url) }
}

// WithToken authenticates API requests and downloads.
func WithToken(token string) Option {
	return func(u *Updater) {
		if token != "" {
			u.client.SetAuthToken(token)
		}
	}
}

// WithBinaryName overrides the binary name derived from the running executable.
func WithBinaryName(name string) Option {
	return func(u *Updater) { u.binaryName = name }
}

// NewUpdater creates a new updater for the repository owner/repo
func NewUpdater(owner, repo string, opts ...Option) *Updater {
	client := resty.New().
		SetBaseURL(DefaultAPIURL).
		SetTimeout(5*time.Minute).
		SetHeader("Accept", "application/vnd.github+json").
		SetHeader("X-GitHub-Api-Version", "2022-11-28").
		SetJSONUnmarshaler(json.Unmarshal)

	u := &Updater{
		client:     client,
		owner:      owner,
		repo:       repo,
		binaryName: deriveBinaryName(repo),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Repository returns "owner/repo".
func (u *Updater) Repository() string { return u.owner + "/" + u.repo }

// deriveBinaryName derives the base binary name from the current executable
func deriveBinaryName(fallback string) string {
	exe, err := os.Executable()
	if err != nil {
		return fallback
	}
	return trimPlatformSuffix(filepath.Base(exe), fallback)
}

// trimPlatformSuffix turns "dbf-export-linux-amd64" or "dbf-export.exe" into "dbf-export".
func trimPlatformSuffix(name, fallback string) string {
	name = strings.TrimSuffix(name, ".exe")
	for _, suffix := range []string{"-linux-amd64", "-windows-amd64", "-darwin-amd64", "-darwin-arm64"} {
		name = strings.TrimSuffix(name, suffix)
	}
	if name == "" {
		return fallback
	}
	return name
}

func checkResponse(resp *resty.Response) error {
	if resp.IsError() {
		return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// GetLatestSuccessfulRun gets the latest successful build workflow run for a branch
func (u *Updater) GetLatestSuccessfulRun(branch string) (*WorkflowRun, error) {
	var runsResp WorkflowRunsResponse
	resp, err := u.client.R().
		SetPathParams(map[string]string{"owner": u.owner, "repo": u.repo}).
		SetQueryParams(map[string]string{"branch": branch, "status": "success", "per_page": "100"}).
		SetResult(&runsResp).
		Get("/repos/{owner}/{repo}/actions/runs")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	if len(runsResp.WorkflowRuns) == 0 {
		return nil, fmt.Errorf("no successful workflow runs found for branch '%s'", branch)
	}

	for _, run := range runsResp.WorkflowRuns {
		if run.Conclusion == "success" && strings.Contains(strings.ToLower(run.Name), "build") {
			return &run, nil
		}
	}

	return nil, fmt.Errorf("no successful build workflow run found for branch '%s'", branch)
}

// GetArtifactsForRun gets all artifacts for a workflow run
func (u *Updater) GetArtifactsForRun(runID int64) ([]Artifact, error) {
	var artifactsResp ArtifactsResponse
	resp, err := u.client.R().
		SetPathParams(map[string]string{"owner": u.owner, "repo": u.repo, "run": fmt.Sprint(runID)}).
		SetResult(&artifactsResp).
		Get("/repos/{owner}/{repo}/actions/runs/{run}/artifacts")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	if len(artifactsResp.Artifacts) == 0 {
		return nil, fmt.Errorf("no artifacts found for workflow run %d", runID)
	}

	return artifactsResp.Artifacts, nil
}

// FindArtifact returns the artifact built for the current platform.
func (u *Updater) FindArtifact(artifacts []Artifact) (*Artifact, error) {
	name := u.GetCurrentPlatformArtifactName()
	if name == "" {
		return nil, fmt.Errorf("auto-update is not supported on %s/%s", runtime.GOOS, runtime.GOARCH)
	}
	for i := range artifacts {
		if artifacts[i].Name == name {
			return &artifacts[i], nil
		}
	}
	return nil, fmt.Errorf("no artifact found for platform: %s", name)
}

// DownloadArtifact downloads an artifact and returns the path to the downloaded file
func (u *Updater) DownloadArtifact(artifact *Artifact, destDir string) (string, error) {
	if artifact.Expired {
		return "", fmt.Errorf("artifact %s has expired", artifact.Name)
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create destination directory: %w", err)
	}

	destPath := filepath.Join(destDir, artifact.Name+".zip")
	resp, err := u.client.R().SetOutput(destPath).Get(artifact.ArchiveDownloadURL)
	if err != nil {
		return "", fmt.Errorf("download failed: %w", err)
	}
	if resp.IsError() {
		os.Remove(destPath)
		return "", fmt.Errorf("download failed with status %d", resp.StatusCode())
	}

	return destPath, nil
}

// ExtractExecutable extracts the executable from a ZIP file
func (u *Updater) ExtractExecutable(zipPath, destDir string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", fmt.Errorf("failed to open zip file: %w", err)
	}
	defer r.Close()

	expectedName := u.GetPlatformBinaryName()

	for _, f := range r.File {
		if f.FileInfo().IsDir() || filepath.Base(f.Name) != expectedName {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("failed to open file in zip: %w", err)
		}
		defer rc.Close()

		outPath := filepath.Join(destDir, expectedName)
		out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0755)
		if err != nil {
			return "", fmt.Errorf("failed to create output file: %w", err)
		}
		defer out.Close()

		if _, err := io.Copy(out, rc); err != nil {
			return "", fmt.Errorf("failed to extract file: %w", err)
		}
		return outPath, nil
	}

	return "", fmt.Errorf("no executable found in zip file (expected: %s)", expectedName)
}

// GetPlatformBinaryName returns the expected binary name for the current platform
func (u *Updater) GetPlatformBinaryName() string {
	switch runtime.GOOS {
	case "windows":
		return fmt.Sprintf("%s-windows-amd64.exe", u.binaryName)
	case "linux":
		return fmt.Sprintf("%s-linux-amd64", u.binaryName)
	default:
		return u.binaryName
	}
}

// GetCurrentPlatformArtifactName returns the artifact name for the current
// platform, or "" when no builds are published for it.
func (u *Updater) GetCurrentPlatformArtifactName() string {
	switch runtime.GOOS {
	case "windows":
		return fmt.Sprintf("%s-windows-amd64", u.binaryName)
	case "linux":
		return fmt.Sprintf("%s-linux-amd64", u.binaryName)
	default:
		return ""
	}
}

// ReplaceCurrentExecutable replaces the running executable with a new one
func (u *Updater) ReplaceCurrentExecutable(newExePath string) error {
	currentExe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get current executable path: %w", err)
	}
	currentExe, err = filepath.EvalSymlinks(currentExe)
	if err != nil {
		return fmt.Errorf("failed to resolve symlinks: %w", err)
	}
	return ReplaceExecutable(newExePath, currentExe)
}

// ReplaceExecutable replaces target with newExePath, restoring target when the copy fails.
func ReplaceExecutable(newExePath, target string) error {
	backupPath := target + ".old"

	if err := os.Remove(backupPath); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: failed to remove old backup: %v\n", err)
	}

	if err := os.Rename(target, backupPath); err != nil {
		return fmt.Errorf("failed to backup current executable: %w", err)
	}

	if err := copyFile(newExePath, target); err != nil {
		_ = os.Rename(backupPath, target)
		return fmt.Errorf("failed to replace executable: %w", err)
	}

	if err := os.Chmod(target, 0755); err != nil {
		return fmt.Errorf("failed to set executable permissions: %w", err)
	}

	// The backup of a running executable cannot be removed on Windows
	if err := os.Remove(backupPath); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: failed to remove backup file: %v\n", err)
	}

	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
