// Package github implements the platform gateway against the GitHub REST
// API. Master content is read from a canonical templates repository;
// updates land in target repositories as pull requests built through the
// Git data API (blobs, tree, commit, branch ref, PR), so downstream
// owners review template changes instead of receiving direct pushes.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agentstation/utc"

	"github.com/agentstation/teleporter/pkg/errors"
	"github.com/agentstation/teleporter/pkg/gateway"
	"github.com/agentstation/teleporter/pkg/logging"
)

const (
	defaultBaseURL      = "https://api.github.com"
	defaultTemplateRoot = "templates"
	defaultBranchPrefix = "teleporter"
	apiVersion          = "2022-11-28"
	blobFileMode        = "100644"
)

// Client is a gateway.Gateway backed by the GitHub REST API.
type Client struct {
	http         *http.Client
	baseURL      string
	token        string
	masterOwner  string
	masterName   string
	masterRef    string
	templateRoot string
	branchPrefix string
	clock        func() utc.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.http = httpClient }
}

// WithBaseURL points the client at a different API host, for GitHub
// Enterprise or tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(baseURL, "/") }
}

// WithMasterRef pins master content reads to a ref instead of the
// repository default branch.
func WithMasterRef(ref string) Option {
	return func(c *Client) { c.masterRef = ref }
}

// WithTemplateRoot changes the directory templates live under in the
// master repository.
func WithTemplateRoot(root string) Option {
	return func(c *Client) { c.templateRoot = strings.Trim(root, "/") }
}

// WithBranchPrefix changes the prefix of update branches created in
// target repositories.
func WithBranchPrefix(prefix string) Option {
	return func(c *Client) { c.branchPrefix = prefix }
}

// WithClock overrides the time source used for branch names.
func WithClock(clock func() utc.Time) Option {
	return func(c *Client) { c.clock = clock }
}

// New creates a GitHub gateway. masterRepository is "owner/name" of the
// canonical templates repository; token authenticates every request.
func New(masterRepository, token string, opts ...Option) (*Client, error) {
	owner, name, err := splitRepository(masterRepository)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, &errors.AuthenticationError{
			Platform: "github",
			Method:   "token",
			Message:  "token is required",
		}
	}

	c := &Client{
		http:         &http.Client{Timeout: 30 * time.Second},
		baseURL:      defaultBaseURL,
		token:        token,
		masterOwner:  owner,
		masterName:   name,
		templateRoot: defaultTemplateRoot,
		branchPrefix: defaultBranchPrefix,
		clock:        utc.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func splitRepository(repository string) (owner, name string, err error) {
	parts := strings.Split(repository, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", &errors.ValidationError{
			Field:   "repository",
			Value:   repository,
			Message: "must be owner/name",
		}
	}
	return parts[0], parts[1], nil
}

// contentFile is the contents API response for a single file.
type contentFile struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	SHA      string `json:"sha"`
}

// MasterContent implements gateway.Gateway. Template paths resolve under
// templateRoot/category/path in the master repository.
func (c *Client) MasterContent(ctx context.Context, category, path string) ([]byte, error) {
	repository := c.masterOwner + "/" + c.masterName
	endpoint := fmt.Sprintf("/repos/%s/%s/contents/%s/%s/%s",
		c.masterOwner, c.masterName, c.templateRoot, category, path)
	if c.masterRef != "" {
		endpoint += "?ref=" + c.masterRef
	}

	var file contentFile
	status, err := c.get(ctx, endpoint, &file)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s/%s", errors.ErrTemplateNotFound, category, path)
	}
	if status != http.StatusOK {
		return nil, c.apiError(repository, status, endpoint)
	}
	return decodeContent(&file)
}

// TargetContent implements gateway.Gateway. An absent file is a valid
// observation, not an error.
func (c *Client) TargetContent(ctx context.Context, repository, path string) ([]byte, bool, error) {
	owner, name, err := splitRepository(repository)
	if err != nil {
		return nil, false, err
	}
	endpoint := fmt.Sprintf("/repos/%s/%s/contents/%s", owner, name, path)

	var file contentFile
	status, err := c.get(ctx, endpoint, &file)
	if err != nil {
		return nil, false, err
	}
	if status == http.StatusNotFound {
		return nil, false, nil
	}
	if status != http.StatusOK {
		return nil, false, c.apiError(repository, status, endpoint)
	}

	content, err := decodeContent(&file)
	if err != nil {
		return nil, false, err
	}
	return content, true, nil
}

type repoInfo struct {
	DefaultBranch string `json:"default_branch"`
}

type refObject struct {
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

type commitObject struct {
	SHA  string `json:"sha"`
	Tree struct {
		SHA string `json:"sha"`
	} `json:"tree"`
}

type blobResponse struct {
	SHA string `json:"sha"`
}

type treeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

type treeResponse struct {
	SHA string `json:"sha"`
}

type pullRequest struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
}

// SubmitUpdate implements gateway.Gateway. The change set lands as one
// commit on a fresh branch, surfaced to the repository as a pull request
// against its default branch.
func (c *Client) SubmitUpdate(ctx context.Context, repository string, changes []gateway.Change) (*gateway.UpdateResult, error) {
	if len(changes) == 0 {
		return nil, &errors.ValidationError{Field: "changes", Message: "at least one change is required"}
	}
	owner, name, err := splitRepository(repository)
	if err != nil {
		return nil, err
	}
	log := logging.FromContext(ctx).With().Str("repository", repository).Logger()

	// Resolve the default branch and its head commit.
	var info repoInfo
	status, err := c.get(ctx, fmt.Sprintf("/repos/%s/%s", owner, name), &info)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, &errors.RepoNotFoundError{Repository: repository}
	}
	if status != http.StatusOK {
		return nil, c.apiError(repository, status, "/repos")
	}

	var headRef refObject
	status, err = c.get(ctx, fmt.Sprintf("/repos/%s/%s/git/ref/heads/%s", owner, name, info.DefaultBranch), &headRef)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, c.apiError(repository, status, "/git/ref")
	}
	baseSHA := headRef.Object.SHA

	var baseCommit commitObject
	status, err = c.get(ctx, fmt.Sprintf("/repos/%s/%s/git/commits/%s", owner, name, baseSHA), &baseCommit)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, c.apiError(repository, status, "/git/commits")
	}

	// One blob per change, then a tree layered on the base commit's tree.
	entries := make([]treeEntry, 0, len(changes))
	paths := make([]string, 0, len(changes))
	for _, change := range changes {
		var blob blobResponse
		status, err = c.post(ctx, fmt.Sprintf("/repos/%s/%s/git/blobs", owner, name), map[string]string{
			"content":  base64.StdEncoding.EncodeToString(change.Content),
			"encoding": "base64",
		}, &blob)
		if err != nil {
			return nil, err
		}
		if status != http.StatusCreated {
			return nil, c.apiError(repository, status, "/git/blobs")
		}
		entries = append(entries, treeEntry{
			Path: change.Path,
			Mode: blobFileMode,
			Type: "blob",
			SHA:  blob.SHA,
		})
		paths = append(paths, change.Path)
	}

	var tree treeResponse
	status, err = c.post(ctx, fmt.Sprintf("/repos/%s/%s/git/trees", owner, name), map[string]any{
		"base_tree": baseCommit.Tree.SHA,
		"tree":      entries,
	}, &tree)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated {
		return nil, c.apiError(repository, status, "/git/trees")
	}

	var commit commitObject
	status, err = c.post(ctx, fmt.Sprintf("/repos/%s/%s/git/commits", owner, name), map[string]any{
		"message": commitMessage(paths),
		"tree":    tree.SHA,
		"parents": []string{baseSHA},
	}, &commit)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated {
		return nil, c.apiError(repository, status, "/git/commits")
	}

	branch := fmt.Sprintf("%s/update-%s", c.branchPrefix, c.clock().Format("20060102150405"))
	status, err = c.post(ctx, fmt.Sprintf("/repos/%s/%s/git/refs", owner, name), map[string]string{
		"ref": "refs/heads/" + branch,
		"sha": commit.SHA,
	}, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated {
		return nil, c.apiError(repository, status, "/git/refs")
	}

	var pr pullRequest
	status, err = c.post(ctx, fmt.Sprintf("/repos/%s/%s/pulls", owner, name), map[string]string{
		"title": prTitle(paths),
		"body":  prBody(paths),
		"head":  branch,
		"base":  info.DefaultBranch,
	}, &pr)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated {
		return nil, c.apiError(repository, status, "/pulls")
	}

	log.Info().
		Int("pr", pr.Number).
		Str("branch", branch).
		Int("files", len(paths)).
		Msg("opened template update pull request")

	return &gateway.UpdateResult{
		Reference:    pr.HTMLURL,
		AppliedPaths: paths,
	}, nil
}

func commitMessage(paths []string) string {
	var b strings.Builder
	b.WriteString("chore: apply template updates\n\n")
	for _, path := range paths {
		fmt.Fprintf(&b, "- update %s\n", path)
	}
	return b.String()
}

func prTitle(paths []string) string {
	if len(paths) == 1 {
		return "chore: update template " + paths[0]
	}
	return fmt.Sprintf("chore: update %d templates", len(paths))
}

func prBody(paths []string) string {
	var b strings.Builder
	b.WriteString("Automated template updates.\n\nFiles:\n")
	for _, path := range paths {
		fmt.Fprintf(&b, "- `%s`\n", path)
	}
	return b.String()
}

// get issues an authenticated GET and decodes the body into out when the
// response is 2xx. Non-2xx statuses are returned to the caller for
// endpoint-specific handling; transport failures are wrapped.
func (c *Client) get(ctx context.Context, endpoint string, out any) (int, error) {
	return c.do(ctx, http.MethodGet, endpoint, nil, out)
}

func (c *Client) post(ctx context.Context, endpoint string, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("encoding request for %s: %w", endpoint, err)
	}
	return c.do(ctx, http.MethodPost, endpoint, payload, out)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return 0, fmt.Errorf("creating request for %s: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &errors.GatewayError{
			Endpoint: endpoint,
			Message:  "request failed",
			Err:      err,
		}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, &errors.GatewayError{
				Endpoint:   endpoint,
				StatusCode: resp.StatusCode,
				Message:    "decoding response body",
				Err:        err,
			}
		}
	}
	return resp.StatusCode, nil
}

// apiError maps an unexpected HTTP status onto the error taxonomy.
func (c *Client) apiError(repository string, status int, endpoint string) error {
	message := http.StatusText(status)
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		message = "authentication rejected"
	case http.StatusTooManyRequests:
		message = "rate limited"
	}
	return &errors.GatewayError{
		Repository: repository,
		StatusCode: status,
		Message:    message,
		Endpoint:   endpoint,
	}
}

// decodeContent unwraps the contents API base64 payload.
func decodeContent(file *contentFile) ([]byte, error) {
	if file.Encoding != "base64" {
		return nil, fmt.Errorf("unexpected content encoding %q", file.Encoding)
	}
	return base64.StdEncoding.DecodeString(strings.ReplaceAll(file.Content, "\n", ""))
}
