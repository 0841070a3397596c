package github

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/toolharbor/toolharbor/pkg/errors"
	"github.com/toolharbor/toolharbor/pkg/fetch"
)

var repoURLPattern = regexp.MustCompile(`(?:https?://)?github\.com/([^/]+)/([^/]+?)(?:\.git)?(?:[/?#]|$)`)

// ParseRepoURL extracts owner and repo from a GitHub URL or
// github.com/owner/repo shorthand.
func ParseRepoURL(raw string) (owner, repo string, ok bool) {
	m := repoURLPattern.FindStringSubmatch(raw)
	if len(m) < 3 {
		return "", "", false
	}
	return m[1], m[2], true
}

// manifestPaths are the manifest files requested in the batched query.
var manifestPaths = []string{"package.json", "pyproject.toml", "requirements.txt", "go.mod"}

// sourcePaths are the entry source files requested for static analysis.
var sourcePaths = []string{"index.js", "src/index.js", "src/index.ts", "main.py", "src/main.py", "server.py", "main.go"}

// client issues the batched GraphQL query (authenticated) or the REST
// fallback (unauthenticated) against the GitHub API.
type client struct {
	http   *fetch.Client
	token  string
	apiURL string // REST base
	gqlURL string // GraphQL endpoint
}

func newClient(httpc *fetch.Client, token, baseURL string) *client {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	return &client{
		http:   httpc,
		token:  token,
		apiURL: baseURL,
		gqlURL: baseURL + "/graphql",
	}
}

func (c *client) headers() map[string]string {
	h := map[string]string{"Accept": "application/vnd.github.v3+json"}
	if c.token != "" {
		h["Authorization"] = "Bearer " + c.token
	}
	return h
}

// repoData is the merged result of the batched query or REST fallback.
type repoData struct {
	Description string
	License     string
	Owner       string
	Stars       int
	Forks       int
	OpenIssues  int
	PushedAt    *time.Time

	Manifests map[string][]byte
	Sources   map[string][]byte

	LatestRelease *time.Time
	Contributors  []string
}

// contributorPageSize is the page size for the contributor listing,
// both in the batched document and in overflow pages.
const contributorPageSize = 100

// fetchBatched issues one GraphQL document combining repository metadata,
// manifest blobs, entry source blobs, the latest release, and the first
// contributors page. Aliased object() fields keep it a single round trip;
// only contributor pages past the first cost extra requests.
func (c *client) fetchBatched(ctx context.Context, owner, repo string) (*repoData, error) {
	var fields string
	aliases := map[string]string{}
	for i, p := range manifestPaths {
		alias := fmt.Sprintf("m%d", i)
		aliases[alias] = p
		fields += fmt.Sprintf("%s: object(expression: %q) { ... on Blob { text } }\n", alias, "HEAD:"+p)
	}
	for i, p := range sourcePaths {
		alias := fmt.Sprintf("s%d", i)
		aliases[alias] = p
		fields += fmt.Sprintf("%s: object(expression: %q) { ... on Blob { text } }\n", alias, "HEAD:"+p)
	}

	// mentionableUsers is the contributor listing readable without push
	// permission on the repository.
	query := fmt.Sprintf(`query($owner: String!, $name: String!, $cursor: String) {
  repository(owner: $owner, name: $name) {
    description
    stargazerCount
    forkCount
    pushedAt
    licenseInfo { spdxId }
    owner { login }
    issues(states: OPEN) { totalCount }
    releases(first: 1, orderBy: {field: CREATED_AT, direction: DESC}) {
      nodes { publishedAt }
    }
    mentionableUsers(first: %d, after: $cursor) {
      nodes { login }
      pageInfo { hasNextPage endCursor }
    }
    %s
  }
}`, contributorPageSize, fields)

	payload := map[string]any{
		"query":     query,
		"variables": map[string]string{"owner": owner, "name": repo},
	}

	// Decode twice: typed fields first, then the aliased blobs from the
	// raw document.
	var raw struct {
		Data struct {
			Repository map[string]any `json:"repository"`
		} `json:"data"`
		Errors []struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := c.http.PostJSON(ctx, c.gqlURL, c.headers(), payload, &raw); err != nil {
		return nil, err
	}
	for _, e := range raw.Errors {
		if e.Type == "NOT_FOUND" {
			return nil, errors.New(errors.ErrCodeNotFound, "github repo %s/%s", owner, repo)
		}
	}
	if raw.Data.Repository == nil {
		if len(raw.Errors) > 0 {
			return nil, errors.New(errors.ErrCodeTransient, "graphql: %s", raw.Errors[0].Message)
		}
		return nil, errors.New(errors.ErrCodeNotFound, "github repo %s/%s", owner, repo)
	}

	d := &repoData{
		Manifests: make(map[string][]byte),
		Sources:   make(map[string][]byte),
	}
	r := raw.Data.Repository
	d.Description, _ = r["description"].(string)
	d.Stars = intField(r, "stargazerCount")
	d.Forks = intField(r, "forkCount")
	if o, ok := r["owner"].(map[string]any); ok {
		d.Owner, _ = o["login"].(string)
	}
	if li, ok := r["licenseInfo"].(map[string]any); ok {
		d.License, _ = li["spdxId"].(string)
	}
	if is, ok := r["issues"].(map[string]any); ok {
		d.OpenIssues = intField(is, "totalCount")
	}
	if ts, ok := r["pushedAt"].(string); ok {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			d.PushedAt = &t
		}
	}
	if rel, ok := r["releases"].(map[string]any); ok {
		if nodes, ok := rel["nodes"].([]any); ok && len(nodes) > 0 {
			if n, ok := nodes[0].(map[string]any); ok {
				if ts, ok := n["publishedAt"].(string); ok {
					if t, err := time.Parse(time.RFC3339, ts); err == nil {
						d.LatestRelease = &t
					}
				}
			}
		}
	}
	for alias, path := range aliases {
		blob, ok := r[alias].(map[string]any)
		if !ok {
			continue
		}
		text, ok := blob["text"].(string)
		if !ok {
			continue
		}
		if alias[0] == 'm' {
			d.Manifests[path] = []byte(text)
		} else {
			d.Sources[path] = []byte(text)
		}
	}

	// Follow the contributor cursor. A failed overflow page leaves the
	// listing truncated rather than failing the whole fetch.
	cursor, more := d.appendContributorPage(r)
	for more {
		page, err := c.contributorPage(ctx, owner, repo, cursor)
		if err != nil {
			break
		}
		cursor, more = d.appendContributorPage(page)
	}
	return d, nil
}

// appendContributorPage pulls one mentionableUsers page out of a decoded
// repository document and reports the cursor for the next page.
func (d *repoData) appendContributorPage(r map[string]any) (cursor string, more bool) {
	mu, ok := r["mentionableUsers"].(map[string]any)
	if !ok {
		return "", false
	}
	if nodes, ok := mu["nodes"].([]any); ok {
		for _, n := range nodes {
			if u, ok := n.(map[string]any); ok {
				if login, ok := u["login"].(string); ok && login != "" {
					d.Contributors = append(d.Contributors, login)
				}
			}
		}
	}
	pi, ok := mu["pageInfo"].(map[string]any)
	if !ok {
		return "", false
	}
	more, _ = pi["hasNextPage"].(bool)
	cursor, _ = pi["endCursor"].(string)
	return cursor, more && cursor != ""
}

// contributorPage fetches one overflow page of the contributor listing.
func (c *client) contributorPage(ctx context.Context, owner, repo, cursor string) (map[string]any, error) {
	query := fmt.Sprintf(`query($owner: String!, $name: String!, $cursor: String) {
  repository(owner: $owner, name: $name) {
    mentionableUsers(first: %d, after: $cursor) {
      nodes { login }
      pageInfo { hasNextPage endCursor }
    }
  }
}`, contributorPageSize)

	payload := map[string]any{
		"query":     query,
		"variables": map[string]string{"owner": owner, "name": repo, "cursor": cursor},
	}
	var raw struct {
		Data struct {
			Repository map[string]any `json:"repository"`
		} `json:"data"`
	}
	if err := c.http.PostJSON(ctx, c.gqlURL, c.headers(), payload, &raw); err != nil {
		return nil, err
	}
	if raw.Data.Repository == nil {
		return nil, errors.New(errors.ErrCodeTransient, "graphql: empty contributor page for %s/%s", owner, repo)
	}
	return raw.Data.Repository, nil
}

// fetchREST is the unauthenticated fallback: repository metadata, then
// raw manifest/source files and the latest release. More round trips and
// lower rate limits, but no token required.
func (c *client) fetchREST(ctx context.Context, owner, repo string) (*repoData, error) {
	var meta struct {
		Description string     `json:"description"`
		Stars       int        `json:"stargazers_count"`
		Forks       int        `json:"forks_count"`
		OpenIssues  int        `json:"open_issues_count"`
		PushedAt    *time.Time `json:"pushed_at"`
		License     *struct {
			SPDXID string `json:"spdx_id"`
		} `json:"license"`
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
		DefaultBranch string `json:"default_branch"`
	}
	url := fmt.Sprintf("%s/repos/%s/%s", c.apiURL, owner, repo)
	if err := c.http.GetJSONWithHeaders(ctx, url, c.headers(), &meta); err != nil {
		return nil, err
	}

	d := &repoData{
		Description: meta.Description,
		Owner:       meta.Owner.Login,
		Stars:       meta.Stars,
		Forks:       meta.Forks,
		OpenIssues:  meta.OpenIssues,
		PushedAt:    meta.PushedAt,
		Manifests:   make(map[string][]byte),
		Sources:     make(map[string][]byte),
	}
	if meta.License != nil {
		d.License = meta.License.SPDXID
	}
	branch := meta.DefaultBranch
	if branch == "" {
		branch = "HEAD"
	}

	for _, p := range manifestPaths {
		if text, err := c.rawFile(ctx, owner, repo, branch, p); err == nil {
			d.Manifests[p] = text
		}
	}
	for _, p := range sourcePaths {
		if text, err := c.rawFile(ctx, owner, repo, branch, p); err == nil {
			d.Sources[p] = text
		}
	}

	var rel struct {
		PublishedAt *time.Time `json:"published_at"`
	}
	relURL := fmt.Sprintf("%s/repos/%s/%s/releases/latest", c.apiURL, owner, repo)
	if err := c.http.GetJSONWithHeaders(ctx, relURL, c.headers(), &rel); err == nil {
		d.LatestRelease = rel.PublishedAt
	}

	d.Contributors, _ = c.contributors(ctx, owner, repo)
	return d, nil
}

func (c *client) rawFile(ctx context.Context, owner, repo, branch, path string) ([]byte, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/contents/%s?ref=%s", c.apiURL, owner, repo, path, branch)
	headers := c.headers()
	headers["Accept"] = "application/vnd.github.raw+json"
	body, err := c.http.GetBody(ctx, url, headers)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return readAllLimited(body, 1<<20) // manifests and entry files, not trees
}

// contributors pages through the contributor listing. Most repositories
// fit in one page; the loop only continues while full pages come back.
func (c *client) contributors(ctx context.Context, owner, repo string) ([]string, error) {
	const perPage = 100
	var logins []string
	for page := 1; ; page++ {
		var batch []struct {
			Login string `json:"login"`
			Type  string `json:"type"`
		}
		url := fmt.Sprintf("%s/repos/%s/%s/contributors?per_page=%d&page=%d", c.apiURL, owner, repo, perPage, page)
		if err := c.http.GetJSONWithHeaders(ctx, url, c.headers(), &batch); err != nil {
			return logins, err
		}
		for _, cr := range batch {
			if cr.Type != "Bot" {
				logins = append(logins, cr.Login)
			}
		}
		if len(batch) < perPage {
			return logins, nil
		}
	}
}

func intField(m map[string]any, key string) int {
	if f, ok := m[key].(float64); ok {
		return int(f)
	}
	return 0
}

func readAllLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errors.New(errors.ErrCodeDecompressionBomb, "file exceeds %s", fetch.FormatBytes(limit))
	}
	return data, nil
}
