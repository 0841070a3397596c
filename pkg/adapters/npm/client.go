package npm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/toolharbor/toolharbor/pkg/fetch"
)

const (
	defaultRegistryURL  = "https://registry.npmjs.org"
	defaultDownloadsURL = "https://api.npmjs.org"
)

// client talks to the npm registry and the downloads endpoint.
type client struct {
	http         *fetch.Client
	registryURL  string
	downloadsURL string
}

// registryDoc is the packument returned by the registry for a package.
type registryDoc struct {
	Name     string                    `json:"name"`
	DistTags distTags                  `json:"dist-tags"`
	Versions map[string]versionDetails `json:"versions"`
	Time     map[string]time.Time      `json:"time"`
}

type distTags struct {
	Latest string `json:"latest"`
}

type versionDetails struct {
	Description  string            `json:"description"`
	License      any               `json:"license"`
	Author       any               `json:"author"`
	Repository   any               `json:"repository"`
	HomePage     string            `json:"homepage"`
	Main         string            `json:"main"`
	Bin          any               `json:"bin"`
	Dependencies map[string]string `json:"dependencies"`
	Dist         struct {
		Tarball      string `json:"tarball"`
		UnpackedSize int64  `json:"unpackedSize"`
	} `json:"dist"`
}

func (c *client) packument(ctx context.Context, name string) (*registryDoc, error) {
	var doc registryDoc
	// Scoped names encode the slash: @scope%2fname.
	path := name
	if strings.HasPrefix(name, "@") {
		path = strings.Replace(name, "/", "%2f", 1)
	}
	if err := c.http.GetJSON(ctx, c.registryURL+"/"+path, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// weeklyDownloads asks the downloads endpoint for the last-week count.
// Failures degrade to zero; popularity is a soft signal.
func (c *client) weeklyDownloads(ctx context.Context, name string) int {
	var resp struct {
		Downloads int `json:"downloads"`
	}
	url := fmt.Sprintf("%s/downloads/point/last-week/%s", c.downloadsURL, name)
	if err := c.http.GetJSON(ctx, url, &resp); err != nil {
		return 0
	}
	return resp.Downloads
}

// extractField pulls a string out of registry fields that are either a
// bare string or an object ({"type": "MIT"}, {"name": "alice"}).
func extractField(v any, field string) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]any:
		if s, ok := val[field].(string); ok {
			return s
		}
	}
	return ""
}
