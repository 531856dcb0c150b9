package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	dlhttp "github.com/lfelipegg/civitai-model-downloader-sub000/internal/http"
)

// DefaultBaseURL is the production Civitai REST API.
const DefaultBaseURL = "https://civitai.com/api/v1"

// ErrInvalidInput is returned when an input cannot be parsed as a model
// reference.
var ErrInvalidInput = errors.New("catalog: invalid model URL or ID")

// Resolved is the metadata needed to transfer one artifact.
type Resolved struct {
	URL         string
	Filename    string
	Size        int64
	SHA256      string
	ModelName   string
	VersionName string
}

// Resolver resolves task inputs to downloadable artifacts.
type Resolver interface {
	// Resolve maps an input (model page URL, version URL or bare ID) to
	// the artifact to download. Errors are terminal: the engine never
	// retries a failed resolution.
	Resolve(ctx context.Context, input string) (*Resolved, error)

	// AlreadyPresent reports whether the resolved artifact already exists
	// in dir with the expected size.
	AlreadyPresent(res *Resolved, dir string) (bool, error)
}

var (
	modelIDRe        = regexp.MustCompile(`models/(\d+)`)
	versionIDPathRe  = regexp.MustCompile(`model-versions/(\d+)`)
	versionIDQueryRe = regexp.MustCompile(`modelVersionId=(\d+)`)
	bareIDRe         = regexp.MustCompile(`^\d+$`)
)

// ParseInput extracts the model or version ID from an input string.
// A bare numeric input is treated as a model ID.
func ParseInput(input string) (modelID, versionID string, err error) {
	input = strings.TrimSpace(input)
	if bareIDRe.MatchString(input) {
		return input, "", nil
	}
	if m := versionIDQueryRe.FindStringSubmatch(input); m != nil {
		return "", m[1], nil
	}
	if m := versionIDPathRe.FindStringSubmatch(input); m != nil {
		return "", m[1], nil
	}
	if m := modelIDRe.FindStringSubmatch(input); m != nil {
		return m[1], "", nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrInvalidInput, input)
}

// API response shapes, reduced to the fields the engine needs.
type modelVersion struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	BaseModel string `json:"baseModel"`
	Model     struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"model"`
	Files []modelFile `json:"files"`
}

type modelFile struct {
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	SizeKB      float64 `json:"sizeKB"`
	DownloadURL string  `json:"downloadUrl"`
	Hashes      struct {
		SHA256 string `json:"SHA256"`
	} `json:"hashes"`
	Primary bool `json:"primary"`
}

type model struct {
	Name          string `json:"name"`
	ModelVersions []struct {
		ID int64 `json:"id"`
	} `json:"modelVersions"`
}

// Client resolves model references against the Civitai API.
type Client struct {
	http    *dlhttp.Client
	baseURL string
}

// NewClient creates a resolver backed by the given HTTP client.
// An empty baseURL selects the production API.
func NewClient(client *dlhttp.Client, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{http: client, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// Resolve implements Resolver.
func (c *Client) Resolve(ctx context.Context, input string) (*Resolved, error) {
	modelID, versionID, err := ParseInput(input)
	if err != nil {
		return nil, err
	}

	if versionID == "" {
		versionID, err = c.latestVersionID(ctx, modelID)
		if err != nil {
			return nil, err
		}
	}

	var mv modelVersion
	if err := c.getJSON(ctx, c.baseURL+"/model-versions/"+versionID, &mv); err != nil {
		return nil, fmt.Errorf("resolve model version %s: %w", versionID, err)
	}

	file, err := pickFile(mv.Files)
	if err != nil {
		return nil, fmt.Errorf("model version %s: %w", versionID, err)
	}

	return &Resolved{
		URL:         file.DownloadURL,
		Filename:    SanitizeFilename(file.Name),
		Size:        int64(file.SizeKB * 1024),
		SHA256:      file.Hashes.SHA256,
		ModelName:   mv.Model.Name,
		VersionName: mv.Name,
	}, nil
}

// AlreadyPresent implements Resolver. The artifact counts as present when
// the destination file exists and, if the catalog reported a size, the
// sizes match.
func (c *Client) AlreadyPresent(res *Resolved, dir string) (bool, error) {
	fi, err := os.Stat(filepath.Join(dir, res.Filename))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if res.Size > 0 && fi.Size() != res.Size {
		return false, nil
	}
	return true, nil
}

// latestVersionID fetches the model record and returns its first version.
// The API lists versions newest first.
func (c *Client) latestVersionID(ctx context.Context, modelID string) (string, error) {
	var m model
	if err := c.getJSON(ctx, c.baseURL+"/models/"+modelID, &m); err != nil {
		return "", fmt.Errorf("resolve model %s: %w", modelID, err)
	}
	if len(m.ModelVersions) == 0 {
		return "", fmt.Errorf("catalog: no versions found for model %s", modelID)
	}
	return fmt.Sprintf("%d", m.ModelVersions[0].ID), nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	body, err := c.http.Get(ctx, url)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := json.NewDecoder(body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// pickFile selects the file to download: the primary file if flagged,
// otherwise the first file of type "Model", otherwise the first file.
func pickFile(files []modelFile) (*modelFile, error) {
	if len(files) == 0 {
		return nil, errors.New("no downloadable files")
	}
	for i := range files {
		if files[i].Primary {
			return &files[i], nil
		}
	}
	for i := range files {
		if files[i].Type == "Model" {
			return &files[i], nil
		}
	}
	return &files[0], nil
}

var unsafeChars = regexp.MustCompile(`[\\/:*?"<>|]`)

// SanitizeFilename replaces characters that are unsafe in file names.
func SanitizeFilename(name string) string {
	return unsafeChars.ReplaceAllString(name, "_")
}
