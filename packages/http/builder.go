package http

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	neturl "net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/chainspec/packages/core/model"
	"github.com/abdul-hamid-achik/chainspec/packages/template"
)

// BuildOptions carries the scenario-level pieces the builder needs beyond
// the request model itself.
type BuildOptions struct {
	// BaseDir is the scenario file's directory; binary and files body
	// paths resolve against it.
	BaseDir string

	// RootPath, when set, constrains body file paths to this subtree.
	RootPath string

	// Auth is the resolved authenticator: stage override when present,
	// scenario default otherwise.
	Auth Authenticator
}

// BuildRequest materializes a typed request model into a wire-ready
// request: query parameters folded into the URL, body encoded per its
// variant, the variant's Content-Type applied only when the author did not
// set one.
func BuildRequest(m *model.Request, opts BuildOptions) (*Request, error) {
	if err := ValidateURL(m.URL); err != nil {
		return nil, err
	}

	finalURL, err := appendParams(m.URL, m.Params)
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string, len(m.Headers)+1)
	for k, v := range m.Headers {
		headers[k] = v
	}

	var body []byte
	if m.Body != nil {
		data, contentType, err := encodeBody(m.Body, opts)
		if err != nil {
			return nil, err
		}
		body = data
		if contentType != "" && !hasHeader(headers, "Content-Type") {
			headers["Content-Type"] = contentType
		}
	}

	return &Request{
		Method:         m.Method,
		URL:            finalURL,
		Headers:        headers,
		Body:           body,
		Timeout:        time.Duration(m.Timeout * float64(time.Second)),
		AllowRedirects: m.AllowRedirects,
		Auth:           opts.Auth,
	}, nil
}

func appendParams(rawURL string, params map[string]any) (string, error) {
	if len(params) == 0 {
		return rawURL, nil
	}
	u, err := neturl.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %v", err)
	}

	query := u.Query()
	for name, value := range params {
		switch t := value.(type) {
		case []any:
			for _, item := range t {
				query.Add(name, template.Stringify(item))
			}
		default:
			query.Add(name, template.Stringify(value))
		}
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

func encodeBody(b *model.Body, opts BuildOptions) ([]byte, string, error) {
	switch b.Kind {
	case model.BodyJSON:
		data, err := json.Marshal(b.JSON)
		if err != nil {
			return nil, "", fmt.Errorf("encoding json body: %w", err)
		}
		return data, "application/json", nil

	case model.BodyForm:
		values := neturl.Values{}
		for name, value := range b.Form {
			switch t := value.(type) {
			case []any:
				for _, item := range t {
					values.Add(name, template.Stringify(item))
				}
			default:
				values.Add(name, template.Stringify(value))
			}
		}
		return []byte(values.Encode()), "application/x-www-form-urlencoded", nil

	case model.BodyXML:
		return []byte(b.XML), "application/xml", nil

	case model.BodyText:
		return []byte(b.Text), "text/plain", nil

	case model.BodyBase64:
		data, err := base64.StdEncoding.DecodeString(b.Base64)
		if err != nil {
			return nil, "", fmt.Errorf("decoding base64 body: %w", err)
		}
		return data, "application/octet-stream", nil

	case model.BodyBinary:
		path, err := resolveBodyPath(b.Binary, opts)
		if err != nil {
			return nil, "", err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("reading binary body: %w", err)
		}
		return data, "application/octet-stream", nil

	case model.BodyFiles:
		return encodeMultipart(b.Files, opts)

	case model.BodyGraphQL:
		payload := map[string]any{"query": b.GraphQL.Query}
		if b.GraphQL.Variables != nil {
			payload["variables"] = b.GraphQL.Variables
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, "", fmt.Errorf("encoding graphql body: %w", err)
		}
		return data, "application/json", nil

	default:
		return nil, "", fmt.Errorf("unknown body kind %v", b.Kind)
	}
}

// encodeMultipart buffers a multipart payload. Files are opened, copied
// and closed here, so descriptor lifetime never outlives request assembly.
func encodeMultipart(files map[string]string, opts BuildOptions) ([]byte, string, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)

	for field, rawPath := range files {
		path, err := resolveBodyPath(rawPath, opts)
		if err != nil {
			return nil, "", err
		}

		file, err := os.Open(path)
		if err != nil {
			return nil, "", fmt.Errorf("opening upload %q: %w", rawPath, err)
		}

		part, err := writer.CreateFormFile(field, filepath.Base(path))
		if err != nil {
			file.Close()
			return nil, "", err
		}
		_, err = io.Copy(part, file)
		file.Close()
		if err != nil {
			return nil, "", err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

// resolveBodyPath resolves a body file path against the scenario directory
// and rejects paths escaping the allowed root.
func resolveBodyPath(path string, opts BuildOptions) (string, error) {
	if !filepath.IsAbs(path) && opts.BaseDir != "" {
		path = filepath.Join(opts.BaseDir, path)
	}

	root := opts.RootPath
	if root == "" {
		root = opts.BaseDir
	}
	if root == "" {
		return path, nil
	}

	cleanRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving root directory: %v", err)
	}
	cleanPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving path: %v", err)
	}
	if cleanPath != cleanRoot && !strings.HasPrefix(cleanPath, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %s is outside allowed directory %s", path, root)
	}
	return cleanPath, nil
}
