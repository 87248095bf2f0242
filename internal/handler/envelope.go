package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/angeloszaimis/scoreproxy/internal/scoring"
)

// proxyMeta is added to JSON object responses under the "proxy" key.
type proxyMeta struct {
	Backend   string `json:"backend"`
	Scorecore string `json:"scorecore,omitempty"`
}

func envelopeFor(at *attempt) proxyMeta {
	meta := proxyMeta{Backend: at.choice.Backend.String()}
	if at.showScore {
		meta.Scorecore = scoring.FormatPoints(at.choice.Score)
	}
	return meta
}

// appendEnvelope rewrites uncompressed JSON object bodies of at most limit
// bytes in place. Anything else, including arrays, malformed JSON and larger
// bodies, passes through untouched.
func appendEnvelope(resp *http.Response, meta proxyMeta, limit int64) error {
	if !isJSON(resp.Header.Get("Content-Type")) || resp.Header.Get("Content-Encoding") != "" {
		return nil
	}
	if resp.Request != nil && resp.Request.Method == http.MethodHead {
		return nil
	}
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotModified {
		return nil
	}
	if resp.ContentLength > limit {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		resp.Body.Close()
		return err
	}
	if int64(len(body)) > limit {
		// put back what was read and stream the rest
		resp.Body = readCloser{
			Reader: io.MultiReader(bytes.NewReader(body), resp.Body),
			Closer: resp.Body,
		}
		return nil
	}
	resp.Body.Close()

	if patched, ok := injectProxyField(body, meta); ok {
		body = patched
	}

	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.TransferEncoding = nil
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
	return nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

func injectProxyField(body []byte, meta proxyMeta) ([]byte, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) < 2 || trimmed[0] != '{' || trimmed[len(trimmed)-1] != '}' || !json.Valid(trimmed) {
		return nil, false
	}

	field, err := json.Marshal(meta)
	if err != nil {
		return nil, false
	}

	inner := bytes.TrimSpace(trimmed[1 : len(trimmed)-1])

	out := make([]byte, 0, len(trimmed)+len(field)+10)
	out = append(out, '{')
	out = append(out, inner...)
	if len(inner) > 0 {
		out = append(out, ',')
	}
	out = append(out, `"proxy":`...)
	out = append(out, field...)
	out = append(out, '}')
	return out, true
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
