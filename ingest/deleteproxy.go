package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/hazyhaar/corpus/registry"
)

type deleteNotice struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
}

// notifyDeleteProxy tells the configured downstream that a file's chunks
// are gone. Disk is the source of truth, so a failed notification is
// logged and the purge proceeds anyway.
func (p *Pipeline) notifyDeleteProxy(ctx context.Context, rec *registry.FileRecord) {
	if p.deleteProxy == "" {
		return
	}

	body, err := json.Marshal(deleteNotice{Path: rec.Path, Hash: rec.Fingerprint})
	if err != nil {
		p.logger.Error("delete proxy: marshal", "path", rec.Path, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.deleteProxy, bytes.NewReader(body))
	if err != nil {
		p.logger.Error("delete proxy: build request", "path", rec.Path, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		p.logger.Warn("delete proxy unreachable", "path", rec.Path, "error", err)
		return
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		p.logger.Warn("delete proxy rejected notice", "path", rec.Path, "status", resp.StatusCode)
	}
}
