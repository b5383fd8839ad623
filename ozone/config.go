package ozone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	client "github.com/bluesky-social/indigo/atproto/atclient"
	"github.com/bluesky-social/indigo/atproto/identity"
	"github.com/bluesky-social/indigo/atproto/syntax"

	"github.com/atcosm/modconsole/readiness"
)

// Service and key identifiers a labeler declares in its DID document.
const (
	labelerServiceID = "atproto_labeler"
	labelerKeyID     = "atproto_label"

	labelerRecordCollection = "app.bsky.labeler.service"
	labelerRecordKey        = "self"
)

// ConfigFetcher resolves the moderation service's setup from the network: its
// DID document (signing key and service endpoint declarations) and the
// labeler declaration record in its repo.
type ConfigFetcher struct {
	dir        identity.Directory
	serviceDID syntax.DID
	httpClient *http.Client
	log        *slog.Logger
}

var _ readiness.ConfigFetcher = (*ConfigFetcher)(nil)

func NewConfigFetcher(dir identity.Directory, serviceDID syntax.DID, httpClient *http.Client, logger *slog.Logger) *ConfigFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ConfigFetcher{
		dir:        dir,
		serviceDID: serviceDID,
		httpClient: httpClient,
		log:        logger.With("system", "ozone"),
	}
}

func (f *ConfigFetcher) Fetch(ctx context.Context) (*readiness.ServiceConfig, error) {
	ident, err := f.dir.LookupDID(ctx, f.serviceDID)
	if err != nil {
		return nil, fmt.Errorf("resolving service identity: %w", err)
	}

	cfg := &readiness.ServiceConfig{DID: ident.DID}

	_, hasKey := ident.Keys[labelerKeyID]
	cfg.Needs.Key = !hasKey

	svc, hasSvc := ident.Services[labelerServiceID]
	cfg.Needs.Service = !hasSvc || svc.URL == ""

	// the declaration record lives in the service account's own repo
	pds := ident.PDSEndpoint()
	if pds == "" {
		cfg.Needs.Record = true
		f.log.Debug("service identity has no PDS endpoint", "did", ident.DID)
		return cfg, nil
	}
	found, err := f.recordExists(ctx, pds, ident.DID)
	if err != nil {
		return nil, err
	}
	cfg.Needs.Record = !found

	return cfg, nil
}

func (f *ConfigFetcher) recordExists(ctx context.Context, host string, did syntax.DID) (bool, error) {
	c := client.APIClient{
		Client: f.httpClient,
		Host:   host,
	}
	err := c.Get(ctx, "com.atproto.repo.getRecord", map[string]any{
		"repo":       did.String(),
		"collection": labelerRecordCollection,
		"rkey":       labelerRecordKey,
	}, nil)
	if err == nil {
		return true, nil
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) &&
		(apiErr.StatusCode == http.StatusBadRequest || apiErr.StatusCode == http.StatusNotFound) {
		// RecordNotFound comes back as a 400
		return false, nil
	}
	return false, fmt.Errorf("checking labeler declaration record: %w", err)
}
