// Package resolver decides, per request, which upstream base URL and
// API key the relay forwards to.
package resolver

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/llmrelay/llm-relay/internal/config"
	"github.com/llmrelay/llm-relay/internal/logging"
	"github.com/llmrelay/llm-relay/internal/store"
)

// Request headers a caller may use to steer a single request.
const (
	HeaderTargetAPIURL  = "x-target-api-url"
	HeaderTargetAPIKey  = "x-target-api-key"
	HeaderTargetProfile = "x-target-profile"
)

// Target is the resolved destination for one request. Key may be empty,
// in which case the upstream call goes out unauthenticated.
type Target struct {
	BaseURL string
	Key     string
	Source  string
}

// Sources, from highest to lowest precedence.
const (
	SourceHeader  = "header"
	SourceProfile = "profile"
	SourceStored  = "stored"
	SourceDefault = "default"
)

// Resolver layers per-request headers over named profiles over the
// stored config over static defaults. URL and key resolve
// independently, so a header URL can pair with a stored key.
type Resolver struct {
	store    store.Store
	profiles *config.TargetProfiles
	defaults Target
	logger   *zap.Logger
}

// New builds a resolver. profiles may be nil when no profile file is
// configured.
func New(s store.Store, profiles *config.TargetProfiles, defaultURL, defaultKey string, logger *zap.Logger) *Resolver {
	return &Resolver{
		store:    s,
		profiles: profiles,
		defaults: Target{
			BaseURL: store.NormalizeBaseURL(defaultURL),
			Key:     defaultKey,
			Source:  SourceDefault,
		},
		logger: logger,
	}
}

// Resolve picks the target for one inbound request. A store read
// failure is not fatal: the request proceeds on whatever the higher
// and lower layers provide. Only the URL has a stored source; the key
// resolves from headers, profiles, or the static default.
func (r *Resolver) Resolve(ctx context.Context, headers http.Header) Target {
	target := r.defaults
	urlSource, keySource := SourceDefault, SourceDefault

	record, err := r.store.GetConfig(ctx)
	if err != nil {
		r.logger.Warn("config read failed, using defaults", zap.Error(err))
	} else if url, ok := record.URL(); ok {
		target.BaseURL = url
		urlSource = SourceStored
	}

	if name := headers.Get(HeaderTargetProfile); name != "" {
		if profile, ok := r.profiles.Get(name); ok {
			target.BaseURL = store.NormalizeBaseURL(profile.BaseURL)
			urlSource = SourceProfile
			if profile.APIKey != "" {
				target.Key = profile.APIKey
				keySource = SourceProfile
			}
		} else {
			r.logger.Warn("unknown target profile", zap.String("profile", name))
		}
	}

	if url := headers.Get(HeaderTargetAPIURL); url != "" {
		target.BaseURL = store.NormalizeBaseURL(url)
		urlSource = SourceHeader
	}
	if key := headers.Get(HeaderTargetAPIKey); key != "" {
		target.Key = key
		keySource = SourceHeader
	}

	target.Source = urlSource
	if target.Key == "" {
		r.logger.Warn("no API key resolved, forwarding unauthenticated",
			zap.String("base_url", target.BaseURL))
	}
	r.logger.Debug("resolved target",
		zap.String("base_url", target.BaseURL),
		zap.String("url_source", urlSource),
		zap.String("key_source", keySource),
		zap.String("key", logging.ObfuscateSecret(target.Key)))
	return target
}
