// Package builtin seeds the plugin registry with the stock pipeline
// components. Every entry point that resolves components by name (the CLI,
// the subscription manager) calls Register first; profile declarations and
// the plugins command then share one catalogue.
package builtin

import (
	"sync"

	"github.com/kpblcaoo/sboxmgr/internal/export"
	"github.com/kpblcaoo/sboxmgr/internal/fetch"
	"github.com/kpblcaoo/sboxmgr/internal/middleware"
	"github.com/kpblcaoo/sboxmgr/internal/parse"
	"github.com/kpblcaoo/sboxmgr/internal/plugin"
	"github.com/kpblcaoo/sboxmgr/internal/policy"
	"github.com/kpblcaoo/sboxmgr/internal/postprocess"
	"github.com/kpblcaoo/sboxmgr/internal/routing"
)

var registerOnce sync.Once

// Register seeds the registry once; later calls are no-ops. Factories build a
// fresh instance per call, so callers may mutate what they get back.
func Register() {
	registerOnce.Do(register)
}

func register() {
	plugin.MustRegister(plugin.KindParser, "base64", func(map[string]any) (any, error) {
		return parse.NewBase64Parser(), nil
	})
	plugin.MustRegister(plugin.KindParser, "singbox", func(map[string]any) (any, error) {
		return parse.NewSingboxParser(), nil
	})
	plugin.MustRegister(plugin.KindParser, "clash", func(map[string]any) (any, error) {
		return parse.NewClashParser(), nil
	})
	plugin.MustRegister(plugin.KindParser, "json", func(map[string]any) (any, error) {
		return parse.NewJSONParser(), nil
	})
	plugin.MustRegister(plugin.KindParser, "uri-list", func(map[string]any) (any, error) {
		return parse.NewURIListParser(), nil
	})

	plugin.MustRegister(plugin.KindFetcher, "url", func(config map[string]any) (any, error) {
		return fetch.NewURLFetcher(fetch.URLOptions{
			UserAgent:         cfgString(config, "user_agent"),
			SuppressUserAgent: cfgBool(config, "no_user_agent"),
		}), nil
	})
	plugin.MustRegister(plugin.KindFetcher, "file", func(config map[string]any) (any, error) {
		// Empty base_dir confines reads to the working directory.
		return fetch.NewFileFetcher(cfgString(config, "base_dir"), 0)
	})
	plugin.MustRegister(plugin.KindFetcher, "api", func(config map[string]any) (any, error) {
		return fetch.NewAPIFetcher(cfgString(config, "token"), fetch.URLOptions{}), nil
	})

	plugin.MustRegister(plugin.KindRawValidator, "text", func(map[string]any) (any, error) {
		return fetch.ValidateRawBody, nil
	})

	plugin.MustRegister(plugin.KindMiddleware, "logging", func(map[string]any) (any, error) {
		return middleware.NewLogging(nil, nil), nil
	})
	plugin.MustRegister(plugin.KindMiddleware, "enrichment", func(map[string]any) (any, error) {
		return middleware.NewEnrichment(nil, 0, nil), nil
	})
	plugin.MustRegister(plugin.KindMiddleware, "tag-normalize", func(map[string]any) (any, error) {
		return middleware.NewTagNormalize(), nil
	})
	plugin.MustRegister(plugin.KindMiddleware, "outbound-filter", func(config map[string]any) (any, error) {
		return middleware.NewOutboundFilter(cfgStrings(config, "protocols")), nil
	})
	plugin.MustRegister(plugin.KindMiddleware, "route-config", func(config map[string]any) (any, error) {
		return middleware.NewRouteConfig(cfgString(config, "final")), nil
	})

	plugin.MustRegister(plugin.KindPostprocessor, "geo-filter", func(config map[string]any) (any, error) {
		return postprocess.NewGeoFilter(
			cfgStrings(config, "include"),
			cfgStrings(config, "exclude"),
			postprocess.FallbackMode(cfgString(config, "fallback_mode")),
		), nil
	})
	plugin.MustRegister(plugin.KindPostprocessor, "tag-filter", func(config map[string]any) (any, error) {
		return postprocess.NewTagFilter(
			cfgStrings(config, "whitelist"),
			cfgStrings(config, "blacklist"),
			cfgBool(config, "case_sensitive"),
		)
	})
	plugin.MustRegister(plugin.KindPostprocessor, "latency-sort", func(config map[string]any) (any, error) {
		return postprocess.NewLatencySort(
			cfgFloat(config, "max_latency_ms"),
			cfgFloat(config, "fallback_latency_ms"),
			cfgBool(config, "remove_high"),
			postprocess.MeasureMethod(cfgString(config, "method")),
			nil,
		), nil
	})
	plugin.MustRegister(plugin.KindPostprocessor, "deduplicate", func(map[string]any) (any, error) {
		return postprocess.NewDeduplicate(), nil
	})

	plugin.MustRegister(plugin.KindPolicy, "protocol", func(config map[string]any) (any, error) {
		return policy.NewProtocolPolicy(
			policy.ProtocolMode(cfgString(config, "mode")),
			cfgStrings(config, "protocols"),
		), nil
	})
	plugin.MustRegister(plugin.KindPolicy, "encryption", func(config map[string]any) (any, error) {
		return policy.NewEncryptionPolicy(cfgStrings(config, "strong"), cfgStrings(config, "weak")), nil
	})
	plugin.MustRegister(plugin.KindPolicy, "authentication", func(config map[string]any) (any, error) {
		return policy.NewAuthenticationPolicy(cfgStrings(config, "methods"), cfgInt(config, "min_length")), nil
	})
	plugin.MustRegister(plugin.KindPolicy, "country", func(config map[string]any) (any, error) {
		return policy.NewCountryPolicy(cfgStrings(config, "allow"), cfgStrings(config, "deny")), nil
	})
	plugin.MustRegister(plugin.KindPolicy, "geo-asn", func(config map[string]any) (any, error) {
		return policy.NewGeoASNPolicy(cfgStrings(config, "warn_countries"), cfgStrings(config, "warn_asns")), nil
	})
	plugin.MustRegister(plugin.KindPolicy, "integrity", func(map[string]any) (any, error) {
		return policy.NewIntegrityPolicy(), nil
	})
	plugin.MustRegister(plugin.KindPolicy, "permission", func(config map[string]any) (any, error) {
		return policy.NewPermissionPolicy(cfgStrings(config, "required")), nil
	})
	plugin.MustRegister(plugin.KindPolicy, "limit", func(config map[string]any) (any, error) {
		return policy.NewLimitPolicy(cfgInt(config, "max_servers")), nil
	})

	plugin.MustRegister(plugin.KindExporter, export.FormatSingbox, func(map[string]any) (any, error) {
		return export.NewSingbox(false), nil
	})
	plugin.MustRegister(plugin.KindExporter, export.FormatSingboxLegacy, func(map[string]any) (any, error) {
		return export.NewSingbox(true), nil
	})
	plugin.MustRegister(plugin.KindExporter, export.FormatClash, func(map[string]any) (any, error) {
		return export.NewClash(), nil
	})

	plugin.MustRegister(plugin.KindRouter, "default", func(map[string]any) (any, error) {
		return routing.NewDefault(), nil
	})
}

func cfgString(config map[string]any, key string) string {
	v, _ := config[key].(string)
	return v
}

func cfgBool(config map[string]any, key string) bool {
	v, _ := config[key].(bool)
	return v
}

func cfgFloat(config map[string]any, key string) float64 {
	switch v := config[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func cfgInt(config map[string]any, key string) int {
	switch v := config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func cfgStrings(config map[string]any, key string) []string {
	switch v := config[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
