// Package zerver is the embedding surface described by spec.md §6: it
// wires the slot schema, context construction, route registry, pipeline
// interpreter, and effect executor into a single Server a host program
// constructs once and then either drives with HandleRequest (for tests
// and non-socket embedding) or hands to Listen.
package zerver

import (
	"github.com/spf13/viper"

	"github.com/monstercameron/zerver/internal/effect"
	"github.com/monstercameron/zerver/internal/pipeline"
	"github.com/monstercameron/zerver/internal/zctx"
)

// ContentNegotiation lists the representations this server can produce,
// consulted by the codec's request-acceptance checks (spec.md §4.6)
// before a request ever reaches the router. A Server that never varies
// its responses by Accept-Language/Accept-Charset can leave those at
// their single-entry defaults; they still have to be non-empty or every
// request carrying that header would be rejected as unsatisfiable.
type ContentNegotiation struct {
	MediaTypes      []string
	Languages       []string
	Charsets        []string
	Encodings       []string
	TransferCodings []string // offered against the TE header; 501 on mismatch
}

// DefaultContentNegotiation matches what the demo routes in cmd/zerver
// and internal/demorender actually produce.
func DefaultContentNegotiation() ContentNegotiation {
	return ContentNegotiation{
		MediaTypes:      []string{"application/json", "text/html", "text/plain"},
		Languages:       []string{"en"},
		Charsets:        []string{"utf-8"},
		Encodings:       []string{"identity"},
		TransferCodings: []string{"trailers"},
	}
}

// Config bundles every enumerated option from spec.md §6. It is built
// either by hand (for tests and library embedding) or via Load, which
// reads it from a *viper.Viper the way the teacher's internal/config
// reads flags/env bound by cobra — see cmd/zerver/main.go.
type Config struct {
	Addr string

	MaxIterations int
	Budget        pipeline.ResourceBudget
	Security      effect.SecurityPolicy
	Assertions    zctx.AssertionPolicy
	Negotiation   ContentNegotiation

	// MaxArenaBytes bounds the per-request bump arena independently of
	// Budget.MaxMemoryBytes, matching spec.md's "max_memory_bytes per
	// request" option; the two are the same number in DefaultConfig but
	// kept distinct because Budget only gates effect dispatch while the
	// arena also bounds slot writes made directly by steps.
	MaxArenaBytes int
}

// DefaultConfig matches every default listed in spec.md §6.
func DefaultConfig() Config {
	budget := pipeline.DefaultBudget()
	return Config{
		Addr:          ":8080",
		MaxIterations: pipeline.DefaultMaxIterations,
		Budget:        budget,
		Security:      effect.DefaultSecurityPolicy(),
		Assertions:    zctx.AssertionPolicy{},
		Negotiation:   DefaultContentNegotiation(),
		MaxArenaBytes: budget.MaxMemoryBytes,
	}
}

// Load reads a Config from v, falling back to DefaultConfig's values for
// any key v does not have set. It mirrors the teacher's
// internal/config.Load()'s "read everything out of viper into a plain
// struct" shape, generalized from claude-ops's flat tier/prompt fields
// to zerver's nested budget/policy/assertion groups.
func Load(v *viper.Viper) Config {
	cfg := DefaultConfig()

	if v.IsSet("addr") {
		cfg.Addr = v.GetString("addr")
	}
	if v.IsSet("max_iterations") {
		cfg.MaxIterations = v.GetInt("max_iterations")
	}
	if v.IsSet("max_concurrent_effects") {
		cfg.Budget.MaxConcurrentEffects = v.GetInt("max_concurrent_effects")
	}
	if v.IsSet("max_total_effects") {
		cfg.Budget.MaxTotalEffects = v.GetInt("max_total_effects")
	}
	if v.IsSet("max_memory_bytes") {
		cfg.Budget.MaxMemoryBytes = v.GetInt("max_memory_bytes")
		cfg.MaxArenaBytes = cfg.Budget.MaxMemoryBytes
	}
	if v.IsSet("max_outbound_bytes") {
		cfg.Budget.MaxOutboundBytes = v.GetInt("max_outbound_bytes")
		cfg.Security.MaxOutboundBytes = v.GetInt("max_outbound_bytes")
	}
	if v.IsSet("max_query_length") {
		cfg.Security.MaxQueryLength = v.GetInt("max_query_length")
	}
	if v.IsSet("allowed_hosts") {
		cfg.Security.AllowedHosts = v.GetStringSlice("allowed_hosts")
	}
	if v.IsSet("forbidden_schemes") {
		cfg.Security.ForbiddenSchemes = v.GetStringSlice("forbidden_schemes")
	}
	if v.IsSet("default_timeout_ms") {
		cfg.Security.DefaultTimeoutMillis = v.GetInt("default_timeout_ms")
	}
	if v.IsSet("forbidden_sql_keywords") {
		cfg.Security.ForbiddenSQLKeywords = v.GetStringSlice("forbidden_sql_keywords")
	}
	if v.IsSet("require_parameterized") {
		cfg.Security.RequireParameterized = v.GetBool("require_parameterized")
	}
	if v.IsSet("must_use_reads") {
		cfg.Assertions.MustUseReads = v.GetBool("must_use_reads")
	}
	if v.IsSet("must_use_writes") {
		cfg.Assertions.MustUseWrites = v.GetBool("must_use_writes")
	}
	if v.IsSet("warn_unused_reads") {
		cfg.Assertions.WarnUnusedReads = v.GetBool("warn_unused_reads")
	}
	if v.IsSet("warn_unused_writes") {
		cfg.Assertions.WarnUnusedWrites = v.GetBool("warn_unused_writes")
	}

	return cfg
}
