package cli

import (
	"log"
	"os"

	"github.com/miyabi-dev/miyabi/internal/config"
	"github.com/miyabi-dev/miyabi/internal/observability"
)

// newTracer builds the Langfuse tracer used to trace dispatched agent runs.
// Credentials come from the environment, not YAML, so they never land in
// .miyabi/config.yaml; cfg only toggles whether tracing runs at all and
// which Langfuse instance (cloud or self-hosted) to target.
func newTracer(cfg config.ObservabilityConfig) observability.Tracer {
	if !cfg.Enabled {
		return &observability.NoOpTracer{}
	}

	publicKey := os.Getenv("LANGFUSE_PUBLIC_KEY")
	secretKey := os.Getenv("LANGFUSE_SECRET_KEY")
	if publicKey == "" || secretKey == "" {
		return &observability.NoOpTracer{}
	}

	return observability.NewLangfuseTracer(observability.LangfuseConfig{
		PublicKey: publicKey,
		SecretKey: secretKey,
		BaseURL:   cfg.BaseURL,
	}, log.Default())
}
