// Package colmena implements a privacy-preserving federated model pool.
//
// Independent organizations train models on their own data, extract a
// restricted numeric summary, and submit it to a shared pool. Once a
// quorum of contributions exists for a model type, the pool combines
// them with sample-count weighting, perturbs the result with calibrated
// noise, scores its confidence, and publishes a single aggregated model
// that any contributor can fetch. Raw records never leave the
// contributor boundary.
//
// # Basic Usage
//
// Run a pool backed by SQLite:
//
//	store, err := colmena.NewSQLiteStore(colmena.DefaultSQLiteStoreConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fed, err := colmena.NewFederation(colmena.DefaultFederationConfig(), store)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer fed.Close()
//
// Submit a contribution:
//
//	status, err := fed.SubmitContribution(contrib)
//
// Fetch the latest aggregate:
//
//	model, err := fed.Aggregated(colmena.ModelTypeDemandForecast)
//
// On the contributor side, [LocalTrainer] fits a model on private
// tabular data and [Client] handles anonymization and transport:
//
//	client := colmena.NewClient(colmena.ClientConfig{BaseURL: "https://pool.example.com"})
//	status, err := client.SubmitContribution(ctx, contrib)
//
// # Privacy model
//
// The pool's guarantees are heuristic, not cryptographic: an
// identifying-term blocklist, minimum sample counts, opaque segment
// hashes, and Laplace noise shaped by epsilon. Noise sensitivity is not
// calibrated to value ranges, so this is not certified differential
// privacy. There is no secure multi-party aggregation; combination runs
// inside a single trusted process.
//
// # Features
//
// Server side:
//   - Anonymization gate (blocklist, segment hash length, sample minimums)
//   - Per-model-type contribution accumulation with quorum gating
//   - Strategy-based aggregation (linear, ensemble, classification, generic)
//   - Laplace noise injection and confidence scoring
//   - Durable snapshot registry (SQLite, S3, or in-memory)
//   - WebSocket streaming of newly released aggregates
//   - Audit log of contributions, aggregations, and queries
//
// Client side:
//   - Local training with train/validation split
//   - Numeric-only parameter extraction
//   - Client-side noise pass and pre-flight anonymization check
//   - Fail-closed HTTP transport with fixed timeout
package colmena
