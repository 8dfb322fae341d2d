package store

import "context"

// BackendConfig selects which remote backends to wire into a Router.
// Unset fields simply aren't registered; operations against URIs of that
// scheme then fail with ConfigError.
type BackendConfig struct {
	S3Enabled    bool
	AzureAccount string
	AzureKey     string
	GCSEnabled   bool
	HDFSNamenode string
}

// NewDefaultRouter builds a Router with the local backend always registered as
// the no-scheme fallback, plus whichever remote backends BackendConfig
// asks for.
func NewDefaultRouter(ctx context.Context, cfg BackendConfig) (*Router, error) {
	r := NewRouter()
	r.Register("", NewLocalBackend())

	if cfg.S3Enabled {
		s3b, err := NewS3Backend(ctx)
		if err != nil {
			return nil, err
		}
		r.Register("s3", s3b)
	}
	if cfg.AzureAccount != "" {
		azb, err := NewAzureBackend(cfg.AzureAccount, cfg.AzureKey)
		if err != nil {
			return nil, err
		}
		r.Register("az", azb)
	}
	if cfg.GCSEnabled {
		gcsb, err := NewGCSBackend(ctx)
		if err != nil {
			return nil, err
		}
		r.Register("gs", gcsb)
	}
	if cfg.HDFSNamenode != "" {
		hb, err := NewHDFSBackend(cfg.HDFSNamenode)
		if err != nil {
			return nil, err
		}
		r.Register("hdfs", hb)
	}
	return r, nil
}
