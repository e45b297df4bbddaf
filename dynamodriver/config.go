package dynamodriver

// Config holds configuration for a Client — store/config.go's Config,
// narrowed to a single table now that documents are addressed generically
// by driver.Ref rather than one table per entity type.
type Config struct {
	// TableName is the DynamoDB table backing every collection.
	// Default: "strata_documents"
	TableName string
}

// DefaultConfig returns sensible defaults for small deployments.
func DefaultConfig() Config {
	return Config{TableName: "strata_documents"}
}

// validate fills in defaults for zero-valued fields — store/config.go's
// validate, kept verbatim in spirit.
func (c *Config) validate() {
	if c.TableName == "" {
		c.TableName = "strata_documents"
	}
}
