package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/strata/driver"
	"github.com/jacentio/strata/dynamodriver"
)

// Init builds a new driver.Client from the default AWS configuration and
// returns it; it does not store the client anywhere, and every txn.Run
// call takes its client explicitly.
// Grounded on e2e/integration_test.go's TestMain bootstrap
// (config.LoadDefaultConfig + dynamodb.NewFromConfig), generalized from
// a test-only fixture into a reusable entry point per spec.md §9's note
// that the source's implicit global default database handle should
// become explicit construction plus an injectable seam — Init is that
// explicit construction, and nothing in strata calls it automatically.
func Init(ctx context.Context, cfg dynamodriver.Config, optFns ...func(*config.LoadOptions) error) (driver.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("registry: load AWS config: %w", err)
	}
	return dynamodriver.New(dynamodb.NewFromConfig(awsCfg), cfg), nil
}

var (
	defaultMu  sync.RWMutex
	defaultReg *Registry = New()
)

// Default returns the process-wide Registry. strata never auto-registers
// a class into it — callers register every model.Meta explicitly,
// keeping discovery static and inspectable rather than relying on
// package init() side effects.
func Default() *Registry {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultReg
}

// Teardown releases the process-wide Registry, replacing it with an
// empty one. Intended for test suites that register classes per test
// run and need a clean registry between them.
func Teardown() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultReg = New()
}
