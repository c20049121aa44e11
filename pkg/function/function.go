package function

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/opscart/lambda-sizer/pkg/models"
	"github.com/opscart/lambda-sizer/pkg/pricing"
)

const aliasExistsMessage = "Alias already exists"

// AliasFor names the alias that pins a memory configuration.
func AliasFor(memoryMB int) string {
	return fmt.Sprintf("%dMB", memoryMB)
}

// Function manages memory configurations of one compute function and turns
// its invocations into execution logs.
type Function struct {
	id     string
	client Client
	rates  pricing.Rates
	logger zerolog.Logger
}

func New(id string, client Client, rates pricing.Rates, logger zerolog.Logger) *Function {
	return &Function{
		id:     id,
		client: client,
		rates:  rates,
		logger: logger.With().Str("function", id).Logger(),
	}
}

func (f *Function) ID() string {
	return f.id
}

func (f *Function) Rates() pricing.Rates {
	return f.rates
}

// MemorySize returns the configured memory of the function, or of the
// alias when qualifier is set.
func (f *Function) MemorySize(ctx context.Context, qualifier string) (int, error) {
	cfg, err := f.client.GetConfiguration(ctx, f.id, qualifier)
	if err != nil {
		return 0, fmt.Errorf("failed to get configuration: %w", err)
	}
	return cfg.MemorySize, nil
}

// SetMemorySize updates the unpublished configuration unless it already
// has the requested memory.
func (f *Function) SetMemorySize(ctx context.Context, memoryMB int) error {
	current, err := f.MemorySize(ctx, "")
	if err != nil {
		return err
	}
	if current == memoryMB {
		f.logger.Debug().Int("memory", memoryMB).Msg("Function already has given memory size")
		return nil
	}

	f.logger.Info().Int("memory", memoryMB).Msg("Setting memory size")
	if err := f.client.SetMemorySize(ctx, f.id, memoryMB); err != nil {
		return fmt.Errorf("failed to set memory size to %d MB: %w", memoryMB, err)
	}
	return nil
}

// AliasExists reports whether alias is defined. Only transport errors
// are returned as errors.
func (f *Function) AliasExists(ctx context.Context, alias string) (bool, error) {
	_, found, err := f.client.GetAlias(ctx, f.id, alias)
	if err != nil {
		return false, fmt.Errorf("failed to get alias %s: %w", alias, err)
	}
	return found, nil
}

// EnsureMemoryConfig makes sure an alias pinned to memoryMB exists and
// returns its name. A concurrent creation of the same alias is not an error.
func (f *Function) EnsureMemoryConfig(ctx context.Context, memoryMB int) (string, error) {
	alias := AliasFor(memoryMB)

	exists, err := f.AliasExists(ctx, alias)
	if err != nil {
		return "", err
	}
	if exists {
		f.logger.Info().Str("alias", alias).Msg("Alias already exists, skipping creation")
		return alias, nil
	}

	if err := f.createMemoryConfig(ctx, memoryMB, alias); err != nil {
		if strings.Contains(err.Error(), aliasExistsMessage) {
			f.logger.Debug().Str("alias", alias).Msg("Alias created concurrently")
			return alias, nil
		}
		return "", err
	}
	return alias, nil
}

func (f *Function) createMemoryConfig(ctx context.Context, memoryMB int, alias string) error {
	if err := f.SetMemorySize(ctx, memoryMB); err != nil {
		return err
	}

	f.logger.Info().Msg("Publishing new version")
	version, err := f.client.PublishVersion(ctx, f.id)
	if err != nil {
		return fmt.Errorf("failed to publish version: %w", err)
	}

	exists, err := f.AliasExists(ctx, alias)
	if err != nil {
		return err
	}
	if exists {
		f.logger.Info().Str("alias", alias).Str("version", version).Msg("Updating alias")
		if err := f.client.UpdateAlias(ctx, f.id, alias, version); err != nil {
			return fmt.Errorf("failed to update alias %s: %w", alias, err)
		}
		return nil
	}

	f.logger.Info().Str("alias", alias).Str("version", version).Msg("Creating alias")
	if err := f.client.CreateAlias(ctx, f.id, alias, version); err != nil {
		return fmt.Errorf("failed to create alias %s: %w", alias, err)
	}
	return nil
}

// Invocation is the measured outcome of one call. Failed invocations carry a
// synthesized worst-case log.
type Invocation struct {
	models.ExecutionLog
	Failed bool
}

// Invoke runs the function through alias and returns the parsed report.
// A failed invocation yields a worst-case log billed for the full timeout;
// a report that cannot be parsed is an error.
func (f *Function) Invoke(ctx context.Context, alias string, payload []byte) (Invocation, error) {
	qualifier := alias
	if qualifier == "" {
		qualifier = "$LATEST"
	}
	f.logger.Debug().Str("alias", qualifier).Msg("Invoking function")

	report, err := f.client.Invoke(ctx, f.id, alias, payload)
	if err != nil {
		f.logger.Error().Err(err).Str("alias", qualifier).Msg("Function invocation failed")
		log, err := f.worstCase(ctx, alias)
		if err != nil {
			return Invocation{}, err
		}
		return Invocation{ExecutionLog: log, Failed: true}, nil
	}

	log, err := ParseReport(report, f.rates)
	if err != nil {
		return Invocation{}, err
	}
	f.logger.Debug().Str("alias", qualifier).Stringer("log", log).Msg("Execution log")
	return Invocation{ExecutionLog: log}, nil
}

func (f *Function) worstCase(ctx context.Context, alias string) (models.ExecutionLog, error) {
	cfg, err := f.client.GetConfiguration(ctx, f.id, alias)
	if err != nil {
		return models.ExecutionLog{}, fmt.Errorf("failed to get configuration after failed invocation: %w", err)
	}
	timeoutMs := float64(cfg.TimeoutSeconds * 1000)
	return f.rates.Log(timeoutMs, timeoutMs, cfg.MemorySize, 0), nil
}

// DeleteAllAliases removes every alias and the version it points to.
func (f *Function) DeleteAllAliases(ctx context.Context) error {
	aliases, err := f.client.ListAliases(ctx, f.id)
	if err != nil {
		return fmt.Errorf("failed to list aliases: %w", err)
	}

	var result *multierror.Error
	for _, alias := range aliases {
		f.logger.Info().Str("alias", alias.Name).Msg("Deleting alias")
		if err := f.client.DeleteAlias(ctx, f.id, alias.Name); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to delete alias %s: %w", alias.Name, err))
			continue
		}
		f.logger.Info().Str("version", alias.FunctionVersion).Msg("Deleting version")
		if err := f.client.DeleteVersion(ctx, f.id, alias.FunctionVersion); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to delete version %s: %w", alias.FunctionVersion, err))
		}
	}
	return result.ErrorOrNil()
}
