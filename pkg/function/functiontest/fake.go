// Package functiontest provides an in-memory compute service for tests.
package functiontest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/opscart/lambda-sizer/pkg/function"
)

// Responder produces the report of the n-th invocation (0-based) of an
// alias configured with memoryMB.
type Responder func(alias string, memoryMB, n int) (string, error)

// Report formats a report the way the compute service writes it.
func Report(duration float64, billed, memoryMB int, initDuration float64) string {
	s := fmt.Sprintf("REPORT RequestId: 3a1e0c\tDuration: %.2f ms\tBilled Duration: %d ms\tMemory Size: %d MB\tMax Memory Used: 64 MB",
		duration, billed, memoryMB)
	if initDuration > 0 {
		s += fmt.Sprintf("\tInit Duration: %.2f ms", initDuration)
	}
	return s
}

// FakeClient implements function.Client in memory.
type FakeClient struct {
	mu sync.Mutex

	Memory         int
	TimeoutSeconds int
	Respond        Responder
	// CreateAliasErr, when set, is returned by the next CreateAlias call.
	CreateAliasErr error

	versions    map[string]int
	aliases     map[string]string
	invocations map[string]int

	SetMemoryCalls []int
	Published      []string
	Deleted        []string
}

func NewFakeClient(memoryMB, timeoutSeconds int, respond Responder) *FakeClient {
	return &FakeClient{
		Memory:         memoryMB,
		TimeoutSeconds: timeoutSeconds,
		Respond:        respond,
		versions:       make(map[string]int),
		aliases:        make(map[string]string),
		invocations:    make(map[string]int),
	}
}

// Invocations returns how many times alias was invoked.
func (c *FakeClient) Invocations(alias string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invocations[alias]
}

// AliasMemory returns the memory an alias is pinned to.
func (c *FakeClient) AliasMemory(alias string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	version, ok := c.aliases[alias]
	if !ok {
		return 0, false
	}
	return c.versions[version], true
}

func (c *FakeClient) memoryOf(qualifier string) (int, error) {
	if qualifier == "" || qualifier == "$LATEST" {
		return c.Memory, nil
	}
	if version, ok := c.aliases[qualifier]; ok {
		return c.versions[version], nil
	}
	if memory, ok := c.versions[qualifier]; ok {
		return memory, nil
	}
	return 0, fmt.Errorf("qualifier not found: %s", qualifier)
}

func (c *FakeClient) Invoke(ctx context.Context, functionID, qualifier string, payload []byte) (string, error) {
	c.mu.Lock()
	memory, err := c.memoryOf(qualifier)
	n := c.invocations[qualifier]
	c.invocations[qualifier]++
	c.mu.Unlock()
	if err != nil {
		return "", err
	}
	return c.Respond(qualifier, memory, n)
}

func (c *FakeClient) GetConfiguration(ctx context.Context, functionID, qualifier string) (*function.Configuration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	memory, err := c.memoryOf(qualifier)
	if err != nil {
		return nil, err
	}
	return &function.Configuration{MemorySize: memory, TimeoutSeconds: c.TimeoutSeconds}, nil
}

func (c *FakeClient) SetMemorySize(ctx context.Context, functionID string, memoryMB int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Memory = memoryMB
	c.SetMemoryCalls = append(c.SetMemoryCalls, memoryMB)
	return nil
}

func (c *FakeClient) PublishVersion(ctx context.Context, functionID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	version := strconv.Itoa(len(c.Published) + 1)
	c.versions[version] = c.Memory
	c.Published = append(c.Published, version)
	return version, nil
}

func (c *FakeClient) GetAlias(ctx context.Context, functionID, alias string) (*function.Alias, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	version, ok := c.aliases[alias]
	if !ok {
		return nil, false, nil
	}
	return &function.Alias{Name: alias, FunctionVersion: version}, true, nil
}

func (c *FakeClient) CreateAlias(ctx context.Context, functionID, alias, version string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.CreateAliasErr != nil {
		err := c.CreateAliasErr
		c.CreateAliasErr = nil
		return err
	}
	if _, ok := c.aliases[alias]; ok {
		return fmt.Errorf("ResourceConflictException: Alias already exists: %s", alias)
	}
	c.aliases[alias] = version
	return nil
}

func (c *FakeClient) UpdateAlias(ctx context.Context, functionID, alias, version string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.aliases[alias]; !ok {
		return errors.New("ResourceNotFoundException: alias not found")
	}
	c.aliases[alias] = version
	return nil
}

func (c *FakeClient) DeleteAlias(ctx context.Context, functionID, alias string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.aliases, alias)
	c.Deleted = append(c.Deleted, alias)
	return nil
}

func (c *FakeClient) DeleteVersion(ctx context.Context, functionID, version string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.versions, version)
	return nil
}

func (c *FakeClient) ListAliases(ctx context.Context, functionID string) ([]function.Alias, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	aliases := make([]function.Alias, 0, len(c.aliases))
	for name, version := range c.aliases {
		aliases = append(aliases, function.Alias{Name: name, FunctionVersion: version})
	}
	return aliases, nil
}
