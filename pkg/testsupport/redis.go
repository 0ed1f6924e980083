package testsupport

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// NewRedis starts an in-process redis server and a client connected to it.
// Both are closed when the test ends.
func NewRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

// CommandRecorder is a redis hook recording the commands a client sends.
// MULTI/EXEC pipelines are recorded as one entry each.
type CommandRecorder struct {
	mu        sync.Mutex
	commands  []string
	pipelines [][]string
}

var _ redis.Hook = (*CommandRecorder)(nil)

// Record installs a CommandRecorder on client.
func Record(client *redis.Client) *CommandRecorder {
	r := &CommandRecorder{}
	client.AddHook(r)
	return r
}

func (r *CommandRecorder) DialHook(next redis.DialHook) redis.DialHook { return next }

func (r *CommandRecorder) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		r.mu.Lock()
		r.commands = append(r.commands, strings.ToLower(cmd.Name()))
		r.mu.Unlock()
		return next(ctx, cmd)
	}
}

func (r *CommandRecorder) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		names := make([]string, len(cmds))
		for i, cmd := range cmds {
			names[i] = strings.ToLower(cmd.Name())
		}
		r.mu.Lock()
		r.pipelines = append(r.pipelines, names)
		r.mu.Unlock()
		return next(ctx, cmds)
	}
}

// Commands returns the single commands sent so far.
func (r *CommandRecorder) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}

// Pipelines returns the command names of every pipeline sent so far.
func (r *CommandRecorder) Pipelines() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]string, len(r.pipelines))
	for i, p := range r.pipelines {
		out[i] = append([]string(nil), p...)
	}
	return out
}

// Transactions returns the command names of the MULTI/EXEC pipelines sent
// so far.
func (r *CommandRecorder) Transactions() [][]string {
	var out [][]string
	for _, p := range r.Pipelines() {
		if len(p) > 0 && p[0] == "multi" {
			out = append(out, p)
		}
	}
	return out
}
