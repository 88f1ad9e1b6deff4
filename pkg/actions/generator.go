package actions

import (
	"context"
	"encoding/json"
	"time"

	"github.com/openadcm/adcm/pkg/definition"
	"github.com/openadcm/adcm/pkg/model"
	starlarkjson "go.starlark.net/lib/json"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Generator runs task_generator scripts. A script sees the predeclared value task
// and must bind a global jobs to a list of dicts with the keys name, display_name,
// script, script_type, state_on_fail and params.
type Generator struct {
	timeout time.Duration
}

// NewGenerator creates a generator. A zero timeout means 30 seconds.
func NewGenerator(timeout time.Duration) *Generator {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Generator{timeout: timeout}
}

// Generate executes a script and returns the jobs it declares.
func (g *Generator) Generate(ctx context.Context, script string, task map[string]interface{}) ([]definition.SubAction, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  "task_generator",
		Print: func(_ *starlark.Thread, _ string) {},
	}
	type result struct {
		jobs []definition.SubAction
		err  error
	}
	done := make(chan result, 1)
	go func() {
		jobs, err := g.run(thread, script, task)
		done <- result{jobs, err}
	}()

	select {
	case <-ctx.Done():
		thread.Cancel("timeout")
		return nil, generatorError("execution timeout after %v", g.timeout)
	case res := <-done:
		return res.jobs, res.err
	}
}

func generatorError(format string, args ...interface{}) error {
	return model.Errorf(model.KindConflict, model.ErrCodeTaskGenerator, format, args...)
}

// job is the JSON shape of one entry of jobs.
type job struct {
	Name        string                 `json:"name"`
	DisplayName string                 `json:"display_name"`
	Script      string                 `json:"script"`
	ScriptType  string                 `json:"script_type"`
	StateOnFail string                 `json:"state_on_fail"`
	Params      map[string]interface{} `json:"params"`
}

// The task value crosses into Starlark and the jobs list back out through
// JSON, using the json module of the interpreter on the script side.
func (g *Generator) run(thread *starlark.Thread, script string, task map[string]interface{}) ([]definition.SubAction, error) {
	raw, err := json.Marshal(task)
	if err != nil {
		return nil, generatorError("failed to encode task: %v", err)
	}
	in, err := starlark.Call(thread, starlarkjson.Module.Members["decode"], starlark.Tuple{starlark.String(raw)}, nil)
	if err != nil {
		return nil, generatorError("failed to convert task: %v", err)
	}
	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"json":   starlarkjson.Module,
		"task":   in,
	}
	globals, err := starlark.ExecFile(thread, "task_generator.star", script, predeclared)
	if err != nil {
		return nil, generatorError("script failed: %v", err)
	}
	jobs, ok := globals["jobs"]
	if !ok {
		return nil, generatorError("script does not define jobs")
	}
	if _, ok := jobs.(*starlark.List); !ok {
		return nil, generatorError("jobs must be a list, got %s", jobs.Type())
	}
	encoded, err := starlark.Call(thread, starlarkjson.Module.Members["encode"], starlark.Tuple{jobs}, nil)
	if err != nil {
		return nil, generatorError("failed to convert jobs: %v", err)
	}
	var list []job
	if err := json.Unmarshal([]byte(encoded.(starlark.String)), &list); err != nil {
		return nil, generatorError("jobs must be a list of dicts: %v", err)
	}
	if len(list) == 0 {
		return nil, generatorError("jobs must be a non-empty list")
	}

	out := make([]definition.SubAction, 0, len(list))
	for i, j := range list {
		if j.Name == "" || j.Script == "" {
			return nil, generatorError("job %d requires name and script", i)
		}
		sub := definition.SubAction{
			Name:        j.Name,
			DisplayName: j.DisplayName,
			Script:      j.Script,
			ScriptType:  j.ScriptType,
			StateOnFail: j.StateOnFail,
			Params:      j.Params,
		}
		if sub.DisplayName == "" {
			sub.DisplayName = sub.Name
		}
		if sub.ScriptType == "" {
			sub.ScriptType = definition.ScriptAnsible
		}
		out = append(out, sub)
	}
	return out, nil
}
