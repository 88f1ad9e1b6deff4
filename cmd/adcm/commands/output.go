package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/openadcm/adcm/pkg/model"
	"gopkg.in/yaml.v3"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable prints rows, or v as JSON with --json.
func printTable(v any, header table.Row, rows []table.Row) error {
	if jsonOutput {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	tw.Render()
	return nil
}

// printObject prints v as YAML, or as JSON with --json.
func printObject(v any) error {
	if jsonOutput {
		return printJSON(v)
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func printDone(format string, args ...any) {
	if !jsonOutput {
		fmt.Printf(format+"\n", args...)
	}
}

// readTree reads a YAML or JSON document holding a config tree.
func readTree(path string) (model.Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tree := model.Tree{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, model.InvalidInput(model.ErrCodeInvalidInput, "%s: %v", path, err)
	}
	return tree, nil
}

func multiState(o *model.Object) string {
	return strings.Join(o.MultiState, ",")
}
