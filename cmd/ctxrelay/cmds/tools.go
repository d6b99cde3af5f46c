package cmds

import (
	"context"

	"github.com/go-go-golems/ctxrelay/pkg/server"
	"github.com/go-go-golems/ctxrelay/pkg/tools"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
)

type ToolsCommand struct {
	*cmds.CommandDescription
	load SettingsLoader
}

var _ cmds.GlazeCommand = (*ToolsCommand)(nil)

type ToolsSettings struct {
	OpenAI bool `glazed.parameter:"openai"`
}

func NewToolsCommand(load SettingsLoader) (*ToolsCommand, error) {
	glazedParameterLayer, err := settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, err
	}

	return &ToolsCommand{
		CommandDescription: cmds.NewCommandDescription(
			"tools",
			cmds.WithShort("List the registered tools"),
			cmds.WithFlags(
				parameters.NewParameterDefinition(
					"openai",
					parameters.ParameterTypeBool,
					parameters.WithHelp("Emit OpenAI function definitions"),
					parameters.WithDefault(false),
				),
			),
			cmds.WithLayersList(glazedParameterLayer),
		),
		load: load,
	}, nil
}

func (c *ToolsCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *layers.ParsedLayers,
	gp middlewares.Processor,
) error {
	s := &ToolsSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return err
	}

	cfg, err := c.load()
	if err != nil {
		return err
	}
	app, err := server.NewApp(ctx, cfg, server.WithoutEvents())
	if err != nil {
		return err
	}
	defer func() { _ = app.Close(ctx) }()

	defs := cfg.Tools.FilterTools(app.Registry.ListTools())
	for _, row := range toolRows(defs, s.OpenAI) {
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

// toolRows renders one row per tool, either as its description or as an
// OpenAI function definition.
func toolRows(defs []tools.ToolDefinition, openai bool) []types.Row {
	ret := make([]types.Row, 0, len(defs))
	if openai {
		for _, t := range tools.OpenAITools(defs) {
			ret = append(ret, types.NewRow(
				types.MRP("type", string(t.Type)),
				types.MRP("function", t.Function),
			))
		}
		return ret
	}
	for _, d := range server.Describe(defs) {
		ret = append(ret, types.NewRow(
			types.MRP("name", d.Name),
			types.MRP("description", d.Description),
			types.MRP("tags", d.Tags),
			types.MRP("parameters", d.Parameters),
		))
	}
	return ret
}
