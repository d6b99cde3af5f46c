package cmds

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-go-golems/ctxrelay/pkg/interceptor"
	"github.com/go-go-golems/ctxrelay/pkg/local"
	"github.com/go-go-golems/ctxrelay/pkg/locale"
	"github.com/go-go-golems/ctxrelay/pkg/requestscope"
	"github.com/go-go-golems/ctxrelay/pkg/server"
	"github.com/go-go-golems/ctxrelay/pkg/tools"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/lithammer/shortuuid/v3"
	"github.com/pkg/errors"
)

// CallCommand runs one tool locally, through the interceptor and the worker
// pool, the way a request to the server would.
type CallCommand struct {
	*cmds.CommandDescription
	load SettingsLoader
}

var _ cmds.GlazeCommand = (*CallCommand)(nil)

type CallSettings struct {
	Tool    string   `glazed.parameter:"tool"`
	Args    string   `glazed.parameter:"args"`
	Headers []string `glazed.parameter:"header"`
	Locale  string   `glazed.parameter:"locale"`
}

func NewCallCommand(load SettingsLoader) (*CallCommand, error) {
	glazedParameterLayer, err := settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, err
	}

	return &CallCommand{
		CommandDescription: cmds.NewCommandDescription(
			"call",
			cmds.WithShort("Run one tool locally, through the interceptor and the worker pool"),
			cmds.WithFlags(
				parameters.NewParameterDefinition(
					"args",
					parameters.ParameterTypeString,
					parameters.WithHelp("Tool arguments as a JSON object"),
					parameters.WithDefault(""),
				),
				parameters.NewParameterDefinition(
					"header",
					parameters.ParameterTypeStringList,
					parameters.WithHelp("Propagated header as name=value (repeatable)"),
					parameters.WithDefault([]string{}),
				),
				parameters.NewParameterDefinition(
					"locale",
					parameters.ParameterTypeString,
					parameters.WithHelp("Language tag of the caller, e.g. de-DE"),
					parameters.WithDefault(""),
				),
			),
			cmds.WithArguments(
				parameters.NewParameterDefinition(
					"tool",
					parameters.ParameterTypeString,
					parameters.WithHelp("Name of the tool to run"),
					parameters.WithRequired(true),
				),
			),
			cmds.WithLayersList(glazedParameterLayer),
		),
		load: load,
	}, nil
}

func (c *CallCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *layers.ParsedLayers,
	gp middlewares.Processor,
) error {
	s := &CallSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return err
	}
	if s.Args != "" && !json.Valid([]byte(s.Args)) {
		return errors.Errorf("--args is not valid JSON: %s", s.Args)
	}
	headers, err := parseHeaders(s.Headers)
	if err != nil {
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

	lc := locale.Default()
	if s.Locale != "" {
		lc = locale.FromAcceptLanguage(s.Locale, lc)
	}

	storage := local.New("cli")
	ctx = local.WithStorage(ctx, storage)
	if err := app.Interceptor.PreHandle(ctx, interceptor.Request{
		Headers: headers,
		Scope:   requestscope.Detach(nil, headers),
		Locale:  lc,
	}); err != nil {
		return err
	}
	defer app.Interceptor.AfterCompletion(ctx)

	result, err := app.Executor.ExecuteToolCall(ctx, tools.ToolCall{
		ID:        "cli-" + shortuuid.New(),
		Name:      s.Tool,
		Arguments: json.RawMessage(s.Args),
	})
	if err != nil {
		return err
	}

	if err := gp.AddRow(ctx, resultRow(result)); err != nil {
		return err
	}
	if result.Error != "" {
		return errors.Errorf("tool %s failed", s.Tool)
	}
	return nil
}

func resultRow(result *tools.ToolResult) types.Row {
	return types.NewRow(
		types.MRP("id", result.ID),
		types.MRP("name", result.Name),
		types.MRP("result", result.Result),
		types.MRP("error", result.Error),
		types.MRP("duration_ms", result.Duration.Milliseconds()),
		types.MRP("retries", result.Retries),
	)
}

func parseHeaders(raw []string) (map[string]string, error) {
	ret := make(map[string]string, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, errors.Errorf("invalid header %q, expected name=value", h)
		}
		ret[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}
	return ret, nil
}
