package cli

import (
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/adapter"
	"github.com/m-mizutani/kioku/pkg/hook"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/repository"
	"github.com/m-mizutani/kioku/pkg/service/dedup"
	"github.com/m-mizutani/kioku/pkg/service/extract"
	"github.com/m-mizutani/kioku/pkg/service/retrieval"
	"github.com/m-mizutani/kioku/pkg/service/task"
	"github.com/m-mizutani/kioku/pkg/tool"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// config holds configuration values
type config struct {
	// Memory service
	serviceURL string
	userID     string
	collection string
	apiKey     string

	// Optional external task list
	todoistToken string

	configPath string
	stateFile  string
	logLevel   string

	// Feature switches
	enableRetrieval  bool
	enableExtraction bool
	enableCompaction bool
	enableTraces     bool
	enableRerank     bool
	enableTaskSync   bool
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "service-url",
			Aliases:     []string{"u"},
			Usage:       "Memory service base URL",
			Sources:     cli.EnvVars("KIOKU_SERVICE_URL"),
			Destination: &cfg.serviceURL,
		},
		&cli.StringFlag{
			Name:        "user-id",
			Usage:       "User identifier sent to the memory service",
			Sources:     cli.EnvVars("KIOKU_USER_ID"),
			Destination: &cfg.userID,
		},
		&cli.StringFlag{
			Name:        "collection",
			Usage:       "Memory collection identifier",
			Value:       "default",
			Sources:     cli.EnvVars("KIOKU_COLLECTION"),
			Destination: &cfg.collection,
		},
		&cli.StringFlag{
			Name:        "api-key",
			Usage:       "Bearer token for the memory service",
			Sources:     cli.EnvVars("KIOKU_API_KEY"),
			Destination: &cfg.apiKey,
		},
		&cli.StringFlag{
			Name:        "todoist-token",
			Usage:       "Todoist API token for task sync",
			Sources:     cli.EnvVars("KIOKU_TODOIST_TOKEN"),
			Destination: &cfg.todoistToken,
		},
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to YAML config file",
			Sources:     cli.EnvVars("KIOKU_CONFIG"),
			Destination: &cfg.configPath,
		},
		&cli.StringFlag{
			Name:        "state-file",
			Usage:       "Path to the cross-invocation state file",
			Sources:     cli.EnvVars("KIOKU_STATE_FILE"),
			Destination: &cfg.stateFile,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("KIOKU_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
	}
}

// featureFlags returns the per-feature enable switches
func featureFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:        "enable-retrieval",
			Usage:       "Inject memory context on user prompts",
			Value:       true,
			Sources:     cli.EnvVars("KIOKU_ENABLE_RETRIEVAL"),
			Destination: &cfg.enableRetrieval,
		},
		&cli.BoolFlag{
			Name:        "enable-extraction",
			Usage:       "Extract typed memories on turn end",
			Value:       true,
			Sources:     cli.EnvVars("KIOKU_ENABLE_EXTRACTION"),
			Destination: &cfg.enableExtraction,
		},
		&cli.BoolFlag{
			Name:        "enable-compaction",
			Usage:       "Flush the conversation to memory before compaction",
			Value:       true,
			Sources:     cli.EnvVars("KIOKU_ENABLE_COMPACTION"),
			Destination: &cfg.enableCompaction,
		},
		&cli.BoolFlag{
			Name:        "enable-tool-traces",
			Usage:       "Record tool execution traces",
			Value:       true,
			Sources:     cli.EnvVars("KIOKU_ENABLE_TOOL_TRACES"),
			Destination: &cfg.enableTraces,
		},
		&cli.BoolFlag{
			Name:        "enable-rerank",
			Usage:       "Rerank retrieved memories with the LLM",
			Sources:     cli.EnvVars("KIOKU_ENABLE_RERANK"),
			Destination: &cfg.enableRerank,
		},
		&cli.BoolFlag{
			Name:        "enable-task-sync",
			Usage:       "Fan task changes out to the external task list",
			Sources:     cli.EnvVars("KIOKU_ENABLE_TASK_SYNC"),
			Destination: &cfg.enableTaskSync,
		},
	}
}

// fileConfig is the YAML config file shape. File values fill in whatever the
// flags and environment left unset.
type fileConfig struct {
	ServiceURL   string `yaml:"service_url"`
	UserID       string `yaml:"user_id"`
	Collection   string `yaml:"collection"`
	APIKey       string `yaml:"api_key"`
	TodoistToken string `yaml:"todoist_token"`
	StateFile    string `yaml:"state_file"`
	LogLevel     string `yaml:"log_level"`

	Features struct {
		Retrieval  *bool `yaml:"retrieval"`
		Extraction *bool `yaml:"extraction"`
		Compaction *bool `yaml:"compaction"`
		ToolTraces *bool `yaml:"tool_traces"`
		Rerank     *bool `yaml:"rerank"`
		TaskSync   *bool `yaml:"task_sync"`
	} `yaml:"features"`
}

// loadFile overlays config file values under flag and environment settings.
// cmd.IsSet distinguishes "explicitly set" from "default", so the precedence
// is flag > env > file > default.
func (cfg *config) loadFile(cmd *cli.Command) error {
	if cfg.configPath == "" {
		return nil
	}

	data, err := os.ReadFile(cfg.configPath)
	if err != nil {
		return goerr.Wrap(err, "failed to read config file", goerr.V("path", cfg.configPath))
	}

	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return goerr.Wrap(err, "failed to parse config file", goerr.V("path", cfg.configPath))
	}

	setString := func(flag string, dst *string, v string) {
		if v != "" && !cmd.IsSet(flag) {
			*dst = v
		}
	}
	setBool := func(flag string, dst *bool, v *bool) {
		if v != nil && !cmd.IsSet(flag) {
			*dst = *v
		}
	}

	setString("service-url", &cfg.serviceURL, file.ServiceURL)
	setString("user-id", &cfg.userID, file.UserID)
	setString("collection", &cfg.collection, file.Collection)
	setString("api-key", &cfg.apiKey, file.APIKey)
	setString("todoist-token", &cfg.todoistToken, file.TodoistToken)
	setString("state-file", &cfg.stateFile, file.StateFile)
	setString("log-level", &cfg.logLevel, file.LogLevel)

	setBool("enable-retrieval", &cfg.enableRetrieval, file.Features.Retrieval)
	setBool("enable-extraction", &cfg.enableExtraction, file.Features.Extraction)
	setBool("enable-compaction", &cfg.enableCompaction, file.Features.Compaction)
	setBool("enable-tool-traces", &cfg.enableTraces, file.Features.ToolTraces)
	setBool("enable-rerank", &cfg.enableRerank, file.Features.Rerank)
	setBool("enable-task-sync", &cfg.enableTaskSync, file.Features.TaskSync)

	return nil
}

// newService creates the memory service client
func (cfg *config) newService() (adapter.Service, error) {
	var opts []adapter.ClientOption
	if cfg.apiKey != "" {
		opts = append(opts, adapter.WithAPIKey(cfg.apiKey))
	}
	return adapter.NewClient(cfg.serviceURL, cfg.userID, cfg.collection, opts...)
}

// newTaskSync creates the optional external task list client
func (cfg *config) newTaskSync() (adapter.TaskSync, error) {
	if !cfg.enableTaskSync {
		return nil, nil
	}
	if cfg.todoistToken == "" {
		return nil, goerr.New("todoist-token is required when task sync is enabled")
	}
	return adapter.NewTodoist(cfg.todoistToken)
}

// newTaskManager creates the task manager over the given service
func (cfg *config) newTaskManager(svc adapter.Service, cache *dedup.Cache) (*task.Manager, error) {
	sync, err := cfg.newTaskSync()
	if err != nil {
		return nil, err
	}

	var opts []task.ManagerOption
	if sync != nil {
		opts = append(opts, task.WithTaskSync(sync))
	}
	return task.NewManager(svc, cache, opts...), nil
}

// newStateStore resolves the cross-invocation state file, defaulting under
// the user cache directory.
func (cfg *config) newStateStore() *repository.FileStore {
	path := cfg.stateFile
	if path == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = os.TempDir()
		}
		path = filepath.Join(base, "kioku", "state.json")
	}
	return repository.NewFileStore(path)
}

// newPlugin wires the full hook plugin, seeded from the persisted state so
// throttles and the post-compaction window span hook invocations.
func (cfg *config) newPlugin(st *model.PluginState) (*hook.Plugin, error) {
	svc, err := cfg.newService()
	if err != nil {
		return nil, err
	}

	cache := dedup.New(dedup.WithEntries(st.Dedup))
	tasks, err := cfg.newTaskManager(svc, cache)
	if err != nil {
		return nil, err
	}

	pipelineOpts := []retrieval.PipelineOption{
		retrieval.WithTaskLister(tasks),
		retrieval.WithLastRemind(st.LastTodoRemind),
	}
	if cfg.enableRerank {
		pipelineOpts = append(pipelineOpts, retrieval.WithReranker(retrieval.NewReranker(svc)))
	}
	pipeline := retrieval.NewPipeline(svc, pipelineOpts...)

	return hook.New(svc, pipeline, extract.New(svc), cache,
		hook.WithState(st),
		hook.WithRetrieval(cfg.enableRetrieval),
		hook.WithExtraction(cfg.enableExtraction),
		hook.WithCompactionFlush(cfg.enableCompaction),
		hook.WithToolTraces(cfg.enableTraces),
	), nil
}

// newToolkit wires the tool surface
func (cfg *config) newToolkit() (*tool.Toolkit, error) {
	svc, err := cfg.newService()
	if err != nil {
		return nil, err
	}

	cache := dedup.New()
	tasks, err := cfg.newTaskManager(svc, cache)
	if err != nil {
		return nil, err
	}
	return tool.New(svc, tasks, cache), nil
}
