package mcp

// LocalContextInput is the input of the local_context tool.
type LocalContextInput struct {
	ProjectPath string  `json:"project_path" jsonschema:"absolute path of the project root"`
	Query       string  `json:"query" jsonschema:"what the context is needed for"`
	TaskType    string  `json:"task_type,omitempty" jsonschema:"understand, overview, troubleshoot, debug or trace"`
	Threshold   float64 `json:"threshold,omitempty" jsonschema:"minimum cosine similarity between 0 and 1"`
	MaxChunks   int     `json:"max_chunks,omitempty" jsonschema:"maximum similar chunks to consider"`
	TokenBudget int     `json:"token_budget,omitempty" jsonschema:"hard cap on bundle tokens"`
	Format      string  `json:"format,omitempty" jsonschema:"markdown or json"`
}

// ManageEmbeddingsInput is the input of the manage_embeddings tool.
type ManageEmbeddingsInput struct {
	Action        string `json:"action" jsonschema:"status, health_check, create, update, validate, check_stale, find_duplicates, cleanup_duplicates, list_projects, delete_project or project_details"`
	ProjectPath   string `json:"project_path,omitempty" jsonschema:"project root; required unless project_id is given or the action is list_projects"`
	ProjectID     string `json:"project_id,omitempty" jsonschema:"project ID as shown by list_projects"`
	Force         bool   `json:"force,omitempty" jsonschema:"delete_project also removes data under the legacy ID"`
	AutoFix       bool   `json:"auto_fix,omitempty" jsonschema:"health_check repairs what it finds"`
	MaxFixMinutes int    `json:"max_fix_minutes,omitempty" jsonschema:"time budget for auto_fix"`
}

const (
	localContextDescription = "Builds a token-bounded context bundle of the code most relevant to a query, " +
		"using locally stored embeddings. Starts background indexing when a project has none."
	manageDescription = "Inspects and maintains stored embeddings: status, health checks with auto-fix, " +
		"(re)generation, staleness and duplicate cleanup, and project listing or deletion."
)
