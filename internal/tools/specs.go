package tools

// Tool names referenced across the pipeline. The resolving set is the
// contract with the gating protocol: these are the only tools whose
// calls count as resolution attempts.
const (
	ToolReadFile                 = "read_file"
	ToolListSourceFiles          = "list_source_files"
	ToolCrossReferenceFile       = "cross_reference_file"
	ToolMapFileRelationships     = "map_file_relationships"
	ToolFindRelatedFiles         = "find_related_files"
	ToolCompareImplementations   = "compare_file_implementations"
	ToolAnalyzeComplexity        = "analyze_complexity"
	ToolDetectDeadCode           = "detect_dead_code"
	ToolAnalyzeImportImpact      = "analyze_import_impact"
	ToolDetectDuplicates         = "detect_duplicate_implementations"
	ToolAnalyzeArchitecture      = "analyze_architecture"
	ToolFindIntegrationConflicts = "find_integration_conflicts"
	ToolReadMasterPlan           = "read_master_plan"

	ToolMergeImplementations  = "merge_file_implementations"
	ToolCleanupRedundantFiles = "cleanup_redundant_files"
	ToolCreateIssueReport     = "create_issue_report"
	ToolRequestDevReview      = "request_developer_review"
	ToolMoveFile              = "move_file"
	ToolRenameFile            = "rename_file"
	ToolRestructureDirectory  = "restructure_directory"
)

func fileArg(desc string) map[string]interface{} {
	return map[string]interface{}{
		"file_path": map[string]interface{}{"type": "string", "description": desc},
	}
}

func filesArg(desc string) map[string]interface{} {
	return map[string]interface{}{
		"file_paths": map[string]interface{}{
			"type":        "array",
			"items":       map[string]interface{}{"type": "string"},
			"description": desc,
		},
	}
}

func init() {
	// Investigative tools.
	register(Spec{
		Name:        ToolReadFile,
		Description: "Read the contents of a source file.",
		Category:    Investigative,
		InputSchema: fileArg("Path of the file to read, relative to the project root"),
		Required:    []string{"file_path"},
	})
	register(Spec{
		Name:        ToolListSourceFiles,
		Description: "List every source file in the project.",
		Category:    Investigative,
		InputSchema: map[string]interface{}{},
	})
	register(Spec{
		Name:        ToolCrossReferenceFile,
		Description: "Find every file that references identifiers declared in the given file.",
		Category:    Investigative,
		InputSchema: fileArg("File whose references to find"),
		Required:    []string{"file_path"},
	})
	register(Spec{
		Name:        ToolMapFileRelationships,
		Description: "Map import and reference relationships between the given files and the rest of the project.",
		Category:    Investigative,
		InputSchema: filesArg("Files to map relationships for"),
		Required:    []string{"file_paths"},
	})
	register(Spec{
		Name:        ToolFindRelatedFiles,
		Description: "Find files related to the given file by name, package, or references.",
		Category:    Investigative,
		InputSchema: fileArg("File to find relatives of"),
		Required:    []string{"file_path"},
	})
	register(Spec{
		Name:        ToolCompareImplementations,
		Description: "Compare two or more files that may implement the same functionality.",
		Category:    Investigative,
		InputSchema: filesArg("Files to compare"),
		Required:    []string{"file_paths"},
	})
	register(Spec{
		Name:        ToolAnalyzeComplexity,
		Description: "Report oversized or deeply nested functions in the given files.",
		Category:    Investigative,
		InputSchema: filesArg("Files to analyze"),
	})
	register(Spec{
		Name:        ToolDetectDeadCode,
		Description: "Report exported declarations in the given files that nothing references.",
		Category:    Investigative,
		InputSchema: filesArg("Files to analyze"),
	})
	register(Spec{
		Name:        ToolAnalyzeImportImpact,
		Description: "Report which files would be affected by changing the given file.",
		Category:    Investigative,
		InputSchema: fileArg("File whose import impact to analyze"),
		Required:    []string{"file_path"},
	})
	register(Spec{
		Name:        ToolDetectDuplicates,
		Description: "Scan for duplicated code blocks across the project or the given files.",
		Category:    Investigative,
		InputSchema: filesArg("Files to scan; empty scans the whole project"),
	})
	register(Spec{
		Name:        ToolAnalyzeArchitecture,
		Description: "Check layering and file-placement rules across the project.",
		Category:    Investigative,
		InputSchema: map[string]interface{}{},
	})
	register(Spec{
		Name:        ToolFindIntegrationConflicts,
		Description: "Find competing implementations of the same concern across packages.",
		Category:    Investigative,
		InputSchema: map[string]interface{}{},
	})
	register(Spec{
		Name:        ToolReadMasterPlan,
		Description: "Read the project's master plan document.",
		Category:    Investigative,
		InputSchema: map[string]interface{}{},
	})

	// Resolving tools. This set is exactly the calls the gate counts
	// as resolution attempts.
	register(Spec{
		Name:        ToolMergeImplementations,
		Description: "Merge duplicate implementations into the primary file and remove the others.",
		Category:    Resolving,
		InputSchema: map[string]interface{}{
			"primary_file": map[string]interface{}{"type": "string", "description": "File to keep"},
			"merge_files": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Files to merge into the primary and remove",
			},
			"merged_content": map[string]interface{}{"type": "string", "description": "Full content of the merged primary file"},
		},
		Required: []string{"primary_file", "merge_files", "merged_content"},
	})
	register(Spec{
		Name:        ToolCleanupRedundantFiles,
		Description: "Remove files confirmed redundant. Files are moved to the backup area, not destroyed.",
		Category:    Resolving,
		InputSchema: filesArg("Files to remove"),
		Required:    []string{"file_paths"},
	})
	register(Spec{
		Name:        ToolCreateIssueReport,
		Description: "Write a report documenting an issue that cannot be fixed autonomously.",
		Category:    Resolving,
		InputSchema: map[string]interface{}{
			"title":   map[string]interface{}{"type": "string"},
			"body":    map[string]interface{}{"type": "string", "description": "Markdown body of the report"},
			"files":   map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			"blocker": map[string]interface{}{"type": "string", "description": "What prevents an autonomous fix"},
		},
		Required: []string{"title", "body"},
	})
	register(Spec{
		Name:        ToolRequestDevReview,
		Description: "Ask a human developer to review a change that is too risky to make autonomously.",
		Category:    Resolving,
		InputSchema: map[string]interface{}{
			"title":    map[string]interface{}{"type": "string"},
			"body":     map[string]interface{}{"type": "string", "description": "Markdown review request"},
			"files":    map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			"question": map[string]interface{}{"type": "string", "description": "The decision the reviewer must make"},
		},
		Required: []string{"title", "body"},
	})
	register(Spec{
		Name:        ToolMoveFile,
		Description: "Move a file to a new directory, keeping its name.",
		Category:    Resolving,
		InputSchema: map[string]interface{}{
			"source":      map[string]interface{}{"type": "string"},
			"destination": map[string]interface{}{"type": "string", "description": "Destination directory or full path"},
		},
		Required: []string{"source", "destination"},
	})
	register(Spec{
		Name:        ToolRenameFile,
		Description: "Rename a file within its directory.",
		Category:    Resolving,
		InputSchema: map[string]interface{}{
			"file_path": map[string]interface{}{"type": "string"},
			"new_name":  map[string]interface{}{"type": "string", "description": "New base name"},
		},
		Required: []string{"file_path", "new_name"},
	})
	register(Spec{
		Name:        ToolRestructureDirectory,
		Description: "Move a set of files into a new directory layout in one operation.",
		Category:    Resolving,
		InputSchema: map[string]interface{}{
			"moves": map[string]interface{}{
				"type":        "array",
				"description": "List of {source, destination} pairs",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"source":      map[string]interface{}{"type": "string"},
						"destination": map[string]interface{}{"type": "string"},
					},
				},
			},
		},
		Required: []string{"moves"},
	})
}
