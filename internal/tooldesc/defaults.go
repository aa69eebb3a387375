package tooldesc

var (
	pathFields    = []string{"filePath", "file_path", "path"}
	commandFields = []string{"command", "tmux_command"}
)

var defaultRules = []struct {
	names []string
	rule  Rule
}{
	{
		names: []string{"edit", "multiedit", "str_replace", "str_replace_based_edit_tool"},
		rule:  Rule{Icon: IconEdit, Summary: Summary{Mode: ModeFile, Fields: pathFields}},
	},
	{
		names: []string{"write", "create", "file_write"},
		rule:  Rule{Icon: IconWrite, Summary: Summary{Mode: ModeFile, Fields: pathFields}},
	},
	{
		names: []string{"read", "view", "file_read", "cat"},
		rule:  Rule{Icon: IconRead, Summary: Summary{Mode: ModeFile, Fields: pathFields}},
	},
	{
		names: []string{"bash", "shell", "cmd", "terminal", "interactive_bash"},
		rule:  Rule{Icon: IconTerminal, Summary: Summary{Mode: ModeFirstLine, Fields: commandFields, Max: 60}},
	},
	{
		names: []string{"list", "ls", "dir", "list_files"},
		rule:  Rule{Icon: IconFolder},
	},
	{
		names: []string{"glob"},
		rule:  Rule{Icon: IconGlob, Summary: Summary{Mode: ModeText, Fields: []string{"pattern"}}},
	},
	{
		names: []string{"search", "grep"},
		rule:  Rule{Icon: IconSearch, Summary: Summary{Mode: ModePatternIn, Fields: []string{"pattern", "path"}}},
	},
	{
		names: []string{"find", "ripgrep"},
		rule:  Rule{Icon: IconSearch},
	},
	{
		names: []string{"websearch", "web_search", "web-search", "codesearch"},
		rule:  Rule{Icon: IconWebSearch},
	},
	{
		names: []string{"fetch", "webfetch"},
		rule:  Rule{Icon: IconFetch, Summary: Summary{Mode: ModeText, Fields: []string{"url"}, Max: 50}},
	},
	{
		names: []string{"curl", "wget"},
		rule:  Rule{Icon: IconFetch},
	},
	{
		names: []string{"task"},
		rule:  Rule{Icon: IconAgent, Summary: Summary{Mode: ModeText, Fields: []string{"description"}, Max: 50}},
	},
	{
		names: []string{"agent"},
		rule:  Rule{Icon: IconAgent},
	},
	{
		names: []string{"todowrite", "todoread"},
		rule:  Rule{Icon: IconTodo},
	},
	{
		names: []string{"skill", "slashcommand"},
		rule:  Rule{Icon: IconSkill, Summary: Summary{Mode: ModeText, Fields: []string{"name", "command"}}},
	},
	{
		names: []string{"question"},
		rule:  Rule{Icon: IconQuestion, Summary: Summary{Mode: ModeCount, Fields: []string{"questions"}, Unit: "question"}},
	},
}
