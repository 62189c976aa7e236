package rewrite

// Mode selects the instruction template used to rewrite a raw transcript
type Mode string

const (
	ModeSummary       Mode = "summary"
	ModeEmail         Mode = "email"
	ModeDocument      Mode = "document"
	ModeTalkingPoints Mode = "talking_points"
	ModePolish        Mode = "polish"
	ModeWorkflow      Mode = "workflow"

	DefaultMode = ModeSummary
)

// noPraise is appended to every template; instruction-tuned models otherwise
// tend to open with compliments about the input.
const noPraise = " Do not add feedback, commentary or praise."

var prompts = map[Mode]string{
	ModeSummary: "You are an assistant that summarizes transcripts. " +
		"Remove repetition and deliver a concise summary." + noPraise,
	ModeEmail: "You are a professional assistant that writes emails. " +
		"Write a clear, professional email based on the transcript without inventing new details." + noPraise,
	ModeDocument: "You are a professional assistant that writes paragraphs for existing documents. " +
		"Deliver precise, self-contained paragraphs that can be merged into a larger document." + noPraise,
	ModeTalkingPoints: "You are an experienced speaker preparing talking points. " +
		"Produce a clear bullet list of the main messages and supporting points from the transcript." + noPraise,
	ModePolish: "You are a copy editor cleaning up transcripts. " +
		"Keep all information, make sentences clear and remove spoken filler words such as " +
		"'uh', 'um', 'like', 'you know' and 'sort of', even if the text gets shorter." + noPraise,
	ModeWorkflow: "You are a workflow assistant analysing a transcript. " +
		"Identify every concrete action item or task that is mentioned. For each task give a short " +
		"description and a precise prompt that could be handed to another LLM tool to carry it out, " +
		"including relevant details, goals, dependencies, people and context from the transcript. " +
		"Format the result as a numbered list of blocks:\n" +
		"Task X: <short description>\n" +
		"Prompt:\n" +
		"\"\"\"\n" +
		"<prompt text>\n" +
		"\"\"\"\n" +
		"Do not add assessments, conclusions or text outside this structure.",
}

// genericPrompt is used for any mode outside the known set
const genericPrompt = "You are a helpful assistant. Rewrite the following transcript." + noPraise

// Modes returns the known modes in a stable order
func Modes() []Mode {
	return []Mode{ModeSummary, ModeEmail, ModeDocument, ModeTalkingPoints, ModePolish, ModeWorkflow}
}

// ParseMode turns s into a Mode. Mode names match exactly, so "Summary" is
// not "summary". Empty input yields DefaultMode. The boolean reports whether
// the mode is one of the known set; unknown modes are still returned so they
// can be rewritten with the generic instruction.
func ParseMode(s string) (Mode, bool) {
	if s == "" {
		return DefaultMode, true
	}
	m := Mode(s)
	return m, m.Known()
}

// Known reports whether m has a dedicated template
func (m Mode) Known() bool {
	_, ok := prompts[m]
	return ok
}

// SystemPrompt returns the instruction for m, falling back to a generic one
func (m Mode) SystemPrompt() string {
	if p, ok := prompts[m]; ok {
		return p
	}
	return genericPrompt
}

func (m Mode) String() string { return string(m) }
