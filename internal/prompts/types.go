// Package prompts loads the per-sample-type training templates from the
// home prompts directory.
//
// Lookup order for the training template of a sample type:
//  1. <type>.prompt.train.<provider> (provider-specific variant, if present)
//  2. <type>.prompt.train
//
// The runtime prompt comes from <type>.prompt.run, falling back to
// system.prompt.preamble. Its newlines are escaped as a literal \n and the
// result is spliced into the training template at RuntimePlaceholder.
package prompts

// Placeholders recognised in training templates.
const (
	RuntimePlaceholder = "{{TEMPLATE_PROMPTS_RUNTIME}}"
	DevicePlaceholder  = "{{DEVICE_STRUCTURE}}"
)

// Template is a loaded training template with the runtime prompt already substituted.
type Template struct {
	Name      string   // Sample type the template serves
	Source    string   // File the training text came from
	RunSource string   // File the runtime prompt came from ("" if none was needed)
	Text      string   // Template text, still holding DevicePlaceholder
	Variables []string // Placeholders left in Text
	Hash      string   // SHA256 of Text
}

// Render substitutes device text into the template.
func (t *Template) Render(deviceText string) string {
	return replaceAll(t.Text, DevicePlaceholder, deviceText)
}
