package profiles

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

const promptHead = "You are an expert %s metadata JSON writer. Generate the following fields for images based on the provided details: %s." +
	"Follow the case as provides don't make lowercase every key. " +
	"if there is title in fields Keep the title explanatory and what can be the usage of image and title should be minimum %d number of characters. " +
	"If there is description field in the metadata, provide a detailed description of the image with usage and other details of more than 100 and maximum 200 character. " +
	"Avoid using the same keyword more than once and only give one word keywords. " +
	"Give exact %d number of keywords. " +
	"First 5 keywords should be the best and more relevant to image as these will used for SEO. "

const (
	promptDefaultExtra = "Provide accurate and relevant metadata for the image. "
	promptTail         = " Only give the response in JSON format. Add keywords in a array. Don't add any names or numbers in metadata"
)

var promptFuncs = template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
}

// BuildPrompt renders the instruction sent to the provider for every file of a batch.
func BuildPrompt(p *Profile, numKeywords, titleChars int) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, promptHead, p.Title, strings.Join(p.CSVRequirements.Generate, ", "), titleChars, numKeywords)

	switch {
	case p.PromptExtra == nil:
		b.WriteString(promptDefaultExtra)
	case *p.PromptExtra != "":
		tmpl, err := template.New(p.Title).Funcs(promptFuncs).Parse(*p.PromptExtra)
		if err != nil {
			return "", fmt.Errorf("profile %d prompt_extra: %w", p.ID, err)
		}
		if err := tmpl.Execute(&b, p); err != nil {
			return "", fmt.Errorf("profile %d prompt_extra: %w", p.ID, err)
		}
	}

	b.WriteString(promptTail)
	return b.String(), nil
}
