package cli

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/AlecAivazis/survey/v2"

	"github.com/dyike/chatbox/config"
)

// PromptForEndpoint asks for the chatbot API URL.
func PromptForEndpoint(current string) (string, error) {
	var endpoint string
	prompt := &survey.Input{
		Message: "Chatbot API endpoint:",
		Help:    "Full URL that accepts POST {\"message\", \"session_id\"} and answers with {\"response\"}",
		Default: current,
	}

	err := survey.AskOne(prompt, &endpoint, survey.WithValidator(func(val interface{}) error {
		str := strings.TrimSpace(val.(string))
		if str == "" {
			return fmt.Errorf("endpoint cannot be empty")
		}
		u, err := url.Parse(str)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("enter an http:// or https:// URL")
		}
		return nil
	}))
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(endpoint), nil
}

// PromptForPreferences asks for the optional features and applies the
// answers to cfg.
func PromptForPreferences(cfg *config.Config) error {
	questions := []*survey.Question{
		{
			Name: "markdown",
			Prompt: &survey.Confirm{
				Message: "Render bot replies as markdown?",
				Default: cfg.Markdown,
			},
		},
		{
			Name: "transcript",
			Prompt: &survey.Confirm{
				Message: "Keep a local transcript of conversations?",
				Help:    "Messages are stored in a SQLite file under the data directory",
				Default: cfg.TranscriptEnabled,
			},
		},
	}

	answers := struct {
		Markdown   bool `survey:"markdown"`
		Transcript bool `survey:"transcript"`
	}{}
	if err := survey.Ask(questions, &answers); err != nil {
		return err
	}

	cfg.Markdown = answers.Markdown
	cfg.TranscriptEnabled = answers.Transcript
	return nil
}

// ConfirmAction asks a yes/no question, defaulting to no.
func ConfirmAction(message string) (bool, error) {
	var ok bool
	prompt := &survey.Confirm{
		Message: message,
		Default: false,
	}
	if err := survey.AskOne(prompt, &ok); err != nil {
		return false, err
	}
	return ok, nil
}
