// Package wizard provides an interactive wizard that writes a starter
// pipeline definition for shipyard.
//
// RunWizard collects answers with charmbracelet/huh forms and returns a
// WizardResult. BuildPipeline turns the answers into a config.Pipeline
// and WritePipeline renders it as an annotated YAML file.
package wizard
