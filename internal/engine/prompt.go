package engine

import (
	"fmt"
	"strings"
)

const systemPromptTemplate = "You are an expert %[1]s developer tasked with generating high-quality, maintainable code based on detailed specifications. " +
	"Focus on writing clean, efficient, and well-documented code. %[2]s " +
	"Organize the code into appropriate modules and classes with clear separation of concerns. " +
	"Handle all potential errors and edge cases appropriately. " +
	"Return the complete implementation, including all necessary files and their contents. " +
	"For each file, specify the complete file path and the entire contents of the file using the following format:\n\n" +
	"```file:path/to/%[3]s\n" +
	"%[4]s File contents go here\n" +
	"```\n\n" +
	"Include at least the following files: main implementation modules, utility modules, and test files."

// SystemPrompt returns the default system prompt for a test runner language.
func SystemPrompt(language string) string {
	switch strings.ToLower(language) {
	case "go":
		return fmt.Sprintf(systemPromptTemplate, "Go",
			"Format the code with gofmt, return explicit errors and write table-driven tests in _test.go files.",
			"file.go", "//")
	default:
		return fmt.Sprintf(systemPromptTemplate, "Python",
			"Follow PEP 8 style guidelines and include type annotations.",
			"file.py", "#")
	}
}

// ErrorContext wraps the previous diagnostic for the model call.
func ErrorContext(lastError string) string {
	return "The previous code generation attempt failed with the following error:\n" +
		"```\n" + lastError + "\n```\n" +
		"Please fix the issues and regenerate the code."
}
