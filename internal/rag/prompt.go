package rag

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultInstructions is the assistant prompt used when no prompt file is
// configured.
const DefaultInstructions = `You are Bhoomi, an agricultural assistant for farmers.
Answer only from the context below. If the context does not contain the answer,
say that you do not know and suggest contacting the local agriculture extension office.
Never invent dosages, prices or dates.`

// FarmerInstruction is prepended to every question.
const FarmerInstruction = "Answer clearly in simple farmer-friendly language. Use short sentences and bullet points where needed."

// NoContext stands in for the context when retrieval found nothing.
const NoContext = "No relevant information was found in the knowledge base."

type Prompt struct {
	Instructions string
	Context      string
	Question     string
}

// UserText is the part of the prompt that follows the instructions.
func (p Prompt) UserText() string {
	return fmt.Sprintf("Context:\n%s\n\nQuestion:\n%s\n", p.Context, p.Question)
}

// Render returns the whole prompt as a single text.
func (p Prompt) Render() string {
	return p.Instructions + "\n\n" + p.UserText()
}

type GenerationResult struct {
	Text string
}

// LoadInstructions reads the prompt file at path, or returns
// DefaultInstructions when path is empty.
func LoadInstructions(path string) (string, error) {
	if path == "" {
		return DefaultInstructions, nil
	}
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path is from application config
	if err != nil {
		return "", fmt.Errorf("read prompt file: %w", err)
	}
	instructions := strings.TrimSpace(string(data))
	if instructions == "" {
		return "", fmt.Errorf("prompt file %s is empty", path)
	}
	return instructions, nil
}
