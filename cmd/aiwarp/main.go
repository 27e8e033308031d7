// aiwarp sends a prompt through an ai-warp router built from a YAML config.
//
// Usage:
//
//	# Ask using the default candidate list from config.yaml
//	aiwarp ask "Explain SSE in one sentence"
//
//	# Override the candidates and stream the answer
//	aiwarp ask --stream -m deepseek:deepseek-chat -m openai:gpt-4o-mini "Hello"
//
//	# List configured providers and default models
//	aiwarp providers --config ./aiwarp.yaml
package main

func main() {
	Execute()
}
