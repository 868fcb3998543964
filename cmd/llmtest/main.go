// Command llmtest exercises the configured model providers from the shell,
// useful when validating API keys before a deploy.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/citabot/citabot/internal/llm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req := llm.Request{
		System: []string{"Eres el asistente virtual de una clínica. Responde en español, breve y amable."},
		Messages: []llm.ChatMessage{
			{Role: llm.RoleUser, Content: "Hola, quisiera saber si atienden los sábados."},
			{Role: llm.RoleAssistant, Content: "¡Hola! Sí, atendemos los sábados de 9:00 a 13:00. ¿Te gustaría agendar una cita?"},
			{Role: llm.RoleUser, Content: "Sí, ¿qué horarios tienen disponibles?"},
		},
		MaxTokens:   200,
		Temperature: 0.7,
	}

	fmt.Println("LLM Provider Test")
	fmt.Println("=================")

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		fmt.Println("\n[1] Testing Gemini...")
		client, err := llm.NewGeminiClient(ctx, key, os.Getenv("GEMINI_MODEL_ID"))
		if err != nil {
			fmt.Printf("    failed to create client: %v\n", err)
		} else {
			runOnce(ctx, client, req)
			_ = client.Close()
		}
	} else {
		fmt.Println("\n[1] GEMINI_API_KEY not set, skipping")
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		fmt.Println("\n[2] Testing OpenAI...")
		client, err := llm.NewOpenAIClient(key, os.Getenv("OPENAI_MODEL_ID"))
		if err != nil {
			fmt.Printf("    failed to create client: %v\n", err)
		} else {
			runOnce(ctx, client, req)
		}
	} else {
		fmt.Println("\n[2] OPENAI_API_KEY not set, skipping")
	}
}

func runOnce(ctx context.Context, client llm.Client, req llm.Request) {
	start := time.Now()
	resp, err := client.Complete(ctx, req)
	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		fmt.Printf("    error after %v: %v\n", elapsed, err)
		return
	}
	fmt.Printf("    response (%v, %d tokens):\n    %s\n", elapsed, resp.Usage.TotalTokens, resp.Text)
}
