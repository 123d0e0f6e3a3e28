package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL   string
	apiKey      string
	language    string
	inputJSON   string
	expected    string
	maxAttempts int
	olderThan   float64
)

func main() {
	root := &cobra.Command{
		Use:   "codegen",
		Short: "CLI client for the codegen pipeline",
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("CODEGEN_API_KEY"), "API key")

	// Generate command
	genCmd := &cobra.Command{
		Use:   "generate [task description]",
		Short: "Generate and validate code for a task",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runGenerate,
	}
	genCmd.Flags().StringVarP(&language, "language", "l", "python", "Target language")
	genCmd.Flags().StringVar(&inputJSON, "input", "", "Input bindings as JSON object")
	genCmd.Flags().StringVar(&expected, "expected", "", "Expected return value as JSON")
	genCmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Override max generation attempts")
	root.AddCommand(genCmd)

	// Cache admin
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Result cache administration",
	}
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE:  runCacheStats,
	})
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cached results",
		RunE:  runCacheClear,
	}
	clearCmd.Flags().Float64Var(&olderThan, "older-than-hours", 0, "Only clear entries older than this many hours")
	cacheCmd.AddCommand(clearCmd)
	root.AddCommand(cacheCmd)

	// Run history
	root.AddCommand(&cobra.Command{
		Use:   "runs",
		Short: "List recent pipeline runs",
		RunE:  runList,
	})

	// Health check
	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE:  runHealth,
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGenerate(cmd *cobra.Command, args []string) error {
	var task string
	if len(args) > 0 {
		task = args[0]
	} else {
		// Read from stdin
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		task = string(data)
	}

	payload := map[string]any{
		"task_description": task,
		"language":         language,
	}
	if inputJSON != "" {
		var bindings map[string]any
		if err := json.Unmarshal([]byte(inputJSON), &bindings); err != nil {
			return fmt.Errorf("--input must be a JSON object: %w", err)
		}
		payload["input_example"] = bindings
	}
	if expected != "" {
		if !json.Valid([]byte(expected)) {
			return fmt.Errorf("--expected must be valid JSON")
		}
		payload["expected_output"] = json.RawMessage(expected)
	}
	if maxAttempts > 0 {
		payload["max_attempts"] = maxAttempts
	}

	result, err := postJSON("/generate", payload, 5*time.Minute)
	if err != nil {
		return err
	}
	printJSON(result)

	if success, ok := result["success"].(bool); ok && !success {
		os.Exit(1)
	}
	return nil
}

func runCacheStats(_ *cobra.Command, _ []string) error {
	result, err := getJSON("/cache/stats")
	if err != nil {
		return err
	}
	printJSON(result)
	return nil
}

func runCacheClear(_ *cobra.Command, _ []string) error {
	payload := map[string]any{}
	if olderThan > 0 {
		payload["older_than_hours"] = olderThan
	}
	result, err := postJSON("/cache/clear", payload, 30*time.Second)
	if err != nil {
		return err
	}
	printJSON(result)
	return nil
}

func runList(_ *cobra.Command, _ []string) error {
	result, err := getJSON("/runs")
	if err != nil {
		return err
	}
	printJSON(result)
	return nil
}

func runHealth(_ *cobra.Command, _ []string) error {
	resp, err := http.Get(serverURL + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	printJSON(result)
	return nil
}

func postJSON(path string, payload any, timeout time.Duration) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, serverURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return result, nil
}

func getJSON(path string) (any, error) {
	req, err := http.NewRequest(http.MethodGet, serverURL+path, nil)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Some endpoints return objects, /runs returns an array.
	var result any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return result, nil
}

func printJSON(v any) {
	formatted, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(formatted))
}
