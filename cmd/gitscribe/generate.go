package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gitscribe/gitscribe/model"
)

var (
	genRepo     string
	genPR       int
	genCommit   string
	genLimit    int
	genLanguage string
	genTone     string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a post from recent repository activity",
	Long: `Fetch recent commits and pull requests from a repository and stream
a generated development-log article.

Example:
  gitscribe generate --repo myorg/myapp
  gitscribe generate --repo myorg/myapp --pr 42
  gitscribe generate --repo myorg/myapp --language ko --tone casual`,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVarP(&genRepo, "repo", "r", "", "GitHub repository (owner/repo)")
	generateCmd.Flags().IntVar(&genPR, "pr", 0, "Generate from a single pull request")
	generateCmd.Flags().StringVar(&genCommit, "commit", "", "Generate from a single commit SHA")
	generateCmd.Flags().IntVar(&genLimit, "limit", 0, "Max activity items to include (server default if 0)")
	generateCmd.Flags().StringVar(&genLanguage, "language", "", "Output language (e.g. ko, ja; English if empty)")
	generateCmd.Flags().StringVar(&genTone, "tone", "", "Writing tone (e.g. casual, technical)")
	generateCmd.MarkFlagRequired("repo")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	token, err := login()
	if err != nil {
		return err
	}

	if genPR > 0 && genCommit != "" {
		return fmt.Errorf("--pr and --commit are mutually exclusive")
	}
	ref := genCommit
	if genPR > 0 {
		ref = fmt.Sprintf("#%d", genPR)
	}

	body, _ := json.Marshal(map[string]any{
		"repository":   genRepo,
		"activity_ref": ref,
		"limit":        genLimit,
		"language":     genLanguage,
		"tone":         genTone,
	})

	req, _ := http.NewRequest("POST", serverURL+"/api/posts/stream", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: gitscribe serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(respBody))
	}

	fmt.Printf("Generating post for %s...\n\n", genRepo)
	return consumeStream(resp.Body)
}

// consumeStream prints stage transitions and raw deltas as they arrive, then
// the finished post. Every data payload is JSON-encoded by the server.
func consumeStream(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	event := ""
	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "event: ") {
			event = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		switch event {
		case "stage":
			var stage string
			if err := json.Unmarshal([]byte(data), &stage); err != nil {
				continue
			}
			fmt.Printf("\033[36m[%s]\033[0m\n", stage)
		case "delta":
			var delta string
			if err := json.Unmarshal([]byte(data), &delta); err != nil {
				continue
			}
			fmt.Print(delta)
		case "error":
			var failure model.GenerationFailure
			if err := json.Unmarshal([]byte(data), &failure); err != nil {
				return fmt.Errorf("generation failed: %s", data)
			}
			return fmt.Errorf("generation failed (%s): %s", failure.Kind, failure.Message)
		case "done":
			var post model.Post
			if err := json.Unmarshal([]byte(data), &post); err != nil {
				return fmt.Errorf("parsing done event: %w", err)
			}
			fmt.Printf("\n\n\033[32m✓ Post %s saved:\033[0m %s\n", post.ID, post.Title)
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading event stream: %w", err)
	}
	return fmt.Errorf("stream ended without a result")
}

// login exchanges GITSCRIBE_PASSWORD for a short-lived credential.
func login() (string, error) {
	password := os.Getenv("GITSCRIBE_PASSWORD")
	if password == "" {
		return "", fmt.Errorf("GITSCRIBE_PASSWORD is required")
	}

	body, _ := json.Marshal(map[string]string{"password": password})
	resp, err := http.Post(serverURL+"/api/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: gitscribe serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login failed (%d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("parsing login response: %w", err)
	}
	return result.Token, nil
}
