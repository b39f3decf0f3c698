package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/gitscribe/gitscribe/model"
)

var (
	postsRepo  string
	postsLimit int
)

var postsCmd = &cobra.Command{
	Use:   "posts [id]",
	Short: "List generated posts, or show one by ID",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPosts,
}

func init() {
	postsCmd.Flags().StringVarP(&postsRepo, "repo", "r", "", "Filter by repository (owner/repo)")
	postsCmd.Flags().IntVar(&postsLimit, "limit", 20, "Max posts to list")
	rootCmd.AddCommand(postsCmd)
}

func runPosts(cmd *cobra.Command, args []string) error {
	token, err := login()
	if err != nil {
		return err
	}

	if len(args) == 1 {
		return showPost(token, args[0])
	}
	return listPosts(token)
}

func showPost(token, id string) error {
	var post model.Post
	if err := getJSON(token, "/api/posts/"+id, &post); err != nil {
		return err
	}

	fmt.Printf("# %s\n\n", post.Title)
	fmt.Printf("Repository: %s\nCreated:    %s\n\n", post.Repository, post.CreatedAt.Format("2006-01-02 15:04"))
	fmt.Println(post.Content)
	return nil
}

func listPosts(token string) error {
	path := fmt.Sprintf("/api/posts?limit=%d", postsLimit)
	if postsRepo != "" {
		path += "&repository=" + postsRepo
	}

	var posts []model.Post
	if err := getJSON(token, path, &posts); err != nil {
		return err
	}

	if len(posts) == 0 {
		fmt.Println("No posts yet. Generate one with: gitscribe generate --repo owner/repo")
		return nil
	}

	for _, p := range posts {
		fmt.Printf("%s  %-16s  %-30s  %s\n",
			p.ID, p.CreatedAt.Format("2006-01-02 15:04"), p.Repository, p.Title)
	}
	return nil
}

func getJSON(token, path string, out any) error {
	req, _ := http.NewRequest("GET", serverURL+path, nil)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(respBody))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
