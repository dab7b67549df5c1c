package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kalambet/forja/internal/config"
)

// --- trigger ---

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Start challenge generation",
	Long: `Start challenge generation on the running server.

Examples:
  forja trigger              # generate for every user
  forja trigger --user u123  # generate for one user`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]string{}
		if userID != "" {
			body["user_id"] = userID
		}

		resp, err := client.post(cmd.Context(), "/trigger-daily", body)
		if err != nil {
			return err
		}

		var result struct {
			Status string `json:"status"`
			Users  int    `json:"users"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Generation started for %d user(s)", result.Users)
		return nil
	},
}

func init() {
	triggerCmd.Flags().String("user", "", "generate for a single user")
}

// --- user ---

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user profiles",
}

var userCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a user profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		d1, _ := cmd.Flags().GetString("d1")
		d2, _ := cmd.Flags().GetString("d2")
		d3, _ := cmd.Flags().GetString("d3")
		d4, _ := cmd.Flags().GetString("d4")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]string{
			"user_id": id,
			"name":    args[0],
			"d1":      d1,
			"d2":      d2,
			"d3":      d3,
			"d4":      d4,
		}
		resp, err := client.post(cmd.Context(), "/users", req)
		if err != nil {
			return err
		}

		var result struct {
			UserID string `json:"user_id"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Created user %s", result.UserID)
		return nil
	},
}

var userShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a user profile as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/users/"+args[0])
		if err != nil {
			return err
		}

		var profile any
		if err := decodeJSON(resp, &profile); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(profile)
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List user IDs",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/users")
		if err != nil {
			return err
		}

		var result struct {
			UserIDs []string `json:"user_ids"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.UserIDs) == 0 {
			fmt.Println("No users registered.")
			return nil
		}
		for _, id := range result.UserIDs {
			fmt.Println(id)
		}
		return nil
	},
}

var userContextCmd = &cobra.Command{
	Use:   "context <id>",
	Short: "Show the merged prompt context for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/users/"+args[0]+"/context")
		if err != nil {
			return err
		}

		var uctx any
		if err := decodeJSON(resp, &uctx); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(uctx)
	},
}

func init() {
	userCreateCmd.Flags().String("id", "", "explicit user ID (default: generated)")
	userCreateCmd.Flags().String("d1", "", "dimension 1 focus")
	userCreateCmd.Flags().String("d2", "", "dimension 2 focus")
	userCreateCmd.Flags().String("d3", "", "dimension 3 focus")
	userCreateCmd.Flags().String("d4", "", "dimension 4 focus")
	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userShowCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userContextCmd)
}

// --- progress ---

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Record or list user progress notes",
}

var progressAddCmd = &cobra.Command{
	Use:   "add <user-id> <text>",
	Short: "Record a progress note",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/users/"+args[0]+"/progress", map[string]string{"text": args[1]})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Recorded progress for %s", args[0])
		return nil
	},
}

var progressListCmd = &cobra.Command{
	Use:   "list <user-id>",
	Short: "List recent progress notes",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("user ID is required")
		}
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/users/%s/progress?limit=%d", args[0], limit))
		if err != nil {
			return err
		}

		var notes []struct {
			Text      string `json:"text"`
			CreatedAt string `json:"created_at"`
		}
		if err := decodeJSON(resp, &notes); err != nil {
			return err
		}

		if len(notes) == 0 {
			fmt.Println("No progress notes found.")
			return nil
		}
		for _, n := range notes {
			fmt.Printf("%s  %s\n", colorize(colorCyan, n.CreatedAt), n.Text)
		}
		return nil
	},
}

func init() {
	progressListCmd.Flags().Int("limit", 5, "maximum number of notes to list")
	progressCmd.AddCommand(progressAddCmd)
	progressCmd.AddCommand(progressListCmd)
}

// --- challenge ---

var challengeCmd = &cobra.Command{
	Use:   "challenge",
	Short: "Inspect generated challenges",
}

var challengeShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a challenge record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/challenges/"+args[0])
		if err != nil {
			return err
		}

		var challenge any
		if err := decodeJSON(resp, &challenge); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(challenge)
	},
}

var challengeListCmd = &cobra.Command{
	Use:   "list <user-id>",
	Short: "List a user's challenges, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/users/%s/challenges?limit=%d", args[0], limit))
		if err != nil {
			return err
		}

		var challenges []struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Brief     string `json:"brief"`
			DailyTask string `json:"daily_task"`
			ImageRef  string `json:"image_ref"`
			AudioRef  string `json:"audio_ref"`
		}
		if err := decodeJSON(resp, &challenges); err != nil {
			return err
		}

		if len(challenges) == 0 {
			fmt.Println("No challenges found.")
			return nil
		}
		for _, c := range challenges {
			stages := ""
			for _, s := range []struct {
				label string
				set   bool
			}{
				{"task", c.DailyTask != ""},
				{"image", c.ImageRef != ""},
				{"audio", c.AudioRef != ""},
			} {
				mark := "-"
				if s.set {
					mark = "+"
				}
				stages += fmt.Sprintf(" %s%s", mark, s.label)
			}
			brief := c.Brief
			if len(brief) > 60 {
				brief = brief[:60] + "..."
			}
			fmt.Printf("%s  %s %s  %s\n",
				colorize(colorCyan, c.ID[:8]),
				c.CreatedAt,
				stages,
				brief,
			)
		}
		return nil
	},
}

func init() {
	challengeListCmd.Flags().Int("limit", 20, "maximum number of challenges to list")
	challengeCmd.AddCommand(challengeShowCmd)
	challengeCmd.AddCommand(challengeListCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
