package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zenyx/fleet/pkg/client"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a bot definition file",
	Long: `Apply a bot definition from a YAML file.

Examples:
  # Register a bot with its feature configs
  fleet apply -f bot.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	applyCmd.Flags().String("api", "localhost:8080", "Fleet API address")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// BotResource is a declarative bot definition
type BotResource struct {
	APIVersion string                    `yaml:"apiVersion"`
	Kind       string                    `yaml:"kind"`
	Metadata   ResourceMetadata          `yaml:"metadata"`
	Spec       BotSpec                   `yaml:"spec"`
	Features   map[string]map[string]any `yaml:"features,omitempty"`
}

type ResourceMetadata struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

type BotSpec struct {
	OwnerID string `yaml:"ownerId"`
	Token   string `yaml:"token"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	apiAddr, _ := cmd.Flags().GetString("api")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var resource BotResource
	if err := yaml.Unmarshal(data, &resource); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	if resource.Kind != "Bot" {
		return fmt.Errorf("unsupported resource kind: %s", resource.Kind)
	}
	if resource.Spec.OwnerID == "" || resource.Spec.Token == "" {
		return fmt.Errorf("spec.ownerId and spec.token are required")
	}

	c := client.NewClient(apiAddr)
	return applyBot(c, &resource)
}

func applyBot(c *client.Client, resource *BotResource) error {
	// Match an existing bot for the owner by name so re-applying the
	// same file rotates the credential instead of registering twice.
	existing, err := findBot(c, resource.Spec.OwnerID, resource.Metadata.Name)
	if err != nil {
		return err
	}

	var botID string
	if existing != "" {
		fmt.Printf("Updating bot: %s\n", resource.Metadata.Name)
		bot, err := c.RekeyBot(existing, resource.Spec.Token)
		if err != nil {
			return fmt.Errorf("failed to rotate credential: %w", err)
		}
		botID = bot.ID
		fmt.Printf("✓ Credential rotated: %s (@%s)\n", bot.ID, bot.Username)
	} else {
		fmt.Printf("Creating bot: %s\n", resource.Metadata.Name)
		bot, err := c.CreateBot(resource.Spec.OwnerID, resource.Spec.Token)
		if err != nil {
			return fmt.Errorf("failed to create bot: %w", err)
		}
		botID = bot.ID
		fmt.Printf("✓ Bot created: %s (@%s)\n", bot.ID, bot.Username)
	}

	for feature, payload := range resource.Features {
		if err := c.SaveFeatureConfig(botID, feature, payload); err != nil {
			return fmt.Errorf("failed to save %s config: %w", feature, err)
		}
		fmt.Printf("✓ Feature configured: %s\n", feature)
	}

	return nil
}

func findBot(c *client.Client, ownerID, name string) (string, error) {
	bots, err := c.ListBots(ownerID)
	if err != nil {
		return "", fmt.Errorf("failed to list bots: %w", err)
	}
	for _, bot := range bots {
		if bot.Username == name || bot.DisplayName == name {
			return bot.ID, nil
		}
	}
	return "", nil
}
