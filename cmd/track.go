package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CanopyHQ/synapse/internal/synapse"
)

var trackCmd = &cobra.Command{
	Use:   "track <text>",
	Short: "Record a chat turn and update mastery",
	Long: `Record one chat turn. User turns are scanned for known concepts, which
are mirrored into the personal graph with updated mastery.

Examples:
  synapse track "I finally get how gradient descent converges"
  synapse track "Here is how PCA works..." --role assistant
  synapse track "what's a kernel trick?" --topic "machine learning"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")
		topic, _ := cmd.Flags().GetString("topic")
		return runTrack(args[0], role, topic)
	},
}

func init() {
	trackCmd.Flags().String("role", "user", "Who sent the message (user or assistant)")
	trackCmd.Flags().String("topic", "", "Topic hint for inference")
}

func runTrack(text, role, topic string) error {
	svc, done, err := openService()
	if err != nil {
		return err
	}
	defer done()

	res, err := svc.TrackMessage(context.Background(), synapse.Message{Role: role, Text: text, TopicHint: topic})
	if err != nil {
		return err
	}
	if len(res.Hits) == 0 {
		fmt.Println("No known concepts detected.")
		return nil
	}
	fmt.Printf("Detected %d concept(s):\n", len(res.Hits))
	for _, h := range res.Hits {
		fmt.Printf("  • %s (%.2f)\n", h.Label, h.Confidence)
	}
	for _, p := range res.Promoted {
		fmt.Printf("⬆️  %s: %s → %s\n", p.Label, p.From, p.To)
	}
	return nil
}
