package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"kamishibai/internal/scenario"
	"kamishibai/internal/session"
	"kamishibai/internal/types"
)

var playVariation bool

// playCmd walks an event scene by scene inside one session, so re-showing
// the current scene never regenerates it and restarting starts fresh.
var playCmd = &cobra.Command{
	Use:   "play <event>",
	Short: "Walk through an event's scenes interactively",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(playVariation)
		if err != nil {
			return err
		}
		defer a.close()

		sess := session.New(a.pipeline)
		return runPlay(context.Background(), sess, a.registry, args[0], playVariation, os.Stdin, os.Stdout)
	},
}

// runPlay drives one session through the event: enter shows the next scene,
// r restarts from the first scene, q ends the session.
func runPlay(ctx context.Context, sess *session.Session, reg *scenario.Registry, eventID string, variation bool, in io.Reader, out io.Writer) error {
	event, ok := reg.Event(eventID)
	if !ok {
		return fmt.Errorf("unknown event %q", eventID)
	}

	sess.Select(eventID)
	fmt.Fprintf(out, "%s %s (%d scenes)\n\n", event.Icon, event.Name, len(event.Scenes))

	scanner := bufio.NewScanner(in)
	for {
		_, idx := sess.Current()
		if idx >= len(event.Scenes) {
			sess.Reset()
			fmt.Fprintln(out, "all scenes done")
			return nil
		}

		content, err := sess.GetContent(ctx, types.ContentRequest{
			Category:         types.CategoryScene,
			InstanceKey:      sess.CurrentInstanceKey(),
			VariationEnabled: variation,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(out, provenanceBadge(content.Provenance))
		fmt.Fprintln(out, content.Body)
		fmt.Fprint(out, "\n[enter] next  [r] restart  [q] quit > ")

		if !scanner.Scan() {
			sess.Reset()
			return scanner.Err()
		}
		switch strings.TrimSpace(scanner.Text()) {
		case "q":
			sess.Reset()
			return nil
		case "r":
			sess.Reset()
			sess.Select(eventID)
		default:
			sess.Advance()
		}
	}
}

func init() {
	playCmd.Flags().BoolVar(&playVariation, "variation", true, "generate fresh scene variations instead of the static templates")
}
