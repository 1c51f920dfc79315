package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"kamishibai/internal/coordinator"
	"kamishibai/internal/panel"
	"kamishibai/internal/types"
)

var (
	sceneVariation bool
	sceneForce     bool

	askMode    string
	askExperts []string
	askContext string

	validateType     string
	validateCriteria []string
)

// sceneCmd acquires one story scene.
var sceneCmd = &cobra.Command{
	Use:   "scene <event> <index>",
	Short: "Show a story scene (generated, cached, or static)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := strconv.Atoi(args[1])
		if err != nil || idx < 0 {
			return fmt.Errorf("scene index must be a non-negative integer, got %q", args[1])
		}

		a, err := buildApp(sceneVariation)
		if err != nil {
			return err
		}
		defer a.close()

		req := types.ContentRequest{
			Category:         types.CategoryScene,
			InstanceKey:      fmt.Sprintf("%s/%d", args[0], idx),
			VariationEnabled: sceneVariation,
			ForceRegenerate:  sceneForce,
		}

		var content types.GeneratedContent
		if sceneVariation {
			content, err = runWithSpinner(func() (types.GeneratedContent, error) {
				return a.pipeline.GetContent(context.Background(), req)
			})
		} else {
			// Static path never blocks on the provider; no spinner needed.
			content, err = a.pipeline.GetContent(context.Background(), req)
		}
		if err != nil {
			return err
		}

		fmt.Println(provenanceBadge(content.Provenance))
		fmt.Println()
		fmt.Println(content.Body)
		return nil
	},
}

// guideCmd acquires the situational guide for an event.
var guideCmd = &cobra.Command{
	Use:   "guide <event>",
	Short: "Show the situational guide for an event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(sceneVariation)
		if err != nil {
			return err
		}
		defer a.close()

		var content types.GeneratedContent
		if sceneVariation {
			content, err = runWithSpinner(func() (types.GeneratedContent, error) {
				return a.pipeline.GetGuide(context.Background(), args[0], true, sceneForce)
			})
		} else {
			content, err = a.pipeline.GetGuide(context.Background(), args[0], false, false)
		}
		if err != nil {
			return err
		}

		fmt.Println(provenanceBadge(content.Provenance))
		fmt.Print(renderMarkdown(content.Body))
		return nil
	},
}

// askCmd runs the expert panel in one of its three modes.
var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the expert panel a question",
	Long: `Ask the expert panel a question.

Modes:
  quick  one expert, streamed as it is written
  seq    every expert in turn, each answer streamed fully before the next
  full   every expert consulted, one synthesized answer streamed`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(true)
		if err != nil {
			return err
		}
		defer a.close()

		question := args[0]
		roleOrder := askExperts
		if len(roleOrder) == 0 {
			roleOrder = coordinator.ExpertRoles()
		}
		for _, roleID := range roleOrder {
			if _, err := coordinator.LookupRole(roleID); err != nil {
				return err
			}
		}

		ctx := context.Background()
		switch askMode {
		case "quick":
			return streamQuick(ctx, a, question, roleOrder[0])
		case "seq":
			return streamSequential(ctx, a, question, roleOrder)
		case "full":
			return streamComprehensive(ctx, a, question, roleOrder)
		default:
			return fmt.Errorf("unknown mode %q (want quick, seq, or full)", askMode)
		}
	},
}

func streamQuick(ctx context.Context, a *app, question, roleID string) error {
	role, _ := coordinator.LookupRole(roleID)
	fmt.Println(roleBannerStyle.Render(role.Icon + " " + role.Name))

	contentChan, errorChan, _ := a.panel.Quick(ctx, question, askContext, roleID)
	for chunk := range contentChan {
		fmt.Print(chunk)
	}
	fmt.Println()
	if err, ok := <-errorChan; ok && err != nil {
		return err
	}
	return nil
}

func streamSequential(ctx context.Context, a *app, question string, roleOrder []string) error {
	events, sess := a.panel.Sequential(ctx, question, askContext, roleOrder)
	for ev := range events {
		switch ev.Kind {
		case panel.EventRoleStart:
			role, err := coordinator.LookupRole(ev.RoleID)
			if err == nil {
				fmt.Println(roleBannerStyle.Render(role.Icon + " " + role.Name))
			} else {
				fmt.Println(roleBannerStyle.Render(ev.RoleID))
			}
		case panel.EventChunk:
			fmt.Print(ev.Text)
		case panel.EventRoleEnd:
			fmt.Print("\n\n")
		}
	}
	if sess.Status() == types.AggregationFailed {
		return fmt.Errorf("no expert could answer")
	}
	return nil
}

func streamComprehensive(ctx context.Context, a *app, question string, roleOrder []string) error {
	fmt.Println(mutedStyle.Render(fmt.Sprintf("consulting %d experts...", len(roleOrder))))

	contentChan, errorChan := a.panel.Comprehensive(ctx, question, askContext, roleOrder)
	var sb strings.Builder
	for chunk := range contentChan {
		sb.WriteString(chunk)
	}
	if err, ok := <-errorChan; ok && err != nil {
		return err
	}
	fmt.Print(renderMarkdown(sb.String()))
	return nil
}

// feedbackCmd responds to a parent's answer for a scene.
var feedbackCmd = &cobra.Command{
	Use:   "feedback <event> <index> <answer>",
	Short: "Get feedback on your answer to a scene",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := strconv.Atoi(args[1])
		if err != nil || idx < 0 {
			return fmt.Errorf("scene index must be a non-negative integer, got %q", args[1])
		}

		a, err := buildApp(true)
		if err != nil {
			return err
		}
		defer a.close()

		fmt.Println(a.pipeline.GetFeedback(context.Background(), args[0], idx, args[2]))
		return nil
	},
}

// validateCmd scores a file's content through the quality critic.
var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Score a content file through the quality critic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		a, err := buildApp(true)
		if err != nil {
			return err
		}
		defer a.close()

		report := a.coord.ScoreQuality(context.Background(), validateType, string(data), validateCriteria)

		fmt.Printf("Score: %d/100\n", report.Score)
		for _, issue := range report.Issues {
			fmt.Println("  issue:", issue)
		}
		for _, s := range report.Suggestions {
			fmt.Println("  suggestion:", s)
		}
		return nil
	},
}

// eventsCmd lists the event catalog.
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List the event catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(false)
		if err != nil {
			return err
		}
		defer a.close()

		for _, event := range a.registry.Events() {
			fmt.Printf("%s %s  %s (%d scenes)\n",
				event.Icon, titleStyle.Render(event.Name), mutedStyle.Render(event.ID), len(event.Scenes))
		}
		return nil
	},
}

// cacheCmd groups cache maintenance operations.
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Cache maintenance",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(false)
		if err != nil {
			return err
		}
		defer a.close()

		stats := a.cache.Stats(context.Background())
		fmt.Printf("fast entries:    %d\n", stats.FastEntries)
		fmt.Printf("durable entries: %d\n", stats.DurableEntries)
		fmt.Printf("hits:            %d\n", stats.Hits)
		fmt.Printf("misses:          %d\n", stats.Misses)
		fmt.Printf("evictions:       %d\n", stats.Evictions)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all cached content",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(false)
		if err != nil {
			return err
		}
		defer a.close()

		a.cache.Clear(context.Background())
		logger.Info("cache cleared")
		fmt.Println("cache cleared")
		return nil
	},
}

var cacheSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired cache entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(false)
		if err != nil {
			return err
		}
		defer a.close()

		removed := a.cache.Sweep(context.Background())
		logger.Info("cache swept", zap.Int("removed", removed))
		fmt.Printf("removed %d expired entries\n", removed)
		return nil
	},
}

func init() {
	sceneCmd.Flags().BoolVar(&sceneVariation, "variation", true, "generate a fresh variation instead of the static template")
	sceneCmd.Flags().BoolVar(&sceneForce, "force", false, "regenerate even when a cached variation exists")
	guideCmd.Flags().BoolVar(&sceneVariation, "variation", true, "generate the guide instead of using the static template")
	guideCmd.Flags().BoolVar(&sceneForce, "force", false, "regenerate even when a cached guide exists")

	askCmd.Flags().StringVar(&askMode, "mode", "full", "panel mode: quick, seq, or full")
	askCmd.Flags().StringSliceVar(&askExperts, "experts", nil, "comma-separated expert role ids (default: all experts)")
	askCmd.Flags().StringVar(&askContext, "context", "", "extra context about the family or situation")

	validateCmd.Flags().StringVar(&validateType, "type", "scene", "content type being scored")
	validateCmd.Flags().StringSliceVar(&validateCriteria, "criteria", nil, "explicit evaluation criteria")

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheSweepCmd)
}
