package app

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/agentstation/teleporter/pkg/reconcile"
)

// NewSyncCommand creates the sync command. It fetches canonical content
// for the category's template paths and runs one reconciliation pass.
func (a *App) NewSyncCommand() *cobra.Command {
	var (
		sourceRef string
		paths     []string
	)

	cmd := &cobra.Command{
		Use:   "sync <category>",
		Short: "Reconcile a category's fleet against canonical content",
		Long: `Sync fetches the current canonical content for a category's template
paths from the master repository and reconciles every subscribed
repository against it. Repositories already holding the canonical
content are left alone; manually changed files are preserved and
reported; everything else receives a batched update pull request.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			category := args[0]

			tp, err := a.Teleporter()
			if err != nil {
				return err
			}

			syncPaths := paths
			if len(syncPaths) == 0 {
				syncPaths, err = tp.Bindings().PathsFor(category)
				if err != nil {
					return err
				}
			}

			gw, err := a.Gateway()
			if err != nil {
				return err
			}

			changes := make([]reconcile.TemplateChange, 0, len(syncPaths))
			for _, path := range syncPaths {
				content, err := gw.MasterContent(ctx, category, path)
				if err != nil {
					return fmt.Errorf("fetching canonical content for %s: %w", path, err)
				}
				changes = append(changes, reconcile.TemplateChange{Path: path, Content: content})
			}

			result, err := tp.Sync(ctx, reconcile.Trigger{
				Category:        category,
				Changes:         changes,
				SourceReference: sourceRef,
			})
			if err != nil {
				return err
			}

			if a.config.Format == "json" {
				if err := printJSON(result); err != nil {
					return err
				}
			} else {
				fmt.Println(result.Summary())
				printRepoDetails(result)
			}

			if !result.IsSuccess() {
				return fmt.Errorf("reconciliation finished with failures")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sourceRef, "source-ref", "", "upstream reference (commit SHA) recorded with the run")
	cmd.Flags().StringSliceVar(&paths, "path", nil, "limit the sync to specific template paths (repeatable)")

	return cmd
}

// printRepoDetails prints per-repository outcomes for text output.
func printRepoDetails(result *reconcile.Result) {
	repos := make([]string, 0, len(result.Repos))
	for repository := range result.Repos {
		repos = append(repos, repository)
	}
	sort.Strings(repos)

	for _, repository := range repos {
		repoResult := result.Repos[repository]
		if repoResult.Reference != "" {
			fmt.Printf("  %s: %s\n", repository, repoResult.Reference)
		}
		for path, pathResult := range repoResult.Outcomes {
			switch pathResult.Outcome {
			case reconcile.OutcomeConflicted:
				fmt.Printf("  %s: %s manually changed, left untouched\n", repository, path)
			case reconcile.OutcomeFailed:
				fmt.Printf("  %s: %s failed: %v\n", repository, path, pathResult.Err)
			}
		}
	}
}

// NewStatusCommand creates the status command.
func (a *App) NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <category>",
		Short: "Report fleet convergence for a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tp, err := a.Teleporter()
			if err != nil {
				return err
			}

			status, err := tp.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if a.config.Format == "json" {
				return printJSON(status)
			}

			fmt.Printf("Category %s: %d records tracked\n", status.Category, status.Records)
			fmt.Printf("  in sync:        %d\n", status.InSync)
			fmt.Printf("  drifted:        %d\n", status.Drifted)
			fmt.Printf("  conflicted:     %d\n", status.Conflicted)
			fmt.Printf("  never deployed: %d\n", status.NeverDeployed)
			for _, key := range status.ConflictedPaths {
				fmt.Printf("  conflict: %s\n", key)
			}
			return nil
		},
	}
}

// NewRetireCommand creates the retire command.
func (a *App) NewRetireCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retire <repository> <path>",
		Short: "Stop tracking a template path for a repository",
		Long: `Retire removes the state record for a (repository, path) pair. The
file itself is not touched; the engine simply forgets it ever deployed
there. Use this after removing a path from a category or a repository
from the fleet.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tp, err := a.Teleporter()
			if err != nil {
				return err
			}
			if err := tp.Retire(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("Retired %s:%s\n", args[0], args[1])
			return nil
		},
	}
}

// NewCategoriesCommand creates the categories command.
func (a *App) NewCategoriesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List categories and their subscribed repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tp, err := a.Teleporter()
			if err != nil {
				return err
			}
			b := tp.Bindings()

			for _, category := range b.Categories() {
				paths, err := b.PathsFor(category)
				if err != nil {
					return err
				}
				repos, err := b.RepositoriesFor(category)
				if err != nil {
					return err
				}
				fmt.Printf("%s (%d paths, %d repositories)\n", category, len(paths), len(repos))
				for _, path := range paths {
					fmt.Printf("  path: %s\n", path)
				}
				for _, repository := range repos {
					fmt.Printf("  repo: %s\n", repository)
				}
			}
			return nil
		},
	}
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
