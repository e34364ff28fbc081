package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vilaca/gh-finder/internal/config"
	"github.com/vilaca/gh-finder/internal/domain"
	"github.com/vilaca/gh-finder/internal/search"
)

var errNoToken = errors.New("GITHUB_TOKEN is required for follow operations")

// newRootCmd builds the gh-finder command tree.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "gh-finder",
		Short:         "Look up GitHub users",
		Long:          "gh-finder looks up GitHub user profiles, suggests logins as you type and remembers recent searches.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file")

	// withApp loads configuration, wires the app and runs fn with it.
	withApp := func(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromPath(configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()
			return fn(cmd, a, args)
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Serve the web UI",
			Args:  cobra.NoArgs,
			RunE:  withApp(runServe),
		},
		&cobra.Command{
			Use:   "lookup <login>",
			Short: "Fetch a user profile and add it to the recent searches",
			Args:  cobra.ExactArgs(1),
			RunE:  withApp(runLookup),
		},
		&cobra.Command{
			Use:   "suggest <prefix>",
			Short: "List logins matching a prefix",
			Args:  cobra.ExactArgs(1),
			RunE:  withApp(runSuggest),
		},
		&cobra.Command{
			Use:   "recent",
			Short: "Show recent searches",
			Args:  cobra.NoArgs,
			RunE:  withApp(runRecent),
		},
		&cobra.Command{
			Use:   "following <login>",
			Short: "Report whether the token's account follows login",
			Args:  cobra.ExactArgs(1),
			RunE:  withApp(runFollowing),
		},
		&cobra.Command{
			Use:   "follow <login>",
			Short: "Follow login",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
				return runFollowChange(cmd, a, args[0], true)
			}),
		},
		&cobra.Command{
			Use:   "unfollow <login>",
			Short: "Unfollow login",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
				return runFollowChange(cmd, a, args[0], false)
			}),
		},
	)
	return root
}

// runLookup drives one submit through a search controller, so the lookup is
// recorded in the recent list exactly as it is in the web UI.
func runLookup(cmd *cobra.Command, a *app, args []string) error {
	ctx := cmd.Context()
	recent, err := a.loadRecent(ctx)
	if err != nil {
		return err
	}

	var reported string
	opts := append(a.searchOptions(),
		search.WithContext(ctx),
		search.WithErrorReporter(func(message string) { reported = message }))
	ctrl := search.New(a.directory, recent, opts...)
	defer ctrl.Close()

	ctrl.SetInput(args[0])
	if !ctrl.Submit() {
		return domain.ErrEmptyQuery
	}
	ctrl.Wait()

	state := ctrl.Snapshot()
	if reported != "" {
		return errors.New(reported)
	}
	if state.Profile == nil {
		return errors.New(domain.MessageFetchFailed)
	}
	printProfile(cmd.OutOrStdout(), state.Profile)
	return nil
}

func runSuggest(cmd *cobra.Command, a *app, args []string) error {
	query := strings.TrimSpace(args[0])
	if domain.QueryLength(query) < a.cfg.Search.MinQueryLength {
		return fmt.Errorf("query must be at least %d characters", a.cfg.Search.MinQueryLength)
	}

	suggestions, err := a.directory.SearchUsers(cmd.Context(), query)
	if err != nil {
		return errors.New(domain.UserMessage(err))
	}
	if len(suggestions) > a.cfg.Search.SuggestionLimit {
		suggestions = suggestions[:a.cfg.Search.SuggestionLimit]
	}

	out := cmd.OutOrStdout()
	for _, s := range suggestions {
		fmt.Fprintln(out, s.Login)
	}
	return nil
}

func runRecent(cmd *cobra.Command, a *app, _ []string) error {
	recent, err := a.loadRecent(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	items := recent.Items()
	if len(items) == 0 {
		fmt.Fprintln(out, "No recent searches")
		return nil
	}
	for i, login := range items {
		fmt.Fprintf(out, "%d. %s\n", i+1, login)
	}
	return nil
}

func runFollowing(cmd *cobra.Command, a *app, args []string) error {
	if !a.cfg.HasGitHubToken() {
		return errNoToken
	}

	following, err := a.directory.CheckFollowing(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if following {
		fmt.Fprintf(cmd.OutOrStdout(), "following %s\n", args[0])
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "not following %s\n", args[0])
	}
	return nil
}

func runFollowChange(cmd *cobra.Command, a *app, login string, follow bool) error {
	if !a.cfg.HasGitHubToken() {
		return errNoToken
	}

	ctx := cmd.Context()
	if follow {
		if err := a.directory.Follow(ctx, login); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "followed %s\n", login)
		return nil
	}
	if err := a.directory.Unfollow(ctx, login); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "unfollowed %s\n", login)
	return nil
}

func printProfile(w io.Writer, p *domain.UserProfile) {
	fmt.Fprintf(w, "%s (@%s)\n", p.DisplayName(), p.Login)
	if p.Bio != "" {
		fmt.Fprintln(w, p.Bio)
	}
	if p.Location != "" {
		fmt.Fprintf(w, "Location:  %s\n", p.Location)
	}
	fmt.Fprintf(w, "Repos:     %d\n", p.PublicRepos)
	fmt.Fprintf(w, "Followers: %d\n", p.Followers)
	fmt.Fprintf(w, "Following: %d\n", p.Following)
	if !p.CreatedAt.IsZero() {
		fmt.Fprintf(w, "Joined:    %s\n", p.CreatedAt.Format("January 2, 2006"))
	}
	fmt.Fprintf(w, "Profile:   %s\n", p.HTMLURL)
}
