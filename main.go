package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Meander-Cloud/go-tabtree/config"
	"github.com/Meander-Cloud/go-tabtree/event"
	"github.com/Meander-Cloud/go-tabtree/grouptab"
	"github.com/Meander-Cloud/go-tabtree/logging"
	"github.com/Meander-Cloud/go-tabtree/scheduler"
	"github.com/Meander-Cloud/go-tabtree/tabsgroup"
	"github.com/Meander-Cloud/go-tabtree/tabtree"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "tabtree",
		Short: "Tab tree grouping playground",
		Long: `tabtree drives an in-memory tab tree: it builds and parses group tab
URIs, groups and ungroups tabs, and reclaims temporary group tabs that
no longer group anything.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML), TABTREE_* variables override it")

	root.AddCommand(
		newURICmd(&cfgFile),
		newParseCmd(&cfgFile),
		newDemoCmd(&cfgFile),
	)
	return root
}

func newURICmd(cfgFile *string) *cobra.Command {
	var (
		title  string
		state  string
		opener int
	)

	cmd := &cobra.Command{
		Use:   "uri",
		Short: "Print the URI a group tab would be opened at",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFile(*cfgFile)
			if err != nil {
				return err
			}
			temporary, err := grouptab.ParseTemporaryState(state)
			if err != nil {
				return err
			}

			opts := grouptab.TemporaryStateParams(temporary)
			opts.Title = title
			opts.OpenerTabID = opener
			fmt.Fprintln(cmd.OutOrStdout(), grouptab.MakeURI(cfg.Group.BaseURI, opts))
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "group title")
	cmd.Flags().StringVar(&state, "state", "passive", "temporary state: none, passive or aggressive")
	cmd.Flags().IntVar(&opener, "opener", 0, "opener tab ID, 0 for none")
	return cmd
}

func newParseCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "parse <uri>",
		Short: "Decode a group tab URI",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(*cfgFile)
			if err != nil {
				return err
			}
			info, ok := grouptab.Parse(cfg.Group.BaseURI, args[0])
			if !ok {
				return fmt.Errorf("%q is not a group tab URI", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "title=%q state=%s opener=%d\n", info.Title, info.State, info.OpenerTabID)
			return nil
		},
	}
}

func newDemoCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Group, reclaim and ungroup tabs in a scripted session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFile(*cfgFile)
			if err != nil {
				return err
			}
			return runDemo(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

func runDemo(ctx context.Context, cfg *config.Config, out, errOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger, closeLog, err := logging.New(cfg.Logging.Logging(), errOut)
	if err != nil {
		return err
	}
	defer closeLog()

	bus := event.NewBus(logging.Component(logger, "event"))
	bus.SubscribeAll(func(e event.Event) {
		fmt.Fprintf(out, "  event %s\n", e.EventType())
	})

	tree := tabtree.New(tabtree.Options{
		GroupBaseURI:        cfg.Group.BaseURI,
		CloseParentBehavior: cfg.Tree.Behavior(),
		Publisher:           bus,
		Logger:              logging.Component(logger, "tabtree"),
	})

	s := scheduler.NewScheduler[tabtree.TabID](&scheduler.Options{
		EventChannelLength: uint16(cfg.Scheduler.EventChannelLength),
		LogPrefix:          "reclaimer",
		LogDebug:           cfg.Scheduler.LogDebug,
		Logger:             logging.Component(logger, "scheduler"),
	})
	s.RunAsync()
	defer s.Shutdown()

	grouper := tabsgroup.NewGrouper(tree, tabsgroup.Options{
		GroupBaseURI:          cfg.Group.BaseURI,
		LabelFormat:           cfg.Group.LabelFormat,
		DefaultTemporaryState: cfg.Group.TemporaryState(),
		Publisher:             bus,
		Logger:                logging.Component(logger, "tabsgroup"),
	})
	reclaimer := tabsgroup.NewReclaimer(tree, s, tabsgroup.ReclaimerOptions{
		Delay:  cfg.Group.ReclaimDelay(),
		Logger: logging.Component(logger, "tabsgroup"),
	})
	tree.OnRemoved(reclaimer.Cancel)
	reclaimer.Watch(bus)

	const window tabtree.WindowID = 1
	open := func(title string, parent tabtree.TabID) (tabtree.TabID, error) {
		tab, err := tree.OpenURIInTab(ctx, "https://example.com/"+strings.ToLower(title), tabtree.OpenOptions{
			WindowID: window,
			Title:    title,
			Parent:   parent,
		})
		return tab.ID, err
	}

	news, err := open("News", tabtree.NoTab)
	if err != nil {
		return err
	}
	docs, err := open("Docs", news)
	if err != nil {
		return err
	}
	mail, err := open("Mail", tabtree.NoTab)
	if err != nil {
		return err
	}
	music, err := open("Music", tabtree.NoTab)
	if err != nil {
		return err
	}
	printWindow(out, "opened", tree, window)

	group, err := grouper.GroupTabs(ctx, []tabtree.TabID{news, docs, mail}, tabsgroup.GroupOptions{Broadcast: true})
	if err != nil {
		return err
	}
	printWindow(out, "grouped", tree, window)

	if err := tree.RemoveTabs(ctx, []tabtree.TabID{news, docs, mail}); err != nil {
		return err
	}
	printWindow(out, "closed grouped tabs", tree, window)

	deadline := time.Now().Add(10 * cfg.Group.ReclaimDelay())
	for tree.Exists(group.ID) && time.Now().Before(deadline) {
		time.Sleep(cfg.Group.ReclaimDelay() / 4)
	}
	printWindow(out, "after reclaim delay", tree, window)

	aggressive := grouptab.StateAggressive
	solo, err := grouper.GroupTabs(ctx, []tabtree.TabID{music}, tabsgroup.GroupOptions{
		Broadcast: true,
		Title:     "Listening",
		State:     &aggressive,
	})
	if err != nil {
		return err
	}
	printWindow(out, "grouped aggressively", tree, window)

	if err := grouper.UngroupTabs(ctx, []tabtree.TabID{solo.ID}, tabsgroup.UngroupOptions{Broadcast: true}); err != nil {
		return err
	}
	printWindow(out, "ungrouped", tree, window)
	return nil
}

func printWindow(out io.Writer, stage string, tree *tabtree.Tree, window tabtree.WindowID) {
	fmt.Fprintf(out, "%s:\n", stage)

	var walk func(tab tabtree.Tab, depth int)
	walk = func(tab tabtree.Tab, depth int) {
		fmt.Fprintf(out, "  %s#%d %s [%s]\n", strings.Repeat("  ", depth), tab.ID, tab.Title, tab.Kind)
		for _, child := range tree.Children(tab.ID) {
			walk(child, depth+1)
		}
	}
	for _, tab := range tree.Tabs(window) {
		if !tab.HasParent() {
			walk(tab, 0)
		}
	}
}
